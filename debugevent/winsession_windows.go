//go:build windows

package debugevent

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/shimmerdbg/wdbg/cpucontext"
	"github.com/shimmerdbg/wdbg/wdbgerr"
)

// Raw DEBUG_EVENT codes (winbase.h), translated into Code by WaitForEvent.
const (
	evtException     = 1
	evtCreateThread   = 2
	evtCreateProcess  = 3
	evtExitThread     = 4
	evtExitProcess    = 5
	evtLoadDll        = 6
	evtUnloadDll      = 7
	evtOutputDebugStr = 8
	evtRip            = 9
)

const (
	debugOnlyThisProcess = 0x00000002
	infinite             = 0xFFFFFFFF

	contextAMD64    = 0x00100000
	contextControl  = contextAMD64 | 0x1
	contextInteger  = contextAMD64 | 0x2
	contextSegments = contextAMD64 | 0x4
	contextFull     = contextControl | contextInteger | contextSegments
	contextDebugReg = contextAMD64 | 0x10
	contextAll      = contextFull | contextDebugReg

	threadSuspendResume = 0x0002
	threadGetContext    = 0x0008
	threadSetContext    = 0x0010
	threadAll           = threadSuspendResume | threadGetContext | threadSetContext | 0x1F03FF
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procWaitForDebugEvent  = modkernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent = modkernel32.NewProc("ContinueDebugEvent")
	procTerminateProcess   = modkernel32.NewProc("TerminateProcess")
	procGetThreadContext   = modkernel32.NewProc("GetThreadContext")
	procSetThreadContext   = modkernel32.NewProc("SetThreadContext")
	procOpenThread         = modkernel32.NewProc("OpenThread")
)

// context64 mirrors the fields of the win32 CONTEXT structure (amd64) that
// this debugger reads or writes. It is laid out with the same field order
// and padding so GetThreadContext/SetThreadContext can be called against it
// directly via unsafe.Pointer, matching the contextAll flags requested.
type context64 struct {
	P1Home, P2Home, P3Home, P4Home, P5Home, P6Home uint64
	ContextFlags, MxCsr                            uint32
	SegCs, SegDs, SegEs, SegFs, SegGs, SegSs        uint16
	EFlags                                          uint32
	Dr0, Dr1, Dr2, Dr3, Dr6, Dr7                    uint64
	Rax, Rcx, Rdx, Rbx                              uint64
	Rsp, Rbp, Rsi, Rdi                              uint64
	R8, R9, R10, R11, R12, R13, R14, R15            uint64
	Rip                                             uint64
	_                                                [512]byte // FLOATING_SAVE_AREA / XMM register area, unused here
	VectorRegister                                  [26][16]byte
	VectorControl                                   uint64
	DebugControl, LastBranchToRip, LastBranchFromRip uint64
	LastExceptionToRip, LastExceptionFromRip         uint64
}

// WinSession drives the Win32 debug API for one debuggee launched with
// CreateProcess(DEBUG_ONLY_THIS_PROCESS). It is the only Session
// implementation that talks to a live process; DebugLoop is written
// against the Session interface so tests use FakeSession instead.
type WinSession struct {
	ProcessID uint32
	process   windows.Handle
}

// ProcessHandle returns the debuggee's process handle, for building a
// memoryio.LiveReader over the same process this session debugs.
func (s *WinSession) ProcessHandle() windows.Handle { return s.process }

// NewWinSession launches path (with args) suspended under the debugger and
// returns a Session ready for WaitForEvent.
func NewWinSession(path string, args []string) (*WinSession, error) {
	cmdLine := buildCommandLine(path, args)

	var si windows.StartupInfo
	var pi windows.ProcessInformation
	si.Cb = uint32(unsafe.Sizeof(si))

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	cmdPtr, err := windows.UTF16PtrFromString(cmdLine)
	if err != nil {
		return nil, err
	}

	err = windows.CreateProcess(pathPtr, cmdPtr, nil, nil, false,
		debugOnlyThisProcess, nil, nil, &si, &pi)
	if err != nil {
		return nil, wdbgerr.New(wdbgerr.Os, "debugevent.NewWinSession", err)
	}
	windows.CloseHandle(pi.Thread)

	return &WinSession{ProcessID: pi.ProcessId, process: pi.Process}, nil
}

func buildCommandLine(path string, args []string) string {
	cmd := `"` + path + `"`
	for _, a := range args {
		cmd += ` "` + a + `"`
	}
	return cmd
}

// rawDebugEvent mirrors DEBUG_EVENT's fixed header; the union payload is
// decoded separately via offset reads sized to the largest member
// (EXCEPTION_DEBUG_INFO, which embeds an EXCEPTION_RECORD).
type rawDebugEvent struct {
	Code      uint32
	ProcessID uint32
	ThreadID  uint32
	_         uint32 // alignment padding before the union, matching the win32 ABI
	union     [256]byte
}

// WaitForEvent blocks on WaitForDebugEvent and decodes the reported union
// member into Event.Payload (spec §6).
func (s *WinSession) WaitForEvent() (Event, error) {
	var raw rawDebugEvent
	r1, _, err := procWaitForDebugEvent.Call(uintptr(unsafe.Pointer(&raw)), infinite)
	if r1 == 0 {
		return Event{}, wdbgerr.New(wdbgerr.Os, "debugevent.WaitForEvent", err)
	}

	ev := Event{PID: raw.ProcessID, TID: raw.ThreadID}

	switch raw.Code {
	case evtException:
		// EXCEPTION_DEBUG_INFO on amd64: ExceptionCode at 0, ExceptionFlags
		// at 4, the nested ExceptionRecord pointer at 8, ExceptionAddress
		// at 16, NumberParameters at 24, then the ExceptionInformation
		// array (padded to 8-byte alignment) starting at 32, and
		// ExceptionFirstChance immediately after its 15 ULONG_PTR slots.
		exCode := le32(raw.union[0:])
		addr := le64(raw.union[16:])
		firstChance := le32(raw.union[32+15*8:]) != 0
		ev.Code = CodeException
		ev.Payload = Exception{Code: exCode, Address: addr, FirstChance: firstChance}

	case evtCreateProcess:
		// CREATE_PROCESS_DEBUG_INFO: hFile, hProcess, hThread (8 bytes
		// each), then lpBaseOfImage at offset 24.
		ev.Code = CodeCreateProcess
		ev.Payload = CreateProcess{ImageBase: le64(raw.union[24:])}

	case evtCreateThread:
		ev.Code = CodeCreateThread
		ev.Payload = CreateThread{}

	case evtExitThread:
		ev.Code = CodeExitThread
		ev.Payload = ExitThread{ExitCode: le32(raw.union[0:])}

	case evtLoadDll:
		// LOAD_DLL_DEBUG_INFO: hFile at 0, lpBaseOfDll at 8.
		ev.Code = CodeLoadDll
		ev.Payload = LoadDll{Base: le64(raw.union[8:])}

	case evtUnloadDll:
		ev.Code = CodeUnloadDll
		ev.Payload = UnloadDll{Base: le64(raw.union[0:])}

	case evtOutputDebugStr:
		// OUTPUT_DEBUG_STRING_INFO: lpDebugStringData (8), fUnicode (WORD
		// at 8), nDebugStringLength (WORD at 10).
		addr := le64(raw.union[0:])
		wide := le16(raw.union[8:]) != 0
		length := le16(raw.union[10:])
		ev.Code = CodeOutputDebugString
		ev.Payload = OutputDebugString{Address: addr, Length: length, Wide: wide}

	case evtExitProcess:
		ev.Code = CodeExitProcess
		ev.Payload = ExitProcess{ExitCode: le32(raw.union[0:])}

	case evtRip:
		ev.Code = CodeRip
		ev.Payload = Rip{Error: le32(raw.union[0:]), Type: le32(raw.union[4:])}

	default:
		return Event{}, wdbgerr.New(wdbgerr.Format, "debugevent.WaitForEvent", fmt.Errorf("unknown DEBUG_EVENT code %d", raw.Code))
	}

	return ev, nil
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}

// ContinueEvent resumes the thread that reported the most recent event via
// ContinueDebugEvent, mapping status onto DBG_CONTINUE / DBG_EXCEPTION_NOT_HANDLED.
func (s *WinSession) ContinueEvent(pid, tid uint32, status ContinueStatus) error {
	const dbgContinue = 0x00010002
	const dbgExceptionNotHandled = 0x80010001

	code := uint32(dbgContinue)
	if status == ExceptionNotHandled {
		code = dbgExceptionNotHandled
	}

	r1, _, err := procContinueDebugEvent.Call(uintptr(pid), uintptr(tid), uintptr(code))
	if r1 == 0 {
		return wdbgerr.New(wdbgerr.Os, "debugevent.ContinueEvent", err)
	}
	return nil
}

func openThread(tid uint32) (windows.Handle, error) {
	r1, _, err := procOpenThread.Call(uintptr(threadAll), 0, uintptr(tid))
	if r1 == 0 {
		return 0, wdbgerr.New(wdbgerr.Os, "debugevent.openThread", fmt.Errorf("tid %d: %w", tid, err))
	}
	return windows.Handle(r1), nil
}

// alignedContext returns a pointer to a context64 living inside a byte
// buffer over-allocated and shifted so the struct starts 16-byte aligned,
// as Win32's CONTEXT record requires for GetThreadContext/SetThreadContext
// (Go's allocator only guarantees pointer-size alignment).
func alignedContext() (*context64, []byte) {
	const align = 16
	size := unsafe.Sizeof(context64{})
	buf := make([]byte, size+align-1)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := (align - addr%align) % align
	return (*context64)(unsafe.Pointer(&buf[offset])), buf
}

// ReadContext fetches the full register set (including debug registers)
// for tid via GetThreadContext.
func (s *WinSession) ReadContext(tid uint32) (cpucontext.ThreadContext, error) {
	h, err := openThread(tid)
	if err != nil {
		return cpucontext.ThreadContext{}, err
	}
	defer windows.CloseHandle(h)

	raw, _ := alignedContext()
	raw.ContextFlags = contextAll
	r1, _, callErr := procGetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(raw)))
	if r1 == 0 {
		return cpucontext.ThreadContext{}, wdbgerr.New(wdbgerr.Os, "debugevent.ReadContext", fmt.Errorf("tid %d: %w", tid, callErr))
	}

	return toThreadContext(*raw), nil
}

// WriteContext pushes ctx back to tid via SetThreadContext.
func (s *WinSession) WriteContext(tid uint32, ctx cpucontext.ThreadContext) error {
	h, err := openThread(tid)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)

	raw, _ := alignedContext()
	*raw = fromThreadContext(ctx)
	raw.ContextFlags = contextAll
	r1, _, callErr := procSetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(raw)))
	if r1 == 0 {
		return wdbgerr.New(wdbgerr.Os, "debugevent.WriteContext", fmt.Errorf("tid %d: %w", tid, callErr))
	}
	return nil
}

func toThreadContext(raw context64) cpucontext.ThreadContext {
	return cpucontext.ThreadContext{
		Rax: raw.Rax, Rbx: raw.Rbx, Rcx: raw.Rcx, Rdx: raw.Rdx,
		Rsi: raw.Rsi, Rdi: raw.Rdi, Rbp: raw.Rbp, Rsp: raw.Rsp,
		R8: raw.R8, R9: raw.R9, R10: raw.R10, R11: raw.R11,
		R12: raw.R12, R13: raw.R13, R14: raw.R14, R15: raw.R15,
		Rip: raw.Rip, EFlags: uint64(raw.EFlags),
		Dr0: raw.Dr0, Dr1: raw.Dr1, Dr2: raw.Dr2, Dr3: raw.Dr3,
		Dr6: raw.Dr6, Dr7: raw.Dr7,
	}
}

func fromThreadContext(ctx cpucontext.ThreadContext) context64 {
	return context64{
		Rax: ctx.Rax, Rbx: ctx.Rbx, Rcx: ctx.Rcx, Rdx: ctx.Rdx,
		Rsi: ctx.Rsi, Rdi: ctx.Rdi, Rbp: ctx.Rbp, Rsp: ctx.Rsp,
		R8: ctx.R8, R9: ctx.R9, R10: ctx.R10, R11: ctx.R11,
		R12: ctx.R12, R13: ctx.R13, R14: ctx.R14, R15: ctx.R15,
		Rip: ctx.Rip, EFlags: uint32(ctx.EFlags),
		Dr0: ctx.Dr0, Dr1: ctx.Dr1, Dr2: ctx.Dr2, Dr3: ctx.Dr3,
		Dr6: ctx.Dr6, Dr7: ctx.Dr7,
	}
}

// Terminate kills the debuggee outright; spec §6 rules out a detach path.
func (s *WinSession) Terminate() error {
	r1, _, err := procTerminateProcess.Call(uintptr(s.process), 1)
	if r1 == 0 {
		return wdbgerr.New(wdbgerr.Os, "debugevent.Terminate", err)
	}
	return nil
}
