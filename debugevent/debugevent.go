// Package debugevent fixes the contract the out-of-scope OS debug API
// must satisfy: a blocking wait returning a structured event mirroring
// the Windows DEBUG_EVENT union, and a continuation call (spec §6).
package debugevent

import "github.com/shimmerdbg/wdbg/cpucontext"

// Code identifies which union member Payload holds.
type Code int

const (
	CodeException Code = iota
	CodeCreateProcess
	CodeCreateThread
	CodeExitThread
	CodeLoadDll
	CodeUnloadDll
	CodeOutputDebugString
	CodeExitProcess
	CodeRip
)

func (c Code) String() string {
	names := [...]string{
		"Exception", "CreateProcess", "CreateThread", "ExitThread",
		"LoadDll", "UnloadDll", "OutputDebugString", "ExitProcess", "Rip",
	}
	if int(c) < len(names) {
		return names[c]
	}
	return "Unknown"
}

// ContinueStatus is the value DebugLoop hands back to the OS wait call.
type ContinueStatus int

const (
	Continue ContinueStatus = iota
	ExceptionNotHandled
)

// SingleStepExceptionCode is the code the OS reports for the trap raised
// by EFlags.TF — the exception DebugLoop swallows when AWAITING_STEP.
const SingleStepExceptionCode = 0x80000004

// BreakpointExceptionCode is the code reported for an int3/hardware
// breakpoint trap.
const BreakpointExceptionCode = 0x80000003

// Exception is DEBUG_EVENT's EXCEPTION_DEBUG_INFO.
type Exception struct {
	Code        uint32
	Address     uint64
	FirstChance bool
}

// CreateProcess is CREATE_PROCESS_DEBUG_INFO.
type CreateProcess struct {
	ImageBase uint64
	ImageName string
}

// CreateThread is CREATE_THREAD_DEBUG_INFO.
type CreateThread struct{}

// ExitThread is EXIT_THREAD_DEBUG_INFO.
type ExitThread struct {
	ExitCode uint32
}

// LoadDll is LOAD_DLL_DEBUG_INFO.
type LoadDll struct {
	Base uint64
	Name string
}

// UnloadDll is UNLOAD_DLL_DEBUG_INFO.
type UnloadDll struct {
	Base uint64
}

// OutputDebugString is OUTPUT_DEBUG_STRING_INFO: the address and length
// of the string in the debuggee's address space, read via MemoryReader.
type OutputDebugString struct {
	Address uint64
	Length  uint16
	Wide    bool
}

// ExitProcess is EXIT_PROCESS_DEBUG_INFO.
type ExitProcess struct {
	ExitCode uint32
}

// Rip is RIP_INFO — reported only, never acted on.
type Rip struct {
	Error uint32
	Type  uint32
}

// Event is one dispatched debug event (spec §6): {pid, tid, code, payload}.
type Event struct {
	PID     uint32
	TID     uint32
	Code    Code
	Payload interface{}
}

// Session is the OS debug API surface DebugLoop drives. It is
// out-of-scope per spec §1; only this interface is fixed so DebugLoop can
// be exercised against debugevent/fakesession in tests.
type Session interface {
	// WaitForEvent blocks for the next debug event.
	WaitForEvent() (Event, error)
	// ContinueEvent resumes the debuggee after the most recently waited
	// event with the given continuation status.
	ContinueEvent(pid, tid uint32, status ContinueStatus) error
	// ReadContext/WriteContext satisfy hwbreak.ThreadWriter.
	ReadContext(tid uint32) (cpucontext.ThreadContext, error)
	WriteContext(tid uint32, ctx cpucontext.ThreadContext) error
	// Terminate kills the debuggee on `q` (spec §6: no detach).
	Terminate() error
}
