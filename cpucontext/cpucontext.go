// Package cpucontext models the x86-64 CONTEXT record the debugger reads
// from and writes back to a suspended thread.
package cpucontext

import "fmt"

// ThreadContext is a full register snapshot for one thread: the
// general-purpose register file, RIP/EFlags, and the debug-control
// registers the hardware breakpoint manager programs. The OS debug API
// requires CONTEXT buffers to be 16-byte aligned when exchanged with
// GetThreadContext/SetThreadContext; callers that marshal this struct for
// a live backend are responsible for allocating aligned storage (see
// alignedContext in debugevent/winsession_windows.go).
type ThreadContext struct {
	Rax, Rbx, Rcx, Rdx uint64
	Rsi, Rdi, Rbp, Rsp uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	Rip    uint64
	EFlags uint64

	Dr0, Dr1, Dr2, Dr3 uint64
	Dr6, Dr7           uint64
}

// TrapFlag is the EFlags bit DebugLoop sets to single-step a thread.
const TrapFlag = 1 << 8

// ResumeFlag is EFlags.RF, set on the resuming thread so a hardware
// breakpoint at the current Rip is not immediately re-triggered.
const ResumeFlag = 1 << 16

// GPR is an x64 general-purpose register number in the UNWIND_CODE /
// ModRM encoding order: 0=RAX 1=RCX 2=RDX 3=RBX 4=RSP 5=RBP 6=RSI 7=RDI
// 8-15=R8-R15.
type GPR uint8

const (
	RAX GPR = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Get returns the named GPR's value, used by the unwinder to read/write
// arbitrary push/save targets by their UNWIND_CODE register number.
func (c *ThreadContext) Get(r GPR) uint64 {
	switch r {
	case RAX:
		return c.Rax
	case RCX:
		return c.Rcx
	case RDX:
		return c.Rdx
	case RBX:
		return c.Rbx
	case RSP:
		return c.Rsp
	case RBP:
		return c.Rbp
	case RSI:
		return c.Rsi
	case RDI:
		return c.Rdi
	case R8:
		return c.R8
	case R9:
		return c.R9
	case R10:
		return c.R10
	case R11:
		return c.R11
	case R12:
		return c.R12
	case R13:
		return c.R13
	case R14:
		return c.R14
	case R15:
		return c.R15
	}
	return 0
}

// Set writes v into the named GPR.
func (c *ThreadContext) Set(r GPR, v uint64) {
	switch r {
	case RAX:
		c.Rax = v
	case RCX:
		c.Rcx = v
	case RDX:
		c.Rdx = v
	case RBX:
		c.Rbx = v
	case RSP:
		c.Rsp = v
	case RBP:
		c.Rbp = v
	case RSI:
		c.Rsi = v
	case RDI:
		c.Rdi = v
	case R8:
		c.R8 = v
	case R9:
		c.R9 = v
	case R10:
		c.R10 = v
	case R11:
		c.R11 = v
	case R12:
		c.R12 = v
	case R13:
		c.R13 = v
	case R14:
		c.R14 = v
	case R15:
		c.R15 = v
	}
}

// ByName resolves a lowercase register name ("rax".."r15", "rip",
// "rsp", "rbp", "eflags") for the `@name` evaluator sigil and the `r
// <name>` REPL command. The match is case-sensitive, so callers lowercase
// user input first. Every name reads its ThreadContext field directly
// rather than going through the GPR numbering.
func (c *ThreadContext) ByName(name string) (uint64, bool) {
	switch name {
	case "rax":
		return c.Rax, true
	case "rbx":
		return c.Rbx, true
	case "rcx":
		return c.Rcx, true
	case "rdx":
		return c.Rdx, true
	case "rsi":
		return c.Rsi, true
	case "rdi":
		return c.Rdi, true
	case "rbp":
		return c.Rbp, true
	case "rsp":
		return c.Rsp, true
	case "r8":
		return c.R8, true
	case "r9":
		return c.R9, true
	case "r10":
		return c.R10, true
	case "r11":
		return c.R11, true
	case "r12":
		return c.R12, true
	case "r13":
		return c.R13, true
	case "r14":
		return c.R14, true
	case "r15":
		return c.R15, true
	case "rip":
		return c.Rip, true
	case "eflags":
		return c.EFlags, true
	}
	return 0, false
}

// Names lists every register name accepted by ByName, in display order
// for the bare `r` command.
var Names = []string{
	"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"rip", "eflags",
}

// Format renders all registers as the `r` REPL command does: one line per
// register, the name left-aligned in a 7-column field followed by its
// value as 0x and 16 zero-padded hex digits.
func (c *ThreadContext) Format() string {
	s := ""
	for _, name := range Names {
		v, _ := c.ByName(name)
		s += fmt.Sprintf("%-7s0x%016x\n", name, v)
	}
	return s
}
