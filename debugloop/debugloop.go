// Package debugloop drives the control-flow state machine that waits on
// OS debug events, keeps the Process model current, and dispatches the
// REPL command set between stops (spec §4.7).
package debugloop

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/shimmerdbg/wdbg/cpucontext"
	"github.com/shimmerdbg/wdbg/debugevent"
	"github.com/shimmerdbg/wdbg/disasm"
	"github.com/shimmerdbg/wdbg/evalexpr"
	"github.com/shimmerdbg/wdbg/hwbreak"
	"github.com/shimmerdbg/wdbg/memoryio"
	"github.com/shimmerdbg/wdbg/moduleimage"
	"github.com/shimmerdbg/wdbg/sources"
	"github.com/shimmerdbg/wdbg/symbolindex"
	"github.com/shimmerdbg/wdbg/unwind"
	"github.com/shimmerdbg/wdbg/wdbgerr"
)

// State is one of the three control-flow states spec §4.7 names.
type State int

const (
	Stopped State = iota
	Running
	AwaitingStep
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Running:
		return "RUNNING"
	case AwaitingStep:
		return "AWAITING_STEP"
	}
	return "UNKNOWN"
}

// MaxStackFrames bounds the `k` stack walk against a corrupted or cyclic
// stack (unwind.Walk's own safety parameter).
const MaxStackFrames = 64

// CommandSource supplies the next REPL command line. Next returns false
// once no more input is available (EOF).
type CommandSource interface {
	Next() (string, bool)
}

// DebugLoop is the session's control-flow state machine plus REPL
// dispatcher (spec §4.7).
type DebugLoop struct {
	Process     *moduleimage.Process
	Breakpoints *hwbreak.Manager
	Sources     *sources.Finder

	session debugevent.Session
	mem     memoryio.MemoryReader
	in      CommandSource
	out     io.Writer
	log     *log.Helper

	state     State
	disasmEnd uint64
}

// New builds a DebugLoop ready to Run. mem must read the same address
// space session debugs.
func New(session debugevent.Session, mem memoryio.MemoryReader, in CommandSource, out io.Writer, logger *log.Helper) *DebugLoop {
	return &DebugLoop{
		Process:     moduleimage.NewProcess(),
		Breakpoints: hwbreak.NewManager(logger),
		Sources:     sources.NewFinder(""),
		session:     session,
		mem:         mem,
		in:          in,
		out:         out,
		log:         logger,
		state:       Stopped,
	}
}

// State returns the loop's current control-flow state.
func (d *DebugLoop) State() State { return d.state }

func (d *DebugLoop) printf(format string, args ...interface{}) {
	fmt.Fprintf(d.out, format, args...)
}

// Run processes events until the debuggee exits, the session errors, or
// the operator issues `q`.
func (d *DebugLoop) Run() error {
	for {
		event, err := d.session.WaitForEvent()
		if err != nil {
			return err
		}

		// GetThreadContext/SetThreadContext failure for the event thread
		// is fatal: the debugger can no longer guarantee it knows or can
		// restore that thread's state, so the session is aborted rather
		// than continued against a zeroed or stale context.
		ctx, err := d.session.ReadContext(event.TID)
		if err != nil {
			return wdbgerr.New(wdbgerr.Os, "debugloop.Run", err)
		}

		status := d.handleEvent(event, &ctx)
		if err := d.session.WriteContext(event.TID, ctx); err != nil {
			return wdbgerr.New(wdbgerr.Os, "debugloop.Run", err)
		}

		quit := d.repl(event.TID, &ctx)

		resumeTid := event.TID
		d.Breakpoints.ApplyBefore(d.session, d.Process.ThreadIDs(), resumeTid)

		if err := d.session.ContinueEvent(event.PID, event.TID, status); err != nil {
			return err
		}

		if quit {
			return d.session.Terminate()
		}
		if event.Code == debugevent.CodeExitProcess {
			return nil
		}
	}
}

// handleEvent performs the per-event actions of spec §4.7's table and
// returns the default continuation status.
func (d *DebugLoop) handleEvent(event debugevent.Event, ctx *cpucontext.ThreadContext) debugevent.ContinueStatus {
	switch event.Code {
	case debugevent.CodeException:
		return d.handleException(event, ctx)

	case debugevent.CodeCreateProcess:
		payload := event.Payload.(debugevent.CreateProcess)
		d.Process.AddThread(event.TID)
		if mod, err := moduleimage.Load(d.mem, payload.ImageBase, payload.ImageName, d.log); err == nil {
			if err := d.Process.AddModule(mod); err != nil {
				d.warn("module add rejected", err)
			}
		} else {
			d.warn("module load failed", err)
		}

	case debugevent.CodeCreateThread:
		d.Process.AddThread(event.TID)

	case debugevent.CodeExitThread:
		d.Process.RemoveThread(event.TID)

	case debugevent.CodeLoadDll:
		payload := event.Payload.(debugevent.LoadDll)
		if mod, err := moduleimage.Load(d.mem, payload.Base, payload.Name, d.log); err == nil {
			if err := d.Process.AddModule(mod); err != nil {
				d.warn("module add rejected", err)
			}
		} else {
			d.warn("module load failed", err)
		}

	case debugevent.CodeUnloadDll:
		// Reported only; the module handle is kept for historical
		// symbol lookups rather than removed.

	case debugevent.CodeOutputDebugString:
		payload := event.Payload.(debugevent.OutputDebugString)
		s := memoryio.ReadCString(d.mem, payload.Address, int(payload.Length), payload.Wide)
		d.printf("%s", s)

	case debugevent.CodeExitProcess:
		// Terminal; REPL still runs once more per the per-iteration
		// contract before Run exits.
	}

	return debugevent.Continue
}

func (d *DebugLoop) handleException(event debugevent.Event, ctx *cpucontext.ThreadContext) debugevent.ContinueStatus {
	payload := event.Payload.(debugevent.Exception)

	if d.state == AwaitingStep && payload.Code == debugevent.SingleStepExceptionCode {
		d.state = Stopped
		ctx.EFlags &^= cpucontext.TrapFlag
		return debugevent.Continue
	}

	if idx, ok := hwbreak.HitIndex(*ctx); ok {
		d.printf("breakpoint %d hit\n", idx)
		return debugevent.Continue
	}

	chance := "second"
	if payload.FirstChance {
		chance = "first"
	}
	d.printf("exception code %#x (%s chance)\n", payload.Code, chance)
	return debugevent.ExceptionNotHandled
}

func (d *DebugLoop) warn(msg string, err error) {
	if d.log != nil {
		d.log.Warnw("msg", msg, "error", err)
	}
}

// repl runs the command loop for the current stop; it returns true if the
// operator issued `q`.
func (d *DebugLoop) repl(tid uint32, ctx *cpucontext.ThreadContext) bool {
	for {
		line, ok := d.in.Next()
		if !ok {
			return false
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, arg := splitCommand(line)
		switch cmd {
		case "t":
			ctx.EFlags |= cpucontext.TrapFlag
			if err := d.session.WriteContext(tid, *ctx); err != nil {
				d.warn("write context failed", err)
			}
			d.state = AwaitingStep
			return false

		case "g":
			d.state = Running
			return false

		case "q":
			return true

		default:
			d.dispatch(cmd, arg, ctx)
		}
	}
}

func splitCommand(line string) (cmd, arg string) {
	fields := strings.SplitN(line, " ", 2)
	cmd = fields[0]
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}
	return cmd, arg
}

func (d *DebugLoop) evalCtx(ctx *cpucontext.ThreadContext) evalexpr.EvalContext {
	return evalexpr.EvalContext{Process: d.Process, Thread: *ctx}
}

func (d *DebugLoop) dispatch(cmd, arg string, ctx *cpucontext.ThreadContext) {
	switch cmd {
	case "bp":
		addr, err := evalexpr.Eval(d.evalCtx(ctx), arg)
		if err != nil {
			d.printf("error: %v\n", err)
			return
		}
		if _, err := d.Breakpoints.Add(addr); err != nil {
			d.printf("error: %v\n", err)
		}

	case "bl":
		for _, line := range d.Breakpoints.List(d.Process) {
			d.printf("%s\n", line)
		}

	case "bc":
		id, err := strconv.Atoi(arg)
		if err != nil {
			d.printf("error: invalid breakpoint id %q\n", arg)
			return
		}
		if err := d.Breakpoints.Clear(id); err != nil {
			d.printf("error: %v\n", err)
		}

	case "r":
		if arg == "" {
			d.printf("%s", ctx.Format())
			return
		}
		v, ok := ctx.ByName(strings.ToLower(arg))
		if !ok {
			d.printf("error: unknown register %q\n", arg)
			return
		}
		d.printf("%-7s0x%016x\n", strings.ToLower(arg), v)

	case "k":
		frames, err := unwind.Walk(d.Process, d.mem, *ctx, MaxStackFrames)
		if err != nil {
			d.printf("error: %v\n", err)
		}
		for i, fr := range frames {
			sym, err := symbolindex.AddressToName(d.Process, fr.Rip)
			if err != nil {
				sym = fmt.Sprintf("%#x", fr.Rip)
			}
			d.printf("%d %#016x %s\n", i, fr.Rsp, sym)
		}

	case "db":
		addr, err := evalexpr.Eval(d.evalCtx(ctx), arg)
		if err != nil {
			d.printf("error: %v\n", err)
			return
		}
		buf := d.mem.ReadBytes(addr, 16)
		d.printf("%#016x  % x\n", addr, buf)

	case "?":
		v, err := evalexpr.Eval(d.evalCtx(ctx), arg)
		if err != nil {
			d.printf("error: %v\n", err)
			return
		}
		d.printf("= 0x%X\n", v)

	case "ln":
		addr, err := evalexpr.Eval(d.evalCtx(ctx), arg)
		if err != nil {
			d.printf("error: %v\n", err)
			return
		}
		name, err := symbolindex.AddressToName(d.Process, addr)
		if err != nil {
			d.printf("error: %v\n", err)
			return
		}
		d.printf("%s\n", name)

	case "u":
		start := d.disasmEnd
		if arg != "" {
			addr, err := evalexpr.Eval(d.evalCtx(ctx), arg)
			if err != nil {
				d.printf("error: %v\n", err)
				return
			}
			start = addr
		}
		instrs := disasm.Window(d.mem, start, 16, d.symResolver())
		d.printf("%s", disasm.Format(instrs))
		d.disasmEnd = disasm.EndAddress(instrs)

	case "lsa":
		addr, err := evalexpr.Eval(d.evalCtx(ctx), arg)
		if err != nil {
			d.printf("error: %v\n", err)
			return
		}
		d.printSourceContext(addr)

	case "srcpath":
		d.Sources.SetSrcPath(arg)

	case "lm":
		for _, mod := range d.Process.Modules {
			ext := mod.Extended()
			d.printf("%#x %#x %s (dll=%t aslr=%t cfg=%t signed=%t)\n",
				mod.Base, mod.Size, mod.Name, ext.IsDLL, ext.ASLR, ext.ControlFlowGuard, ext.IsSigned)
		}

	case "mi":
		addr, err := evalexpr.Eval(d.evalCtx(ctx), arg)
		if err != nil {
			d.printf("error: %v\n", err)
			return
		}
		mod := d.Process.ModuleContaining(addr)
		if mod == nil {
			d.printf("error: no module contains %#x\n", addr)
			return
		}
		d.printModuleForensics(mod)

	default:
		d.printf("error: unknown command %q\n", cmd)
	}
}

// symResolver adapts symbolindex.AddressToName into the x86asm.GoSyntax
// symname callback shape: (name, symbol base address).
func (d *DebugLoop) symResolver() disasm.SymResolver {
	return func(addr uint64) (string, uint64) {
		name, err := symbolindex.AddressToName(d.Process, addr)
		if err != nil {
			return "", 0
		}
		base := addr
		if idx := strings.Index(name, "+0x"); idx >= 0 {
			off, perr := strconv.ParseUint(name[idx+3:], 16, 64)
			if perr == nil {
				base = addr - off
				name = name[:idx]
			}
		}
		return name, base
	}
}

// printModuleForensics renders the `mi` command's extended forensic
// snapshot (SPEC_FULL "module forensics"): imports, TLS callbacks, load
// config flags, bound imports, relocations, Rich header and signature
// summary, and IAT bounds.
func (d *DebugLoop) printModuleForensics(mod *moduleimage.Module) {
	ext := mod.Extended()

	d.printf("module %s base=%#x size=%#x\n", mod.Name, mod.Base, mod.Size)
	d.printf("  dll=%t aslr=%t cfg=%t signed=%t\n", ext.IsDLL, ext.ASLR, ext.ControlFlowGuard, ext.IsSigned)

	if len(ext.Signers) > 0 {
		d.printf("  signers: %s\n", strings.Join(ext.Signers, ", "))
	}
	if len(ext.ImportedDLLs) > 0 {
		d.printf("  imports: %s\n", strings.Join(ext.ImportedDLLs, ", "))
	}
	if len(ext.BoundImports) > 0 {
		d.printf("  bound imports: %s\n", strings.Join(ext.BoundImports, ", "))
	}
	for _, cb := range ext.TLSCallbacks {
		d.printf("  tls callback %#x\n", cb)
	}
	d.printf("  rich header entries: %d\n", ext.RichHeaderEntries)
	d.printf("  relocation pages: %d\n", ext.RelocationPages)
	d.printf("  SEH handlers: %d, CFG functions: %d\n", ext.SEHandlerCount, ext.CFGFunctionCount)
	if len(ext.GuardFlags) > 0 {
		d.printf("  guard flags: %s\n", strings.Join(ext.GuardFlags, ", "))
	}
	d.printf("  IAT: %#x+%#x, global ptr %#x\n", ext.IATRange.RVA, ext.IATRange.Size, ext.GlobalPtr)
}

func (d *DebugLoop) printSourceContext(addr uint64) {
	loc, err := symbolindex.AddressToLine(d.Process, addr)
	if err != nil {
		d.printf("error: %v\n", err)
		return
	}

	d.printf("%s:%d\n", loc.File, loc.Line)

	path, err := d.Sources.Find(loc.File)
	if err != nil {
		d.printf("error: %v\n", err)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		d.printf("error: %v\n", err)
		return
	}

	lines := strings.Split(string(data), "\n")
	target := int(loc.Line)
	start := target - 3
	if start < 0 {
		start = 0
	}
	end := target + 2
	if end > len(lines) {
		end = len(lines)
	}
	for i := start; i < end; i++ {
		marker := " "
		if i+1 == target {
			marker = ">"
		}
		d.printf("%s%4d %s\n", marker, i+1, lines[i])
	}
}
