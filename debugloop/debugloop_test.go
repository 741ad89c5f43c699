package debugloop

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shimmerdbg/wdbg/cpucontext"
	"github.com/shimmerdbg/wdbg/debugevent"
	"github.com/shimmerdbg/wdbg/memoryio"
	"github.com/shimmerdbg/wdbg/moduleimage"
	"github.com/shimmerdbg/wdbg/pe"
	"github.com/shimmerdbg/wdbg/wdbgerr"
)

// scriptedCommands replays a fixed command list, then reports EOF.
type scriptedCommands struct {
	cmds []string
	pos  int
}

func (s *scriptedCommands) Next() (string, bool) {
	if s.pos >= len(s.cmds) {
		return "", false
	}
	c := s.cmds[s.pos]
	s.pos++
	return c, true
}

// TestScenarioS1Entrypoint exercises spec §8 S1: CreateProcess then an
// int3 Exception; `r rip` at the stop prints the entry address, then `g`
// resumes to ExitProcess.
func TestScenarioS1Entrypoint(t *testing.T) {
	const entry = 0x140001000

	session := debugevent.NewFakeSession([]debugevent.Event{
		{PID: 1, TID: 1, Code: debugevent.CodeCreateProcess, Payload: debugevent.CreateProcess{ImageBase: 0x140000000, ImageName: "hello.exe"}},
		{PID: 1, TID: 1, Code: debugevent.CodeException, Payload: debugevent.Exception{Code: debugevent.BreakpointExceptionCode, Address: entry, FirstChance: true}},
		{PID: 1, TID: 1, Code: debugevent.CodeExitProcess, Payload: debugevent.ExitProcess{ExitCode: 0}},
	})
	session.Contexts[1] = cpucontext.ThreadContext{Rip: entry}

	mem := memoryio.NewFakeReader()
	var out bytes.Buffer

	cmds := &scriptedCommands{cmds: []string{"g", "r rip", "g", "g"}}
	loop := New(session, mem, cmds, &out, nil)

	if err := loop.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "exception code 0x80000003") {
		t.Errorf("output missing exception report: %q", got)
	}
	if !strings.Contains(got, "0x0000000140001000") {
		t.Errorf("output missing rip value: %q", got)
	}
}

// TestScenarioS2BreakpointHit exercises spec §8 S2: the first g stops at a
// breakpoint-0 hit reported through the seeded Dr6; then bp hello!main
// sets it, bl lists it, bc clears it, and g resumes to exit.
func TestScenarioS2BreakpointHit(t *testing.T) {
	const base = 0x140000000
	const mainRVA = 0x1000

	session := debugevent.NewFakeSession([]debugevent.Event{
		{PID: 1, TID: 1, Code: debugevent.CodeCreateProcess, Payload: debugevent.CreateProcess{ImageBase: base, ImageName: "hello"}},
		{PID: 1, TID: 1, Code: debugevent.CodeException, Payload: debugevent.Exception{Code: debugevent.BreakpointExceptionCode}},
		{PID: 1, TID: 1, Code: debugevent.CodeExitProcess},
	})
	session.Contexts[1] = cpucontext.ThreadContext{Rip: base + mainRVA, Dr6: 0x1}

	mem := memoryio.NewFakeReader()
	var out bytes.Buffer

	cmds := &scriptedCommands{cmds: []string{"g", "bp hello!main", "bl", "bc 0", "g", "g"}}
	loop := New(session, mem, cmds, &out, nil)
	// Seed the module so bp/bl can resolve hello!main without depending
	// on moduleimage.Load succeeding against a fake, header-less image.
	loop.Process.AddModule(&moduleimage.Module{
		Name: "hello", Base: base, Size: 0x5000,
		Exports: []moduleimage.Export{
			{Name: "main", Target: moduleimage.ExportTarget{RVA: mainRVA}},
		},
	})

	loop.Run()

	got := out.String()
	if !strings.Contains(got, "breakpoint 0 hit") {
		t.Errorf("output missing breakpoint-hit report: %q", got)
	}
	if !strings.Contains(got, "0 0x140001000 (hello!main)") {
		t.Errorf("output missing bl listing: %q", got)
	}
}

// TestScenarioS6FifthBreakpointFails exercises spec §8 S6: a 5th add
// fails and the prior four remain intact and listable.
func TestScenarioS6FifthBreakpointFails(t *testing.T) {
	session := debugevent.NewFakeSession([]debugevent.Event{
		{PID: 1, TID: 1, Code: debugevent.CodeCreateProcess, Payload: debugevent.CreateProcess{ImageBase: 0x140000000}},
		{PID: 1, TID: 1, Code: debugevent.CodeExitProcess},
	})
	session.Contexts[1] = cpucontext.ThreadContext{Rip: 0x140000000}

	mem := memoryio.NewFakeReader()
	var out bytes.Buffer

	cmds := &scriptedCommands{cmds: []string{
		"bp 0x140001000", "bp 0x140002000", "bp 0x140003000", "bp 0x140004000",
		"bp 0x140005000", "bl", "g",
	}}
	loop := New(session, mem, cmds, &out, nil)
	loop.Run()

	got := out.String()
	lines := 0
	for _, l := range strings.Split(got, "\n") {
		if strings.HasPrefix(l, "0 ") || strings.HasPrefix(l, "1 ") || strings.HasPrefix(l, "2 ") || strings.HasPrefix(l, "3 ") {
			lines++
		}
	}
	if lines != 4 {
		t.Errorf("bl after 5th (failing) add listed %d breakpoints, want 4; output: %q", lines, got)
	}
	if !strings.Contains(got, "no free hardware breakpoint slot") {
		t.Errorf("output missing ResourceError for 5th breakpoint: %q", got)
	}
}

// TestScenarioS3DisassemblyContinuation exercises spec §8 S3: `u @rip`
// disassembles 16 instructions starting at Rip, and a bare `u` continues
// from where the last window left off.
func TestScenarioS3DisassemblyContinuation(t *testing.T) {
	const entry = 0x140001000

	session := debugevent.NewFakeSession([]debugevent.Event{
		{PID: 1, TID: 1, Code: debugevent.CodeCreateProcess, Payload: debugevent.CreateProcess{ImageBase: 0x140000000}},
		{PID: 1, TID: 1, Code: debugevent.CodeExitProcess},
	})
	session.Contexts[1] = cpucontext.ThreadContext{Rip: entry}

	mem := memoryio.NewFakeReader()
	code := make([]byte, 32)
	for i := range code {
		code[i] = 0x90 // nop, so every decoded instruction is exactly 1 byte
	}
	mem.Map(entry, code)

	var out bytes.Buffer
	cmds := &scriptedCommands{cmds: []string{"u @rip", "u", "g"}}
	loop := New(session, mem, cmds, &out, nil)

	loop.Run()

	got := out.String()
	firstWindowStart := fmt.Sprintf("%016x", entry)
	secondWindowStart := fmt.Sprintf("%016x", entry+16)
	if !strings.Contains(got, firstWindowStart) {
		t.Errorf("first `u` window missing start address %s: %q", firstWindowStart, got)
	}
	if !strings.Contains(got, secondWindowStart) {
		t.Errorf("second `u` window did not continue from the first's end (%s): %q", secondWindowStart, got)
	}
}

// TestLmListsModuleSummary exercises the SPEC_FULL `lm` command.
func TestLmListsModuleSummary(t *testing.T) {
	const base = 0x140000000

	session := debugevent.NewFakeSession([]debugevent.Event{
		{PID: 1, TID: 1, Code: debugevent.CodeCreateProcess, Payload: debugevent.CreateProcess{ImageBase: base}},
		{PID: 1, TID: 1, Code: debugevent.CodeExitProcess},
	})
	session.Contexts[1] = cpucontext.ThreadContext{Rip: base}

	mem := memoryio.NewFakeReader()
	var out bytes.Buffer

	cmds := &scriptedCommands{cmds: []string{"lm", "g"}}
	loop := New(session, mem, cmds, &out, nil)
	loop.Process.AddModule(&moduleimage.Module{Name: "hello", Base: base, Size: 0x5000, Image: pe.NewBytes(nil)})

	loop.Run()

	got := out.String()
	if !strings.Contains(got, "hello") || !strings.Contains(got, "0x140000000") {
		t.Errorf("lm output missing module summary: %q", got)
	}
}

// TestMiReportsForensicsForContainingModule exercises the SPEC_FULL `mi`
// command against the module containing the evaluated address.
func TestMiReportsForensicsForContainingModule(t *testing.T) {
	const base = 0x140000000

	session := debugevent.NewFakeSession([]debugevent.Event{
		{PID: 1, TID: 1, Code: debugevent.CodeCreateProcess, Payload: debugevent.CreateProcess{ImageBase: base}},
		{PID: 1, TID: 1, Code: debugevent.CodeExitProcess},
	})
	session.Contexts[1] = cpucontext.ThreadContext{Rip: base}

	mem := memoryio.NewFakeReader()
	var out bytes.Buffer

	cmds := &scriptedCommands{cmds: []string{"mi 0x140000010", "g"}}
	loop := New(session, mem, cmds, &out, nil)
	loop.Process.AddModule(&moduleimage.Module{Name: "hello", Base: base, Size: 0x5000, Image: pe.NewBytes(nil)})

	loop.Run()

	got := out.String()
	if !strings.Contains(got, "module hello") {
		t.Errorf("mi output missing module header: %q", got)
	}
}

// TestRunIsFatalOnReadContextFailure exercises spec §7: a GetThreadContext
// failure for the event thread must abort the session rather than operate
// on (and write back) a zeroed ThreadContext.
func TestRunIsFatalOnReadContextFailure(t *testing.T) {
	session := debugevent.NewFakeSession([]debugevent.Event{
		{PID: 1, TID: 1, Code: debugevent.CodeCreateProcess, Payload: debugevent.CreateProcess{ImageBase: 0x140000000}},
	})
	// Deliberately do not seed session.Contexts[1], so ReadContext fails.

	mem := memoryio.NewFakeReader()
	var out bytes.Buffer
	cmds := &scriptedCommands{cmds: []string{"g"}}
	loop := New(session, mem, cmds, &out, nil)

	err := loop.Run()
	if err == nil {
		t.Fatal("Run() error = nil, want a fatal OsError")
	}
	if !errors.Is(err, wdbgerr.ErrOs) {
		t.Errorf("Run() error = %v, want errors.Is(err, wdbgerr.ErrOs)", err)
	}
	if len(session.Continues) != 0 {
		t.Errorf("ContinueEvent was called %d times, want 0 (session should abort before resuming)", len(session.Continues))
	}
	if session.Terminated {
		t.Error("session.Terminate() should not be called on a ReadContext failure, only on explicit q")
	}
}

func TestQuitTerminatesSession(t *testing.T) {
	session := debugevent.NewFakeSession([]debugevent.Event{
		{PID: 1, TID: 1, Code: debugevent.CodeCreateProcess, Payload: debugevent.CreateProcess{ImageBase: 0x140000000}},
	})
	session.Contexts[1] = cpucontext.ThreadContext{}

	mem := memoryio.NewFakeReader()
	var out bytes.Buffer
	cmds := &scriptedCommands{cmds: []string{"q"}}
	loop := New(session, mem, cmds, &out, nil)

	if err := loop.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !session.Terminated {
		t.Error("expected session.Terminate() to have been called")
	}
}
