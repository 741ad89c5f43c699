package hwbreak

import (
	"testing"

	"github.com/shimmerdbg/wdbg/cpucontext"
	"github.com/shimmerdbg/wdbg/moduleimage"
)

func TestAddAllocatesLowestFreeSlot(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < MaxBreakpoints; i++ {
		bp, err := m.Add(uint64(0x1000 + i))
		if err != nil {
			t.Fatalf("Add() error: %v", err)
		}
		if bp.ID != i {
			t.Errorf("Add() id = %d, want %d", bp.ID, i)
		}
	}
	if _, err := m.Add(0x9999); err != ErrNoFreeSlot {
		t.Errorf("5th Add() error = %v, want ErrNoFreeSlot", err)
	}

	bps := m.Breakpoints()
	if len(bps) != MaxBreakpoints {
		t.Fatalf("len(Breakpoints()) = %d, want %d", len(bps), MaxBreakpoints)
	}
}

func TestClearFreesSlotForReuse(t *testing.T) {
	m := NewManager(nil)
	bp, _ := m.Add(0x1000)
	if err := m.Clear(bp.ID); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if err := m.Clear(bp.ID); err != ErrNotFound {
		t.Errorf("double Clear() error = %v, want ErrNotFound", err)
	}

	reused, err := m.Add(0x2000)
	if err != nil {
		t.Fatalf("Add() after Clear(): %v", err)
	}
	if reused.ID != bp.ID {
		t.Errorf("reused id = %d, want %d", reused.ID, bp.ID)
	}
}

func TestFifthBreakpointLeavesFirstFourIntact(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < MaxBreakpoints; i++ {
		m.Add(uint64(0x1000 + i))
	}
	if _, err := m.Add(0xdead); err != ErrNoFreeSlot {
		t.Fatalf("5th Add() error = %v, want ErrNoFreeSlot", err)
	}
	for i, bp := range m.Breakpoints() {
		if bp.Address != uint64(0x1000+i) {
			t.Errorf("slot %d address = %#x, want %#x", i, bp.Address, 0x1000+i)
		}
	}
}

func TestEncodeDR7BitLayout(t *testing.T) {
	m := NewManager(nil)
	m.Add(0x1000) // slot 0
	m.Add(0x2000) // slot 1

	dr7 := m.encodeDR7()
	if dr7&(1<<0) == 0 {
		t.Error("LE_0 not set")
	}
	if dr7&(1<<2) == 0 {
		t.Error("LE_1 not set")
	}
	if dr7&(1<<4) != 0 {
		t.Error("LE_2 should not be set")
	}
	if (dr7>>16)&0x3 != rwExecute {
		t.Errorf("RW_0 = %d, want execute(0)", (dr7>>16)&0x3)
	}
	if (dr7>>18)&0x3 != lenByte {
		t.Errorf("LEN_0 = %d, want byte(0)", (dr7>>18)&0x3)
	}
}

type fakeThreadWriter struct {
	contexts map[uint32]cpucontext.ThreadContext
	failRead map[uint32]bool
}

func newFakeThreadWriter() *fakeThreadWriter {
	return &fakeThreadWriter{contexts: make(map[uint32]cpucontext.ThreadContext), failRead: make(map[uint32]bool)}
}

func (f *fakeThreadWriter) ReadContext(tid uint32) (cpucontext.ThreadContext, error) {
	if f.failRead[tid] {
		return cpucontext.ThreadContext{}, errReadFailed
	}
	return f.contexts[tid], nil
}

func (f *fakeThreadWriter) WriteContext(tid uint32, ctx cpucontext.ThreadContext) error {
	f.contexts[tid] = ctx
	return nil
}

var errReadFailed = &testErr{"read failed"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func TestApplyBeforeProgramsEveryThread(t *testing.T) {
	m := NewManager(nil)
	m.Add(0xdeadbeef)

	tw := newFakeThreadWriter()
	tw.contexts[1] = cpucontext.ThreadContext{}
	tw.contexts[2] = cpucontext.ThreadContext{}

	m.ApplyBefore(tw, []uint32{1, 2}, 2)

	if tw.contexts[1].Dr0 != 0xdeadbeef {
		t.Errorf("thread 1 Dr0 = %#x, want 0xdeadbeef", tw.contexts[1].Dr0)
	}
	if tw.contexts[2].EFlags&cpucontext.ResumeFlag == 0 {
		t.Error("resuming thread should have EFlags.RF set")
	}
	if tw.contexts[1].EFlags&cpucontext.ResumeFlag != 0 {
		t.Error("non-resuming thread should not have EFlags.RF set")
	}
}

func TestApplyBeforeSkipsFailingThreads(t *testing.T) {
	m := NewManager(nil)
	m.Add(0x1000)

	tw := newFakeThreadWriter()
	tw.failRead[1] = true
	tw.contexts[2] = cpucontext.ThreadContext{}

	m.ApplyBefore(tw, []uint32{1, 2}, 0)

	if tw.contexts[2].Dr0 != 0x1000 {
		t.Errorf("thread 2 Dr0 = %#x, want 0x1000 despite thread 1 failing", tw.contexts[2].Dr0)
	}
}

func TestHitIndex(t *testing.T) {
	ctx := cpucontext.ThreadContext{Dr6: 0x4} // bit 2 set -> slot 2
	idx, ok := HitIndex(ctx)
	if !ok || idx != 2 {
		t.Errorf("HitIndex() = %d, %v, want 2, true", idx, ok)
	}

	if _, ok := HitIndex(cpucontext.ThreadContext{}); ok {
		t.Error("HitIndex() on zero Dr6 should report false")
	}
}

func TestListFormatsWithBestEffortSymbol(t *testing.T) {
	m := NewManager(nil)
	m.Add(0x140001000)
	proc := moduleimage.NewProcess()
	proc.AddModule(&moduleimage.Module{
		Name: "hello.exe", Base: 0x140000000, Size: 0x5000,
		Exports: []moduleimage.Export{
			{Name: "Entry", Target: moduleimage.ExportTarget{RVA: 0x1000}},
		},
	})

	lines := m.List(proc)
	if len(lines) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(lines))
	}
	want := "0 0x140001000 (hello.exe!Entry)"
	if lines[0] != want {
		t.Errorf("List()[0] = %q, want %q", lines[0], want)
	}
}
