package debugevent

import (
	"testing"

	"github.com/shimmerdbg/wdbg/cpucontext"
)

func TestFakeSessionReplaysEventsInOrder(t *testing.T) {
	s := NewFakeSession([]Event{
		{PID: 1, TID: 1, Code: CodeCreateProcess, Payload: CreateProcess{ImageBase: 0x140000000}},
		{PID: 1, TID: 1, Code: CodeException, Payload: Exception{Code: BreakpointExceptionCode}},
	})

	e1, err := s.WaitForEvent()
	if err != nil || e1.Code != CodeCreateProcess {
		t.Fatalf("first event = %+v, %v", e1, err)
	}
	e2, err := s.WaitForEvent()
	if err != nil || e2.Code != CodeException {
		t.Fatalf("second event = %+v, %v", e2, err)
	}
	if _, err := s.WaitForEvent(); err == nil {
		t.Error("expected error once events are exhausted")
	}
}

func TestFakeSessionContextRoundTrip(t *testing.T) {
	s := NewFakeSession(nil)
	s.Contexts[1] = cpucontext.ThreadContext{Rip: 0x1000}

	ctx, err := s.ReadContext(1)
	if err != nil || ctx.Rip != 0x1000 {
		t.Fatalf("ReadContext = %+v, %v", ctx, err)
	}

	ctx.Rip = 0x2000
	if err := s.WriteContext(1, ctx); err != nil {
		t.Fatalf("WriteContext error: %v", err)
	}
	got, _ := s.ReadContext(1)
	if got.Rip != 0x2000 {
		t.Errorf("Rip = %#x, want 0x2000", got.Rip)
	}
}

func TestFakeSessionContinueCallsRecorded(t *testing.T) {
	s := NewFakeSession(nil)
	s.ContinueEvent(1, 2, Continue)
	s.ContinueEvent(1, 2, ExceptionNotHandled)

	if len(s.Continues) != 2 {
		t.Fatalf("len(Continues) = %d, want 2", len(s.Continues))
	}
	if s.Continues[1].Status != ExceptionNotHandled {
		t.Errorf("second continue status = %v, want ExceptionNotHandled", s.Continues[1].Status)
	}
}
