package debugevent

import (
	"errors"

	"github.com/shimmerdbg/wdbg/cpucontext"
	"github.com/shimmerdbg/wdbg/wdbgerr"
)

// ContinueCall records one ContinueEvent invocation, for tests to assert
// on which continuation status DebugLoop chose.
type ContinueCall struct {
	PID, TID uint32
	Status   ContinueStatus
}

// FakeSession is a scripted, in-memory Session used only by tests (spec
// §8 scenarios S1/S2/S6): a fixed list of events to replay in order, and a
// per-thread ThreadContext map DebugLoop/hwbreak can read and mutate.
type FakeSession struct {
	Events    []Event
	Contexts  map[uint32]cpucontext.ThreadContext
	Continues []ContinueCall

	Terminated bool

	pos int
}

// NewFakeSession returns a FakeSession that replays events in order.
func NewFakeSession(events []Event) *FakeSession {
	return &FakeSession{Events: events, Contexts: make(map[uint32]cpucontext.ThreadContext)}
}

// WaitForEvent implements Session.
func (f *FakeSession) WaitForEvent() (Event, error) {
	if f.pos >= len(f.Events) {
		return Event{}, errors.New("debugevent: fake session exhausted")
	}
	e := f.Events[f.pos]
	f.pos++
	return e, nil
}

// ContinueEvent implements Session.
func (f *FakeSession) ContinueEvent(pid, tid uint32, status ContinueStatus) error {
	f.Continues = append(f.Continues, ContinueCall{PID: pid, TID: tid, Status: status})
	return nil
}

// ReadContext implements Session/hwbreak.ThreadWriter.
func (f *FakeSession) ReadContext(tid uint32) (cpucontext.ThreadContext, error) {
	ctx, ok := f.Contexts[tid]
	if !ok {
		return cpucontext.ThreadContext{}, wdbgerr.New(wdbgerr.Os, "debugevent.FakeSession.ReadContext", errors.New("no such thread"))
	}
	return ctx, nil
}

// WriteContext implements Session/hwbreak.ThreadWriter.
func (f *FakeSession) WriteContext(tid uint32, ctx cpucontext.ThreadContext) error {
	f.Contexts[tid] = ctx
	return nil
}

// Terminate implements Session.
func (f *FakeSession) Terminate() error {
	f.Terminated = true
	return nil
}
