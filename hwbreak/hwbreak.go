// Package hwbreak implements the debugger's hardware execute-breakpoint
// manager: up to four slots encoded directly into the Dr0-Dr3/Dr7 debug
// control registers of every live thread.
package hwbreak

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/shimmerdbg/wdbg/cpucontext"
	"github.com/shimmerdbg/wdbg/moduleimage"
	"github.com/shimmerdbg/wdbg/symbolindex"
)

// MaxBreakpoints is the number of hardware debug-address slots (Dr0-Dr3)
// the manager can program.
const MaxBreakpoints = 4

// ErrNoFreeSlot is returned by Add once all four slots are occupied.
var ErrNoFreeSlot = errors.New("hwbreak: no free hardware breakpoint slot")

// ErrNotFound is returned by Clear for an unknown id.
var ErrNotFound = errors.New("hwbreak: no breakpoint with that id")

// Breakpoint is one allocated execute breakpoint (spec §3).
type Breakpoint struct {
	ID      int
	Address uint64
}

// Manager owns the set of live breakpoints for a session. It has no
// notion of threads itself; ApplyBefore is handed the live thread set by
// the caller (DebugLoop) each time it needs to (re)program every thread's
// debug registers.
type Manager struct {
	slots [MaxBreakpoints]*Breakpoint
	log   *log.Helper
}

// NewManager returns an empty Manager.
func NewManager(logger *log.Helper) *Manager {
	return &Manager{log: logger}
}

// Add allocates the lowest free slot id in [0,3] for addr.
func (m *Manager) Add(addr uint64) (Breakpoint, error) {
	for i := 0; i < MaxBreakpoints; i++ {
		if m.slots[i] == nil {
			bp := &Breakpoint{ID: i, Address: addr}
			m.slots[i] = bp
			return *bp, nil
		}
	}
	return Breakpoint{}, ErrNoFreeSlot
}

// Clear removes the breakpoint with the given id.
func (m *Manager) Clear(id int) error {
	if id < 0 || id >= MaxBreakpoints || m.slots[id] == nil {
		return ErrNotFound
	}
	m.slots[id] = nil
	return nil
}

// List returns every live breakpoint sorted by id, formatted as
// "id address (symbol)" with a best-effort symbol lookup.
func (m *Manager) List(proc *moduleimage.Process) []string {
	var ids []int
	for i := 0; i < MaxBreakpoints; i++ {
		if m.slots[i] != nil {
			ids = append(ids, i)
		}
	}
	sort.Ints(ids)

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		bp := m.slots[id]
		sym, err := symbolindex.AddressToName(proc, bp.Address)
		if err != nil {
			sym = "?"
		}
		lines = append(lines, fmt.Sprintf("%d %#x (%s)", bp.ID, bp.Address, sym))
	}
	return lines
}

// Breakpoints returns the live breakpoints sorted by id.
func (m *Manager) Breakpoints() []Breakpoint {
	var out []Breakpoint
	for i := 0; i < MaxBreakpoints; i++ {
		if m.slots[i] != nil {
			out = append(out, *m.slots[i])
		}
	}
	return out
}

// DR7 bit layout (spec §4.5): per-slot LE at bit 2i, GE at 2i+1, a 2-bit RW
// field starting at {16,20,24,28}, and a 2-bit LEN field starting at
// {18,22,26,30}. rwExecute=0 and lenByte=0 select an execute breakpoint on
// a single byte, the only watchpoint type in scope (spec §1 non-goals).
const (
	rwExecute = 0x0
	lenByte   = 0x0
)

// encodeDR7 builds the DR7 value for the manager's four slots, preserving
// no prior bits: the manager assumes sole ownership of DR0-3 and the
// DR7.LE bits (spec §4.5).
func (m *Manager) encodeDR7() uint64 {
	var dr7 uint64
	for i := 0; i < MaxBreakpoints; i++ {
		if m.slots[i] == nil {
			continue
		}
		dr7 |= 1 << uint(2*i) // LE_i
		rwShift := uint(16 + 4*i)
		lenShift := uint(18 + 4*i)
		dr7 |= uint64(rwExecute) << rwShift
		dr7 |= uint64(lenByte) << lenShift
	}
	return dr7
}

// ThreadWriter abstracts opening a thread, reading/writing its CONTEXT —
// the interface DebugLoop's OS backend implements, kept narrow so this
// package stays free of any OS-debug-API dependency.
type ThreadWriter interface {
	ReadContext(tid uint32) (cpucontext.ThreadContext, error)
	WriteContext(tid uint32, ctx cpucontext.ThreadContext) error
}

// ApplyBefore programs every live thread's Dr0-3/Dr7 to match the
// manager's current slot set, ahead of a resume. resumeTid, if nonzero,
// gets EFlags.RF set so the instruction under a breakpoint at its own Rip
// is not immediately re-triggered. Per-thread failures are logged and do
// not abort the others.
func (m *Manager) ApplyBefore(tw ThreadWriter, threadIDs []uint32, resumeTid uint32) {
	for _, tid := range threadIDs {
		ctx, err := tw.ReadContext(tid)
		if err != nil {
			m.warn("read context failed", tid, err)
			continue
		}

		for i := 0; i < MaxBreakpoints; i++ {
			addr := uint64(0)
			if m.slots[i] != nil {
				addr = m.slots[i].Address
			}
			setDR(&ctx, i, addr)
		}
		ctx.Dr7 = m.encodeDR7()

		if tid == resumeTid {
			ctx.EFlags |= cpucontext.ResumeFlag
		}

		if err := tw.WriteContext(tid, ctx); err != nil {
			m.warn("write context failed", tid, err)
		}
	}
}

func setDR(ctx *cpucontext.ThreadContext, slot int, addr uint64) {
	switch slot {
	case 0:
		ctx.Dr0 = addr
	case 1:
		ctx.Dr1 = addr
	case 2:
		ctx.Dr2 = addr
	case 3:
		ctx.Dr3 = addr
	}
}

func (m *Manager) warn(msg string, tid uint32, err error) {
	if m.log != nil {
		m.log.Warnw("msg", msg, "tid", tid, "error", err)
	}
}

// HitIndex returns the lowest slot index whose DR6.B_i bit is set, or
// false if none.
func HitIndex(ctx cpucontext.ThreadContext) (int, bool) {
	for i := 0; i < MaxBreakpoints; i++ {
		if ctx.Dr6&(1<<uint(i)) != 0 {
			return i, true
		}
	}
	return 0, false
}
