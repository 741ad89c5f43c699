package moduleimage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shimmerdbg/wdbg/wdbgerr"
)

// Process is the debuggee state the DebugLoop mutates across the
// session: an append-only module list (in load order) and the set of
// live thread identifiers.
type Process struct {
	Modules []*Module
	threads map[uint32]struct{}
}

// NewProcess returns an empty Process, ready for the CreateProcess event.
func NewProcess() *Process {
	return &Process{threads: make(map[uint32]struct{})}
}

// AddModule appends m to the module list, rejecting it with a FormatError
// if its [Base, Base+Size) span overlaps any module already present:
// module address ranges must never overlap within a Process.
func (p *Process) AddModule(m *Module) error {
	for _, existing := range p.Modules {
		if spansOverlap(existing.Base, existing.Size, m.Base, m.Size) {
			return wdbgerr.New(wdbgerr.Format, "moduleimage.Process.AddModule",
				fmt.Errorf("%s [%#x,%#x) overlaps %s [%#x,%#x)",
					m.Name, m.Base, m.Base+m.Size, existing.Name, existing.Base, existing.Base+existing.Size))
		}
	}
	p.Modules = append(p.Modules, m)
	return nil
}

func spansOverlap(base1, size1, base2, size2 uint64) bool {
	return base1 < base2+size2 && base2 < base1+size1
}

// ModuleContaining returns the unique module whose [Base, Base+Size) span
// contains addr, or nil.
func (p *Process) ModuleContaining(addr uint64) *Module {
	for _, m := range p.Modules {
		if m.Contains(addr) {
			return m
		}
	}
	return nil
}

// ModuleByName resolves a module by the matching rules spec §4.3
// describes for "name→address": exact match, else case-insensitive after
// stripping a `\`-delimited path prefix, else case-insensitive after also
// stripping a trailing extension.
func (p *Process) ModuleByName(name string) *Module {
	for _, m := range p.Modules {
		if m.Name == name {
			return m
		}
	}
	target := stripPathAndCase(name)
	for _, m := range p.Modules {
		if stripPathAndCase(m.Name) == target {
			return m
		}
	}
	targetNoExt := stripExt(target)
	for _, m := range p.Modules {
		if stripExt(stripPathAndCase(m.Name)) == targetNoExt {
			return m
		}
	}
	return nil
}

func stripPathAndCase(s string) string {
	return strings.ToLower(basename(s))
}

func basename(s string) string {
	if i := strings.LastIndexAny(s, `\/`); i >= 0 {
		return s[i+1:]
	}
	return s
}

func stripExt(s string) string {
	base := basename(s)
	if i := strings.LastIndex(base, "."); i >= 0 {
		return s[:len(s)-len(base)+i]
	}
	return s
}

// AddThread records a new live thread identifier.
func (p *Process) AddThread(tid uint32) {
	p.threads[tid] = struct{}{}
}

// RemoveThread drops a thread identifier on exit.
func (p *Process) RemoveThread(tid uint32) {
	delete(p.threads, tid)
}

// ThreadIDs returns every live thread identifier, sorted ascending.
func (p *Process) ThreadIDs() []uint32 {
	ids := make([]uint32, 0, len(p.threads))
	for tid := range p.threads {
		ids = append(ids, tid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
