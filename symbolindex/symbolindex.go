// Package symbolindex resolves addresses to names, names to addresses,
// and addresses to source lines (and back), combining each module's
// export table with its attached PDB.
package symbolindex

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shimmerdbg/wdbg/moduleimage"
)

// ErrNoContainingModule is returned by AddressToName when no loaded
// module's span contains the query address.
var ErrNoContainingModule = errors.New("symbolindex: no module contains address")

// ErrNotFound is returned by NameToAddress/LineToAddress when nothing
// matches.
var ErrNotFound = errors.New("symbolindex: no matching symbol")

// ErrUnqualifiedName is returned when NameToAddress is given a bare
// identifier — only `module!name` is supported (spec §4.3).
var ErrUnqualifiedName = errors.New("symbolindex: name must be qualified as module!symbol")

// AddressToName resolves addr to a "module!symbol[+0xOFFSET]" string.
// Exports are scanned for the highest RVA <= query whose target is not a
// forwarder; if a PDB is attached its PUBLIC function symbols are scanned
// the same way and, on a tie, the PDB match wins.
func AddressToName(proc *moduleimage.Process, addr uint64) (string, error) {
	mod := proc.ModuleContaining(addr)
	if mod == nil {
		return "", ErrNoContainingModule
	}
	rva := uint32(addr - mod.Base)

	bestName := ""
	bestRVA := uint32(0)
	found := false

	for _, exp := range mod.Exports {
		if exp.Target.IsForwarder() {
			continue
		}
		if exp.Target.RVA <= rva && (!found || exp.Target.RVA > bestRVA) {
			bestName = exp.String()
			bestRVA = exp.Target.RVA
			found = true
		}
	}

	if mod.HasPdb && mod.Symbols != nil {
		for _, pub := range mod.Symbols.PublicSymbols() {
			if !pub.IsFunction {
				continue
			}
			pubRVA, ok := mod.AddressMap().ToRVA(pub.Segment, pub.Offset)
			if !ok || pubRVA > rva {
				continue
			}
			if !found || pubRVA >= bestRVA {
				bestName = pub.Name
				bestRVA = pubRVA
				found = true
			}
		}
	}

	if !found {
		return "", ErrNotFound
	}

	offset := rva - bestRVA
	if offset == 0 {
		return fmt.Sprintf("%s!%s", mod.Name, bestName), nil
	}
	return fmt.Sprintf("%s!%s+0x%X", mod.Name, bestName, offset), nil
}

// NameToAddress resolves a fully qualified "module!name" to an address.
// Exports (direct RVA only, forwarders excluded) are tried first, then
// every PDB compilation unit's PROCEDURE symbols, keeping the first exact
// match.
func NameToAddress(proc *moduleimage.Process, qualified string) (uint64, error) {
	bang := strings.IndexByte(qualified, '!')
	if bang < 0 {
		return 0, ErrUnqualifiedName
	}
	moduleName, symName := qualified[:bang], qualified[bang+1:]

	mod := proc.ModuleByName(moduleName)
	if mod == nil {
		return 0, fmt.Errorf("symbolindex: no module named %q", moduleName)
	}

	for _, exp := range mod.Exports {
		if exp.Name == symName && !exp.Target.IsForwarder() {
			return mod.Base + uint64(exp.Target.RVA), nil
		}
	}

	if mod.HasPdb && mod.Symbols != nil {
		for _, unit := range mod.Symbols.CompilationUnits() {
			for _, proc := range unit.Procedures {
				if proc.Name != symName {
					continue
				}
				rva, ok := mod.AddressMap().ToRVA(proc.Segment, proc.Offset)
				if !ok {
					continue
				}
				return mod.Base + uint64(rva), nil
			}
		}
	}

	return 0, ErrNotFound
}

// SourceLocation is a resolved address->source-line result.
type SourceLocation struct {
	File string
	Line uint32
}

// AddressToLine requires a PDB: it translates addr to a module-relative
// RVA, then a line-program offset, and returns the first line record
// whose [startOffset, startOffset+length) contains that offset.
func AddressToLine(proc *moduleimage.Process, addr uint64) (SourceLocation, error) {
	mod := proc.ModuleContaining(addr)
	if mod == nil {
		return SourceLocation{}, ErrNoContainingModule
	}
	if !mod.HasPdb || mod.Symbols == nil {
		return SourceLocation{}, errors.New("symbolindex: module has no PDB")
	}
	rva := uint32(addr - mod.Base)

	for _, unit := range mod.Symbols.CompilationUnits() {
		for _, ln := range unit.Lines {
			lnRVA, ok := mod.AddressMap().ToRVA(ln.Segment, ln.Offset)
			if !ok {
				continue
			}
			if rva >= lnRVA && rva < lnRVA+ln.Length {
				return SourceLocation{File: ln.File, Line: ln.LineStart}, nil
			}
		}
	}

	return SourceLocation{}, ErrNotFound
}

// LineToAddress searches every PDB compilation unit whose file list
// mentions file for the first line whose [LineStart, LineEnd] range
// contains targetLine, returning its address (mapped through module base).
func LineToAddress(proc *moduleimage.Process, mod *moduleimage.Module, file string, targetLine uint32) (uint64, error) {
	if !mod.HasPdb || mod.Symbols == nil {
		return 0, errors.New("symbolindex: module has no PDB")
	}

	for _, unit := range mod.Symbols.CompilationUnits() {
		for _, ln := range unit.Lines {
			if !sameFile(ln.File, file) {
				continue
			}
			if targetLine >= ln.LineStart && targetLine <= ln.LineEnd {
				rva, ok := mod.AddressMap().ToRVA(ln.Segment, ln.Offset)
				if !ok {
					continue
				}
				return mod.Base + uint64(rva), nil
			}
		}
	}

	return 0, ErrNotFound
}

func sameFile(pdbFile, hint string) bool {
	if pdbFile == "" {
		return false
	}
	return strings.EqualFold(pdbFile, hint) || strings.HasSuffix(strings.ToLower(pdbFile), strings.ToLower(hint))
}
