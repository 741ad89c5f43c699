// Package moduleimage builds the debugger's view of one loaded module:
// reading its PE headers out of live debuggee memory, resolving its
// exports, and attaching a parsed PDB when the CodeView debug link
// resolves to a file on disk.
package moduleimage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/shimmerdbg/wdbg/memoryio"
	"github.com/shimmerdbg/wdbg/pdbsym"
	"github.com/shimmerdbg/wdbg/pe"
)

// ExportTarget is either a resolved RVA inside the module or a forwarder
// string naming another module's export.
type ExportTarget struct {
	RVA       uint32
	Forwarder string
}

// IsForwarder reports whether this target names another module's export
// rather than pointing at code in this one.
func (t ExportTarget) IsForwarder() bool { return t.Forwarder != "" }

// Export is one resolved export table entry (spec §3).
type Export struct {
	Name           string
	BiasedOrdinal  uint32
	Target         ExportTarget
}

// String renders the export the way a symbol name would be displayed when
// no name is available: Ordinal<N>.
func (e Export) String() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("Ordinal%d", e.BiasedOrdinal)
}

// PdbLink is the resolved CodeView debug-link record (spec §3).
type PdbLink struct {
	Path string
	GUID [16]byte
	Age  uint32
}

// Module is the parsed image of one loaded PE in the debuggee.
type Module struct {
	Name       string
	Base       uint64
	Size       uint64
	NtHeader   pe.ImageNtHeader
	Image      *pe.Image
	Exports    []Export
	Pdb        PdbLink
	HasPdb     bool
	Symbols    pdbsym.PDB
	addressMap sectionAddressMap

	log *log.Helper
}

// ErrUnsupportedMachine is returned when a module's machine type is not
// x86-64; the module is not constructed at all.
var ErrUnsupportedMachine = errors.New("moduleimage: unsupported machine type")

// Load reads a module's DOS/NT headers, exports and debug directory out of
// the debuggee's address space starting at base, via r. loaderName is
// what the OS debug event reported for this module (e.g. the path passed
// to LoadDll), used in preference to the export directory's own name.
func Load(r memoryio.MemoryReader, base uint64, loaderName string, logger *log.Helper) (*Module, error) {
	header := r.ReadBytes(base, headerProbeSize)
	if len(header) < pe.TinyPESize {
		return nil, errors.New("moduleimage: could not read enough of the module header")
	}

	img := pe.NewBytes(header)
	if err := img.ParseDOSHeader(); err != nil {
		return nil, err
	}
	if err := img.ParseNTHeader(); err != nil {
		if errors.Is(err, pe.ErrUnsupportedMachine) {
			return nil, ErrUnsupportedMachine
		}
		return nil, err
	}

	sizeOfImage := uint64(img.NtHeader.OptionalHeader.SizeOfImage)
	full := r.ReadBytes(base, int(sizeOfImage))
	if uint64(len(full)) < sizeOfImage {
		// Best-effort: keep what we got rather than failing the whole
		// module; later RVAs beyond len(full) simply read as out of
		// bounds.
		sizeOfImage = uint64(len(full))
	}

	fullImg := pe.NewBytes(full)
	if err := fullImg.Parse(); err != nil {
		return nil, err
	}

	m := &Module{
		Base:     base,
		Size:     sizeOfImage,
		NtHeader: fullImg.NtHeader,
		Image:    fullImg,
		log:      logger,
	}
	m.addressMap = sectionAddressMap{sections: fullImg.Sections}

	m.Exports = buildExports(fullImg)

	name := loaderName
	if name == "" {
		name = fullImg.Export.ModuleName(fullImg)
	}
	if name == "" {
		name = fmt.Sprintf("module_%X", base)
	}
	m.Name = normalizeModuleName(name)

	if link, ok := fullImg.PDBLink(); ok {
		m.Pdb = PdbLink{Path: link.Path, GUID: link.GUID, Age: link.Age}
		if pdb, err := pdbsym.Open(link.Path); err == nil {
			m.Symbols = pdb
			m.HasPdb = true
		} else if logger != nil {
			logger.Warnw("msg", "failed to load pdb", "module", m.Name, "path", link.Path, "error", err)
		}
	}

	return m, nil
}

// headerProbeSize is read first to learn SizeOfImage before the full
// module is pulled over MemoryReader.
const headerProbeSize = 0x1000

func buildExports(img *pe.Image) []Export {
	exports := make([]Export, 0, len(img.Export.Functions))
	for _, fn := range img.Export.Functions {
		e := Export{Name: fn.Name, BiasedOrdinal: fn.Ordinal}
		if fn.Forwarder != "" {
			e.Target = ExportTarget{Forwarder: fn.Forwarder}
		} else {
			e.Target = ExportTarget{RVA: fn.FunctionRVA}
		}
		exports = append(exports, e)
	}
	return exports
}

func normalizeModuleName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Contains reports whether addr falls within this module's mapped span.
func (m *Module) Contains(addr uint64) bool {
	return addr >= m.Base && addr < m.Base+m.Size
}

// sectionAddressMap implements pdbsym.AddressMap: it maps a CodeView
// (segment, offset) pair to an RVA using the PE section table, where
// segment is the 1-based index into the sections in file (link) order.
type sectionAddressMap struct {
	sections []pe.Section
}

func (a sectionAddressMap) ToRVA(segment uint16, offset uint32) (uint32, bool) {
	idx := int(segment) - 1
	if idx < 0 || idx >= len(a.sections) {
		return 0, false
	}
	return a.sections[idx].Header.VirtualAddress + offset, true
}

// AddressMap returns the module's segment->RVA translator, for
// symbolindex to resolve PDB symbol/line records.
func (m *Module) AddressMap() pdbsym.AddressMap { return m.addressMap }

// Close releases the module's PDB handle, if one was loaded.
func (m *Module) Close() error {
	if m.Symbols != nil {
		return m.Symbols.Close()
	}
	return nil
}
