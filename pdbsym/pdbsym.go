// Package pdbsym is the one fixed consumption surface for a PDB's symbol
// and line-number data. The PDB format itself (its Multi-Stream File
// container, DBI stream, and CodeView symbol/line records) is an external
// collaborator per the debugger's scope — only this interface is load
// bearing for the rest of the debugger. Reader is a minimal, from-scratch
// implementation of enough of that format to drive SymbolIndex; it does
// not implement the full Microsoft MSF specification (no stream
// compression, no incremental-link multi-stream merging, no type stream).
package pdbsym

// AddressMap translates a CodeView (segment, offset) pair — the unit
// every symbol and line record is actually stored in — to a module-
// relative RVA. A PDB's symbols are always expressed this way because the
// PDB is produced before the linker has chosen final section layout; the
// debugger's own concern (and so moduleimage's, not this package's) is
// mapping segment indices onto the PE section table it already parsed.
type AddressMap interface {
	ToRVA(segment uint16, offset uint32) (uint32, bool)
}

// Public is one S_PUB32 global symbol.
type Public struct {
	Name       string
	Segment    uint16
	Offset     uint32
	IsFunction bool
}

// Procedure is one S_GPROC32/S_LPROC32 symbol local to a compilation unit.
type Procedure struct {
	Name    string
	Segment uint16
	Offset  uint32
}

// Line is one entry of a line-number program: the instruction range
// [Offset, Offset+Length) it covers, the source file it came from, and
// the starting source line.
type Line struct {
	Segment   uint16
	Offset    uint32
	Length    uint32
	File      string
	LineStart uint32
	LineEnd   uint32
}

// CompilationUnit is one PDB module (one object file's contribution):
// its procedures and combined line-number program.
type CompilationUnit struct {
	Name       string
	Procedures []Procedure
	Lines      []Line
}

// PDB is the symbol store attached to a Module once its CodeView debug
// link resolves to a file on disk.
type PDB interface {
	// PublicSymbols returns every S_PUB32 record in the global symbol
	// stream.
	PublicSymbols() []Public

	// CompilationUnits returns every DBI module's procedures and line
	// program.
	CompilationUnits() []CompilationUnit

	// Close releases the PDB file.
	Close() error
}
