package pdbsym

import "strings"

// Reader is the package's sole PDB implementation: it opens an MSF
// container, reads the DBI module list, and decodes the public symbol
// stream plus every module's procedures and line program.
type Reader struct {
	m         *msf
	publics   []Public
	units     []CompilationUnit
}

// Open parses path as a PDB file. Errors here are always non-fatal to the
// owning Module (spec §4.2: "no PDB" is a tolerated condition, not an
// aborted parse) — callers should log and proceed without symbols.
func Open(path string) (*Reader, error) {
	m, err := openMSF(path)
	if err != nil {
		return nil, err
	}

	hdr, modules, err := parseDBI(m.stream(streamDBI))
	if err != nil {
		m.Close()
		return nil, err
	}

	namesBuf := resolveNamesBuffer(m)

	r := &Reader{m: m}

	if pubStream := m.stream(uint32(hdr.PublicStreamIndex)); pubStream != nil {
		publics, _ := parseSymbolStream(pubStream)
		r.publics = publics
	}
	if r.publics == nil {
		if symStream := m.stream(uint32(hdr.SymRecordStream)); symStream != nil {
			publics, _ := parseSymbolStream(symStream)
			r.publics = publics
		}
	}

	for _, mod := range modules {
		if mod.SymStream < 0 {
			continue
		}
		data := m.stream(uint32(mod.SymStream))
		if data == nil {
			continue
		}

		symEnd := int(mod.SymByteSize)
		if symEnd > len(data) {
			symEnd = len(data)
		}
		_, procs := parseSymbolStream(data[:symEnd])

		c13Start := symEnd
		c13End := c13Start + int(mod.C13ByteSize)
		if c13End > len(data) {
			c13End = len(data)
		}

		var lines []Line
		if c13End > c13Start {
			lines = parseLineSubsections(data[c13Start:c13End])
			checksums := parseFileChecksumsFromSubsections(data[c13Start:c13End])
			resolveLineFileNames(lines, checksums, namesBuf)
		}

		r.units = append(r.units, CompilationUnit{
			Name:       mod.Name,
			Procedures: procs,
			Lines:      lines,
		})
	}

	return r, nil
}

func resolveNamesBuffer(m *msf) []byte {
	idx, ok := findNamesStreamIndex(m.stream(streamPDB))
	if !ok {
		return nil
	}
	return parseNamesStream(m.stream(idx))
}

func parseFileChecksumsFromSubsections(data []byte) map[uint32]uint32 {
	out := make(map[uint32]uint32)
	off := 0
	for off+8 <= len(data) {
		subsecType := uint32FromLE(data[off:])
		subsecLen := uint32FromLE(data[off+4:])
		body := off + 8
		end := body + int(subsecLen)
		if end > len(data) {
			break
		}
		if subsecType == debugSFileChksms {
			for k, v := range parseFileChecksums(data[body:end]) {
				out[k] = v
			}
		}
		off = end
		if rem := off % 4; rem != 0 {
			off += 4 - rem
		}
	}
	return out
}

func uint32FromLE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// resolveLineFileNames replaces the placeholder fileRef() keys
// parseLinesSubsection produced with real source paths, now that both the
// checksum subsection and the names buffer have been read.
func resolveLineFileNames(lines []Line, checksums map[uint32]uint32, namesBuf []byte) {
	for i := range lines {
		if !strings.HasPrefix(lines[i].File, "\x00fileref:") {
			continue
		}
		chkOff := parseFileRefOffset(lines[i].File)
		nameOff, ok := checksums[chkOff]
		if !ok {
			lines[i].File = ""
			continue
		}
		lines[i].File = stringAtOffset(namesBuf, nameOff)
	}
}

func parseFileRefOffset(s string) uint32 {
	s = strings.TrimPrefix(s, "\x00fileref:")
	var v uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		v = v*10 + uint32(c-'0')
	}
	return v
}

// PublicSymbols implements PDB.
func (r *Reader) PublicSymbols() []Public { return r.publics }

// CompilationUnits implements PDB.
func (r *Reader) CompilationUnits() []CompilationUnit { return r.units }

// Close implements PDB.
func (r *Reader) Close() error { return r.m.Close() }
