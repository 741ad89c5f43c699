package pdbsym

import (
	"bytes"
	"encoding/binary"
)

// Fixed stream indices every PDB reserves (LLVM's pdb format docs call
// these out explicitly; they are not looked up by name).
const (
	streamOldDirectory = 0
	streamPDB          = 1
	streamTPI          = 2
	streamDBI          = 3
)

// dbiHeader is the fixed-size prefix of the DBI stream.
type dbiHeader struct {
	VersionSignature        int32
	VersionHeader           uint32
	Age                     uint32
	GlobalStreamIndex       uint16
	BuildNumber             uint16
	PublicStreamIndex       uint16
	PdbDllVersion           uint16
	SymRecordStream         uint16
	PdbDllRbld              uint16
	ModInfoSize             int32
	SectionContributionSize int32
	SectionMapSize          int32
	SourceInfoSize          int32
	TypeServerMapSize       int32
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   int32
	ECSubstreamSize         int32
	Flags                   uint16
	Machine                 uint16
	Padding                 uint32
}

// moduleInfo is one variable-length Module Info record out of the DBI's
// module info substream. Only the fields the rest of this package needs
// are kept; the section-contribution entry preceding them is skipped.
type moduleInfo struct {
	Name            string
	SymStream       int16
	SymByteSize     uint32
	C11ByteSize     uint32
	C13ByteSize     uint32
}

const sectionContribEntrySize = 28 // Section(2)+pad(2)+Offset(4)+Size(4)+Characteristics(4)+ModuleIndex(2)+pad(2)+DataCrc(4)+RelocCrc(4)

func parseModuleInfoSubstream(data []byte) []moduleInfo {
	var modules []moduleInfo
	off := 0
	for off < len(data) {
		if off+4+sectionContribEntrySize+2+2+4+4+4+2+2+4+4+4 > len(data) {
			break
		}
		p := off
		p += 4 // Unused1
		p += sectionContribEntrySize
		p += 2 // Flags
		symStream := int16(binary.LittleEndian.Uint16(data[p:]))
		p += 2
		symByteSize := binary.LittleEndian.Uint32(data[p:])
		p += 4
		c11 := binary.LittleEndian.Uint32(data[p:])
		p += 4
		c13 := binary.LittleEndian.Uint32(data[p:])
		p += 4
		p += 2 // SourceFileCount
		p += 2 // Padding
		p += 4 // Unused2
		p += 4 // SourceFileNameIndex
		p += 4 // PdbFilePathNameIndex

		name, n := readCString(data[p:])
		p += n
		_, n = readCString(data[p:]) // ObjFileName, unused
		p += n

		// Records are padded to a 4-byte boundary.
		if rem := p % 4; rem != 0 {
			p += 4 - rem
		}

		modules = append(modules, moduleInfo{
			Name:        name,
			SymStream:   symStream,
			SymByteSize: symByteSize,
			C11ByteSize: c11,
			C13ByteSize: c13,
		})
		off = p
	}
	return modules
}

func readCString(b []byte) (string, int) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1
		}
	}
	return string(b), len(b)
}

func parseDBI(dbiStream []byte) (dbiHeader, []moduleInfo, error) {
	var hdr dbiHeader
	r := bytes.NewReader(dbiStream)
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, nil, err
	}

	headerSize := binary.Size(hdr)
	modInfoStart := headerSize
	modInfoEnd := modInfoStart + int(hdr.ModInfoSize)
	if modInfoEnd > len(dbiStream) {
		modInfoEnd = len(dbiStream)
	}

	modules := parseModuleInfoSubstream(dbiStream[modInfoStart:modInfoEnd])
	return hdr, modules, nil
}
