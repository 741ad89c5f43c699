package pdbsym

import "encoding/binary"

// CodeView symbol record kinds this package decodes. The full enumeration
// (winnt CVCONST.h) runs into the hundreds; everything else is skipped by
// record length without being understood.
const (
	symPub32  = 0x110E
	symGProc32 = 0x1110
	symLProc32 = 0x110F
)

// CV_PUBSYMFLAGS.fFunction.
const pubFlagFunction = 0x2

// parseSymbolStream walks a module (or global) symbol stream: a 4-byte
// signature followed by a sequence of {uint16 length, uint16 kind,
// payload} records, length counting kind+payload but not itself.
func parseSymbolStream(data []byte) (publics []Public, procs []Procedure) {
	if len(data) < 4 {
		return nil, nil
	}
	off := 4 // skip CV_SIGNATURE_C13

	for off+4 <= len(data) {
		length := int(binary.LittleEndian.Uint16(data[off:]))
		if length < 2 {
			break
		}
		recEnd := off + 2 + length
		if recEnd > len(data) {
			break
		}
		kind := binary.LittleEndian.Uint16(data[off+2:])
		payload := data[off+4 : recEnd]

		switch kind {
		case symPub32:
			if len(payload) >= 10 {
				flags := binary.LittleEndian.Uint32(payload[0:])
				offset := binary.LittleEndian.Uint32(payload[4:])
				segment := binary.LittleEndian.Uint16(payload[8:])
				name, _ := readCString(payload[10:])
				publics = append(publics, Public{
					Name:       name,
					Segment:    segment,
					Offset:     offset,
					IsFunction: flags&pubFlagFunction != 0,
				})
			}
		case symGProc32, symLProc32:
			if len(payload) >= 35 {
				offset := binary.LittleEndian.Uint32(payload[28:])
				segment := binary.LittleEndian.Uint16(payload[32:])
				name, _ := readCString(payload[35:])
				procs = append(procs, Procedure{Name: name, Segment: segment, Offset: offset})
			}
		}

		off = recEnd
		// Records are padded to a 4-byte boundary within the stream.
		if rem := off % 4; rem != 0 {
			off += 4 - rem
		}
	}

	return publics, procs
}

// DEBUG_S_* subsection types within the C13 line info substream.
const (
	debugSLines      = 0xF2
	debugSFileChksms = 0xF4
)

// lineBlockHeader precedes each block of line records for one
// contiguous code range.
type lineBlockHeader struct {
	Offset   uint32
	Segment  uint16
	Flags    uint16
	CodeSize uint32
}

// fileBlockHeader precedes the per-line entries for one source file
// within a lines subsection.
type fileBlockHeader struct {
	FileChecksumOffset uint32
	NumLines           uint32
	BlockSize          uint32
}

// lineEntry is one CV_Line: an offset (relative to the block's Offset)
// and a packed line-number/delta field.
type lineEntry struct {
	Offset     uint32
	LineNumber uint32 // low 24 bits: line start; bit 31: "is a statement"
}

// parseLineSubsections walks the C13 line-info substream (the part of a
// module's symbol stream immediately following its symbol records),
// yielding Line entries with the owning file's checksum-subsection byte
// offset in place of a resolved name — resolveLineFileNames fills that in
// afterward using the string table.
func parseLineSubsections(data []byte) []Line {
	var lines []Line
	off := 0
	for off+8 <= len(data) {
		subsecType := binary.LittleEndian.Uint32(data[off:])
		subsecLen := binary.LittleEndian.Uint32(data[off+4:])
		body := off + 8
		end := body + int(subsecLen)
		if end > len(data) {
			break
		}

		if subsecType == debugSLines {
			lines = append(lines, parseLinesSubsection(data[body:end])...)
		}

		off = end
		if rem := off % 4; rem != 0 {
			off += 4 - rem
		}
	}
	return lines
}

func parseLinesSubsection(data []byte) []Line {
	if len(data) < 12 {
		return nil
	}
	var hdr lineBlockHeader
	hdr.Offset = binary.LittleEndian.Uint32(data[0:])
	hdr.Segment = binary.LittleEndian.Uint16(data[4:])
	hdr.Flags = binary.LittleEndian.Uint16(data[6:])
	hdr.CodeSize = binary.LittleEndian.Uint32(data[8:])

	p := 12
	var lines []Line
	for p+12 <= len(data) {
		var fb fileBlockHeader
		fb.FileChecksumOffset = binary.LittleEndian.Uint32(data[p:])
		fb.NumLines = binary.LittleEndian.Uint32(data[p+4:])
		fb.BlockSize = binary.LittleEndian.Uint32(data[p+8:])
		entriesStart := p + 12
		entriesEnd := p + int(fb.BlockSize)
		if entriesEnd > len(data) || entriesEnd < entriesStart {
			break
		}

		n := int(fb.NumLines)
		for i := 0; i < n; i++ {
			eoff := entriesStart + i*8
			if eoff+8 > entriesEnd {
				break
			}
			lineOffset := binary.LittleEndian.Uint32(data[eoff:])
			packed := binary.LittleEndian.Uint32(data[eoff+4:])
			lineStart := packed & 0xFFFFFF

			lines = append(lines, Line{
				Segment:   hdr.Segment,
				Offset:    hdr.Offset + lineOffset,
				Length:    0,
				File:      fileRef(fb.FileChecksumOffset),
				LineStart: lineStart,
				LineEnd:   lineStart,
			})
		}

		p = entriesEnd
	}

	// Each line's coverage extends to the next line's offset (or the
	// block's end) within the same file block.
	for i := range lines {
		if i+1 < len(lines) && lines[i].File == lines[i+1].File {
			lines[i].Length = lines[i+1].Offset - lines[i].Offset
		} else {
			lines[i].Length = hdr.Offset + hdr.CodeSize - lines[i].Offset
		}
	}

	return lines
}

// fileRef encodes a checksum-subsection byte offset as an opaque string
// key; resolveLineFileNames replaces these with real paths once the checksum
// and string table subsections have both been read.
func fileRef(checksumOffset uint32) string {
	return "\x00fileref:" + itoa(checksumOffset)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
