package pdbsym

import "encoding/binary"

// parseFileChecksums decodes the DEBUG_S_FILECHKSMS subsection into a map
// from the subsection's own byte offset (what DEBUG_S_LINES file blocks
// reference) to the file's byte offset within the "/names" string table.
func parseFileChecksums(data []byte) map[uint32]uint32 {
	out := make(map[uint32]uint32)
	off := uint32(0)
	for int(off)+8 <= len(data) {
		nameOffset := binary.LittleEndian.Uint32(data[off:])
		checksumSize := data[off+4]
		entryLen := 8 + uint32(checksumSize)
		out[off] = nameOffset

		next := off + entryLen
		if rem := next % 4; rem != 0 {
			next += 4 - rem
		}
		if next <= off {
			break
		}
		off = next
	}
	return out
}

// parseNamesStream decodes the "/names" global string table: a small
// header followed by a flat buffer of NUL-terminated strings addressed by
// byte offset (the same offsets file checksum records use).
func parseNamesStream(data []byte) []byte {
	if len(data) < 12 {
		return nil
	}
	bufSize := binary.LittleEndian.Uint32(data[8:])
	end := 12 + int(bufSize)
	if end > len(data) {
		end = len(data)
	}
	return data[12:end]
}

func stringAtOffset(buf []byte, offset uint32) string {
	if int(offset) >= len(buf) {
		return ""
	}
	s, _ := readCString(buf[offset:])
	return s
}

// findNamesStreamIndex parses the PDB Info Stream's named-stream map
// (a serialized hash table from string to stream index) looking for
// "/names". Only a best-effort decode of the hash table's bucket layout
// is done: present/deleted bitmaps are read to know which of the
// Capacity slots hold a pair, skipping deleted slots, in ascending
// bucket order — which is how every PDB writer has produced this table
// in practice.
func findNamesStreamIndex(pdbInfoStream []byte) (uint32, bool) {
	if len(pdbInfoStream) < 24 {
		return 0, false
	}
	off := 0
	off += 4 // Version
	off += 4 // Signature
	off += 4 // Age
	off += 16 // GUID

	if off+4 > len(pdbInfoStream) {
		return 0, false
	}
	namesByteLen := binary.LittleEndian.Uint32(pdbInfoStream[off:])
	off += 4
	namesBuf := pdbInfoStream[off : off+int(namesByteLen)]
	off += int(namesByteLen)

	if off+8 > len(pdbInfoStream) {
		return 0, false
	}
	size := binary.LittleEndian.Uint32(pdbInfoStream[off:])
	off += 4
	capacity := binary.LittleEndian.Uint32(pdbInfoStream[off:])
	off += 4

	presentWords := (capacity + 31) / 32
	if off+int(presentWords)*4 > len(pdbInfoStream) {
		return 0, false
	}
	present := make([]uint32, presentWords)
	for i := range present {
		present[i] = binary.LittleEndian.Uint32(pdbInfoStream[off:])
		off += 4
	}

	if off+4 > len(pdbInfoStream) {
		return 0, false
	}
	deletedWords := binary.LittleEndian.Uint32(pdbInfoStream[off:])
	off += 4
	off += int(deletedWords) * 4

	read := uint32(0)
	for bucket := uint32(0); bucket < capacity && read < size; bucket++ {
		word := present[bucket/32]
		if word&(1<<(bucket%32)) == 0 {
			continue
		}
		if off+8 > len(pdbInfoStream) {
			break
		}
		keyOffset := binary.LittleEndian.Uint32(pdbInfoStream[off:])
		streamIdx := binary.LittleEndian.Uint32(pdbInfoStream[off+4:])
		off += 8
		read++

		name := stringAtOffset(namesBuf, keyOffset)
		if name == "/names" {
			return streamIdx, true
		}
	}

	return 0, false
}
