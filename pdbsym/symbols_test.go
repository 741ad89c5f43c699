package pdbsym

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildPubSymRecord(name string, offset uint32, segment uint16, isFunc bool) []byte {
	var flags uint32
	if isFunc {
		flags = pubFlagFunction
	}

	payload := bytes.NewBuffer(nil)
	binary.Write(payload, binary.LittleEndian, flags)
	binary.Write(payload, binary.LittleEndian, offset)
	binary.Write(payload, binary.LittleEndian, segment)
	payload.WriteString(name)
	payload.WriteByte(0)

	rec := bytes.NewBuffer(nil)
	length := uint16(2 + payload.Len())
	binary.Write(rec, binary.LittleEndian, length)
	binary.Write(rec, binary.LittleEndian, uint16(symPub32))
	rec.Write(payload.Bytes())

	// pad to 4-byte boundary
	for rec.Len()%4 != 0 {
		rec.WriteByte(0)
	}
	return rec.Bytes()
}

func TestParseSymbolStreamPublics(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.LittleEndian, uint32(4)) // CV_SIGNATURE_C13
	buf.Write(buildPubSymRecord("main", 0x1000, 1, true))
	buf.Write(buildPubSymRecord("g_counter", 0x2000, 2, false))

	publics, procs := parseSymbolStream(buf.Bytes())
	if len(procs) != 0 {
		t.Fatalf("len(procs) = %d, want 0", len(procs))
	}
	if len(publics) != 2 {
		t.Fatalf("len(publics) = %d, want 2", len(publics))
	}
	if publics[0].Name != "main" || !publics[0].IsFunction || publics[0].Offset != 0x1000 {
		t.Errorf("publics[0] = %+v", publics[0])
	}
	if publics[1].Name != "g_counter" || publics[1].IsFunction {
		t.Errorf("publics[1] = %+v", publics[1])
	}
}

func TestFileChecksumAndNamesResolution(t *testing.T) {
	namesBuf := []byte("foo.c\x00bar.c\x00")

	checksums := bytes.NewBuffer(nil)
	binary.Write(checksums, binary.LittleEndian, uint32(0)) // NameOffset -> "foo.c"
	checksums.WriteByte(0)                                  // ChecksumSize
	checksums.WriteByte(0)                                  // ChecksumKind
	checksums.WriteByte(0)
	checksums.WriteByte(0)

	parsed := parseFileChecksums(checksums.Bytes())
	nameOff, ok := parsed[0]
	if !ok || nameOff != 0 {
		t.Fatalf("parseFileChecksums = %v", parsed)
	}

	if got := stringAtOffset(namesBuf, nameOff); got != "foo.c" {
		t.Errorf("stringAtOffset = %q, want foo.c", got)
	}
}
