// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalImage assembles a synthetic PE32+ image buffer with a DOS
// header, NT headers (x64) and a single .text section, with no data
// directories populated. It mirrors the shape of a real loaded image
// closely enough to exercise ParseDOSHeader/ParseNTHeader/ParseSectionHeader
// without needing a sample binary on disk.
func buildMinimalImage(t *testing.T) []byte {
	t.Helper()

	const lfanew = 0x80
	buf := make([]byte, 0x400)

	binary.LittleEndian.PutUint16(buf[0:], ImageDOSSignature)
	binary.LittleEndian.PutUint32(buf[0x3c:], lfanew)

	w := bytes.NewBuffer(nil)
	binary.Write(w, binary.LittleEndian, uint32(ImageNTSignature))

	fh := ImageFileHeader{
		Machine:              ImageFileMachineAMD64,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(ImageOptionalHeader64{})),
		Characteristics:      ImageFileExecutableImage,
	}
	binary.Write(w, binary.LittleEndian, fh)

	oh := ImageOptionalHeader64{
		Magic:               ImageNtOptionalHeader64Magic,
		AddressOfEntryPoint: 0x1000,
		ImageBase:           0x140000000,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		SizeOfImage:         0x3000,
		SizeOfHeaders:       0x400,
		NumberOfRvaAndSizes: 16,
	}
	binary.Write(w, binary.LittleEndian, oh)

	sec := ImageSectionHeader{
		VirtualSize:      0x200,
		VirtualAddress:   0x1000,
		SizeOfRawData:    0x200,
		PointerToRawData: 0x400,
		Characteristics:  0x60000020,
	}
	copy(sec.Name[:], ".text")
	binary.Write(w, binary.LittleEndian, sec)

	copy(buf[lfanew:], w.Bytes())
	return buf
}

func TestParseMinimalImage(t *testing.T) {
	data := buildMinimalImage(t)
	img := NewBytes(data)

	if err := img.Parse(); err != nil {
		t.Fatalf("Parse() returned error: %v", err)
	}

	if img.DOSHeader.Magic != ImageDOSSignature {
		t.Errorf("DOS magic = %x, want %x", img.DOSHeader.Magic, ImageDOSSignature)
	}
	if img.NtHeader.FileHeader.Machine != ImageFileMachineAMD64 {
		t.Errorf("Machine = %x, want AMD64", img.NtHeader.FileHeader.Machine)
	}
	if !img.Is64 {
		t.Error("Is64 = false, want true")
	}
	if len(img.Sections) != 1 {
		t.Fatalf("len(Sections) = %d, want 1", len(img.Sections))
	}
	if got := img.Sections[0].String(); got != ".text" {
		t.Errorf("section name = %q, want \".text\"", got)
	}
	if !img.Sections[0].Contains(0x1050) {
		t.Error("Contains(0x1050) = false, want true")
	}
}

func TestParseRejectsUnsupportedMachine(t *testing.T) {
	data := buildMinimalImage(t)
	// Flip the machine field to I386 a few bytes into the file header.
	lfanewOff := uint32(0x3c)
	lfanew := binary.LittleEndian.Uint32(data[lfanewOff:])
	machineOff := lfanew + 4
	binary.LittleEndian.PutUint16(data[machineOff:], ImageFileMachineI386)

	img := NewBytes(data)
	err := img.Parse()
	if err != ErrUnsupportedMachine {
		t.Fatalf("Parse() error = %v, want ErrUnsupportedMachine", err)
	}
}

func TestParseRejectsTruncatedBuffer(t *testing.T) {
	img := NewBytes(make([]byte, 10))
	if err := img.Parse(); err != ErrInvalidPESize {
		t.Fatalf("Parse() error = %v, want ErrInvalidPESize", err)
	}
}

func TestDataDirectoryEntryOutOfRange(t *testing.T) {
	img := NewBytes(buildMinimalImage(t))
	if err := img.Parse(); err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	dd := img.DataDirectoryEntry(ImageDirectoryEntry(999))
	if dd.VirtualAddress != 0 || dd.Size != 0 {
		t.Errorf("out-of-range DataDirectoryEntry = %+v, want zero value", dd)
	}
}
