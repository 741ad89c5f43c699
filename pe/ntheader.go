// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageNtHeader is IMAGE_NT_HEADERS64: the PE signature, COFF file header,
// and 64-bit optional header. The debugger never parses a PE32 (non-PE32+)
// image; ParseNTHeader rejects anything else as ErrUnsupportedMachine,
// matching spec §3's "machine type must be x86-64 (else module is
// rejected with an error)".
type ImageNtHeader struct {
	Signature      uint32
	FileHeader     ImageFileHeader
	OptionalHeader ImageOptionalHeader64
}

// ImageFileHeader is IMAGE_FILE_HEADER.
type ImageFileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// DataDirectory is one IMAGE_DATA_DIRECTORY entry: an RVA/size pair.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// ImageOptionalHeader64 is IMAGE_OPTIONAL_HEADER64 (the PE32+ shape).
type ImageOptionalHeader64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [16]DataDirectory
}

// ParseNTHeader reads IMAGE_NT_HEADERS64 at DOSHeader.AddressOfNewEXEHeader.
// Per spec §3/§4.2 a module whose machine field is not x86-64 is rejected
// with ErrUnsupportedMachine; the module simply never gets constructed
// (it does not participate in address-range lookup at all).
func (img *Image) ParseNTHeader() error {
	ntOffset := img.DOSHeader.AddressOfNewEXEHeader

	signature, err := img.ReadUint32(ntOffset)
	if err != nil {
		return ErrInvalidNTHeaderOffset
	}
	if signature != ImageNTSignature {
		return ErrInvalidNTHeaderSignature
	}
	img.NtHeader.Signature = signature

	fileHeaderSize := uint32(binary.Size(img.NtHeader.FileHeader))
	fileHeaderOffset := ntOffset + 4
	if err := img.structUnpack(&img.NtHeader.FileHeader, fileHeaderOffset, fileHeaderSize); err != nil {
		return err
	}

	if img.NtHeader.FileHeader.Machine != ImageFileMachineAMD64 {
		return ErrUnsupportedMachine
	}

	optOffset := fileHeaderOffset + fileHeaderSize
	magic, err := img.ReadUint16(optOffset)
	if err != nil {
		return err
	}
	if magic != ImageNtOptionalHeader64Magic {
		return ErrUnsupportedMachine
	}

	ohSize := uint32(binary.Size(img.NtHeader.OptionalHeader))
	if err := img.structUnpack(&img.NtHeader.OptionalHeader, optOffset, ohSize); err != nil {
		return err
	}

	img.Is64 = true
	img.HasNTHdr = true
	return nil
}

// DataDirectoryEntry returns the (VirtualAddress, Size) pair for entry, or
// the zero directory if out of range. Used by ParseDataDirectories (file.go)
// to fetch each directory's bounds before handing them to its parser.
func (img *Image) DataDirectoryEntry(entry ImageDirectoryEntry) DataDirectory {
	if int(entry) >= len(img.NtHeader.OptionalHeader.DataDirectory) {
		return DataDirectory{}
	}
	return img.NtHeader.OptionalHeader.DataDirectory[entry]
}
