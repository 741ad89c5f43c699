// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"sort"
	"strings"
)

// ImageSectionHeader is IMAGE_SECTION_HEADER.
type ImageSectionHeader struct {
	Name                 [8]uint8
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

// Section is a parsed section header. Unlike a disk-backed PE parser, no
// section offset is adjusted for file alignment: Image.data is the image exactly as
// the loader mapped it (a MemoryReader read of SizeOfImage bytes starting
// at module base), so an RVA is already a direct index into that buffer.
type Section struct {
	Header ImageSectionHeader
}

// ParseSectionHeader parses the section table, which immediately follows
// the optional header.
func (img *Image) ParseSectionHeader() error {
	offset := img.DOSHeader.AddressOfNewEXEHeader + 4 +
		uint32(binary.Size(img.NtHeader.FileHeader)) +
		uint32(img.NtHeader.FileHeader.SizeOfOptionalHeader)

	secHeaderSize := uint32(binary.Size(ImageSectionHeader{}))
	n := img.NtHeader.FileHeader.NumberOfSections

	for i := uint16(0); i < n; i++ {
		var hdr ImageSectionHeader
		if err := img.structUnpack(&hdr, offset, secHeaderSize); err != nil {
			return err
		}
		img.Sections = append(img.Sections, Section{Header: hdr})
		offset += secHeaderSize
	}

	sort.Slice(img.Sections, func(i, j int) bool {
		return img.Sections[i].Header.VirtualAddress < img.Sections[j].Header.VirtualAddress
	})

	img.HasSections = true
	return nil
}

// String returns the section's NUL-trimmed 8-byte name.
func (s *Section) String() string {
	return strings.TrimRight(string(s.Header.Name[:]), "\x00")
}

// Contains reports whether rva falls within this section's mapped span.
func (s *Section) Contains(rva uint32) bool {
	size := s.Header.VirtualSize
	if size == 0 {
		size = s.Header.SizeOfRawData
	}
	return rva >= s.Header.VirtualAddress && rva < s.Header.VirtualAddress+size
}

// sectionByName returns the section named name, or nil.
func (img *Image) sectionByName(name string) *Section {
	for i := range img.Sections {
		if img.Sections[i].String() == name {
			return &img.Sections[i]
		}
	}
	return nil
}

// sectionContaining returns the section containing rva, or nil.
func (img *Image) sectionContaining(rva uint32) *Section {
	for i := range img.Sections {
		if img.Sections[i].Contains(rva) {
			return &img.Sections[i]
		}
	}
	return nil
}
