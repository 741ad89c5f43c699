// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// Image is a parsed x86-64 PE image. Most instances are built by NewBytes
// over a buffer pulled from the debuggee's address space; Open is only
// used for the one-time preflight check against the on-disk target
// executable before CreateProcess (see cmd/wdbg).
type Image struct {
	DOSHeader    ImageDOSHeader
	NtHeader     ImageNtHeader
	Sections     []Section
	Export       Export
	Debugs       []DebugEntry
	Exceptions   []ImageRuntimeFunctionEntry
	exceptionDirRVA, exceptionDirSize uint32
	Imports      []Import
	TLS          TLSDirectory
	LoadConfig   LoadConfig
	BoundImports []BoundImportDescriptor
	Relocations  []RelocationBlock
	RichHeader   RichHeader
	Certificate  *CertificateInfo
	IAT          IATInfo
	GlobalPtr    uint32
	Anomalies    []string

	data []byte
	mm   mmap.MMap
	f    *os.File
	size uint32

	FileInfo
}

// NewBytes builds an Image over a buffer already in memory — the normal
// path, used by moduleimage.Load once MemoryReader has captured the
// debuggee's mapped image.
func NewBytes(data []byte) *Image {
	img := &Image{data: data, size: uint32(len(data))}
	return img
}

// Open memory-maps a PE file from the local filesystem with mmap-go. Used
// only for the preflight machine-type check on the target executable
// before launch; never used to read the live debuggee.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Image{data: m, mm: m, f: f, size: uint32(len(m))}, nil
}

// Close releases the mmap'd file, if Open was used.
func (img *Image) Close() error {
	if img.mm != nil {
		_ = img.mm.Unmap()
	}
	if img.f != nil {
		return img.f.Close()
	}
	return nil
}

// Parse performs the full header + data directory parse.
func (img *Image) Parse() error {
	if uint32(len(img.data)) < TinyPESize {
		return ErrInvalidPESize
	}
	if err := img.ParseDOSHeader(); err != nil {
		return err
	}
	if err := img.ParseNTHeader(); err != nil {
		return err
	}
	if err := img.ParseSectionHeader(); err != nil {
		return err
	}
	return img.ParseDataDirectories()
}

// ParseDataDirectories walks every populated data directory entry. A
// failure parsing one optional directory is recorded as an anomaly and
// does not abort the others (spec §4.2/§7: tolerant of optional features).
func (img *Image) ParseDataDirectories() error {
	parsers := map[ImageDirectoryEntry]func(va, size uint32) error{
		ImageDirectoryEntryExport:      img.parseExportDirectory,
		ImageDirectoryEntryDebug:       img.parseDebugDirectory,
		ImageDirectoryEntryException:   img.parseExceptionDirectory,
		ImageDirectoryEntryImport:      img.parseImportDirectory,
		ImageDirectoryEntryTLS:         img.parseTLSDirectory,
		ImageDirectoryEntryLoadConfig:  img.parseLoadConfigDirectory,
		ImageDirectoryEntryBoundImport: img.parseBoundImportDirectory,
		ImageDirectoryEntryBaseReloc:   img.parseRelocDirectory,
		ImageDirectoryEntryCertificate: img.parseCertificateDirectory,
		ImageDirectoryEntryIAT:         img.parseIATDirectory,
		ImageDirectoryEntryGlobalPtr:   img.parseGlobalPtrDirectory,
	}

	for entry := ImageDirectoryEntry(0); entry < ImageNumberOfDirectoryEntries; entry++ {
		dd := img.DataDirectoryEntry(entry)
		if dd.VirtualAddress == 0 {
			continue
		}
		parse, ok := parsers[entry]
		if !ok {
			continue
		}
		if err := parse(dd.VirtualAddress, dd.Size); err != nil {
			img.Anomalies = append(img.Anomalies,
				entry.String()+" directory: "+err.Error())
		}
	}

	img.parseRichHeader()
	return nil
}

// IsDLL reports whether the image's characteristics mark it a DLL.
func (img *Image) IsDLL() bool {
	return img.NtHeader.FileHeader.Characteristics&ImageFileDLL != 0
}

// ASLR reports whether the image opts into address space layout
// randomization (DYNAMIC_BASE).
func (img *Image) ASLR() bool {
	return img.NtHeader.OptionalHeader.DllCharacteristics&ImageDllCharacteristicsDynamicBase != 0
}

// ControlFlowGuard reports whether the image was built with CFG.
func (img *Image) ControlFlowGuard() bool {
	return img.NtHeader.OptionalHeader.DllCharacteristics&ImageDllCharacteristicsGuardCF != 0
}
