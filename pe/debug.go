// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// Debug directory entry types (IMAGE_DEBUG_TYPE_*). Only CodeView is
// interpreted; the rest are recorded but otherwise ignored.
const (
	ImageDebugTypeUnknown   = 0
	ImageDebugTypeCOFF      = 1
	ImageDebugTypeCodeView  = 2
	ImageDebugTypeFPO       = 3
	ImageDebugTypeMisc      = 4
	ImageDebugTypeException = 5
	ImageDebugTypeFixup     = 6
	ImageDebugTypeOMAPToSrc = 7
	ImageDebugTypeOMAPFromSrc = 8
	ImageDebugTypeBorland   = 9
	ImageDebugTypeReproducible = 16
)

// CodeView signatures distinguishing the PDB link record shape.
const (
	CVSignatureRSDS = 0x53445352 // "RSDS", PDB 7.0
	CVSignatureNB10 = 0x3031424e // "NB10", PDB 2.0
)

// ImageDebugDirectory is IMAGE_DEBUG_DIRECTORY.
type ImageDebugDirectory struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// CVHeader is the 4-byte signature common to every CodeView debug record.
type CVHeader struct {
	Signature uint32
}

// CVInfoPDB70 is the CV_INFO_PDB70 record (PDB 7.0, RSDS). GUID identifies
// the PDB that must be loaded to match this exact build; Age disambiguates
// successive incremental links against the same GUID.
type CVInfoPDB70 struct {
	CVHeader
	Signature [16]byte // GUID
	Age       uint32
	// PDBFileName follows as a NUL-terminated string, parsed separately.
}

// CVInfoPDB20 is the older CV_INFO_PDB20 record (PDB 2.0, NB10).
type CVInfoPDB20 struct {
	CVHeader
	Offset    uint32
	Signature uint32
	Age       uint32
}

// PdbLink is the resolved "where do I load symbols from" pointer: a PDB
// file name plus the GUID/age pair from the CodeView record. The GUID and
// age are recorded only; nothing compares them against the PDB that is
// opened at Path.
type PdbLink struct {
	Path string
	GUID [16]byte
	Age  uint32
}

// DebugEntry pairs a raw IMAGE_DEBUG_DIRECTORY entry with its decoded
// CodeView payload, when present.
type DebugEntry struct {
	Struct ImageDebugDirectory
	PDB    *PdbLink
}

func (img *Image) parseDebugDirectory(rva, size uint32) error {
	entrySize := uint32(binary.Size(ImageDebugDirectory{}))
	count := size / entrySize
	const maxDebugEntries = 20
	if count > maxDebugEntries {
		count = maxDebugEntries
	}

	for i := uint32(0); i < count; i++ {
		var dd ImageDebugDirectory
		if err := img.structUnpack(&dd, rva+i*entrySize, entrySize); err != nil {
			return err
		}
		entry := DebugEntry{Struct: dd}

		if dd.Type == ImageDebugTypeCodeView && dd.SizeOfData >= 4 {
			if pdb, ok := img.parseCodeView(dd.AddressOfRawData, dd.SizeOfData); ok {
				entry.PDB = pdb
			}
		}

		img.Debugs = append(img.Debugs, entry)
	}

	img.HasDebug = true
	return nil
}

func (img *Image) parseCodeView(rva, size uint32) (*PdbLink, bool) {
	sig, err := img.ReadUint32(rva)
	if err != nil {
		return nil, false
	}

	switch sig {
	case CVSignatureRSDS:
		hdrSize := uint32(binary.Size(CVInfoPDB70{}))
		var rec CVInfoPDB70
		if err := img.structUnpack(&rec, rva, hdrSize); err != nil {
			return nil, false
		}
		name := img.getStringAtRVA(rva+hdrSize, size-hdrSize)
		return &PdbLink{Path: name, GUID: rec.Signature, Age: rec.Age}, true

	case CVSignatureNB10:
		hdrSize := uint32(binary.Size(CVInfoPDB20{}))
		var rec CVInfoPDB20
		if err := img.structUnpack(&rec, rva, hdrSize); err != nil {
			return nil, false
		}
		name := img.getStringAtRVA(rva+hdrSize, size-hdrSize)
		var guid [16]byte
		binary.LittleEndian.PutUint32(guid[0:4], rec.Signature)
		return &PdbLink{Path: name, GUID: guid, Age: rec.Age}, true
	}

	return nil, false
}

// PDBLink returns the first CodeView PDB link found, if any.
func (img *Image) PDBLink() (PdbLink, bool) {
	for _, d := range img.Debugs {
		if d.PDB != nil {
			return *d.PDB, true
		}
	}
	return PdbLink{}, false
}
