// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageDOSHeader is the MS-DOS stub every PE image begins with. The only
// field the debugger cares about is AddressOfNewEXEHeader (e_lfanew), the
// offset to the real NT headers.
type ImageDOSHeader struct {
	Magic                 uint16
	BytesOnLastPageOfFile uint16
	PagesInFile           uint16
	Relocations           uint16
	SizeOfHeader          uint16
	MinExtraParagraphsNeeded uint16
	MaxExtraParagraphsNeeded uint16
	InitialSS             uint16
	InitialSP             uint16
	Checksum              uint16
	InitialIP             uint16
	InitialCS             uint16
	AddressOfRelocationTable uint16
	OverlayNumber         uint16
	ReservedWords1        [4]uint16
	OEMIdentifier         uint16
	OEMInformation        uint16
	ReservedWords2        [10]uint16
	AddressOfNewEXEHeader uint32
}

// ParseDOSHeader reads the DOS stub at image base and validates e_lfanew.
func (img *Image) ParseDOSHeader() error {
	size := uint32(binary.Size(img.DOSHeader))
	if err := img.structUnpack(&img.DOSHeader, 0, size); err != nil {
		return err
	}

	if img.DOSHeader.Magic != ImageDOSSignature {
		return ErrInvalidDOSSignature
	}

	// e_lfanew can't be null (the NT signature would overlap the DOS
	// header) and can't run past the end of what we read.
	if img.DOSHeader.AddressOfNewEXEHeader < 4 ||
		img.DOSHeader.AddressOfNewEXEHeader > img.size {
		return ErrInvalidNTHeaderOffset
	}

	img.HasDOSHdr = true
	return nil
}
