// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageBaseRelocation is the per-page IMAGE_BASE_RELOCATION header; it is
// followed by SizeOfBlock-8 bytes of packed 16-bit (type, offset) entries.
type ImageBaseRelocation struct {
	VirtualAddress uint32
	SizeOfBlock    uint32
}

// RelocationBlock is one decoded page of relocations. The debugger never
// rewrites addresses itself (the loader already relocated the live image
// before the debug event loop attaches), so only the count per page is
// kept — the mi command reports the number of blocks as its
// "relocation pages: N" line — not the individual fixups.
type RelocationBlock struct {
	PageRVA uint32
	Count   int
}

// Base relocation types; only the x64-relevant ones are named.
const (
	ImageRelBasedAbsolute = 0
	ImageRelBasedHigh     = 1
	ImageRelBasedLow      = 2
	ImageRelBasedHighLow  = 3
	ImageRelBasedDir64    = 10
)

func (img *Image) parseRelocDirectory(rva, size uint32) error {
	hdrSize := uint32(binary.Size(ImageBaseRelocation{}))
	end := rva + size

	for off := rva; off+hdrSize <= end; {
		var hdr ImageBaseRelocation
		if err := img.structUnpack(&hdr, off, hdrSize); err != nil {
			return err
		}
		if hdr.SizeOfBlock < hdrSize {
			break
		}

		entryCount := (hdr.SizeOfBlock - hdrSize) / 2
		img.Relocations = append(img.Relocations, RelocationBlock{
			PageRVA: hdr.VirtualAddress,
			Count:   int(entryCount),
		})

		off += hdr.SizeOfBlock
	}

	return nil
}
