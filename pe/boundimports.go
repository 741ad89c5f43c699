// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageBoundImportDescriptor is IMAGE_BOUND_IMPORT_DESCRIPTOR: a
// link-time-baked timestamp recording which exact copy of a dependency an
// import was bound against. A bound import whose timestamp no longer
// matches the loaded DLL forces the loader to rewrite the IAT itself. The
// mi command lists the bound module names only; it does not compare their
// timestamps against the loaded DLLs.
type ImageBoundImportDescriptor struct {
	TimeDateStamp               uint32
	OffsetModuleName            uint16
	NumberOfModuleForwarderRefs uint16
}

// BoundImportDescriptor pairs the raw descriptor with its resolved name.
type BoundImportDescriptor struct {
	Struct ImageBoundImportDescriptor
	Name   string
}

func (img *Image) parseBoundImportDirectory(rva, size uint32) error {
	descSize := uint32(binary.Size(ImageBoundImportDescriptor{}))

	for off := rva; off+descSize <= rva+size; {
		var desc ImageBoundImportDescriptor
		if err := img.structUnpack(&desc, off, descSize); err != nil {
			return err
		}
		if desc.TimeDateStamp == 0 && desc.OffsetModuleName == 0 {
			break
		}

		name := img.getStringAtRVA(rva+uint32(desc.OffsetModuleName), 256)
		img.BoundImports = append(img.BoundImports, BoundImportDescriptor{Struct: desc, Name: name})

		off += descSize + uint32(desc.NumberOfModuleForwarderRefs)*descSize
	}

	return nil
}
