// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageImportDescriptor is IMAGE_IMPORT_DESCRIPTOR.
type ImageImportDescriptor struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

// ImportFunction is one resolved IAT slot: a function imported by name (or
// ordinal) from a given DLL.
type ImportFunction struct {
	Name    string
	Ordinal uint16
	ByOrdinal bool
	ThunkRVA uint32
}

// Import is one DLL's import table: its name plus the functions pulled
// from it.
type Import struct {
	Name      string
	Functions []ImportFunction
}

const ordinalFlag64 = uint64(1) << 63

func (img *Image) parseImportDirectory(rva, size uint32) error {
	descSize := uint32(binary.Size(ImageImportDescriptor{}))

	for off := rva; ; off += descSize {
		var desc ImageImportDescriptor
		if err := img.structUnpack(&desc, off, descSize); err != nil {
			return err
		}
		if desc.Name == 0 && desc.FirstThunk == 0 {
			break
		}

		imp := Import{Name: img.getStringAtRVA(desc.Name, 256)}

		thunkRVA := desc.OriginalFirstThunk
		if thunkRVA == 0 {
			thunkRVA = desc.FirstThunk
		}

		for t := thunkRVA; ; t += 8 {
			entry, err := img.ReadUint64(t)
			if err != nil || entry == 0 {
				break
			}
			fn := ImportFunction{ThunkRVA: t}
			if entry&ordinalFlag64 != 0 {
				fn.ByOrdinal = true
				fn.Ordinal = uint16(entry)
			} else {
				hintNameRVA := uint32(entry)
				fn.Name = img.getStringAtRVA(hintNameRVA+2, 256)
			}
			imp.Functions = append(imp.Functions, fn)
		}

		img.Imports = append(img.Imports, imp)
	}

	return nil
}
