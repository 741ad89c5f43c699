// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageTLSDirectory64 is IMAGE_TLS_DIRECTORY64.
type ImageTLSDirectory64 struct {
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	AddressOfIndex        uint64
	AddressOfCallBacks    uint64
	SizeOfZeroFill        uint32
	Characteristics       uint32
}

// TLSDirectory is the parsed thread-local-storage directory. Callbacks are
// VAs (not RVAs) the loader invokes before DllMain/the entry point;
// debugloop surfaces them in the mi command since a breakpoint set on the
// entry point alone would otherwise miss them running first.
type TLSDirectory struct {
	Struct    ImageTLSDirectory64
	Callbacks []uint64
}

func (img *Image) parseTLSDirectory(rva, size uint32) error {
	structSize := uint32(binary.Size(ImageTLSDirectory64{}))
	var t ImageTLSDirectory64
	if err := img.structUnpack(&t, rva, structSize); err != nil {
		return err
	}
	img.TLS.Struct = t

	if t.AddressOfCallBacks == 0 {
		return nil
	}
	imageBase := img.NtHeader.OptionalHeader.ImageBase
	cbRVA := uint32(t.AddressOfCallBacks - imageBase)

	for off := cbRVA; ; off += 8 {
		cb, err := img.ReadUint64(off)
		if err != nil || cb == 0 {
			break
		}
		img.TLS.Callbacks = append(img.TLS.Callbacks, cb)
	}
	return nil
}
