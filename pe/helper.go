// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
)

// GetData returns length bytes starting at rva. Because Image.data is a
// direct capture of the debuggee's mapped image (read through MemoryReader
// at module base, spec §4.2), an RVA is already a valid index into it —
// unlike a disk-backed PE parser there is no PointerToRawData/file-alignment
// translation to perform.
func (img *Image) GetData(rva, length uint32) ([]byte, error) {
	end := rva + length
	if end < rva || end > img.size {
		return nil, ErrOutOfBounds
	}
	return img.data[rva:end], nil
}

// getStringAtRVA returns the NUL-terminated ASCII string at rva, capped at
// maxLen bytes.
func (img *Image) getStringAtRVA(rva, maxLen uint32) string {
	if rva == 0 || rva >= img.size {
		return ""
	}
	end := rva + maxLen
	if end > img.size {
		end = img.size
	}
	return string(nulTerminated(img.data[rva:end]))
}

func nulTerminated(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// ReadUint64 reads a little-endian uint64 at offset.
func (img *Image) ReadUint64(offset uint32) (uint64, error) {
	if offset+8 > img.size || offset+8 < offset {
		return 0, ErrOutOfBounds
	}
	return binary.LittleEndian.Uint64(img.data[offset:]), nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (img *Image) ReadUint32(offset uint32) (uint32, error) {
	if offset+4 > img.size || offset+4 < offset {
		return 0, ErrOutOfBounds
	}
	return binary.LittleEndian.Uint32(img.data[offset:]), nil
}

// ReadUint16 reads a little-endian uint16 at offset.
func (img *Image) ReadUint16(offset uint32) (uint16, error) {
	if offset+2 > img.size || offset+2 < offset {
		return 0, ErrOutOfBounds
	}
	return binary.LittleEndian.Uint16(img.data[offset:]), nil
}

// ReadUint8 reads a single byte at offset.
func (img *Image) ReadUint8(offset uint32) (uint8, error) {
	if offset+1 > img.size {
		return 0, ErrOutOfBounds
	}
	return img.data[offset], nil
}

// ReadBytesAtOffset returns size bytes at offset.
func (img *Image) ReadBytesAtOffset(offset, size uint32) ([]byte, error) {
	end := offset + size
	if end < offset || end > img.size {
		return nil, ErrOutOfBounds
	}
	return img.data[offset:end], nil
}

// structUnpack decodes a little-endian fixed-size struct at offset. This is
// the one primitive every header parser (DOS/NT/section/debug/exception)
// goes through, matching the teacher's structUnpack in spirit.
func (img *Image) structUnpack(iface interface{}, offset, size uint32) error {
	end := offset + size
	if end < offset || end > img.size {
		return ErrOutOfBounds
	}
	return binary.Read(bytes.NewReader(img.data[offset:end]), binary.LittleEndian, iface)
}
