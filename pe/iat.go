// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// IATInfo is the IMAGE_DIRECTORY_ENTRY_IAT directory: the RVA range of the
// combined import address table. The mi command prints this range;
// Contains is available for checking an RVA against it.
type IATInfo struct {
	RVA  uint32
	Size uint32
}

func (img *Image) parseIATDirectory(rva, size uint32) error {
	img.IAT = IATInfo{RVA: rva, Size: size}
	return nil
}

// Contains reports whether rva falls inside the IAT directory's range.
func (i IATInfo) Contains(rva uint32) bool {
	return i.Size > 0 && rva >= i.RVA && rva < i.RVA+i.Size
}
