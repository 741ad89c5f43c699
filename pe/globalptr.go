// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// parseGlobalPtrDirectory decodes IMAGE_DIRECTORY_ENTRY_GLOBALPTR. On
// x86-64 this directory is vestigial (a leftover from IA64's gp-relative
// addressing); its VirtualAddress, when nonzero, is the RVA the OS loader
// would have stashed in a global pointer register, so there is nothing
// further to parse — the single value is all the directory carries.
func (img *Image) parseGlobalPtrDirectory(rva, size uint32) error {
	img.GlobalPtr = rva
	return nil
}
