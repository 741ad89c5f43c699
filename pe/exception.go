// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"sort"
)

// UnwindOpType is the UNWIND_CODE opcode (x64 ABI, table 2 of the
// Microsoft x64 exception handling documentation).
type UnwindOpType uint8

// Unwind opcodes the virtual unwinder (see unwind package) executes.
const (
	UwOpPushNonvol UnwindOpType = iota
	UwOpAllocLarge
	UwOpAllocSmall
	UwOpSetFPReg
	UwOpSaveNonvol
	UwOpSaveNonvolFar
	UwOpEpilog
	UwOpSpareCode
	UwOpSaveXMM128
	UwOpSaveXMM128Far
	UwOpPushMachFrame
)

func (op UnwindOpType) String() string {
	names := [...]string{
		"UWOP_PUSH_NONVOL", "UWOP_ALLOC_LARGE", "UWOP_ALLOC_SMALL",
		"UWOP_SET_FPREG", "UWOP_SAVE_NONVOL", "UWOP_SAVE_NONVOL_FAR",
		"UWOP_EPILOG", "UWOP_SPARE_CODE", "UWOP_SAVE_XMM128",
		"UWOP_SAVE_XMM128_FAR", "UWOP_PUSH_MACH_FRAME",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "UWOP_UNKNOWN"
}

// ImageRuntimeFunctionEntry is RUNTIME_FUNCTION: one entry of the exception
// directory, describing the prolog of a single function by RVA range plus
// a pointer to its UNWIND_INFO.
type ImageRuntimeFunctionEntry struct {
	BeginAddress uint32
	EndAddress   uint32
	UnwindInfoAddress uint32
}

// UnwindCode is one UNWIND_CODE slot: a prolog offset, packed opcode+info
// nibble, and zero or more extra uint16 operand slots (not modeled here;
// read directly by the unwind package from the raw UnwindInfo.Codes bytes).
type UnwindCode struct {
	CodeOffset uint8
	UnwindOp   uint8 // low nibble: UnwindOpType: high nibble: OpInfo
}

// Op returns the UNWIND_CODE opcode.
func (c UnwindCode) Op() UnwindOpType { return UnwindOpType(c.UnwindOp & 0xf) }

// OpInfo returns the UNWIND_CODE operand-info nibble.
func (c UnwindCode) OpInfo() uint8 { return c.UnwindOp >> 4 }

// UnwindInfo is UNWIND_INFO: the version/flags header, prolog size, frame
// register selection, and the raw UNWIND_CODE array. CodesRVA/CodeCount let
// the unwind package re-read the code array (including the 2-slot-wide
// large-alloc/far-save codes that don't fit this package's UnwindCode
// view) directly out of image memory.
type UnwindInfo struct {
	VersionFlags  uint8
	SizeOfProlog  uint8
	CountOfCodes  uint8
	FrameRegister uint8 // low nibble: register, high nibble: frame offset/16
	CodesRVA      uint32
	CodeCount     uint8
	ChainedRVA    uint32 // not filled in by UnwindInfoAt; chained info is not followed
}

// Unwind flags, the high nibble of VersionFlags.
const (
	UnwFlagNHandler  = 0x0
	UnwFlagEHandler  = 0x1
	UnwFlagUHandler  = 0x2
	UnwFlagChainInfo = 0x4
)

// Version returns the UNWIND_INFO version (low 3 bits of VersionFlags).
func (u UnwindInfo) Version() uint8 { return u.VersionFlags & 0x7 }

// Flags returns the UNWIND_INFO flags (high 5 bits of VersionFlags).
func (u UnwindInfo) Flags() uint8 { return u.VersionFlags >> 3 }

// FrameReg returns the chosen frame-pointer register number, or 0 if the
// function does not use a frame pointer (FrameRegister low nibble == 0).
func (u UnwindInfo) FrameReg() uint8 { return u.FrameRegister & 0xf }

// FrameOffset returns the frame pointer's offset from RSP at the point it
// is established, in bytes (UNWIND_INFO stores it in 16-byte units, so
// this is the stored value times 16).
func (u UnwindInfo) FrameOffset() uint8 { return (u.FrameRegister >> 4) * 16 }

func (img *Image) parseExceptionDirectory(rva, size uint32) error {
	img.exceptionDirRVA, img.exceptionDirSize = rva, size

	entrySize := uint32(binary.Size(ImageRuntimeFunctionEntry{}))
	count := size / entrySize

	funcs := make([]ImageRuntimeFunctionEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e ImageRuntimeFunctionEntry
		if err := img.structUnpack(&e, rva+i*entrySize, entrySize); err != nil {
			return err
		}
		if e.BeginAddress == 0 && e.EndAddress == 0 {
			break
		}
		funcs = append(funcs, e)
	}

	sort.Slice(funcs, func(i, j int) bool { return funcs[i].BeginAddress < funcs[j].BeginAddress })
	img.Exceptions = funcs
	img.HasException = true
	return nil
}

// RuntimeFunctionForRVA binary-searches the exception directory (sorted by
// BeginAddress during parseExceptionDirectory) for the entry whose
// [BeginAddress, EndAddress) range contains rva. Used by unwind.Step to
// locate a frame's prolog description from its return address.
func (img *Image) RuntimeFunctionForRVA(rva uint32) (ImageRuntimeFunctionEntry, bool) {
	fns := img.Exceptions
	i := sort.Search(len(fns), func(i int) bool { return fns[i].BeginAddress > rva })
	if i == 0 {
		return ImageRuntimeFunctionEntry{}, false
	}
	e := fns[i-1]
	if rva >= e.BeginAddress && rva < e.EndAddress {
		return e, true
	}
	return ImageRuntimeFunctionEntry{}, false
}

// UnwindInfoAt parses the UNWIND_INFO record at rva, along with its raw
// UNWIND_CODE array bytes (2 bytes per slot) so the unwind package can walk
// variable-width codes itself.
func (img *Image) UnwindInfoAt(rva uint32) (UnwindInfo, []byte, error) {
	versionFlags, err := img.ReadUint8(rva)
	if err != nil {
		return UnwindInfo{}, nil, err
	}
	sizeOfProlog, err := img.ReadUint8(rva + 1)
	if err != nil {
		return UnwindInfo{}, nil, err
	}
	countOfCodes, err := img.ReadUint8(rva + 2)
	if err != nil {
		return UnwindInfo{}, nil, err
	}
	frameReg, err := img.ReadUint8(rva + 3)
	if err != nil {
		return UnwindInfo{}, nil, err
	}

	info := UnwindInfo{
		VersionFlags:  versionFlags,
		SizeOfProlog:  sizeOfProlog,
		CountOfCodes:  countOfCodes,
		FrameRegister: frameReg,
		CodesRVA:      rva + 4,
		CodeCount:     countOfCodes,
	}

	codesLen := uint32(countOfCodes) * 2
	// Codes array is padded to a uint32 boundary.
	if countOfCodes%2 != 0 {
		codesLen += 2
	}
	codes, err := img.GetData(rva+4, codesLen)
	if err != nil {
		return info, nil, err
	}

	// UNW_FLAG_CHAININFO: a chained RUNTIME_FUNCTION entry follows the code
	// array in place of handler data. Not modeled beyond the flag itself —
	// no function in scope produces chained unwind info.

	return info, codes, nil
}
