// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageGuardFlagType is one bit of the Control Flow Guard flags field in
// the load config directory.
type ImageGuardFlagType uint32

// The subset of IMAGE_GUARD_FLAG_* the mi command reports. The full table
// (Microsoft's winnt.h) also defines per-export-suppression and long-jump
// table flags that nothing here consumes; StringifyGuardFlags does not
// report those bits.
const (
	ImageGuardCFInstrumented            ImageGuardFlagType = 0x00000100
	ImageGuardCFWInstrumented           ImageGuardFlagType = 0x00000200
	ImageGuardCFFunctionTableSizeMask   ImageGuardFlagType = 0xF0000000
	ImageGuardRFInstrumented            ImageGuardFlagType = 0x00020000
	ImageGuardRFEnable                  ImageGuardFlagType = 0x00040000
	ImageGuardRFStrictMode              ImageGuardFlagType = 0x00080000
)

// ImageLoadConfigDirectory64 is the prefix of IMAGE_LOAD_CONFIG_DIRECTORY64
// that the debugger actually consumes: the security cookie, SEH handler
// table (pre-CFG images), and the CFG function/IAT tables. Microsoft has
// extended this struct repeatedly (CHPE metadata, dynamic value reloc
// table, enclave configuration, volatile metadata); none of those later
// extensions are needed to report a module's exploit-mitigation posture
// and are intentionally not modeled.
type ImageLoadConfigDirectory64 struct {
	Size                          uint32
	TimeDateStamp                 uint32
	MajorVersion                  uint16
	MinorVersion                  uint16
	GlobalFlagsClear              uint32
	GlobalFlagsSet                uint32
	CriticalSectionDefaultTimeout uint32
	DeCommitFreeBlockThreshold    uint64
	DeCommitTotalFreeThreshold    uint64
	LockPrefixTable               uint64
	MaximumAllocationSize         uint64
	VirtualMemoryThreshold        uint64
	ProcessAffinityMask           uint64
	ProcessHeapFlags              uint32
	CSDVersion                    uint16
	DependentLoadFlags            uint16
	EditList                      uint64
	SecurityCookie                uint64
	SEHandlerTable                uint64
	SEHandlerCount                uint64
	GuardCFCheckFunctionPointer   uint64
	GuardCFDispatchFunctionPointer uint64
	GuardCFFunctionTable          uint64
	GuardCFFunctionCount          uint64
	GuardFlags                    uint32
}

// LoadConfig is the subset of the load config directory surfaced to the
// user.
type LoadConfig struct {
	Struct         ImageLoadConfigDirectory64
	SEHandlers     []uint32
	CFGFunctions   []uint32
}

func (img *Image) parseLoadConfigDirectory(rva, size uint32) error {
	var lc ImageLoadConfigDirectory64
	// The read is capped at the data directory's Size entry; the
	// directory's own Size field is not consulted. A directory shorter
	// than ImageLoadConfigDirectory64 fails to decode and this returns
	// the error.
	hdrSize := uint32(binary.Size(lc))
	readSize := hdrSize
	if size < readSize {
		readSize = size
	}
	if err := img.structUnpack(&lc, rva, readSize); err != nil {
		return err
	}
	img.LoadConfig.Struct = lc

	imageBase := img.NtHeader.OptionalHeader.ImageBase

	if lc.SEHandlerTable != 0 && lc.SEHandlerCount > 0 && lc.SEHandlerCount < 1<<20 {
		tableRVA := uint32(lc.SEHandlerTable - imageBase)
		handlers := make([]uint32, 0, lc.SEHandlerCount)
		for i := uint64(0); i < lc.SEHandlerCount; i++ {
			h, err := img.ReadUint32(tableRVA + uint32(i)*4)
			if err != nil {
				break
			}
			handlers = append(handlers, h)
		}
		img.LoadConfig.SEHandlers = handlers
	}

	if lc.GuardCFFunctionTable != 0 && lc.GuardCFFunctionCount > 0 && lc.GuardCFFunctionCount < 1<<20 {
		stride := 4 + (lc.GuardFlags>>28)&0xf
		tableRVA := uint32(lc.GuardCFFunctionTable - imageBase)
		fns := make([]uint32, 0, lc.GuardCFFunctionCount)
		for i := uint64(0); i < lc.GuardCFFunctionCount; i++ {
			f, err := img.ReadUint32(tableRVA + uint32(i)*stride)
			if err != nil {
				break
			}
			fns = append(fns, f)
		}
		img.LoadConfig.CFGFunctions = fns
	}

	return nil
}

// StringifyGuardFlags renders the GuardFlags bitmask as a comma separated
// list of mitigation names for the mi command.
func StringifyGuardFlags(flags uint32) []string {
	var out []string
	if flags&uint32(ImageGuardCFInstrumented) != 0 {
		out = append(out, "CF_INSTRUMENTED")
	}
	if flags&uint32(ImageGuardCFWInstrumented) != 0 {
		out = append(out, "CFW_INSTRUMENTED")
	}
	if flags&uint32(ImageGuardRFInstrumented) != 0 {
		out = append(out, "RF_INSTRUMENTED")
	}
	if flags&uint32(ImageGuardRFEnable) != 0 {
		out = append(out, "RF_ENABLE")
	}
	if flags&uint32(ImageGuardRFStrictMode) != 0 {
		out = append(out, "RF_STRICT")
	}
	return out
}

// HasControlFlowGuard reports whether the load config directory marks this
// image as CFG-instrumented.
func (lc *LoadConfig) HasControlFlowGuard() bool {
	return lc.Struct.GuardFlags&uint32(ImageGuardCFInstrumented) != 0
}
