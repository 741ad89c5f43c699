// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"strings"
)

// ImageExportDirectory is IMAGE_EXPORT_DIRECTORY.
type ImageExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// ExportFunction is one resolved entry of the export table: either a named
// or ordinal-only function RVA, or a forwarder string pointing at another
// module's export (spec §4.2/§9 — forwarders are recorded but never
// followed into the target module).
type ExportFunction struct {
	Ordinal     uint32
	FunctionRVA uint32
	NameRVA     uint32
	Name        string
	Forwarder   string
	ForwarderRVA uint32
}

// Export is the parsed IMAGE_DIRECTORY_ENTRY_EXPORT directory.
type Export struct {
	Struct    ImageExportDirectory
	Functions []ExportFunction
}

// parseExportDirectory walks the export address/name/ordinal tables and
// builds the flat ExportFunction slice that symbolindex consumes for
// address<->name lookups.
func (img *Image) parseExportDirectory(rva, size uint32) error {
	var ed ImageExportDirectory
	structSize := uint32(binary.Size(ed))
	if err := img.structUnpack(&ed, rva, structSize); err != nil {
		return err
	}
	img.Export.Struct = ed

	exportStart, exportEnd := rva, rva+size

	functions := make([]ExportFunction, ed.NumberOfFunctions)
	for i := uint32(0); i < ed.NumberOfFunctions; i++ {
		fRVA, err := img.ReadUint32(ed.AddressOfFunctions + i*4)
		if err != nil {
			return err
		}
		functions[i] = ExportFunction{
			Ordinal:     ed.Base + i,
			FunctionRVA: fRVA,
		}
		if fRVA >= exportStart && fRVA < exportEnd {
			// A forwarder: FunctionRVA points at a "DLLName.ExportName"
			// string inside the export directory itself, rather than at
			// code.
			functions[i].Forwarder = img.getStringAtRVA(fRVA, 256)
			functions[i].ForwarderRVA = fRVA
		}
	}

	for i := uint32(0); i < ed.NumberOfNames; i++ {
		nameRVA, err := img.ReadUint32(ed.AddressOfNames + i*4)
		if err != nil {
			return err
		}
		ordIndex, err := img.ReadUint16(ed.AddressOfNameOrdinals + i*2)
		if err != nil {
			return err
		}
		if uint32(ordIndex) >= uint32(len(functions)) {
			continue
		}
		functions[ordIndex].NameRVA = nameRVA
		functions[ordIndex].Name = img.getStringAtRVA(nameRVA, 512)
	}

	img.Export.Functions = functions
	img.HasExport = true
	return nil
}

// FunctionByName returns the export whose name matches name exactly.
func (e *Export) FunctionByName(name string) (ExportFunction, bool) {
	for _, fn := range e.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return ExportFunction{}, false
}

// FunctionByRVA returns the export function whose FunctionRVA matches rva
// exactly; forwarder entries never match. symbolindex.AddressToName does
// its own nearest-export scan over the module's exports and does not call
// this.
func (e *Export) FunctionByRVA(rva uint32) (ExportFunction, bool) {
	for _, fn := range e.Functions {
		if fn.Forwarder == "" && fn.FunctionRVA == rva {
			return fn, true
		}
	}
	return ExportFunction{}, false
}

// Nearest returns the export function with the greatest FunctionRVA <=
// rva, for "symbol+offset" style resolution.
func (e *Export) Nearest(rva uint32) (ExportFunction, bool) {
	var best ExportFunction
	found := false
	for _, fn := range e.Functions {
		if fn.Forwarder != "" {
			continue
		}
		if fn.FunctionRVA <= rva && (!found || fn.FunctionRVA > best.FunctionRVA) {
			best = fn
			found = true
		}
	}
	return best, found
}

// ModuleName returns the export directory's own DLL name field.
func (e *Export) ModuleName(img *Image) string {
	return strings.TrimSpace(img.getStringAtRVA(e.Struct.Name, 260))
}
