// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

func TestExportLookups(t *testing.T) {
	exp := Export{
		Functions: []ExportFunction{
			{Ordinal: 1, FunctionRVA: 0x1000, Name: "Foo"},
			{Ordinal: 2, FunctionRVA: 0x1020, Name: "Bar"},
			{Ordinal: 3, FunctionRVA: 0x1030, Forwarder: "OTHER.Baz"},
		},
	}

	if fn, ok := exp.FunctionByName("Bar"); !ok || fn.FunctionRVA != 0x1020 {
		t.Fatalf("FunctionByName(Bar) = %+v, %v", fn, ok)
	}

	if _, ok := exp.FunctionByName("Missing"); ok {
		t.Fatal("FunctionByName(Missing) found an export that doesn't exist")
	}

	if fn, ok := exp.Nearest(0x1025); !ok || fn.Name != "Bar" {
		t.Fatalf("Nearest(0x1025) = %+v, %v, want Bar", fn, ok)
	}

	if fn, ok := exp.FunctionByRVA(0x1030); ok {
		t.Fatalf("FunctionByRVA found a forwarder entry: %+v", fn)
	}
}

func TestRuntimeFunctionForRVA(t *testing.T) {
	img := &Image{
		Exceptions: []ImageRuntimeFunctionEntry{
			{BeginAddress: 0x1000, EndAddress: 0x1010},
			{BeginAddress: 0x2000, EndAddress: 0x2050},
		},
	}

	fn, ok := img.RuntimeFunctionForRVA(0x2010)
	if !ok || fn.BeginAddress != 0x2000 {
		t.Fatalf("RuntimeFunctionForRVA(0x2010) = %+v, %v", fn, ok)
	}

	if _, ok := img.RuntimeFunctionForRVA(0x1500); ok {
		t.Fatal("RuntimeFunctionForRVA(0x1500) matched a gap between functions")
	}
}
