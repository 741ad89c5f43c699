package symbolindex

import (
	"testing"

	"github.com/shimmerdbg/wdbg/moduleimage"
)

func newExportModule() *moduleimage.Module {
	return &moduleimage.Module{
		Name: "hello.exe",
		Base: 0x140000000,
		Size: 0x5000,
		Exports: []moduleimage.Export{
			{Name: "DoThing", BiasedOrdinal: 1, Target: moduleimage.ExportTarget{RVA: 0x1000}},
			{Name: "DoOtherThing", BiasedOrdinal: 2, Target: moduleimage.ExportTarget{RVA: 0x2000}},
			{Name: "Forwarded", BiasedOrdinal: 3, Target: moduleimage.ExportTarget{Forwarder: "OTHER.dll.Real"}},
		},
	}
}

func TestAddressToNameExactAndOffset(t *testing.T) {
	proc := moduleimage.NewProcess()
	mod := newExportModule()
	proc.AddModule(mod)

	got, err := AddressToName(proc, mod.Base+0x1000)
	if err != nil {
		t.Fatalf("AddressToName exact: %v", err)
	}
	if got != "hello.exe!DoThing" {
		t.Errorf("got %q, want hello.exe!DoThing", got)
	}

	got, err = AddressToName(proc, mod.Base+0x1010)
	if err != nil {
		t.Fatalf("AddressToName offset: %v", err)
	}
	if got != "hello.exe!DoThing+0x10" {
		t.Errorf("got %q, want hello.exe!DoThing+0x10", got)
	}
}

func TestAddressToNameSkipsForwarders(t *testing.T) {
	proc := moduleimage.NewProcess()
	mod := newExportModule()
	proc.AddModule(mod)

	got, err := AddressToName(proc, mod.Base+0x2500)
	if err != nil {
		t.Fatalf("AddressToName: %v", err)
	}
	if got != "hello.exe!DoOtherThing+0x500" {
		t.Errorf("got %q, want hello.exe!DoOtherThing+0x500", got)
	}
}

func TestAddressToNameNoContainingModule(t *testing.T) {
	proc := moduleimage.NewProcess()
	if _, err := AddressToName(proc, 0x99999); err != ErrNoContainingModule {
		t.Errorf("err = %v, want ErrNoContainingModule", err)
	}
}

func TestNameToAddressRequiresQualification(t *testing.T) {
	proc := moduleimage.NewProcess()
	if _, err := NameToAddress(proc, "DoThing"); err != ErrUnqualifiedName {
		t.Errorf("err = %v, want ErrUnqualifiedName", err)
	}
}

func TestNameToAddressExport(t *testing.T) {
	proc := moduleimage.NewProcess()
	mod := newExportModule()
	proc.AddModule(mod)

	addr, err := NameToAddress(proc, "hello.exe!DoOtherThing")
	if err != nil {
		t.Fatalf("NameToAddress: %v", err)
	}
	if addr != mod.Base+0x2000 {
		t.Errorf("addr = %#x, want %#x", addr, mod.Base+0x2000)
	}
}

func TestNameToAddressUnknownModule(t *testing.T) {
	proc := moduleimage.NewProcess()
	proc.AddModule(newExportModule())
	if _, err := NameToAddress(proc, "nope.dll!Thing"); err == nil {
		t.Error("expected error for unknown module")
	}
}

func TestAddressToLineWithoutPdb(t *testing.T) {
	proc := moduleimage.NewProcess()
	proc.AddModule(newExportModule())
	if _, err := AddressToLine(proc, 0x140001000); err == nil {
		t.Error("expected error when module has no PDB")
	}
}
