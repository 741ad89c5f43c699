package disasm

import (
	"testing"

	"github.com/shimmerdbg/wdbg/memoryio"
)

func TestWindowDecodesSequentialInstructions(t *testing.T) {
	mem := memoryio.NewFakeReader()
	// nop; nop; ret
	mem.Map(0x140001000, []byte{0x90, 0x90, 0xc3})

	instrs := Window(mem, 0x140001000, 3, nil)
	if len(instrs) != 3 {
		t.Fatalf("len(instrs) = %d, want 3", len(instrs))
	}
	if instrs[0].Address != 0x140001000 || instrs[0].Length != 1 {
		t.Errorf("instrs[0] = %+v", instrs[0])
	}
	if instrs[2].Address != 0x140001002 {
		t.Errorf("instrs[2].Address = %#x, want %#x", instrs[2].Address, 0x140001002)
	}
}

func TestWindowStopsOnUnreadableMemory(t *testing.T) {
	mem := memoryio.NewFakeReader()
	mem.Map(0x1000, []byte{0x90})

	instrs := Window(mem, 0x1000, 5, nil)
	if len(instrs) != 1 {
		t.Fatalf("len(instrs) = %d, want 1", len(instrs))
	}
}

func TestEndAddressFollowsLastInstruction(t *testing.T) {
	mem := memoryio.NewFakeReader()
	mem.Map(0x1000, []byte{0x90, 0x90})

	instrs := Window(mem, 0x1000, 2, nil)
	if got := EndAddress(instrs); got != 0x1002 {
		t.Errorf("EndAddress() = %#x, want 0x1002", got)
	}
}

func TestEndAddressEmptyWindow(t *testing.T) {
	if got := EndAddress(nil); got != 0 {
		t.Errorf("EndAddress(nil) = %#x, want 0", got)
	}
}
