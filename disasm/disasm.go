// Package disasm wraps golang.org/x/arch/x86/x86asm for the REPL's `u`
// command: decode a window of bytes starting at an address into a fixed
// count of printable instructions.
package disasm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/shimmerdbg/wdbg/memoryio"
)

// Mode64 is the processor mode every decode in this debugger uses: the
// target is x86-64 only (spec §1).
const Mode64 = 64

// Instruction is one decoded instruction, ready for display.
type Instruction struct {
	Address uint64
	Length  int
	Text    string
}

// SymResolver looks up the symbol (if any) containing addr, for
// PC-relative operands (call/jmp targets) in the decoded text. It mirrors
// the x86asm.GoSyntax symname callback.
type SymResolver func(addr uint64) (name string, base uint64)

// Window decodes up to count instructions starting at addr, reading bytes
// on demand via mem. Decoding stops early only when no byte at all can be
// read at the current address; the returned slice may have fewer than
// count entries in that case. A byte sequence that fails to decode yields
// a one-byte "(bad)" entry and decoding continues at the next byte.
func Window(mem memoryio.MemoryReader, addr uint64, count int, resolve SymResolver) []Instruction {
	const maxInstrLen = 15

	out := make([]Instruction, 0, count)
	pc := addr
	for i := 0; i < count; i++ {
		buf := mem.ReadBytes(pc, maxInstrLen)
		if len(buf) == 0 {
			break
		}

		inst, err := x86asm.Decode(buf, Mode64)
		if err != nil || inst.Len == 0 {
			out = append(out, Instruction{Address: pc, Length: 1, Text: "(bad)"})
			pc++
			continue
		}

		symname := func(uint64) (string, uint64) { return "", 0 }
		if resolve != nil {
			symname = resolve
		}
		text := x86asm.GoSyntax(inst, pc, symname)

		out = append(out, Instruction{Address: pc, Length: inst.Len, Text: text})
		pc += uint64(inst.Len)
	}
	return out
}

// Format renders an instruction window the way the `u` command prints it:
// one "ADDRESS  TEXT" line per entry.
func Format(instrs []Instruction) string {
	s := ""
	for _, in := range instrs {
		s += fmt.Sprintf("%016x  %s\n", in.Address, in.Text)
	}
	return s
}

// EndAddress returns the address immediately following the last decoded
// instruction, so a bare `u` can resume disassembly from there.
func EndAddress(instrs []Instruction) uint64 {
	if len(instrs) == 0 {
		return 0
	}
	last := instrs[len(instrs)-1]
	return last.Address + uint64(last.Length)
}
