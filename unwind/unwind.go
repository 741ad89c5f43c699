// Package unwind virtually executes x64 UNWIND_INFO to recover a caller's
// CONTEXT from a callee's, one frame at a time.
package unwind

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/shimmerdbg/wdbg/cpucontext"
	"github.com/shimmerdbg/wdbg/memoryio"
	"github.com/shimmerdbg/wdbg/moduleimage"
	"github.com/shimmerdbg/wdbg/pe"
)

// ErrChainedUnwindInfo is returned when a function's UNWIND_INFO chains to
// another RUNTIME_FUNCTION entry — out of scope.
var ErrChainedUnwindInfo = errors.New("unwind: chained unwind info not supported")

// ErrFrameRegister is returned when UNWIND_INFO selects a nonzero frame
// register/offset — out of scope.
var ErrFrameRegister = errors.New("unwind: nonzero frame register/offset not supported")

// ErrUnknownOp is returned when an UNWIND_CODE slot carries an opcode this
// package does not know how to apply.
var ErrUnknownOp = errors.New("unwind: unknown UNWIND_CODE opcode")

// Step produces the caller's ThreadContext from ctx, or reports that ctx
// is the outermost frame ("no further frame").
//
// If the module containing ctx.Rip has no exception directory, or no
// RUNTIME_FUNCTION entry covers ctx.Rip, the frame is treated as a leaf:
// the return address is popped straight off the stack.
func Step(proc *moduleimage.Process, mem memoryio.MemoryReader, ctx cpucontext.ThreadContext) (cpucontext.ThreadContext, bool, error) {
	mod := proc.ModuleContaining(ctx.Rip)
	if mod == nil || !mod.Image.HasException {
		return leafReturn(mem, ctx)
	}

	rva := uint32(ctx.Rip - mod.Base)
	fn, ok := mod.Image.RuntimeFunctionForRVA(rva)
	if !ok {
		return leafReturn(mem, ctx)
	}

	info, codes, err := mod.Image.UnwindInfoAt(fn.UnwindInfoAddress)
	if err != nil {
		return ctx, false, err
	}
	if info.Flags()&pe.UnwFlagChainInfo != 0 {
		return ctx, false, ErrChainedUnwindInfo
	}
	if info.FrameReg() != 0 || info.FrameOffset() != 0 {
		return ctx, false, ErrFrameRegister
	}

	ops, err := decodeOps(codes, info.CodeCount)
	if err != nil {
		return ctx, false, err
	}

	funcOffset := rva - fn.BeginAddress
	next := ctx
	for _, op := range ops {
		if uint32(op.codeOffset) > funcOffset {
			continue
		}
		if err := apply(mem, &next, op); err != nil {
			return ctx, false, err
		}
	}

	return leafReturn(mem, next)
}

func leafReturn(mem memoryio.MemoryReader, ctx cpucontext.ThreadContext) (cpucontext.ThreadContext, bool, error) {
	buf := mem.ReadBytes(ctx.Rsp, 8)
	if len(buf) < 8 {
		return ctx, false, nil
	}
	rip := binary.LittleEndian.Uint64(buf)
	if rip == 0 {
		return ctx, false, nil
	}
	next := ctx
	next.Rip = rip
	next.Rsp = ctx.Rsp + 8
	return next, true, nil
}

// op is one decoded UNWIND_CODE, with operand already resolved into a
// single uint64 where the raw slot needed more than the info nibble.
type op struct {
	codeOffset uint8
	kind       pe.UnwindOpType
	reg        cpucontext.GPR
	operand    uint64
}

// decodeOps walks the raw UNWIND_CODE array (2 bytes per slot, descending
// codeOffset order as stored) into the variable-width op list spec §4.4
// describes, consuming extra uint16 slots for ALLOC_LARGE/SAVE_NONVOL*.
func decodeOps(codes []byte, count uint8) ([]op, error) {
	var ops []op
	i := 0
	n := int(count)
	for i < n {
		if (i+1)*2 > len(codes) {
			return nil, fmt.Errorf("unwind: truncated UNWIND_CODE array at slot %d", i)
		}
		codeOffset := codes[i*2]
		unwindOp := codes[i*2+1]
		kind := pe.UnwindOpType(unwindOp & 0xf)
		info := unwindOp >> 4

		switch kind {
		case pe.UwOpPushNonvol:
			ops = append(ops, op{codeOffset: codeOffset, kind: kind, reg: cpucontext.GPR(info)})
			i++

		case pe.UwOpAllocSmall:
			ops = append(ops, op{codeOffset: codeOffset, kind: kind, operand: uint64(info)*8 + 8})
			i++

		case pe.UwOpAllocLarge:
			if info == 0 {
				if (i+2)*2 > len(codes) {
					return nil, errors.New("unwind: truncated ALLOC_LARGE operand")
				}
				size := uint64(binary.LittleEndian.Uint16(codes[(i+1)*2:])) * 8
				ops = append(ops, op{codeOffset: codeOffset, kind: kind, operand: size})
				i += 2
			} else {
				if (i+2)*2 > len(codes) {
					return nil, errors.New("unwind: truncated ALLOC_LARGE operand")
				}
				lo := uint64(binary.LittleEndian.Uint16(codes[(i+1)*2:]))
				hi := uint64(binary.LittleEndian.Uint16(codes[(i+2)*2:]))
				size := lo | (hi << 16)
				ops = append(ops, op{codeOffset: codeOffset, kind: kind, operand: size})
				i += 3
			}

		case pe.UwOpSetFPReg:
			ops = append(ops, op{codeOffset: codeOffset, kind: kind})
			i++

		case pe.UwOpSaveNonvol:
			if (i+2)*2 > len(codes) {
				return nil, errors.New("unwind: truncated SAVE_NONVOL operand")
			}
			offset := uint64(binary.LittleEndian.Uint16(codes[(i+1)*2:])) * 8
			ops = append(ops, op{codeOffset: codeOffset, kind: kind, reg: cpucontext.GPR(info), operand: offset})
			i += 2

		case pe.UwOpSaveNonvolFar:
			if (i+3)*2 > len(codes) {
				return nil, errors.New("unwind: truncated SAVE_NONVOL_FAR operand")
			}
			lo := uint64(binary.LittleEndian.Uint16(codes[(i+1)*2:]))
			hi := uint64(binary.LittleEndian.Uint16(codes[(i+2)*2:]))
			offset := lo | (hi << 16)
			ops = append(ops, op{codeOffset: codeOffset, kind: kind, reg: cpucontext.GPR(info), operand: offset})
			i += 3

		case pe.UwOpSaveXMM128:
			if (i+2)*2 > len(codes) {
				return nil, errors.New("unwind: truncated SAVE_XMM128 operand")
			}
			ops = append(ops, op{codeOffset: codeOffset, kind: kind})
			i += 2

		case pe.UwOpSaveXMM128Far:
			if (i+3)*2 > len(codes) {
				return nil, errors.New("unwind: truncated SAVE_XMM128_FAR operand")
			}
			ops = append(ops, op{codeOffset: codeOffset, kind: kind})
			i += 3

		case pe.UwOpPushMachFrame:
			ops = append(ops, op{codeOffset: codeOffset, kind: kind, operand: uint64(info)})
			i++

		default:
			return nil, fmt.Errorf("%w: %v", ErrUnknownOp, kind)
		}
	}
	return ops, nil
}

// apply performs the virtual effect of one already-executed op on ctx, per
// spec §4.4. XMM saves, SET_FPREG and PUSH_MACHFRAME are tracked in the op
// stream (so funcOffset gating sees them) but do not affect the GPR/Rsp
// state this unwinder reconstructs.
func apply(mem memoryio.MemoryReader, ctx *cpucontext.ThreadContext, o op) error {
	switch o.kind {
	case pe.UwOpAllocSmall, pe.UwOpAllocLarge:
		ctx.Rsp += o.operand

	case pe.UwOpPushNonvol:
		buf := mem.ReadBytes(ctx.Rsp, 8)
		if len(buf) < 8 {
			return fmt.Errorf("unwind: could not read pushed register at %#x", ctx.Rsp)
		}
		ctx.Set(o.reg, binary.LittleEndian.Uint64(buf))
		ctx.Rsp += 8

	case pe.UwOpSaveNonvol, pe.UwOpSaveNonvolFar:
		buf := mem.ReadBytes(ctx.Rsp+o.operand, 8)
		if len(buf) < 8 {
			return fmt.Errorf("unwind: could not read saved register at %#x", ctx.Rsp+o.operand)
		}
		ctx.Set(o.reg, binary.LittleEndian.Uint64(buf))

	case pe.UwOpSetFPReg, pe.UwOpSaveXMM128, pe.UwOpSaveXMM128Far, pe.UwOpPushMachFrame:
		// No effect on the GPR/Rsp state the unwinder tracks.

	default:
		return fmt.Errorf("%w: %v", ErrUnknownOp, o.kind)
	}
	return nil
}

// Frame is one printable stack-walk entry for the `k` REPL command.
type Frame struct {
	Rsp uint64
	Rip uint64
}

// Walk repeatedly calls Step starting from ctx until it reports no
// further frame, an error, or maxFrames is reached (a safety bound
// against a corrupted/cyclic stack).
func Walk(proc *moduleimage.Process, mem memoryio.MemoryReader, ctx cpucontext.ThreadContext, maxFrames int) ([]Frame, error) {
	frames := []Frame{{Rsp: ctx.Rsp, Rip: ctx.Rip}}
	cur := ctx
	for len(frames) < maxFrames {
		next, ok, err := Step(proc, mem, cur)
		if err != nil {
			return frames, err
		}
		if !ok {
			break
		}
		frames = append(frames, Frame{Rsp: next.Rsp, Rip: next.Rip})
		cur = next
	}
	return frames, nil
}
