package codeman

import (
	"encoding/binary"
)

// The compact unwind codec. The code generator describes how to unwind one
// frame of a method as a short little-endian op sequence: zero or more
// register restores followed by exactly one frame op. The decoder walks the
// buffer once per unwind; there is no backward control flow.

type unwindOp uint8

const (
	opInvalid unwindOp = iota
	// opRestoreReg restores one callee-saved register from a frame slot:
	// reg uint8, fpOffset int32 (offset from the frame pointer).
	opRestoreReg
	// opFrameChain pops a frame-pointer-chained frame: the slot at FP
	// holds the caller's frame pointer and the slot above it the return
	// address.
	opFrameChain
	// opFrameless pops a fixed-size frame that keeps no frame pointer:
	// frameSize uint32, including the pushed return address.
	opFrameless
)

// Program is an encoded unwind program.
type Program []byte

// RestoreReg appends a register restore.
func (p Program) RestoreReg(reg uint8, fpOffset int32) Program {
	p = append(p, byte(opRestoreReg), reg)
	p = binary.LittleEndian.AppendUint32(p, uint32(fpOffset))
	return p
}

// FrameChain appends the frame-pointer-chain pop. It terminates the
// program.
func (p Program) FrameChain() Program {
	return append(p, byte(opFrameChain))
}

// Frameless appends a fixed-size frame pop. It terminates the program.
func (p Program) Frameless(frameSize uint32) Program {
	p = append(p, byte(opFrameless))
	return binary.LittleEndian.AppendUint32(p, frameSize)
}

type opDecoder struct {
	pc  int
	buf []byte
}

func makeOpDecoder(buf []byte) opDecoder {
	return opDecoder{buf: buf}
}

func (d *opDecoder) popOp() unwindOp {
	if d.pc >= len(d.buf) {
		return opInvalid
	}
	op := unwindOp(d.buf[d.pc])
	d.pc++
	return op
}

type opRestoreRegArgs struct {
	Reg      uint8
	FPOffset int32
}

func (d *opDecoder) decodeRestoreReg() (opRestoreRegArgs, bool) {
	if d.pc+5 > len(d.buf) {
		return opRestoreRegArgs{}, false
	}
	args := opRestoreRegArgs{
		Reg:      d.buf[d.pc],
		FPOffset: int32(binary.LittleEndian.Uint32(d.buf[d.pc+1:])),
	}
	d.pc += 5
	return args, true
}

type opFramelessArgs struct {
	FrameSize uint32
}

func (d *opDecoder) decodeFrameless() (opFramelessArgs, bool) {
	if d.pc+4 > len(d.buf) {
		return opFramelessArgs{}, false
	}
	args := opFramelessArgs{
		FrameSize: binary.LittleEndian.Uint32(d.buf[d.pc:]),
	}
	d.pc += 4
	return args, true
}
