// Package regdisplay holds the mutable register snapshot that a stack walk
// carries from frame to frame: the callee-saved registers, stack pointer,
// frame pointer and instruction pointer of "the current frame". A display is
// owned by exactly one walk and is destructively updated by every unwind
// step; it is never shared between walks.
package regdisplay

import (
	"fmt"

	"github.com/ferrovm/stackwalk-go/internal/mem"
)

// Arch describes the register file of a build target. All frame-recovery
// logic is written against this table; nothing branches on the host
// architecture at call sites.
type Arch struct {
	// Name is the target name, e.g. "amd64".
	Name string
	// CalleeSaved names the registers preserved across calls, in the order
	// they are stored in displays, contexts and transition frames.
	CalleeSaved []string
}

// NumCalleeSaved returns the number of callee-saved registers.
func (a Arch) NumCalleeSaved() int {
	return len(a.CalleeSaved)
}

// AMD64 is the x86-64 register layout (System V callee-saved set).
func AMD64() Arch {
	return Arch{
		Name:        "amd64",
		CalleeSaved: []string{"rbp", "rbx", "r12", "r13", "r14", "r15"},
	}
}

// ARM64 is the aarch64 register layout.
func ARM64() Arch {
	return Arch{
		Name: "arm64",
		CalleeSaved: []string{
			"x19", "x20", "x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28", "fp",
		},
	}
}

// Display is the register display. Values are the register contents for the
// current frame; Locs are the stack addresses the values were restored from,
// or zero for registers that were live in the initial capture. The GC needs
// the locations so it can relocate references held in preserved registers.
type Display struct {
	arch Arch

	IP mem.Addr
	SP mem.Addr
	FP mem.Addr

	Values []uint64
	Locs   []mem.Addr
}

// New returns a zeroed display for the given architecture.
func New(arch Arch) *Display {
	return &Display{
		arch:   arch,
		Values: make([]uint64, arch.NumCalleeSaved()),
		Locs:   make([]mem.Addr, arch.NumCalleeSaved()),
	}
}

// Arch returns the architecture table the display was built for.
func (d *Display) Arch() Arch {
	return d.arch
}

// SetReg records that callee-saved register i holds value, restored from
// the stack slot at loc (zero if not stack-resident).
func (d *Display) SetReg(i int, value uint64, loc mem.Addr) {
	d.Values[i] = value
	d.Locs[i] = loc
}

// CopyFrom overwrites d with src. Both displays must use the same
// architecture.
func (d *Display) CopyFrom(src *Display) {
	if d.arch.Name != src.arch.Name {
		panic(fmt.Sprintf("regdisplay: mixed architectures %s and %s", d.arch.Name, src.arch.Name))
	}
	d.IP = src.IP
	d.SP = src.SP
	d.FP = src.FP
	copy(d.Values, src.Values)
	copy(d.Locs, src.Locs)
}

// Preserved is the funclet preserved-register scratch block: the stack
// locations at which a funclet's parent activation keeps each callee-saved
// register. It is allocated lazily, only by walks that actually cross a
// funclet invoke, since most walks never touch it.
type Preserved struct {
	Slots []mem.Addr
}

// NewPreserved returns a scratch block sized for arch.
func NewPreserved(arch Arch) *Preserved {
	return &Preserved{Slots: make([]mem.Addr, arch.NumCalleeSaved())}
}
