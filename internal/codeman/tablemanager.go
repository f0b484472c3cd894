package codeman

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
)

// TableManager is the standard Manager: a sorted method table with compact
// unwind programs attached to each entry. Recorded stack images and the
// test harness drive walks through it; a code generator embedding this
// runtime emits the same tables at compile time.
type TableManager struct {
	name    string
	methods []*MethodInfo
}

var _ Manager = (*TableManager)(nil)

// NewTableManager builds a manager over methods. Method ranges must be
// non-empty and non-overlapping, and every method needs an unwind program.
func NewTableManager(name string, methods ...*MethodInfo) (*TableManager, error) {
	sorted := slices.Clone(methods)
	slices.SortFunc(sorted, func(a, b *MethodInfo) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
	for i, mi := range sorted {
		if mi.Size == 0 {
			return nil, fmt.Errorf("method %q: empty code range", mi.Name)
		}
		if len(mi.unwind) == 0 {
			return nil, fmt.Errorf("method %q: missing unwind program", mi.Name)
		}
		if i > 0 && sorted[i-1].Start.Add(int64(sorted[i-1].Size)) > mi.Start {
			return nil, fmt.Errorf("method %q overlaps %q", mi.Name, sorted[i-1].Name)
		}
	}
	return &TableManager{name: name, methods: sorted}, nil
}

// Name returns the module name the manager was built for.
func (t *TableManager) Name() string {
	return t.name
}

// SetUnwindProgram attaches the encoded unwind program to a method entry.
// Called while building the table, before the manager is shared.
func (mi *MethodInfo) SetUnwindProgram(p Program) {
	mi.unwind = p
}

// UnwindProgram returns the encoded unwind program, for serializing the
// method table into a recorded image.
func (mi *MethodInfo) UnwindProgram() Program {
	return mi.unwind
}

// FindMethodInfo implements Manager.
func (t *TableManager) FindMethodInfo(pc mem.Addr) (*MethodInfo, bool) {
	i, _ := slices.BinarySearchFunc(t.methods, pc, func(mi *MethodInfo, a mem.Addr) int {
		if mi.Start <= a {
			return -1
		}
		return 1
	})
	if i > 0 && t.methods[i-1].Contains(pc) {
		return t.methods[i-1], true
	}
	return nil, false
}

// UnwindStackFrame implements Manager.
func (t *TableManager) UnwindStackFrame(
	info *MethodInfo,
	d *regdisplay.Display,
	m mem.Memory,
) (mem.Addr, bool) {
	dec := makeOpDecoder(info.unwind)
	for {
		switch op := dec.popOp(); op {
		case opRestoreReg:
			args, ok := dec.decodeRestoreReg()
			if !ok {
				return 0, false
			}
			if int(args.Reg) >= d.Arch().NumCalleeSaved() {
				return 0, false
			}
			loc := d.FP.Add(int64(args.FPOffset))
			v, ok := mem.ReadWord(m, loc)
			if !ok {
				return 0, false
			}
			d.SetReg(int(args.Reg), v, loc)

		case opFrameChain:
			callerFP, ok := mem.ReadAddr(m, d.FP)
			if !ok {
				return 0, false
			}
			retAddr, ok := mem.ReadAddr(m, d.FP.Add(mem.WordSize))
			if !ok {
				return 0, false
			}
			d.SP = d.FP.Add(2 * mem.WordSize)
			d.FP = callerFP
			d.IP = retAddr
			return retAddr, true

		case opFrameless:
			args, ok := dec.decodeFrameless()
			if !ok {
				return 0, false
			}
			retAddr, ok := mem.ReadAddr(m, d.SP.Add(int64(args.FrameSize)-mem.WordSize))
			if !ok {
				return 0, false
			}
			d.SP = d.SP.Add(int64(args.FrameSize))
			d.IP = retAddr
			return retAddr, true

		default:
			return 0, false
		}
	}
}

// EnumGCRefs implements Manager. Slot offsets are relative to the frame's
// stack pointer as held in the display when the frame is current.
func (t *TableManager) EnumGCRefs(
	info *MethodInfo,
	codeOffset uint32,
	d *regdisplay.Display,
	report func(slot mem.Addr, kind GCRefKind),
) {
	_ = codeOffset // the table format keeps one live set per method
	for _, s := range info.GCSlots {
		if s.Kind == GCRefScalar {
			continue
		}
		report(d.SP.Add(int64(s.SPOffset)), s.Kind)
	}
}

// RemapToGCSafePoint implements Manager. When protected regions nest, the
// clause with the highest TryStart among those covering the offset is the
// nearest enclosing one.
func (t *TableManager) RemapToGCSafePoint(info *MethodInfo, codeOffset uint32) (uint32, bool) {
	best := -1
	for i, c := range info.EHClauses {
		if !c.Covers(codeOffset) {
			continue
		}
		if best < 0 || c.TryStart >= info.EHClauses[best].TryStart {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return info.EHClauses[best].SafePointOffset, true
}
