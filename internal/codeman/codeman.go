// Package codeman defines the boundary between the stack walker and the
// per-module metadata decoders supplied by the code generator. A Manager
// can decode per-method metadata for an address it owns, unwind exactly one
// frame against a register display, enumerate a frame's GC references, and
// remap a hardware-fault offset to the GC safe point of the enclosing
// handler. The Registry resolves which manager governs a given address.
package codeman

import (
	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
)

// GCRefKind describes how a stack slot or return value refers to the heap.
type GCRefKind uint8

const (
	// GCRefScalar is not a reference; it is never reported.
	GCRefScalar GCRefKind = iota
	// GCRefObject is a reference to the start of a heap object.
	GCRefObject
	// GCRefByRef is an interior pointer into a heap object.
	GCRefByRef
)

func (k GCRefKind) String() string {
	switch k {
	case GCRefScalar:
		return "scalar"
	case GCRefObject:
		return "object"
	case GCRefByRef:
		return "byref"
	default:
		return "unknown"
	}
}

// EHClause is one protected region of a method together with its handler
// funclet. Offsets are code offsets from the method start. TryEnd is
// exclusive: an address equal to TryEnd is outside the region, which is why
// exception-handling walks back return addresses up by one byte before
// lookup.
type EHClause struct {
	TryStart uint32
	TryEnd   uint32
	// HandlerStart is the code offset of the handler funclet's entry.
	HandlerStart uint32
	// SafePointOffset is the code offset of the GC safe point the code
	// generator placed immediately after the handler's prologue. A
	// hardware fault inside [TryStart, TryEnd) is reported at this offset
	// when fault remapping is active.
	SafePointOffset uint32
}

// Covers reports whether a code offset lies in the protected region.
func (c EHClause) Covers(off uint32) bool {
	return off >= c.TryStart && off < c.TryEnd
}

// GCSlot is one frame slot holding a GC reference, at a fixed offset from
// the frame's stack pointer.
type GCSlot struct {
	SPOffset int32
	Kind     GCRefKind
}

// MethodInfo is the decoded metadata for one method. It is produced by a
// Manager, cached by the walker per control address, and invalidated
// whenever the control address changes.
type MethodInfo struct {
	Name  string
	Start mem.Addr
	Size  uint32

	// IsFunclet marks handler/filter funclets, which share their parent
	// activation's frame for GC purposes.
	IsFunclet bool
	// ReverseNativeCall marks methods entered from unmanaged code; the
	// frame below one is outside the managed call chain and scanning
	// conventions change beyond it.
	ReverseNativeCall bool

	EHClauses []EHClause
	GCSlots   []GCSlot

	unwind []byte
}

// Contains reports whether pc falls inside the method's code range.
func (mi *MethodInfo) Contains(pc mem.Addr) bool {
	return pc >= mi.Start && pc < mi.Start.Add(int64(mi.Size))
}

// Offset converts pc to a code offset from the method start. pc must be
// inside the method.
func (mi *MethodInfo) Offset(pc mem.Addr) uint32 {
	return uint32(uint64(pc) - uint64(mi.Start))
}

// Manager is the per-module decoder capability the walker consumes.
// Implementations are immutable lookup tables shared between walks and
// queried without locking.
type Manager interface {
	// FindMethodInfo decodes the metadata for the method containing pc.
	// The second result is false if no method owns pc.
	FindMethodInfo(pc mem.Addr) (*MethodInfo, bool)

	// UnwindStackFrame unwinds exactly one frame: it mutates the display
	// to the caller's register state and returns the caller's control
	// address. A false result means the unwind metadata could not be
	// applied, which the walker treats as fatal for addresses it already
	// classified as managed code.
	UnwindStackFrame(info *MethodInfo, d *regdisplay.Display, m mem.Memory) (mem.Addr, bool)

	// EnumGCRefs reports the frame's GC reference slots to report. The
	// codeOffset selects the live set; the display supplies the frame's
	// stack pointer and preserved-register locations.
	EnumGCRefs(info *MethodInfo, codeOffset uint32, d *regdisplay.Display, report func(slot mem.Addr, kind GCRefKind))

	// RemapToGCSafePoint maps a hardware-fault code offset to the safe
	// point after the prologue of the nearest enclosing handler. The
	// second result is false if no clause protects the offset.
	RemapToGCSafePoint(info *MethodInfo, codeOffset uint32) (uint32, bool)
}
