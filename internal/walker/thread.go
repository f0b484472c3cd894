package walker

import (
	"github.com/ferrovm/stackwalk-go/internal/codeman"
	"github.com/ferrovm/stackwalk-go/internal/exinfo"
	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
	"github.com/ferrovm/stackwalk-go/internal/thunk"
)

// Target bundles the read-only runtime state a walk consumes: the address
// space holding the stack, the module registry resolving code managers, and
// the trampoline ranges. The same Target works for walking a suspended
// thread in this process (mem.InProcess) or a recorded image (mem.Buffer);
// nothing in the walker dereferences a raw address directly.
type Target struct {
	Memory   mem.Memory
	Registry *codeman.Registry
	Thunks   *thunk.Registry
	Arch     regdisplay.Arch
}

// Thread describes the thread whose stack is being walked. It is owned by
// the thread subsystem; the walker reads it and never writes it. For GC
// walks the thread must stay suspended for the duration of the walk; for
// exception and hijack walks the walking thread is the walked thread.
type Thread struct {
	// StackLo and StackHi bound the thread's stack, [StackLo, StackHi).
	StackLo mem.Addr
	StackHi mem.Addr

	// ExInfoHead is the innermost record of the thread's in-flight
	// exception chain, or nil.
	ExInfoHead *exinfo.Record

	// HijackFramePointer identifies the frame whose return was hijacked,
	// or zero when no hijack is outstanding. At most one per thread.
	HijackFramePointer mem.Addr
	// HijackedReturnValueLoc is the slot holding the redirected return
	// value while the hijack is outstanding.
	HijackedReturnValueLoc mem.Addr
	// HijackedReturnValueKind tells the GC how to treat that slot.
	HijackedReturnValueKind codeman.GCRefKind
}
