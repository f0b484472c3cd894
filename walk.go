package stackwalk

import (
	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
	"github.com/ferrovm/stackwalk-go/internal/walker"
)

// Direct iterator access, for embedders that drive walks themselves (a GC
// scanning roots, an exception dispatcher probing for handlers) instead of
// capturing recorded images. The types are the walking core's own; this
// file only gives them importable names.
type (
	// Addr is a possibly-remote address in the walked address space.
	Addr = mem.Addr
	// Memory grants checked read access to the walked address space.
	Memory = mem.Memory
	// Context is a captured register snapshot seeding a walk.
	Context = regdisplay.Context
	// Target bundles the read-only runtime state a walk consumes.
	Target = walker.Target
	// Thread describes the thread whose stack is walked.
	Thread = walker.Thread
	// Iterator walks one thread's stack frame by frame.
	Iterator = walker.Iterator
	// AdvanceResult carries the boundary out-values of one advance.
	AdvanceResult = walker.AdvanceResult
)

// NewGCWalk starts a GC root scan from a saved managed-to-runtime
// transition frame.
func NewGCWalk(target *Target, thread *Thread, transitionFrame Addr) (*Iterator, bool) {
	return walker.NewGCWalk(target, thread, transitionFrame)
}

// NewExceptionWalk starts an exception-dispatch walk from the faulting
// thread's captured context.
func NewExceptionWalk(target *Target, thread *Thread, ctx *Context) (*Iterator, bool) {
	return walker.NewExceptionWalk(target, thread, ctx)
}

// NewTraceWalk starts a diagnostic trace walk from a captured context.
func NewTraceWalk(target *Target, thread *Thread, ctx *Context) (*Iterator, bool) {
	return walker.NewTraceWalk(target, thread, ctx)
}

// NewHijackWalk starts a GC-mode walk that surfaces an outstanding
// return-value hijack.
func NewHijackWalk(target *Target, thread *Thread, ctx *Context) (*Iterator, bool) {
	return walker.NewHijackWalk(target, thread, ctx)
}
