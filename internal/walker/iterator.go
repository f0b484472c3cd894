// Package walker implements the stack-frame iterator at the core of the
// runtime: the state machine that produces the ordered sequence of logical
// call frames for a thread, skipping or interpreting the hand-written
// transition trampolines along the way. One iterator serves one walk; it
// owns its register display, holds a non-owning cursor into the thread's
// exception-info chain, and is discarded when the walk ends.
package walker

import (
	"github.com/ferrovm/stackwalk-go/internal/codeman"
	"github.com/ferrovm/stackwalk-go/internal/exinfo"
	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
)

// Iterator walks one thread's stack from the current point of execution
// toward the bottom of the managed call chain. It is not safe for
// concurrent use and must not outlive the suspension (or self-walk) that
// makes the stack stable.
type Iterator struct {
	target *Target
	thread *Thread

	valid        bool
	framePointer mem.Addr
	controlPC    mem.Addr
	regs         *regdisplay.Display

	codeManager codeman.Manager
	methodInfo  *codeman.MethodInfo
	codeOffset  uint32

	hijackedReturnValue     mem.Addr
	hijackedReturnValueKind codeman.GCRefKind

	conservativeLo mem.Addr
	conservativeHi mem.Addr

	flags      Flags
	nextExInfo exinfo.Cursor

	// pcIsReturnAddress distinguishes control addresses recovered from
	// return slots (one past a call) from precise addresses captured at a
	// fault or throw site.
	pcIsReturnAddress bool
	// pcAdjusted records that controlPC already had the one-byte
	// exception-dispatch adjustment applied.
	pcAdjusted bool

	exceptionallyInvoked bool
	exCollideClauseIdx   uint32

	// Funclet collapsing state: frames are skipped until the activation at
	// pendingFuncletFramePointer has itself been passed.
	pendingFuncletFramePointer mem.Addr
	// funcletRegs is the preserved-register scratch block, allocated only
	// when a walk actually crosses a funclet invoke.
	funcletRegs *regdisplay.Preserved
}

// AdvanceResult carries the boundary out-values of one advance.
type AdvanceResult struct {
	// Valid reports whether the iterator still points at a frame.
	Valid bool
	// ExCollision reports that the advance crossed an exception-info
	// record; ExClauseIndex is that record's clause index.
	ExCollision   bool
	ExClauseIndex uint32
	// UnwoundReverseNativeCall reports that a reverse-native-call
	// transition was just unwound: scanning conventions change beyond
	// this point.
	UnwoundReverseNativeCall bool
}

// NewGCWalk positions an iterator at the first frame of a GC root scan,
// starting from a saved managed-to-runtime transition frame. The returned
// flag mirrors validity; an invalid iterator means the thread has no
// managed frames to scan.
func NewGCWalk(target *Target, thread *Thread, transitionFrame mem.Addr) (*Iterator, bool) {
	it := newIterator(target, thread, GCStackWalkFlags)
	ip, ok := readResumeHeader(target.Memory, transitionFrame, it.regs)
	if !ok {
		fatalf("unreadable transition frame at %#x", uint64(transitionFrame))
	}
	it.controlPC = ip
	it.pcIsReturnAddress = true
	it.seed()
	return it, it.valid
}

// NewExceptionWalk positions an iterator for exception dispatch, starting
// from the faulting thread's captured context.
func NewExceptionWalk(target *Target, thread *Thread, ctx *regdisplay.Context) (*Iterator, bool) {
	return newFromContext(target, thread, ctx, EHStackWalkFlags)
}

// NewTraceWalk positions an iterator for diagnostic trace capture.
func NewTraceWalk(target *Target, thread *Thread, ctx *regdisplay.Context) (*Iterator, bool) {
	return newFromContext(target, thread, ctx, StackTraceStackWalkFlags)
}

// NewHijackWalk positions an iterator for return-value hijack inspection.
// It shares the GC walk mode: the roots it finds are reported to the GC.
func NewHijackWalk(target *Target, thread *Thread, ctx *regdisplay.Context) (*Iterator, bool) {
	return newFromContext(target, thread, ctx, GCStackWalkFlags)
}

func newFromContext(target *Target, thread *Thread, ctx *regdisplay.Context, flags Flags) (*Iterator, bool) {
	it := newIterator(target, thread, flags)
	ctx.Apply(it.regs)
	it.controlPC = ctx.IP
	it.pcIsReturnAddress = false
	it.seed()
	return it, it.valid
}

func newIterator(target *Target, thread *Thread, flags Flags) *Iterator {
	it := &Iterator{
		target: target,
		thread: thread,
		valid:  true,
		regs:   regdisplay.New(target.Arch),
		flags:  flags,
	}
	it.nextExInfo = exinfo.NewCursor(thread.ExInfoHead)
	return it
}

// IsValid reports whether the iterator points at a frame. Once false, no
// further advance is meaningful; there is no separate error channel for
// end-of-stack.
func (it *Iterator) IsValid() bool {
	return it.valid
}

// Next advances one frame. It is the plain form of Advance for callers
// that do not consume the boundary out-values.
func (it *Iterator) Next() bool {
	return it.Advance().Valid
}

// ControlPC returns the current frame's control address, adjusted for
// protected-region lookup when the walk runs in exception-handling mode.
func (it *Iterator) ControlPC() mem.Addr {
	return it.controlPC
}

// FramePointer returns the current frame's frame pointer.
func (it *Iterator) FramePointer() mem.Addr {
	return it.framePointer
}

// RegisterSet returns the iterator's register display. It is mutated in
// place by every advance; callers must not retain it across advances.
func (it *Iterator) RegisterSet() *regdisplay.Display {
	return it.regs
}

// CodeManager returns the code manager owning the current frame's method.
func (it *Iterator) CodeManager() codeman.Manager {
	it.CalculateCurrentMethodState()
	return it.codeManager
}

// MethodInfo returns the decoded metadata for the current frame's method.
func (it *Iterator) MethodInfo() *codeman.MethodInfo {
	it.CalculateCurrentMethodState()
	return it.methodInfo
}

// CodeOffset returns the current control address as an offset from the
// method start.
func (it *Iterator) CodeOffset() uint32 {
	it.CalculateCurrentMethodState()
	return it.codeOffset
}

// ExceptionallyInvoked reports whether the current frame was entered as
// part of exception dispatch rather than by an ordinary call.
func (it *Iterator) ExceptionallyInvoked() bool {
	return it.exceptionallyInvoked
}

// HijackedReturnValueLocation returns the redirected return slot and its
// reference kind when the current frame is the hijacked one.
func (it *Iterator) HijackedReturnValueLocation() (mem.Addr, codeman.GCRefKind, bool) {
	if it.hijackedReturnValue == 0 {
		return 0, codeman.GCRefScalar, false
	}
	return it.hijackedReturnValue, it.hijackedReturnValueKind, true
}

// HasStackRangeToReportConservatively reports whether the current frame
// carries a conservative stack range. It is non-nil only for the single
// frame reported immediately after crossing a managed-callout or
// universal-transition thunk.
func (it *Iterator) HasStackRangeToReportConservatively() bool {
	return it.conservativeLo != 0
}

// StackRangeToReportConservatively returns the [lower, upper) interval to
// scan as possible heap references.
func (it *Iterator) StackRangeToReportConservatively() (lo, hi mem.Addr, ok bool) {
	if it.conservativeLo == 0 {
		return 0, 0, false
	}
	return it.conservativeLo, it.conservativeHi, true
}

// FuncletPreservedRegs returns the parent activation's preserved-register
// slot addresses, or nil if the walk never crossed a funclet invoke.
func (it *Iterator) FuncletPreservedRegs() *regdisplay.Preserved {
	return it.funcletRegs
}

// EnumGCRefs reports the current frame's precise GC reference slots. The
// conservative range, if any, is reported separately by the caller.
func (it *Iterator) EnumGCRefs(report func(slot mem.Addr, kind codeman.GCRefKind)) {
	it.CalculateCurrentMethodState()
	it.codeManager.EnumGCRefs(it.methodInfo, it.codeOffset, it.regs, report)
}

// CalculateCurrentMethodState decodes and caches the method metadata for
// the current control address. The cache is invalidated by every advance;
// metadata is recomputed lazily on the next request.
func (it *Iterator) CalculateCurrentMethodState() {
	if it.flags&MethodStateCalculated != 0 {
		return
	}
	if !it.valid {
		fatalf("method state requested on an invalid iterator")
	}
	mgr, ok := it.target.Registry.ManagerFor(it.controlPC)
	if !ok {
		fatalf("no code manager for managed address %#x", uint64(it.controlPC))
	}
	mi, ok := mgr.FindMethodInfo(it.controlPC)
	if !ok {
		fatalf("code manager cannot decode managed address %#x", uint64(it.controlPC))
	}
	it.codeManager = mgr
	it.methodInfo = mi
	it.codeOffset = mi.Offset(it.controlPC)
	it.flags |= MethodStateCalculated
}

// unadjustedPC undoes the exception-dispatch adjustment for thunk
// classification, which is defined over unadjusted addresses.
func (it *Iterator) unadjustedPC() mem.Addr {
	if it.pcAdjusted {
		return it.controlPC.Add(1)
	}
	return it.controlPC
}
