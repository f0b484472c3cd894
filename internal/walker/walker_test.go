package walker_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrovm/stackwalk-go/internal/codeman"
	"github.com/ferrovm/stackwalk-go/internal/exinfo"
	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
	"github.com/ferrovm/stackwalk-go/internal/thunk"
	"github.com/ferrovm/stackwalk-go/internal/walker"
	"github.com/ferrovm/stackwalk-go/internal/walkimage"
)

func TestTraceWalkOrdinaryFrames(t *testing.T) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	mainM := b.AddMethod("main", 0x100)
	fooM := b.AddMethod("foo", 0x100)
	barM := b.AddMethod("bar", 0x100)

	mainF := b.PushManagedFrame(mainM, 0, 2)
	fooF := b.PushManagedFrame(fooM, mainF.PC(0x40), 1)
	barF := b.PushManagedFrame(barM, fooF.PC(0x20), 0)

	target, thread, err := b.Build()
	require.NoError(t, err)

	it, ok := walker.NewTraceWalk(target, thread, barF.Context(0x10))
	require.True(t, ok)
	require.True(t, it.IsValid())
	require.Equal(t, barF.PC(0x10), it.ControlPC())
	require.Equal(t, barF.FP, it.FramePointer())
	require.Equal(t, "bar", it.MethodInfo().Name)
	require.Equal(t, uint32(0x10), it.CodeOffset())

	res := it.Advance()
	require.True(t, res.Valid)
	require.Equal(t, fooF.PC(0x20), it.ControlPC())
	require.Equal(t, fooF.FP, it.FramePointer())
	require.Equal(t, "foo", it.MethodInfo().Name)

	res = it.Advance()
	require.True(t, res.Valid)
	require.Equal(t, mainF.PC(0x40), it.ControlPC())
	require.Equal(t, "main", it.MethodInfo().Name)

	res = it.Advance()
	require.False(t, res.Valid)
	require.False(t, it.IsValid())
	// Advancing an invalid iterator stays invalid.
	require.False(t, it.Advance().Valid)
}

func TestTraceWalkNoManagedFrames(t *testing.T) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	mainM := b.AddMethod("main", 0x100)
	f := b.PushManagedFrame(mainM, 0, 0)

	target, thread, err := b.Build()
	require.NoError(t, err)

	// A control address no code manager owns is the bottom of the chain.
	ctx := &regdisplay.Context{IP: 0xdead0000, SP: f.SP, FP: f.FP}
	it, ok := walker.NewTraceWalk(target, thread, ctx)
	require.False(t, ok)
	require.False(t, it.IsValid())
	require.Panics(t, func() { it.MethodInfo() })
}

func TestGCWalkFromTransitionFrame(t *testing.T) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	mainM := b.AddMethod("main", 0x100,
		walkimage.WithGCSlots(
			codeman.GCSlot{SPOffset: 0, Kind: codeman.GCRefObject},
			codeman.GCSlot{SPOffset: 8, Kind: codeman.GCRefScalar},
		))

	mainF := b.PushManagedFrame(mainM, 0, 2)
	refLoc := b.WriteLocal(mainF, 1, 0xc0ffee)
	tf := b.PushTransitionFrame(mainF.PC(0x50), mainF)

	retLoc := b.WriteLocal(mainF, 0, 0)
	b.SetHijack(mainF.FP, retLoc, codeman.GCRefByRef)

	target, thread, err := b.Build()
	require.NoError(t, err)

	it, ok := walker.NewGCWalk(target, thread, tf)
	require.True(t, ok)
	require.Equal(t, mainF.PC(0x50), it.ControlPC())
	require.Equal(t, mainF.FP, it.FramePointer())

	var slots []mem.Addr
	var kinds []codeman.GCRefKind
	it.EnumGCRefs(func(slot mem.Addr, kind codeman.GCRefKind) {
		slots = append(slots, slot)
		kinds = append(kinds, kind)
	})
	require.Equal(t, []mem.Addr{refLoc}, slots)
	require.Equal(t, []codeman.GCRefKind{codeman.GCRefObject}, kinds)
	v, ok2 := mem.ReadWord(target.Memory, slots[0])
	require.True(t, ok2)
	require.Equal(t, uint64(0xc0ffee), v)

	loc, kind, hijacked := it.HijackedReturnValueLocation()
	require.True(t, hijacked)
	require.Equal(t, retLoc, loc)
	require.Equal(t, codeman.GCRefByRef, kind)

	require.False(t, it.Next())
	// Per-frame outputs die with the frame.
	_, _, hijacked = it.HijackedReturnValueLocation()
	require.False(t, hijacked)
}

func TestHijackSlotExposedInAnyWalkMode(t *testing.T) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	mainM := b.AddMethod("main", 0x100)
	leafM := b.AddMethod("leaf", 0x100)

	mainF := b.PushManagedFrame(mainM, 0, 1)
	leafF := b.PushManagedFrame(leafM, mainF.PC(0x40), 0)

	retLoc := b.WriteLocal(mainF, 0, 0)
	b.SetHijack(mainF.FP, retLoc, codeman.GCRefObject)

	target, thread, err := b.Build()
	require.NoError(t, err)

	// The slot lives on the thread descriptor, so a trace walk sees it
	// too; only the frame-pointer match gates exposure.
	it, ok := walker.NewTraceWalk(target, thread, leafF.Context(0x10))
	require.True(t, ok)
	_, _, hijacked := it.HijackedReturnValueLocation()
	require.False(t, hijacked)

	require.True(t, it.Next())
	require.Equal(t, "main", it.MethodInfo().Name)
	loc, kind, hijacked := it.HijackedReturnValueLocation()
	require.True(t, hijacked)
	require.Equal(t, retLoc, loc)
	require.Equal(t, codeman.GCRefObject, kind)
}

func TestExceptionWalkThrowSiteAndAdjustment(t *testing.T) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	throw := b.AddThunk("throwsite", thunk.ThrowSite, 64)
	mainM := b.AddMethod("main", 0x100)
	fM := b.AddMethod("f", 0x100)
	dM := b.AddMethod("dispatch", 0x100)

	mainF := b.PushManagedFrame(mainM, 0, 0)
	fF := b.PushManagedFrame(fM, mainF.PC(0x40), 0)
	b.PushThunkFrame(fF.PC(0x66), fF)
	// The dispatcher's return address is the thunk's first byte: only the
	// unadjusted address classifies correctly.
	dF := b.PushManagedFrame(dM, throw.Start, 0)

	target, thread, err := b.Build()
	require.NoError(t, err)

	it, ok := walker.NewExceptionWalk(target, thread, dF.Context(0x10))
	require.True(t, ok)
	// A precise starting address is not adjusted.
	require.Equal(t, dF.PC(0x10), it.ControlPC())
	require.False(t, it.ExceptionallyInvoked())

	require.True(t, it.Next())
	// The throw site is precise: no adjustment, and the frame was entered
	// exceptionally.
	require.Equal(t, fF.PC(0x66), it.ControlPC())
	require.Equal(t, "f", it.MethodInfo().Name)
	require.True(t, it.ExceptionallyInvoked())

	require.True(t, it.Next())
	// An ordinary return address is backed up one byte for clause lookup.
	require.Equal(t, mainF.PC(0x40).Add(-1), it.ControlPC())
	require.Equal(t, "main", it.MethodInfo().Name)
	require.False(t, it.ExceptionallyInvoked())

	require.False(t, it.Next())
}

func TestTraceWalkDoesNotAdjustReturnAddresses(t *testing.T) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	mainM := b.AddMethod("main", 0x100)
	fM := b.AddMethod("f", 0x100)

	mainF := b.PushManagedFrame(mainM, 0, 0)
	fF := b.PushManagedFrame(fM, mainF.PC(0x40), 0)

	target, thread, err := b.Build()
	require.NoError(t, err)

	it, ok := walker.NewTraceWalk(target, thread, fF.Context(0x8))
	require.True(t, ok)
	require.True(t, it.Next())
	require.Equal(t, mainF.PC(0x40), it.ControlPC())
}

func funcletImage(t *testing.T) (*walker.Target, *walker.Thread, map[string]walkimage.Frame, mem.Addr) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	fi := b.AddThunk("funcletinvoke", thunk.FuncletInvoke, 64)
	mainM := b.AddMethod("main", 0x100)
	tryM := b.AddMethod("try", 0x100)
	dispM := b.AddMethod("dispatch", 0x100)
	hM := b.AddMethod("handler", 0x100, walkimage.Funclet())

	mainF := b.PushManagedFrame(mainM, 0, 0)
	tryF := b.PushManagedFrame(tryM, mainF.PC(0x40), 0)
	dispF := b.PushManagedFrame(dispM, tryF.PC(0x20), 0)
	fiBase := b.PushFuncletInvokeFrame(dispF.PC(0x30), dispF, tryF.FP, true)
	hF := b.PushManagedFrame(hM, fi.Start.Add(4), 0)

	target, thread, err := b.Build()
	require.NoError(t, err)
	frames := map[string]walkimage.Frame{
		"main": mainF, "try": tryF, "dispatch": dispF, "handler": hF,
	}
	return target, thread, frames, fiBase
}

func TestGCWalkCollapsesFunclets(t *testing.T) {
	target, thread, frames, fiBase := funcletImage(t)

	// Trace mode collapses funclets like a GC walk.
	it, ok := walker.NewTraceWalk(target, thread, frames["handler"].Context(0x8))
	require.True(t, ok)
	require.Equal(t, "handler", it.MethodInfo().Name)
	require.Nil(t, it.FuncletPreservedRegs())

	// The dispatcher frames and the parent activation collapse into the
	// funclet frame already reported.
	require.True(t, it.Next())
	require.Equal(t, "main", it.MethodInfo().Name)
	require.Equal(t, frames["main"].PC(0x40), it.ControlPC())

	preserved := it.FuncletPreservedRegs()
	require.NotNil(t, preserved)
	arch := regdisplay.AMD64()
	require.Len(t, preserved.Slots, arch.NumCalleeSaved())
	for i, slot := range preserved.Slots {
		require.Equal(t, fiBase.Add(int64(3+i)*mem.WordSize), slot)
	}

	require.False(t, it.Next())
}

func TestExceptionWalkDoesNotCollapseFunclets(t *testing.T) {
	target, thread, frames, _ := funcletImage(t)

	it, ok := walker.NewExceptionWalk(target, thread, frames["handler"].Context(0x8))
	require.True(t, ok)

	var names []string
	var exceptional []bool
	var pcs []mem.Addr
	for it.IsValid() {
		names = append(names, it.MethodInfo().Name)
		exceptional = append(exceptional, it.ExceptionallyInvoked())
		pcs = append(pcs, it.ControlPC())
		it.Next()
	}
	require.Equal(t, []string{"handler", "dispatch", "try", "main"}, names)
	// The funclet-invoke thunk carried the exceptional-invoke flag, which
	// applies to the frame recovered past it.
	require.Equal(t, []bool{false, true, false, false}, exceptional)
	// Return addresses are adjusted in this mode.
	require.Equal(t, frames["dispatch"].PC(0x30).Add(-1), pcs[1])
	require.Equal(t, frames["try"].PC(0x20).Add(-1), pcs[2])
	require.Equal(t, frames["main"].PC(0x40).Add(-1), pcs[3])
}

func collisionImage(t *testing.T, kind exinfo.Kind, clause uint32, supersede bool) (
	*walker.Target, *walker.Thread, map[string]walkimage.Frame,
) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	mainM := b.AddMethod("main", 0x100)
	gM := b.AddMethod("g", 0x100,
		walkimage.WithClauses(codeman.EHClause{
			TryStart: 0x10, TryEnd: 0x50, HandlerStart: 0x60, SafePointOffset: 0x64,
		}))
	dM := b.AddMethod("dispatch", 0x100)

	mainF := b.PushManagedFrame(mainM, 0, 0)
	gF := b.PushManagedFrame(gM, mainF.PC(0x40), 0)
	dF := b.PushManagedFrame(dM, gF.PC(0x30), 0)

	rec := b.AddExRecord(dF.FP.Add(2*mem.WordSize), kind, clause, gF.Context(0x20))
	if supersede {
		rec.Supersede()
	}

	target, thread, err := b.Build()
	require.NoError(t, err)
	return target, thread, map[string]walkimage.Frame{"main": mainF, "g": gF, "dispatch": dF}
}

func TestCollisionMergesDispatchContext(t *testing.T) {
	target, thread, frames := collisionImage(t, exinfo.KindThrow, 3, false)

	it, ok := walker.NewTraceWalk(target, thread, frames["dispatch"].Context(0x10))
	require.True(t, ok)
	require.Equal(t, "dispatch", it.MethodInfo().Name)

	res := it.Advance()
	require.True(t, res.Valid)
	require.True(t, res.ExCollision)
	require.Equal(t, uint32(3), res.ExClauseIndex)
	require.Equal(t, "g", it.MethodInfo().Name)
	// A throw record's context address is kept verbatim.
	require.Equal(t, frames["g"].PC(0x20), it.ControlPC())
	require.Equal(t, frames["g"].FP, it.FramePointer())
	require.True(t, it.ExceptionallyInvoked())

	res = it.Advance()
	require.True(t, res.Valid)
	require.False(t, res.ExCollision)
	require.Equal(t, "main", it.MethodInfo().Name)

	require.False(t, it.Advance().Valid)
}

func TestCollisionRemapsHardwareFaultToSafePoint(t *testing.T) {
	target, thread, frames := collisionImage(t, exinfo.KindHardwareFault, 0, false)

	// Hijack walks run in GC mode, where fault remapping is active.
	it, ok := walker.NewHijackWalk(target, thread, frames["dispatch"].Context(0x10))
	require.True(t, ok)

	res := it.Advance()
	require.True(t, res.ExCollision)
	// The faulting address sits in [0x10, 0x50); the frame is reported at
	// the clause's safe point instead.
	require.Equal(t, frames["g"].PC(0x64), it.ControlPC())
	require.Equal(t, uint32(0x64), it.CodeOffset())
}

func TestTraceWalkKeepsFaultingAddress(t *testing.T) {
	target, thread, frames := collisionImage(t, exinfo.KindHardwareFault, 0, false)

	it, ok := walker.NewTraceWalk(target, thread, frames["dispatch"].Context(0x10))
	require.True(t, ok)

	res := it.Advance()
	require.True(t, res.ExCollision)
	// A trace reports the faulting instruction itself.
	require.Equal(t, frames["g"].PC(0x20), it.ControlPC())
}

func TestSupersededRecordsCollideSilently(t *testing.T) {
	target, thread, frames := collisionImage(t, exinfo.KindThrow, 3, true)

	it, ok := walker.NewTraceWalk(target, thread, frames["dispatch"].Context(0x10))
	require.True(t, ok)

	res := it.Advance()
	require.True(t, res.Valid)
	require.False(t, res.ExCollision)
	// The walk continues along the physical return address.
	require.Equal(t, frames["g"].PC(0x30), it.ControlPC())
}

func TestChainedCollisionsStayMonotonic(t *testing.T) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	mainM := b.AddMethod("main", 0x100)
	gM := b.AddMethod("g", 0x100)
	dM := b.AddMethod("dispatch", 0x100)

	mainF := b.PushManagedFrame(mainM, 0, 0)
	gF := b.PushManagedFrame(gM, mainF.PC(0x40), 0)
	dF := b.PushManagedFrame(dM, gF.PC(0x30), 0)

	b.AddExRecord(dF.FP.Add(2*mem.WordSize), exinfo.KindThrow, 1, gF.Context(0x20))
	b.AddExRecord(gF.FP.Add(2*mem.WordSize), exinfo.KindThrow, 2, mainF.Context(0x50))

	target, thread, err := b.Build()
	require.NoError(t, err)

	it, ok := walker.NewTraceWalk(target, thread, dF.Context(0x10))
	require.True(t, ok)

	res := it.Advance()
	require.True(t, res.ExCollision)
	require.Equal(t, uint32(1), res.ExClauseIndex)
	require.Equal(t, "g", it.MethodInfo().Name)

	res = it.Advance()
	require.True(t, res.ExCollision)
	require.Equal(t, uint32(2), res.ExClauseIndex)
	require.Equal(t, "main", it.MethodInfo().Name)
	require.Equal(t, mainF.PC(0x50), it.ControlPC())

	require.False(t, it.Advance().Valid)
}

func TestCursorResetSkipsRecordsBelowSP(t *testing.T) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	mainM := b.AddMethod("main", 0x100)
	gM := b.AddMethod("g", 0x100)
	dM := b.AddMethod("dispatch", 0x100)

	mainF := b.PushManagedFrame(mainM, 0, 0)
	gF := b.PushManagedFrame(gM, mainF.PC(0x40), 0)
	dF := b.PushManagedFrame(dM, gF.PC(0x30), 0)

	b.AddExRecord(dF.FP.Add(2*mem.WordSize), exinfo.KindThrow, 1, gF.Context(0x20))
	upper := b.AddExRecord(gF.FP.Add(2*mem.WordSize), exinfo.KindThrow, 2, mainF.Context(0x50))

	target, thread, err := b.Build()
	require.NoError(t, err)

	it, ok := walker.NewTraceWalk(target, thread, dF.Context(0x10))
	require.True(t, ok)

	// Repositioning the cursor at the upper record discards the lower
	// one; no collision may be reported below the reset point.
	it.ResetNextExInfoForSP(upper.SP)

	res := it.Advance()
	require.True(t, res.Valid)
	require.False(t, res.ExCollision)
	// The walk follows the physical return address past the skipped
	// record.
	require.Equal(t, "g", it.MethodInfo().Name)
	require.Equal(t, gF.PC(0x30), it.ControlPC())

	res = it.Advance()
	require.True(t, res.ExCollision)
	require.Equal(t, uint32(2), res.ExClauseIndex)
	require.Equal(t, "main", it.MethodInfo().Name)
	require.Equal(t, mainF.PC(0x50), it.ControlPC())

	require.False(t, it.Advance().Valid)
}

func TestConservativeRangeScopedToOneFrame(t *testing.T) {
	cases := []struct {
		name  string
		kind  thunk.Kind
		wants bool
	}{
		{"managed-callout", thunk.ManagedCallout, true},
		{"universal-transition", thunk.UniversalTransition, true},
		{"call-descr", thunk.CallDescr, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := walkimage.NewBuilder(regdisplay.AMD64())
			th := b.AddThunk(tc.name, tc.kind, 64)
			mainM := b.AddMethod("main", 0x100)
			cbM := b.AddMethod("callback", 0x100)

			mainF := b.PushManagedFrame(mainM, 0, 1)
			base := b.PushThunkFrame(mainF.PC(0x40), mainF)
			cbF := b.PushManagedFrame(cbM, th.Start.Add(8), 0)

			target, thread, err := b.Build()
			require.NoError(t, err)

			it, ok := walker.NewTraceWalk(target, thread, cbF.Context(0x8))
			require.True(t, ok)
			require.False(t, it.HasStackRangeToReportConservatively())

			require.True(t, it.Next())
			require.Equal(t, "main", it.MethodInfo().Name)
			if !tc.wants {
				require.False(t, it.HasStackRangeToReportConservatively())
				return
			}
			require.True(t, it.HasStackRangeToReportConservatively())
			lo, hi, ok2 := it.StackRangeToReportConservatively()
			require.True(t, ok2)
			require.Equal(t, base, lo)
			require.Equal(t, mainF.SP, hi)
		})
	}
}

func TestReverseNativeCallSurfacesOnUnwind(t *testing.T) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	entryM := b.AddMethod("entry", 0x100, walkimage.ReverseNativeCall())
	fM := b.AddMethod("f", 0x100)

	entryF := b.PushManagedFrame(entryM, 0, 0)
	fF := b.PushManagedFrame(fM, entryF.PC(0x20), 0)

	target, thread, err := b.Build()
	require.NoError(t, err)

	it, ok := walker.NewTraceWalk(target, thread, fF.Context(0x8))
	require.True(t, ok)
	require.True(t, it.Next())
	require.Equal(t, "entry", it.MethodInfo().Name)

	res := it.Advance()
	require.False(t, res.Valid)
	require.True(t, res.UnwoundReverseNativeCall)
}

func TestRunawayTransitionsHalt(t *testing.T) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	cd := b.AddThunk("calldescr", thunk.CallDescr, 64)
	b.AddMethod("anchor", 0x100)

	// A thunk frame resuming into itself never settles.
	base := b.PushThunkFrame(cd.Start, walkimage.Frame{})
	b.Memory().WriteWord(base.Add(2*mem.WordSize), uint64(base))

	target, thread, err := b.Build()
	require.NoError(t, err)

	ctx := &regdisplay.Context{IP: cd.Start.Add(4), SP: base}
	require.Panics(t, func() { walker.NewTraceWalk(target, thread, ctx) })
}
