package walker

import (
	"github.com/ferrovm/stackwalk-go/internal/codeman"
	"github.com/ferrovm/stackwalk-go/internal/exinfo"
	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
	"github.com/ferrovm/stackwalk-go/internal/thunk"
)

// maxTransitionsPerAdvance bounds the silent transitions (thunk recoveries,
// collapsed funclet frames) one advance may perform. A well-formed stack
// stays far below it; hitting it means broken unwind metadata.
const maxTransitionsPerAdvance = 4096

// Advance moves the iterator to the next logical frame, or to the terminal
// invalid state at the bottom of the managed call chain. It is the single
// central transition: construction funnels through the same logic, so the
// first frame and the last are handled uniformly.
func (it *Iterator) Advance() AdvanceResult {
	var res AdvanceResult
	if !it.valid {
		return res
	}
	it.run(&res, false)
	res.Valid = it.valid
	return res
}

// seed computes the first valid frame after construction.
func (it *Iterator) seed() {
	it.nextExInfo.ResetForSP(it.regs.SP)
	var res AdvanceResult
	it.run(&res, true)
}

// run is the advance loop. With seeded set, the current register state was
// just installed by a constructor and is evaluated as a candidate frame
// before any unwinding happens.
func (it *Iterator) run(res *AdvanceResult, seeded bool) {
	// Leaving the previous frame: per-frame outputs die with it.
	it.conservativeLo, it.conservativeHi = 0, 0
	it.hijackedReturnValue = 0
	it.hijackedReturnValueKind = codeman.GCRefScalar
	it.flags &^= ExCollide | UnwoundReverseNativeCall

	needTransition := !seeded
	for steps := 0; ; steps++ {
		if steps > maxTransitionsPerAdvance {
			fatalf("advance did not settle after %d transitions; unwind metadata is broken", steps)
		}
		if !needTransition && it.target.Thunks.Categorize(it.unadjustedPC()) == thunk.ManagedCode {
			if _, ok := it.target.Registry.ManagerFor(it.controlPC); !ok {
				// Past the bottom of the managed call chain.
				it.valid = false
				return
			}
			if it.shouldYield() {
				it.prepareToYieldFrame()
				return
			}
			// Collapsed frame: unwind it without surfacing it.
		}
		needTransition = false

		it.transitionOnce(res)
		if it.controlPC == 0 {
			it.valid = false
			return
		}
		it.applyReturnAddressAdjustment()
		it.checkExCollision(res)
	}
}

// transitionOnce performs one physical transition: either a code-manager
// unwind of an ordinary managed frame, or the dedicated recovery routine of
// the trampoline the control address falls in.
func (it *Iterator) transitionOnce(res *AdvanceResult) {
	switch cat := it.target.Thunks.Categorize(it.unadjustedPC()); cat {
	case thunk.ManagedCode:
		it.CalculateCurrentMethodState()
		mi := it.methodInfo
		mgr := it.codeManager
		newPC, ok := mgr.UnwindStackFrame(mi, it.regs, it.target.Memory)
		if !ok {
			fatalf("cannot unwind method %q at %#x", mi.Name, uint64(it.controlPC))
		}
		if mi.ReverseNativeCall {
			it.flags |= UnwoundReverseNativeCall
			res.UnwoundReverseNativeCall = true
		}
		it.setControlPC(newPC, true)
		it.exceptionallyInvoked = false

	case thunk.ThrowSite:
		it.unwindThrowSiteThunk()

	case thunk.FuncletInvoke:
		it.unwindFuncletInvokeThunk()

	case thunk.ManagedCallout:
		it.unwindManagedCalloutThunk()

	case thunk.CallDescr:
		it.unwindCallDescrThunk()

	case thunk.UniversalTransition:
		it.unwindUniversalTransitionThunk()

	default:
		fatalf("unhandled thunk category %v at %#x", cat, uint64(it.controlPC))
	}
}

// setControlPC installs a new control address and implicitly invalidates
// the cached method state.
func (it *Iterator) setControlPC(pc mem.Addr, isReturnAddress bool) {
	it.controlPC = pc
	it.pcIsReturnAddress = isReturnAddress
	it.pcAdjusted = false
	it.flags &^= MethodStateCalculated
	it.codeManager = nil
	it.methodInfo = nil
	it.codeOffset = 0
}

// applyReturnAddressAdjustment backs a freshly recovered return address up
// by one byte under exception-handling mode. Precise addresses (fault
// sites, throw sites, remapped safe points) are already inside the right
// region and are left alone.
func (it *Iterator) applyReturnAddressAdjustment() {
	if it.flags&ApplyReturnAddressAdjustment == 0 {
		return
	}
	if it.pcAdjusted || !it.pcIsReturnAddress || it.controlPC == 0 {
		return
	}
	it.controlPC = it.controlPC.Add(-1)
	it.pcAdjusted = true
}

// checkExCollision fires when the new frame's stack pointer has passed the
// next pending exception-info record. Superseded records are consumed
// silently; each live record collides at most once.
func (it *Iterator) checkExCollision(res *AdvanceResult) {
	for {
		rec := it.nextExInfo.Peek()
		if rec == nil || it.regs.SP < rec.SP {
			return
		}
		if rec.IsSuperseded() {
			it.nextExInfo.Consume()
			continue
		}
		it.handleExCollide(rec, res)
		return
	}
}

// handleExCollide merges the iterator's state with the dispatch context the
// exception subsystem recorded for the colliding frame, producing one
// consistent view. The collided record is consumed and the cursor resettled
// above the merged stack pointer, so the cursor never moves backward within
// a walk. Hardware-fault records are remapped to a GC safe point after the
// merge, before the frame is yielded.
func (it *Iterator) handleExCollide(rec *exinfo.Record, res *AdvanceResult) {
	if rec.Context == nil {
		fatalf("exception record at %#x has no dispatch context", uint64(rec.SP))
	}
	it.nextExInfo.Consume()
	rec.Context.Apply(it.regs)
	it.setControlPC(rec.Context.IP, false)
	it.exceptionallyInvoked = true
	it.flags |= ExCollide
	it.exCollideClauseIdx = rec.ClauseIndex
	res.ExCollision = true
	res.ExClauseIndex = rec.ClauseIndex
	it.nextExInfo.ResetForSP(it.regs.SP)

	// The merged context may have jumped past a pending funclet parent.
	if it.pendingFuncletFramePointer != 0 && it.regs.FP >= it.pendingFuncletFramePointer {
		it.pendingFuncletFramePointer = 0
	}

	if rec.IsHardwareFault() && it.flags&RemapHardwareFaultsToSafePoint != 0 {
		it.remapHardwareFaultToGCSafePoint()
	}
}

// remapHardwareFaultToGCSafePoint replaces a faulting instruction address
// with the safe point after the prologue of the nearest enclosing handler.
// A fault PC is not a point at which GC roots can be enumerated; the
// binder-inserted safe point is. Faults with no enclosing clause keep the
// faulting address: dispatch will leave the method entirely and the frame
// is about to die.
func (it *Iterator) remapHardwareFaultToGCSafePoint() {
	mgr, ok := it.target.Registry.ManagerFor(it.controlPC)
	if !ok {
		fatalf("hardware fault at non-managed address %#x", uint64(it.controlPC))
	}
	mi, ok := mgr.FindMethodInfo(it.controlPC)
	if !ok {
		fatalf("no method metadata for fault address %#x", uint64(it.controlPC))
	}
	off, ok := mgr.RemapToGCSafePoint(mi, mi.Offset(it.controlPC))
	if !ok {
		return
	}
	it.setControlPC(mi.Start.Add(int64(off)), false)
}

// shouldYield applies the funclet collapsing policy: while a funclet's
// parent activation is pending, its frames are skipped silently and the
// parent frame itself collapses into the callback already surfaced for the
// innermost funclet.
func (it *Iterator) shouldYield() bool {
	if it.flags&CollapseFunclets == 0 || it.pendingFuncletFramePointer == 0 {
		return true
	}
	fp := it.regs.FP
	switch {
	case fp < it.pendingFuncletFramePointer:
		return false
	case fp == it.pendingFuncletFramePointer:
		it.pendingFuncletFramePointer = 0
		return false
	default:
		fatalf("funclet collapsing passed parent frame %#x at %#x",
			uint64(it.pendingFuncletFramePointer), uint64(fp))
		return false
	}
}

// prepareToYieldFrame finalizes per-frame outputs before control returns to
// the caller.
func (it *Iterator) prepareToYieldFrame() {
	it.framePointer = it.regs.FP
	if it.thread.HijackFramePointer != 0 && it.thread.HijackFramePointer == it.regs.FP {
		it.hijackedReturnValue = it.thread.HijackedReturnValueLoc
		it.hijackedReturnValueKind = it.thread.HijackedReturnValueKind
	}
}

// ResetNextExInfoForSP repositions the exception-info cursor at the first
// record at or above sp. Used when a walk restarts from an arbitrary
// mid-stack context, where the monotonic top-to-bottom assumption no longer
// holds for records below the restart point.
func (it *Iterator) ResetNextExInfoForSP(sp mem.Addr) {
	it.nextExInfo.ResetForSP(sp)
}

// Thunk frame recoveries. Each trampoline saves a resume header (and its
// kind's extras) at a fixed offset from the stack pointer; the recovery
// routine restores the interrupted frame's state from it. A thunk address
// whose frame cannot be read means the classifier's ranges and the stack
// disagree, which is fatal.

func (it *Iterator) unwindThrowSiteThunk() {
	base := it.regs.SP
	ip, ok := readResumeHeader(it.target.Memory, base, it.regs)
	if !ok {
		fatalf("throw-site thunk frame unreadable at %#x", uint64(base))
	}
	// The resume address is the throw or fault site itself, not a return
	// address: the frame was not invoked by an ordinary call.
	it.setControlPC(ip, false)
	it.exceptionallyInvoked = true
}

func (it *Iterator) unwindFuncletInvokeThunk() {
	base := it.regs.SP
	arch := it.regs.Arch()
	parentFP, exceptional, ok := readFuncletInvokeExtras(it.target.Memory, base, arch)
	if !ok {
		fatalf("funclet-invoke thunk frame unreadable at %#x", uint64(base))
	}
	if it.funcletRegs == nil {
		it.funcletRegs = regdisplay.NewPreserved(arch)
	}
	for i := range it.funcletRegs.Slots {
		it.funcletRegs.Slots[i] = base.Add((savedRegsSlot + int64(i)) * mem.WordSize)
	}
	ip, ok := readResumeHeader(it.target.Memory, base, it.regs)
	if !ok {
		fatalf("funclet-invoke thunk frame unreadable at %#x", uint64(base))
	}
	it.setControlPC(ip, true)
	it.exceptionallyInvoked = exceptional
	if it.flags&CollapseFunclets != 0 {
		it.pendingFuncletFramePointer = parentFP
	}
}

func (it *Iterator) unwindManagedCalloutThunk() {
	base := it.regs.SP
	ip, ok := readResumeHeader(it.target.Memory, base, it.regs)
	if !ok {
		fatalf("managed-callout thunk frame unreadable at %#x", uint64(base))
	}
	it.setControlPC(ip, true)
	// The callout's argument layout is unknown to the type system; the
	// slice of stack between the thunk frame and the recovered caller is
	// scanned conservatively.
	it.publishConservativeRange(base, it.regs.SP)
}

func (it *Iterator) unwindCallDescrThunk() {
	base := it.regs.SP
	ip, ok := readResumeHeader(it.target.Memory, base, it.regs)
	if !ok {
		fatalf("call-descr thunk frame unreadable at %#x", uint64(base))
	}
	// The call site has full metadata; no conservative reporting needed.
	it.setControlPC(ip, true)
}

func (it *Iterator) unwindUniversalTransitionThunk() {
	base := it.regs.SP
	ip, ok := readResumeHeader(it.target.Memory, base, it.regs)
	if !ok {
		fatalf("universal-transition thunk frame unreadable at %#x", uint64(base))
	}
	it.setControlPC(ip, true)
	it.publishConservativeRange(base, it.regs.SP)
}

func (it *Iterator) publishConservativeRange(lo, hi mem.Addr) {
	if it.conservativeLo == 0 || lo < it.conservativeLo {
		it.conservativeLo = lo
	}
	if hi > it.conservativeHi {
		it.conservativeHi = hi
	}
}
