package walker

import (
	"fmt"

	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
)

// Fixed stack layouts written by the hand-written transition glue. Offsets
// are in words from the frame base. Every transition and thunk frame starts
// with the same resume header so the recovery routines share one reader.
//
//	word 0            resume IP (control address in the recovered frame)
//	word 1            resume FP
//	word 2            resume SP
//	word 3..3+N-1     callee-saved registers, arch order
//
// Per-kind extras follow the header:
//
//	funclet invoke    word 3+N: parent activation frame pointer
//	                  word 3+N+1: invoke flags (bit 0 = exceptional invoke)
const (
	resumeIPSlot  = 0
	resumeFPSlot  = 1
	resumeSPSlot  = 2
	savedRegsSlot = 3
)

const funcletInvokeExceptional = 1

// resumeHeaderWords returns the size in words of the common resume header.
func resumeHeaderWords(arch regdisplay.Arch) int64 {
	return savedRegsSlot + int64(arch.NumCalleeSaved())
}

// TransitionFrameSize returns the byte size of a managed-to-runtime
// transition frame for arch. The glue that builds these frames asserts
// against it.
func TransitionFrameSize(arch regdisplay.Arch) int64 {
	return resumeHeaderWords(arch) * mem.WordSize
}

// FuncletInvokeFrameSize returns the byte size of the funclet-invoke thunk
// frame for arch.
func FuncletInvokeFrameSize(arch regdisplay.Arch) int64 {
	return (resumeHeaderWords(arch) + 2) * mem.WordSize
}

// readResumeHeader restores the display from the resume header at base.
// Register locations point at the frame's save slots so the GC can update
// preserved registers in place.
func readResumeHeader(m mem.Memory, base mem.Addr, d *regdisplay.Display) (ip mem.Addr, ok bool) {
	ip, ok = mem.ReadAddr(m, base.Add(resumeIPSlot*mem.WordSize))
	if !ok {
		return 0, false
	}
	fp, ok := mem.ReadAddr(m, base.Add(resumeFPSlot*mem.WordSize))
	if !ok {
		return 0, false
	}
	sp, ok := mem.ReadAddr(m, base.Add(resumeSPSlot*mem.WordSize))
	if !ok {
		return 0, false
	}
	for i := 0; i < d.Arch().NumCalleeSaved(); i++ {
		loc := base.Add((savedRegsSlot + int64(i)) * mem.WordSize)
		v, ok := mem.ReadWord(m, loc)
		if !ok {
			return 0, false
		}
		d.SetReg(i, v, loc)
	}
	d.IP = ip
	d.FP = fp
	d.SP = sp
	return ip, true
}

// readFuncletInvokeExtras reads the collapsing extras of a funclet-invoke
// thunk frame.
func readFuncletInvokeExtras(
	m mem.Memory,
	base mem.Addr,
	arch regdisplay.Arch,
) (parentFP mem.Addr, exceptional bool, ok bool) {
	extra := base.Add(resumeHeaderWords(arch) * mem.WordSize)
	parentFP, ok = mem.ReadAddr(m, extra)
	if !ok {
		return 0, false, false
	}
	flags, ok := mem.ReadWord(m, extra.Add(mem.WordSize))
	if !ok {
		return 0, false, false
	}
	return parentFP, flags&funcletInvokeExceptional != 0, true
}

// fatalf reports an internal-consistency violation. An incorrect walk would
// corrupt GC or exception handling, so these halt instead of degrading.
func fatalf(format string, args ...any) {
	panic(fmt.Sprintf("stackwalk: internal consistency violation: "+format, args...))
}
