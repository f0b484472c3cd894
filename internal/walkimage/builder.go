// Package walkimage builds synthetic runtime images: a code layout, a
// thunk layout, and a fully populated stack in a sparse memory buffer,
// wired into a Target and Thread ready to walk. The test suite constructs
// its scenarios through it, and recorded images decode into the same
// shape, so a walk cannot tell a replayed stack from a live one.
package walkimage

import (
	"fmt"

	"github.com/ferrovm/stackwalk-go/internal/codeman"
	"github.com/ferrovm/stackwalk-go/internal/exinfo"
	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
	"github.com/ferrovm/stackwalk-go/internal/thunk"
	"github.com/ferrovm/stackwalk-go/internal/walker"
)

// Synthetic address plan. Methods and thunks only need disjoint ranges;
// nothing reads code bytes, so only the stack is mapped.
const (
	codeBase  mem.Addr = 0x0000000000400000
	thunkBase mem.Addr = 0x0000000000700000
	stackBase mem.Addr = 0x00007f0000100000
	stackSize          = 1 << 16
)

// Frame is a handle to one pushed managed frame.
type Frame struct {
	Method *codeman.MethodInfo
	FP     mem.Addr
	SP     mem.Addr
}

// PC returns the address at code offset off inside the frame's method.
func (f Frame) PC(off uint32) mem.Addr {
	return f.Method.Start.Add(int64(off))
}

// Context captures the frame as a register snapshot with the control
// address at code offset off, the seed for exception and trace walks.
func (f Frame) Context(off uint32) *regdisplay.Context {
	return &regdisplay.Context{IP: f.PC(off), SP: f.SP, FP: f.FP}
}

// Builder assembles one image. Frames are pushed in physical order, root
// first, leaf last; the running cursor keeps them contiguous the way a
// real call chain lays them out.
type Builder struct {
	arch regdisplay.Arch
	buf  *mem.Buffer

	stackLo mem.Addr
	stackHi mem.Addr
	sp      mem.Addr
	chainFP mem.Addr

	nextCode  mem.Addr
	nextThunk mem.Addr
	methods   []*codeman.MethodInfo
	thunks    []thunk.Descriptor

	exHead *exinfo.Record
	exTail *exinfo.Record

	hijackFP      mem.Addr
	hijackRetLoc  mem.Addr
	hijackRetKind codeman.GCRefKind
}

// NewBuilder starts an empty image for arch.
func NewBuilder(arch regdisplay.Arch) *Builder {
	buf := mem.NewBuffer()
	buf.Map(stackBase, stackSize)
	return &Builder{
		arch:      arch,
		buf:       buf,
		stackLo:   stackBase,
		stackHi:   stackBase.Add(stackSize),
		sp:        stackBase.Add(stackSize),
		nextCode:  codeBase,
		nextThunk: thunkBase,
	}
}

// Memory exposes the image's address space, for tests that patch slots.
func (b *Builder) Memory() *mem.Buffer {
	return b.buf
}

// MethodOption customizes an AddMethod entry.
type MethodOption func(*codeman.MethodInfo)

// Funclet marks the method as a handler or filter funclet.
func Funclet() MethodOption {
	return func(mi *codeman.MethodInfo) { mi.IsFunclet = true }
}

// ReverseNativeCall marks the method as entered from unmanaged code.
func ReverseNativeCall() MethodOption {
	return func(mi *codeman.MethodInfo) { mi.ReverseNativeCall = true }
}

// WithClauses attaches protected-region clauses.
func WithClauses(cs ...codeman.EHClause) MethodOption {
	return func(mi *codeman.MethodInfo) { mi.EHClauses = cs }
}

// WithGCSlots attaches the method's GC reference slots.
func WithGCSlots(slots ...codeman.GCSlot) MethodOption {
	return func(mi *codeman.MethodInfo) { mi.GCSlots = slots }
}

// FramelessUnwind replaces the default frame-chain unwind with a
// fixed-size frameless pop.
func FramelessUnwind(frameSize uint32) MethodOption {
	return func(mi *codeman.MethodInfo) {
		mi.SetUnwindProgram(codeman.Program(nil).Frameless(frameSize))
	}
}

// AddMethod allocates a code range of size bytes and registers a method
// there. The default unwind program is the frame-pointer chain pop.
func (b *Builder) AddMethod(name string, size uint32, opts ...MethodOption) *codeman.MethodInfo {
	mi := &codeman.MethodInfo{Name: name, Start: b.nextCode, Size: size}
	mi.SetUnwindProgram(codeman.Program(nil).FrameChain())
	for _, opt := range opts {
		opt(mi)
	}
	b.nextCode = b.nextCode.Add(int64(size))
	b.methods = append(b.methods, mi)
	return mi
}

// AddThunk allocates a code range for one transition trampoline.
func (b *Builder) AddThunk(name string, kind thunk.Kind, size uint32) thunk.Descriptor {
	d := thunk.Descriptor{Name: name, Kind: kind, Start: b.nextThunk, End: b.nextThunk.Add(int64(size))}
	b.nextThunk = d.End
	b.thunks = append(b.thunks, d)
	return d
}

func (b *Builder) pushWord(v uint64) mem.Addr {
	b.sp = b.sp.Add(-mem.WordSize)
	if b.sp < b.stackLo {
		panic("walkimage: stack overflow while building image")
	}
	b.buf.WriteWord(b.sp, v)
	return b.sp
}

// PushManagedFrame pushes a frame for mi whose return address is returnPC
// and that keeps localWords words of locals below its frame pointer. The
// saved-FP slot chains to the previously pushed managed frame; a zero
// returnPC makes this the chain's root.
func (b *Builder) PushManagedFrame(mi *codeman.MethodInfo, returnPC mem.Addr, localWords int) Frame {
	b.pushWord(uint64(returnPC))
	fp := b.pushWord(uint64(b.chainFP))
	for i := 0; i < localWords; i++ {
		b.pushWord(0)
	}
	b.chainFP = fp
	f := Frame{Method: mi, FP: fp, SP: b.sp}
	return f
}

// WriteLocal stores v in the frame's local slot idx, counting down from
// the frame pointer. Locals double as GC slots in the scenarios, addressed
// SP-relative by the slot tables.
func (b *Builder) WriteLocal(f Frame, idx int, v uint64) mem.Addr {
	loc := f.FP.Add(-int64(idx+1) * mem.WordSize)
	b.buf.WriteWord(loc, v)
	return loc
}

// pushResumeHeader lays down the common resume header with the extras
// already pushed above it, and returns the header base.
func (b *Builder) pushResumeHeader(resumeIP, resumeFP, resumeSP mem.Addr) mem.Addr {
	for i := 0; i < b.arch.NumCalleeSaved(); i++ {
		b.pushWord(0)
	}
	b.pushWord(uint64(resumeSP))
	b.pushWord(uint64(resumeFP))
	return b.pushWord(uint64(resumeIP))
}

// PushThunkFrame pushes the frame a non-funclet-invoke trampoline saves:
// the resume header recovering the frame below it. It starts a new FP
// chain for the frames pushed after it.
func (b *Builder) PushThunkFrame(resumeIP mem.Addr, resume Frame) mem.Addr {
	base := b.pushResumeHeader(resumeIP, resume.FP, resume.SP)
	b.chainFP = 0
	return base
}

// PushFuncletInvokeFrame pushes the funclet-invoke trampoline's frame:
// the resume header plus the parent activation pointer and invoke flags.
func (b *Builder) PushFuncletInvokeFrame(
	resumeIP mem.Addr,
	resume Frame,
	parentFP mem.Addr,
	exceptional bool,
) mem.Addr {
	var flags uint64
	if exceptional {
		flags = 1
	}
	b.pushWord(flags)
	b.pushWord(uint64(parentFP))
	base := b.pushResumeHeader(resumeIP, resume.FP, resume.SP)
	b.chainFP = 0
	return base
}

// PushTransitionFrame pushes a managed-to-runtime transition frame
// recovering resume, and returns its base for seeding a GC walk.
func (b *Builder) PushTransitionFrame(resumeIP mem.Addr, resume Frame) mem.Addr {
	base := b.pushResumeHeader(resumeIP, resume.FP, resume.SP)
	b.chainFP = 0
	return base
}

// AddExRecord appends one exception record to the thread's chain. Records
// must be added innermost first, in ascending stack-address order.
func (b *Builder) AddExRecord(sp mem.Addr, kind exinfo.Kind, clause uint32, ctx *regdisplay.Context) *exinfo.Record {
	rec := &exinfo.Record{SP: sp, Kind: kind, ClauseIndex: clause, Context: ctx}
	if b.exTail != nil {
		if sp < b.exTail.SP {
			panic(fmt.Sprintf("walkimage: exception record at %#x below previous at %#x",
				uint64(sp), uint64(b.exTail.SP)))
		}
		b.exTail.Next = rec
	} else {
		b.exHead = rec
	}
	b.exTail = rec
	return rec
}

// SetHijack records an outstanding return-address hijack on the imaged
// thread.
func (b *Builder) SetHijack(fp, retLoc mem.Addr, kind codeman.GCRefKind) {
	b.hijackFP = fp
	b.hijackRetLoc = retLoc
	b.hijackRetKind = kind
}

// Build wires the image into a walkable Target and Thread.
func (b *Builder) Build() (*walker.Target, *walker.Thread, error) {
	var modules []codeman.Module
	if len(b.methods) > 0 {
		mgr, err := codeman.NewTableManager("image", b.methods...)
		if err != nil {
			return nil, nil, fmt.Errorf("building method table: %w", err)
		}
		modules = append(modules, codeman.Module{
			Name:    "image",
			Start:   codeBase,
			End:     b.nextCode,
			Manager: mgr,
		})
	}
	registry, err := codeman.NewRegistry(modules...)
	if err != nil {
		return nil, nil, fmt.Errorf("building module registry: %w", err)
	}
	thunks, err := thunk.NewRegistry(b.thunks...)
	if err != nil {
		return nil, nil, fmt.Errorf("building thunk registry: %w", err)
	}
	target := &walker.Target{
		Memory:   b.buf,
		Registry: registry,
		Thunks:   thunks,
		Arch:     b.arch,
	}
	thread := &walker.Thread{
		StackLo:                 b.stackLo,
		StackHi:                 b.stackHi,
		ExInfoHead:              b.exHead,
		HijackFramePointer:      b.hijackFP,
		HijackedReturnValueLoc:  b.hijackRetLoc,
		HijackedReturnValueKind: b.hijackRetKind,
	}
	return target, thread, nil
}
