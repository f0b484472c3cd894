package walkimage

import (
	"fmt"

	"github.com/ferrovm/stackwalk-go/internal/codeman"
	"github.com/ferrovm/stackwalk-go/internal/exinfo"
	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
	"github.com/ferrovm/stackwalk-go/internal/thunk"
	"github.com/ferrovm/stackwalk-go/internal/tracepb"
	"github.com/ferrovm/stackwalk-go/internal/walker"
)

// Seed is the walk starting point recorded alongside an image.
type Seed struct {
	Mode tracepb.WalkMode
	// Context seeds trace, exception and hijack walks.
	Context *regdisplay.Context
	// TransitionFrame seeds GC walks.
	TransitionFrame mem.Addr
}

// Decoded is a deserialized image wired back into walkable form.
type Decoded struct {
	Target *walker.Target
	Thread *walker.Thread
	Seed   Seed
}

// NewIterator starts the walk the image's seed describes.
func (d *Decoded) NewIterator() (*walker.Iterator, bool, error) {
	switch d.Seed.Mode {
	case tracepb.ModeGC:
		if d.Seed.TransitionFrame == 0 {
			return nil, false, fmt.Errorf("gc-mode image has no transition frame")
		}
		it, ok := walker.NewGCWalk(d.Target, d.Thread, d.Seed.TransitionFrame)
		return it, ok, nil
	case tracepb.ModeException:
		if d.Seed.Context == nil {
			return nil, false, fmt.Errorf("exception-mode image has no context")
		}
		it, ok := walker.NewExceptionWalk(d.Target, d.Thread, d.Seed.Context)
		return it, ok, nil
	case tracepb.ModeHijack:
		if d.Seed.Context == nil {
			return nil, false, fmt.Errorf("hijack-mode image has no context")
		}
		it, ok := walker.NewHijackWalk(d.Target, d.Thread, d.Seed.Context)
		return it, ok, nil
	case tracepb.ModeTrace:
		if d.Seed.Context == nil {
			return nil, false, fmt.Errorf("trace-mode image has no context")
		}
		it, ok := walker.NewTraceWalk(d.Target, d.Thread, d.Seed.Context)
		return it, ok, nil
	default:
		return nil, false, fmt.Errorf("unknown walk mode %v", d.Seed.Mode)
	}
}

func contextToProto(c *regdisplay.Context) *tracepb.Context {
	if c == nil {
		return nil
	}
	return &tracepb.Context{
		IP:    uint64(c.IP),
		SP:    uint64(c.SP),
		FP:    uint64(c.FP),
		Saved: append([]uint64(nil), c.Saved...),
	}
}

func contextFromProto(c *tracepb.Context) *regdisplay.Context {
	if c == nil {
		return nil
	}
	return &regdisplay.Context{
		IP:    mem.Addr(c.IP),
		SP:    mem.Addr(c.SP),
		FP:    mem.Addr(c.FP),
		Saved: append([]uint64(nil), c.Saved...),
	}
}

// Image serializes the built state together with its walk seed.
func (b *Builder) Image(seed Seed) *tracepb.StackImage {
	img := &tracepb.StackImage{
		Arch:            b.arch.Name,
		StackLo:         uint64(b.stackLo),
		StackHi:         uint64(b.stackHi),
		Context:         contextToProto(seed.Context),
		TransitionFrame: uint64(seed.TransitionFrame),
		Mode:            seed.Mode,
		HijackFP:        uint64(b.hijackFP),
		HijackRetLoc:    uint64(b.hijackRetLoc),
		HijackRetKind:   uint32(b.hijackRetKind),
	}
	for _, r := range b.buf.Regions() {
		img.Regions = append(img.Regions, &tracepb.Region{
			Base: uint64(r.Base),
			Data: append([]byte(nil), r.Data...),
		})
	}
	for _, mi := range b.methods {
		pm := &tracepb.Method{
			Name:              mi.Name,
			Start:             uint64(mi.Start),
			Size:              mi.Size,
			IsFunclet:         mi.IsFunclet,
			ReverseNativeCall: mi.ReverseNativeCall,
			Unwind:            mi.UnwindProgram(),
		}
		for _, c := range mi.EHClauses {
			pm.Clauses = append(pm.Clauses, &tracepb.EHClause{
				TryStart:        c.TryStart,
				TryEnd:          c.TryEnd,
				HandlerStart:    c.HandlerStart,
				SafePointOffset: c.SafePointOffset,
			})
		}
		for _, s := range mi.GCSlots {
			pm.GCSlots = append(pm.GCSlots, &tracepb.GCSlot{
				SPOffset: s.SPOffset,
				Kind:     uint32(s.Kind),
			})
		}
		img.Methods = append(img.Methods, pm)
	}
	for _, t := range b.thunks {
		img.Thunks = append(img.Thunks, &tracepb.Thunk{
			Name:  t.Name,
			Kind:  uint32(t.Kind),
			Start: uint64(t.Start),
			End:   uint64(t.End),
		})
	}
	for rec := b.exHead; rec != nil; rec = rec.Next {
		img.ExRecords = append(img.ExRecords, &tracepb.ExRecord{
			SP:          uint64(rec.SP),
			Kind:        uint32(rec.Kind),
			ClauseIndex: rec.ClauseIndex,
			Context:     contextToProto(rec.Context),
		})
	}
	return img
}

func archByName(name string) (regdisplay.Arch, error) {
	switch name {
	case "amd64":
		return regdisplay.AMD64(), nil
	case "arm64":
		return regdisplay.ARM64(), nil
	default:
		return regdisplay.Arch{}, fmt.Errorf("unknown architecture %q", name)
	}
}

// Decode rebuilds walkable state from a serialized image.
func Decode(img *tracepb.StackImage) (*Decoded, error) {
	arch, err := archByName(img.Arch)
	if err != nil {
		return nil, err
	}

	buf := mem.NewBuffer()
	for _, r := range img.Regions {
		buf.Map(mem.Addr(r.Base), len(r.Data))
		buf.WriteBytes(mem.Addr(r.Base), r.Data)
	}

	var modules []codeman.Module
	if len(img.Methods) > 0 {
		methods := make([]*codeman.MethodInfo, 0, len(img.Methods))
		lo, hi := mem.Addr(0), mem.Addr(0)
		for _, pm := range img.Methods {
			mi := &codeman.MethodInfo{
				Name:              pm.Name,
				Start:             mem.Addr(pm.Start),
				Size:              pm.Size,
				IsFunclet:         pm.IsFunclet,
				ReverseNativeCall: pm.ReverseNativeCall,
			}
			mi.SetUnwindProgram(codeman.Program(pm.Unwind))
			for _, c := range pm.Clauses {
				mi.EHClauses = append(mi.EHClauses, codeman.EHClause{
					TryStart:        c.TryStart,
					TryEnd:          c.TryEnd,
					HandlerStart:    c.HandlerStart,
					SafePointOffset: c.SafePointOffset,
				})
			}
			for _, s := range pm.GCSlots {
				mi.GCSlots = append(mi.GCSlots, codeman.GCSlot{
					SPOffset: s.SPOffset,
					Kind:     codeman.GCRefKind(s.Kind),
				})
			}
			end := mi.Start.Add(int64(mi.Size))
			if lo == 0 || mi.Start < lo {
				lo = mi.Start
			}
			if end > hi {
				hi = end
			}
			methods = append(methods, mi)
		}
		mgr, err := codeman.NewTableManager("image", methods...)
		if err != nil {
			return nil, fmt.Errorf("decoding method table: %w", err)
		}
		modules = append(modules, codeman.Module{Name: "image", Start: lo, End: hi, Manager: mgr})
	}
	registry, err := codeman.NewRegistry(modules...)
	if err != nil {
		return nil, fmt.Errorf("decoding module registry: %w", err)
	}

	descs := make([]thunk.Descriptor, 0, len(img.Thunks))
	for _, t := range img.Thunks {
		descs = append(descs, thunk.Descriptor{
			Name:  t.Name,
			Kind:  thunk.Kind(t.Kind),
			Start: mem.Addr(t.Start),
			End:   mem.Addr(t.End),
		})
	}
	thunks, err := thunk.NewRegistry(descs...)
	if err != nil {
		return nil, fmt.Errorf("decoding thunk registry: %w", err)
	}

	var head, tail *exinfo.Record
	for _, pr := range img.ExRecords {
		rec := &exinfo.Record{
			SP:          mem.Addr(pr.SP),
			Kind:        exinfo.Kind(pr.Kind),
			ClauseIndex: pr.ClauseIndex,
			Context:     contextFromProto(pr.Context),
		}
		if tail != nil {
			if rec.SP < tail.SP {
				return nil, fmt.Errorf("exception records out of order: %#x after %#x",
					rec.SP, tail.SP)
			}
			tail.Next = rec
		} else {
			head = rec
		}
		tail = rec
	}

	return &Decoded{
		Target: &walker.Target{
			Memory:   buf,
			Registry: registry,
			Thunks:   thunks,
			Arch:     arch,
		},
		Thread: &walker.Thread{
			StackLo:                 mem.Addr(img.StackLo),
			StackHi:                 mem.Addr(img.StackHi),
			ExInfoHead:              head,
			HijackFramePointer:      mem.Addr(img.HijackFP),
			HijackedReturnValueLoc:  mem.Addr(img.HijackRetLoc),
			HijackedReturnValueKind: codeman.GCRefKind(img.HijackRetKind),
		},
		Seed: Seed{
			Mode:            img.Mode,
			Context:         contextFromProto(img.Context),
			TransitionFrame: mem.Addr(img.TransitionFrame),
		},
	}, nil
}
