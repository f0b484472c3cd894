package main

import (
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
	"github.com/ferrovm/stackwalk-go/internal/thunk"
	"github.com/ferrovm/stackwalk-go/internal/tracepb"
	"github.com/ferrovm/stackwalk-go/internal/walkimage"
)

// demoImage builds a small three-frame stack with a managed callout in the
// middle, enough to show frames, offsets and a conservative range.
func demoImage() ([]byte, error) {
	b := walkimage.NewBuilder(regdisplay.AMD64())
	callout := b.AddThunk("callout", thunk.ManagedCallout, 64)

	mainM := b.AddMethod("app.Main", 0x200)
	procM := b.AddMethod("app.ProcessRequest", 0x180)
	parseM := b.AddMethod("app.ParseHeader", 0x100)

	mainF := b.PushManagedFrame(mainM, 0, 2)
	procF := b.PushManagedFrame(procM, mainF.PC(0x64), 2)
	b.PushThunkFrame(procF.PC(0x40), procF)
	parseF := b.PushManagedFrame(parseM, callout.Start.Add(8), 1)

	seed := walkimage.Seed{Mode: tracepb.ModeTrace, Context: parseF.Context(0x24)}
	return b.Image(seed).MarshalBinary()
}
