package regdisplay

import (
	"github.com/ferrovm/stackwalk-go/internal/mem"
)

// Context is a captured low-level register snapshot: the starting point for
// exception-dispatch walks, hijack inspection, and any walk that restarts
// mid-stack after a collided unwind. It is produced by the platform capture
// mechanism (or by the exception dispatcher, for collision contexts) and is
// read-only to the walker.
type Context struct {
	IP mem.Addr
	SP mem.Addr
	FP mem.Addr

	// Saved holds the callee-saved register values in Arch order.
	Saved []uint64
}

// Apply seeds the display from the captured snapshot. Register locations
// are cleared: the values come from the capture, not from stack slots.
func (c *Context) Apply(d *Display) {
	d.IP = c.IP
	d.SP = c.SP
	d.FP = c.FP
	n := copy(d.Values, c.Saved)
	for i := n; i < len(d.Values); i++ {
		d.Values[i] = 0
	}
	for i := range d.Locs {
		d.Locs[i] = 0
	}
}
