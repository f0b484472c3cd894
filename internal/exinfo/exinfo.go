// Package exinfo models the per-thread chain of in-flight exception records
// and the cursor a stack walk keeps into it. The chain is owned by the
// exception dispatcher; records live on the faulting thread's stack and are
// linked in ascending stack-address order, innermost exception first. The
// walker never allocates, frees or mutates records, it only advances a
// position marker toward higher addresses.
package exinfo

import (
	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
)

// Kind classifies how an exception entered flight.
type Kind uint8

const (
	// KindThrow marks an exception raised by an explicit throw.
	KindThrow Kind = 1
	// KindHardwareFault marks an exception raised by a hardware fault; its
	// dispatch context's IP is a faulting instruction, not a call site.
	KindHardwareFault Kind = 2
	// supersededFlag marks a record whose dispatch was taken over by a
	// newer exception; collisions with it are not reported.
	supersededFlag Kind = 8
)

// Record describes one exception currently being dispatched.
type Record struct {
	// SP is the stack address of the record itself, which orders the chain.
	SP mem.Addr
	// Kind is the exception kind, possibly with the superseded flag set.
	Kind Kind
	// ClauseIndex identifies the handler clause the dispatcher is running
	// for this exception; surfaced to the caller on a collided unwind.
	ClauseIndex uint32
	// Context is the dispatch context for the collided frame, merged into
	// the walk's register display when the walk crosses this record.
	Context *regdisplay.Context
	// Next is the next record, at a higher stack address, or nil.
	Next *Record
}

// IsHardwareFault reports whether the record came from a hardware fault.
func (r *Record) IsHardwareFault() bool {
	return r.Kind&KindHardwareFault != 0
}

// IsSuperseded reports whether a newer exception took over this dispatch.
func (r *Record) IsSuperseded() bool {
	return r.Kind&supersededFlag != 0
}

// Supersede marks the record as taken over. Called by the dispatcher, not
// by walks.
func (r *Record) Supersede() {
	r.Kind |= supersededFlag
}

// Cursor is a walk's non-owning position in a chain. It only ever moves
// toward higher stack addresses for the lifetime of one walk, except via
// ResetForSP when the walk restarts from an arbitrary mid-stack context.
type Cursor struct {
	next *Record
}

// NewCursor positions a cursor at the head of the chain (which may be nil).
func NewCursor(head *Record) Cursor {
	return Cursor{next: head}
}

// Peek returns the next pending record without consuming it.
func (c *Cursor) Peek() *Record {
	return c.next
}

// Consume advances past the current record. Each record is consumed at most
// once, which is what keeps collisions from being reported twice.
func (c *Cursor) Consume() {
	if c.next != nil {
		c.next = c.next.Next
	}
}

// ResetForSP walks the cursor forward to the first record at or above sp.
// Records strictly below sp can no longer collide with the walk: the walk
// restarted above them.
func (c *Cursor) ResetForSP(sp mem.Addr) {
	for c.next != nil && c.next.SP < sp {
		c.next = c.next.Next
	}
}
