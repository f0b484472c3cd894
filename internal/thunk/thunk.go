// Package thunk recognizes control addresses that fall inside the runtime's
// hand-written transition trampolines. These trampolines bridge managed and
// unmanaged code and carry no per-method metadata, so the walker cannot ask
// a code manager about them; instead each one has a fixed code range and a
// dedicated frame-recovery routine. The registry is a table of named
// descriptors so that adding or removing a trampoline kind stays a local
// change.
package thunk

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/ferrovm/stackwalk-go/internal/mem"
)

// Kind categorizes an unadjusted control address.
type Kind uint8

const (
	// ManagedCode is ordinary generated code: not a thunk at all.
	ManagedCode Kind = iota
	// ThrowSite is the thunk that raises an exception; frames above it were
	// invoked exceptionally rather than by an ordinary call.
	ThrowSite
	// FuncletInvoke is the shim that calls a handler or filter funclet on
	// behalf of the dispatcher.
	FuncletInvoke
	// ManagedCallout is the thunk the runtime uses to call back into
	// managed code from within runtime code.
	ManagedCallout
	// CallDescr is the thunk that invokes an arbitrary-signature managed
	// method from ordinary managed code.
	CallDescr
	// UniversalTransition is the thunk for generic dispatch of an arbitrary
	// managed call with unknown signature.
	UniversalTransition
)

func (k Kind) String() string {
	switch k {
	case ManagedCode:
		return "managed"
	case ThrowSite:
		return "throw-site"
	case FuncletInvoke:
		return "funclet-invoke"
	case ManagedCallout:
		return "managed-callout"
	case CallDescr:
		return "call-descr"
	case UniversalTransition:
		return "universal-transition"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// PublishesConservativeRange reports whether frames recovered past this
// thunk must be reported with a conservative stack range. Only the two
// thunks that cross a boundary with no static signature metadata qualify.
func (k Kind) PublishesConservativeRange() bool {
	return k == ManagedCallout || k == UniversalTransition
}

// IsExceptionRelated reports whether the thunk participates in exception
// dispatch rather than ordinary call bridging.
func (k Kind) IsExceptionRelated() bool {
	return k == ThrowSite || k == FuncletInvoke
}

// Descriptor names one trampoline's fixed code range.
type Descriptor struct {
	Name  string
	Kind  Kind
	Start mem.Addr // inclusive
	End   mem.Addr // exclusive
}

// Contains reports whether pc falls inside the trampoline.
func (d Descriptor) Contains(pc mem.Addr) bool {
	return pc >= d.Start && pc < d.End
}

// Registry is the set of trampoline ranges for one runtime instance. It is
// immutable after construction and safe for concurrent lookups.
type Registry struct {
	descs []Descriptor
}

// NewRegistry builds a registry from descriptors. Ranges must be non-empty
// and non-overlapping.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	sorted := slices.Clone(descs)
	slices.SortFunc(sorted, func(a, b Descriptor) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
	for i, d := range sorted {
		if d.End <= d.Start {
			return nil, fmt.Errorf("thunk %q: empty range [%#x, %#x)", d.Name, uint64(d.Start), uint64(d.End))
		}
		if d.Kind == ManagedCode {
			return nil, fmt.Errorf("thunk %q: ManagedCode is not a registrable kind", d.Name)
		}
		if i > 0 && sorted[i-1].End > d.Start {
			return nil, fmt.Errorf("thunk %q overlaps %q", d.Name, sorted[i-1].Name)
		}
	}
	return &Registry{descs: sorted}, nil
}

// Categorize classifies an unadjusted control address. Addresses outside
// every registered range are ordinary managed code as far as this table is
// concerned; whether a code manager actually owns them is a separate
// question. Classification is a pure function with no side effects.
func (r *Registry) Categorize(pc mem.Addr) Kind {
	if d, ok := r.Find(pc); ok {
		return d.Kind
	}
	return ManagedCode
}

// Find returns the descriptor containing pc, if any.
func (r *Registry) Find(pc mem.Addr) (Descriptor, bool) {
	i, _ := slices.BinarySearchFunc(r.descs, pc, func(d Descriptor, a mem.Addr) int {
		switch {
		case d.Start <= a:
			return -1
		default:
			return 1
		}
	})
	// i is the number of descriptors starting at or below pc; the candidate
	// is the last of them.
	if i > 0 && r.descs[i-1].Contains(pc) {
		return r.descs[i-1], true
	}
	return Descriptor{}, false
}
