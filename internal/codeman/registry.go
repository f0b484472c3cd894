package codeman

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/ferrovm/stackwalk-go/internal/mem"
)

// Module is one contiguous range of generated code and the manager that can
// decode it.
type Module struct {
	Name    string
	Start   mem.Addr // inclusive
	End     mem.Addr // exclusive
	Manager Manager
}

// Registry maps control addresses to the code manager governing them. It is
// the runtime-instance view of loaded modules: immutable after construction
// and safe for concurrent lookups from any walk.
type Registry struct {
	modules []Module
}

// NewRegistry builds a registry. Module ranges must be non-empty and
// non-overlapping.
func NewRegistry(modules ...Module) (*Registry, error) {
	sorted := slices.Clone(modules)
	slices.SortFunc(sorted, func(a, b Module) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
	for i, m := range sorted {
		if m.End <= m.Start {
			return nil, fmt.Errorf("module %q: empty range [%#x, %#x)", m.Name, uint64(m.Start), uint64(m.End))
		}
		if m.Manager == nil {
			return nil, fmt.Errorf("module %q: nil manager", m.Name)
		}
		if i > 0 && sorted[i-1].End > m.Start {
			return nil, fmt.Errorf("module %q overlaps %q", m.Name, sorted[i-1].Name)
		}
	}
	return &Registry{modules: sorted}, nil
}

// ManagerFor returns the manager owning pc, if any.
func (r *Registry) ManagerFor(pc mem.Addr) (Manager, bool) {
	i, _ := slices.BinarySearchFunc(r.modules, pc, func(m Module, a mem.Addr) int {
		if m.Start <= a {
			return -1
		}
		return 1
	})
	if i > 0 && pc < r.modules[i-1].End {
		return r.modules[i-1].Manager, true
	}
	return nil, false
}
