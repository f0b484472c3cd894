package mem

import (
	"unsafe"
)

// InProcess reads the current process's own memory. It is only safe to use
// on addresses that are known to be mapped, i.e. the stack of a thread that
// is suspended for the duration of the walk.
type InProcess struct{}

var _ Memory = InProcess{}

// Dereference implements Memory.
//
//go:noinline
func (InProcess) Dereference(dst []byte, ptr Addr, byteLen int) bool {
	// unsafe.Slice panics on a nil pointer or a range that wraps.
	if ptr == 0 {
		return false
	}
	if uint64(ptr)+uint64(byteLen) < uint64(ptr) {
		return false
	}
	if len(dst) < byteLen {
		return false
	}
	copy(dst, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), byteLen))
	return true
}
