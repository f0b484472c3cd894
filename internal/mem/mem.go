// Package mem provides the possibly-remote address type used throughout the
// stack walker and the checked-dereference capability for reading the walked
// thread's stack and transition frames. Walks over a suspended thread in the
// same process read memory directly; walks over a recorded stack image read
// from a sparse buffer instead. All of the frame-recovery logic is written
// against the Memory interface so it never needs to know which one it has.
package mem

import (
	"encoding/binary"
)

// Addr is a possibly-remote address. It is never dereferenced directly;
// reads go through a Memory implementation so that a bad address shows up
// as a failed read rather than a crash.
type Addr uint64

// WordSize is the size of a stack slot and of every saved register.
const WordSize = 8

// Add returns the address n bytes above a.
func (a Addr) Add(n int64) Addr {
	return Addr(uint64(a) + uint64(n))
}

// Memory grants checked read access to the walked thread's address space.
type Memory interface {
	// Dereference reads byteLen bytes at ptr into dst. It reports whether
	// the read succeeded; on failure dst is unspecified.
	Dereference(dst []byte, ptr Addr, byteLen int) bool
}

// ReadWord reads one pointer-sized little-endian word at a.
func ReadWord(m Memory, a Addr) (uint64, bool) {
	var buf [WordSize]byte
	if !m.Dereference(buf[:], a, WordSize) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}

// ReadAddr reads one word at a and interprets it as an address.
func ReadAddr(m Memory, a Addr) (Addr, bool) {
	v, ok := ReadWord(m, a)
	return Addr(v), ok
}
