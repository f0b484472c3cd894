package mem

import (
	"encoding/binary"

	"golang.org/x/exp/slices"
)

// Buffer is a sparse Memory backed by ordinary byte slices. It backs walks
// over recorded stack images and the synthetic stacks built by tests.
type Buffer struct {
	segments []segment // sorted by base, non-overlapping
}

type segment struct {
	base Addr
	data []byte
}

var _ Memory = (*Buffer)(nil)

// NewBuffer returns an empty buffer. Every address is unmapped until a
// region is added with Map.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Map adds a zero-filled region of size bytes at base. Mapping a region
// that overlaps an existing one panics; images are built once, up front.
func (b *Buffer) Map(base Addr, size int) {
	i, _ := slices.BinarySearchFunc(b.segments, base, func(s segment, a Addr) int {
		switch {
		case s.base < a:
			return -1
		case s.base > a:
			return 1
		default:
			return 0
		}
	})
	if i > 0 && b.segments[i-1].base.Add(int64(len(b.segments[i-1].data))) > base {
		panic("mem: overlapping Map")
	}
	if i < len(b.segments) && base.Add(int64(size)) > b.segments[i].base {
		panic("mem: overlapping Map")
	}
	b.segments = slices.Insert(b.segments, i, segment{base: base, data: make([]byte, size)})
}

func (b *Buffer) find(a Addr) (seg *segment, off int) {
	for i := range b.segments {
		s := &b.segments[i]
		if a >= s.base && a < s.base.Add(int64(len(s.data))) {
			return s, int(uint64(a) - uint64(s.base))
		}
	}
	return nil, 0
}

// Dereference implements Memory.
func (b *Buffer) Dereference(dst []byte, ptr Addr, byteLen int) bool {
	if len(dst) < byteLen {
		return false
	}
	s, off := b.find(ptr)
	if s == nil || off+byteLen > len(s.data) {
		return false
	}
	copy(dst, s.data[off:off+byteLen])
	return true
}

// Region is one mapped range of a Buffer, exposed for serialization.
type Region struct {
	Base Addr
	Data []byte
}

// Regions returns the mapped regions in ascending address order. The data
// slices alias the buffer; callers serialize them, they do not keep them.
func (b *Buffer) Regions() []Region {
	out := make([]Region, len(b.segments))
	for i, s := range b.segments {
		out[i] = Region{Base: s.base, Data: s.data}
	}
	return out
}

// WriteWord stores one little-endian word at a. The address must be mapped.
func (b *Buffer) WriteWord(a Addr, v uint64) {
	s, off := b.find(a)
	if s == nil || off+WordSize > len(s.data) {
		panic("mem: WriteWord to unmapped address")
	}
	binary.LittleEndian.PutUint64(s.data[off:], v)
}

// WriteBytes stores p at a. The address range must be mapped.
func (b *Buffer) WriteBytes(a Addr, p []byte) {
	s, off := b.find(a)
	if s == nil || off+len(p) > len(s.data) {
		panic("mem: WriteBytes to unmapped address")
	}
	copy(s.data[off:], p)
}
