// Package capturelog keeps a bounded in-memory history of walk captures.
// Appends are cheap and steady-state allocation-free: storage is a linked
// list of small ring-buffer nodes recycled through a free list, so a
// long-running trace service churns through captures without growing.
package capturelog

import "sync"

const nodeSize = 64

// Log is a bounded FIFO history. Once capacity is reached, appending
// evicts the oldest entry. Safe for concurrent use.
type Log[T any] struct {
	mu       sync.Mutex
	capacity int
	len      int
	head     *node[T]
	tail     *node[T]
	free     *node[T]
}

type node[T any] struct {
	buf       [nodeSize]T
	head, len int32
	next      *node[T]
}

// New builds a log retaining at most capacity entries. Capacity must be
// positive.
func New[T any](capacity int) *Log[T] {
	if capacity <= 0 {
		panic("capturelog: capacity must be positive")
	}
	return &Log[T]{capacity: capacity}
}

// Len returns the number of retained entries.
func (l *Log[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.len
}

// Append records t, evicting the oldest entry if the log is full.
func (l *Log[T]) Append(t T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.len == l.capacity {
		l.popFront()
	}
	if l.tail == nil {
		l.head = l.getNode()
		l.tail = l.head
	} else if l.tail.len == nodeSize {
		n := l.getNode()
		l.tail.next = n
		l.tail = n
	}
	l.tail.push(t)
	l.len++
}

// Snapshot returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (l *Log[T]) Snapshot(limit int) []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.len
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	// Collect oldest-first, then take the newest n reversed.
	all := make([]T, 0, l.len)
	for nd := l.head; nd != nil; nd = nd.next {
		for i := int32(0); i < nd.len; i++ {
			all = append(all, nd.buf[(nd.head+i)%nodeSize])
		}
	}
	for i := len(all) - 1; i >= len(all)-n; i-- {
		out = append(out, all[i])
	}
	return out
}

func (l *Log[T]) popFront() {
	var zero T
	l.head.buf[l.head.head] = zero
	l.head.head = (l.head.head + 1) % nodeSize
	l.head.len--
	l.len--
	if l.head.len == 0 {
		old := l.head
		l.head = old.next
		if l.head == nil {
			l.tail = nil
		}
		l.putNode(old)
	}
}

func (l *Log[T]) getNode() *node[T] {
	if l.free == nil {
		return new(node[T])
	}
	n := l.free
	l.free = n.next
	n.next = nil
	return n
}

func (l *Log[T]) putNode(n *node[T]) {
	n.head = 0
	n.len = 0
	n.next = l.free
	l.free = n
}

func (n *node[T]) push(t T) {
	n.buf[(n.head+n.len)%nodeSize] = t
	n.len++
}
