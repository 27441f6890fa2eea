package network

import (
	"sync/atomic"
)

// cacheLineSize is the typical CPU cache line size on x86-64 and arm64.
const cacheLineSize = 64

type pad [cacheLineSize]byte

type slot[T any] struct {
	seq  atomic.Uint64
	item T
}

// Queue is a bounded lock-free multi-producer multi-consumer ring buffer
// (Vyukov). Each slot carries a sequence number, so a consumer never reads
// a slot whose producer has claimed it but not finished writing.
//
// Layout keeps the producer and consumer cursors on separate cache lines:
// [pad][head][pad][tail][pad][slots]
type Queue[T any] struct {
	_     pad
	head  atomic.Uint64 // next position to write
	_     pad
	tail  atomic.Uint64 // next position to read
	_     pad
	mask  uint64
	slots []slot[T]
}

// NewQueue creates a queue; capacity is rounded up to a power of two.
func NewQueue[T any](capacity int) *Queue[T] {
	n := 2
	for n < capacity {
		n <<= 1
	}
	q := &Queue[T]{
		mask:  uint64(n - 1),
		slots: make([]slot[T], n),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// TryPush adds item, returning false when the queue is full.
func (q *Queue[T]) TryPush(item T) bool {
	for {
		pos := q.head.Load()
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		switch {
		case seq == pos:
			if q.head.CompareAndSwap(pos, pos+1) {
				s.item = item
				s.seq.Store(pos + 1)
				return true
			}
		case seq < pos:
			return false
		}
		// Another producer moved head; reload.
	}
}

// TryPop removes the oldest item, returning false when the queue is empty.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	for {
		pos := q.tail.Load()
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		switch {
		case seq == pos+1:
			if q.tail.CompareAndSwap(pos, pos+1) {
				item := s.item
				s.item = zero
				s.seq.Store(pos + q.mask + 1)
				return item, true
			}
		case seq < pos+1:
			return zero, false
		}
	}
}

// DrainTo pops into buf until it is full or the queue is empty and returns
// the number of items written.
func (q *Queue[T]) DrainTo(buf []T) int {
	n := 0
	for n < len(buf) {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		buf[n] = item
		n++
	}
	return n
}

// Len is a racy estimate of the number of queued items.
func (q *Queue[T]) Len() int {
	head, tail := q.head.Load(), q.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

func (q *Queue[T]) Cap() int {
	return int(q.mask + 1)
}
