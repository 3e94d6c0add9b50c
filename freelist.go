package wflow

import "sync/atomic"

// freeNode is one link in the Treiber stack of recyclable envelope shells.
type freeNode[T any] struct {
	envelope *Envelope[T]
	next     *freeNode[T]
}

// freeList is a bounded, lock-free MPMC pool of *Envelope[T] shells owned
// by a single emitter. Allocation drains the pool before falling back to a
// fresh allocation; the pool is torn down (its chain dropped for GC) when
// the owning emitter is closed.
//
// This realizes the "arena + index handles" design note (spec §9): rather
// than reference-counted smart pointers, recyclable slots are pushed and
// popped from one atomic stack head.
type freeList[T any] struct {
	head  atomic.Pointer[freeNode[T]]
	limit int
	size  atomic.Int64
}

func newFreeList[T any](limit int) *freeList[T] {
	return &freeList[T]{limit: limit}
}

// get pops a recycled envelope, or returns a fresh zero-value one.
func (f *freeList[T]) get() *Envelope[T] {
	for {
		old := f.head.Load()
		if old == nil {
			return &Envelope[T]{}
		}
		if f.head.CompareAndSwap(old, old.next) {
			f.size.Add(-1)
			e := old.envelope
			*e = Envelope[T]{}
			return e
		}
	}
}

// put returns an envelope shell to the pool, unless the pool is already at
// its configured bound, in which case the shell is dropped for the
// garbage collector to reclaim.
func (f *freeList[T]) put(e *Envelope[T]) {
	if f.limit > 0 && int(f.size.Load()) >= f.limit {
		return
	}

	n := &freeNode[T]{envelope: e}
	for {
		old := f.head.Load()
		n.next = old
		if f.head.CompareAndSwap(old, n) {
			f.size.Add(1)
			return
		}
	}
}

// drain empties the pool; called when an emitter is destroyed so its free
// list does not outlive it (spec §3 ownership: "free-lists are destroyed
// with the emitter").
func (f *freeList[T]) drain() {
	f.head.Store(nil)
	f.size.Store(0)
}

// outstanding reports the number of shells currently recycled (used by the
// termination test to assert "every emitter free-list is empty at
// teardown" refers to leaks, not to this count, which is allowed to be
// non-zero — it is simply unconsumed capacity).
func (f *freeList[T]) outstanding() int64 {
	return f.size.Load()
}
