package ds

import "sync/atomic"

// MPSC is a lock-free intrusive multi-producer single-consumer FIFO, the
// stub-node queue described by Dmitry Vyukov.
//
// Push never blocks and may be called from any number of goroutines. Pop and
// Empty belong to the consumer: at most one goroutine may call them at a time,
// and handing the consumer role to another goroutine must go through a
// synchronizing operation.
//
// Pop may report nil while a producer is between its two publishing steps.
// Callers that need an exact answer must exclude producers first.
type MPSC[T any, P Linker[T]] struct {
	head *T // consumer side
	tail atomic.Pointer[T]
	stub *T
	size atomic.Int64
}

// NewMPSC returns an empty queue. The zero value is not usable.
func NewMPSC[T any, P Linker[T]]() *MPSC[T, P] {
	stub := new(T)
	q := &MPSC[T, P]{head: stub, stub: stub}
	q.tail.Store(stub)
	return q
}

// Push appends n.
func (q *MPSC[T, P]) Push(n *T) {
	q.size.Add(1)
	q.push(n)
}

func (q *MPSC[T, P]) push(n *T) {
	setNext[T, P](n, nil)
	prev := q.tail.Swap(n)
	setNext[T, P](prev, n)
}

// Pop unlinks and returns the oldest element, or nil if none is available.
func (q *MPSC[T, P]) Pop() *T {
	head := q.head
	succ := next[T, P](head)
	if head == q.stub {
		if succ == nil {
			return nil
		}
		q.head = succ
		head = succ
		succ = next[T, P](succ)
	}
	if succ != nil {
		return q.take(head, succ)
	}
	if head != q.tail.Load() {
		// a producer has swapped the tail but not linked it yet
		return nil
	}
	q.push(q.stub)
	if succ = next[T, P](head); succ != nil {
		return q.take(head, succ)
	}
	return nil
}

func (q *MPSC[T, P]) take(head, succ *T) *T {
	q.head = succ
	setNext[T, P](head, nil)
	q.size.Add(-1)
	return head
}

// Empty reports whether the consumer has nothing left to pop. It is exact
// only while no Push is in flight.
func (q *MPSC[T, P]) Empty() bool {
	head := q.head
	if head != q.stub {
		return false
	}
	return next[T, P](head) == nil
}

// Len returns an approximate element count, safe from any goroutine.
func (q *MPSC[T, P]) Len() int {
	if n := q.size.Load(); n > 0 {
		return int(n)
	}
	return 0
}
