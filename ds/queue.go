package ds

import "sync"

// Queue is an intrusive FIFO guarded by a single mutex. The critical section
// of every operation is a handful of pointer updates.
//
// The zero value is an empty queue.
type Queue[T any, P Linker[T]] struct {
	mu   sync.Mutex
	head *T
	tail *T
	size int
}

// Push appends n to the back of the queue.
func (q *Queue[T, P]) Push(n *T) {
	setNext[T, P](n, nil)

	q.mu.Lock()
	if q.tail == nil {
		q.head = n
	} else {
		setNext[T, P](q.tail, n)
	}
	q.tail = n
	q.size++
	q.mu.Unlock()
}

// Pop unlinks and returns the front element, or nil when the queue is empty.
func (q *Queue[T, P]) Pop() *T {
	q.mu.Lock()
	n := q.head
	if n == nil {
		q.mu.Unlock()
		return nil
	}
	q.head = next[T, P](n)
	if q.head == nil {
		q.tail = nil
	}
	q.size--
	q.mu.Unlock()

	setNext[T, P](n, nil)
	return n
}

// Front returns the front element without removing it.
func (q *Queue[T, P]) Front() *T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head
}

// Extract detaches every element in FIFO order and leaves the queue empty.
func (q *Queue[T, P]) Extract() Chain[T, P] {
	q.mu.Lock()
	c := Chain[T, P]{head: q.head}
	q.head, q.tail, q.size = nil, nil, 0
	q.mu.Unlock()
	return c
}

// Remove unlinks item, whose predecessor in the queue is prev. prev is nil
// when item is the front element. Passing a prev that does not precede item
// is a programming error and panics.
func (q *Queue[T, P]) Remove(item, prev *T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.unlink(item, prev)
}

// Delete finds item and unlinks it. It reports false if item is not queued.
func (q *Queue[T, P]) Delete(item *T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	var prev *T
	for n := q.head; n != nil; prev, n = n, next[T, P](n) {
		if n == item {
			q.unlink(item, prev)
			return true
		}
	}
	return false
}

func (q *Queue[T, P]) unlink(item, prev *T) {
	if prev == nil {
		if q.head != item {
			panic("ds: queue remove: item is not the head and no predecessor was given")
		}
		q.head = next[T, P](item)
	} else {
		if next[T, P](prev) != item {
			panic("ds: queue remove: prev does not precede item")
		}
		setNext[T, P](prev, next[T, P](item))
	}
	if q.tail == item {
		q.tail = prev
	}
	q.size--
	setNext[T, P](item, nil)
}

// Len returns the number of queued elements.
func (q *Queue[T, P]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Empty reports whether the queue holds no elements.
func (q *Queue[T, P]) Empty() bool {
	return q.Len() == 0
}
