// Package ds provides the intrusive containers the scheduler threads its
// workers, objects and messages through.
//
// Every container links values through a Link embedded in the value itself,
// so pushing and popping never allocate. A value may be a member of at most
// one container at any instant.
package ds

import "sync/atomic"

// Link is embedded by values that thread themselves into a Chain, Stack,
// Queue or MPSC.
type Link[T any] struct {
	next atomic.Pointer[T]
}

func (l *Link[T]) link() *Link[T] { return l }

// Linker is satisfied by *T whenever T embeds Link[T].
type Linker[T any] interface {
	*T
	link() *Link[T]
}

func next[T any, P Linker[T]](n *T) *T {
	return P(n).link().next.Load()
}

func setNext[T any, P Linker[T]](n, to *T) {
	P(n).link().next.Store(to)
}

// Chain is a detached run of linked values, as returned by Stack.Extract and
// Queue.Extract. It is consumed front to back and is not safe for concurrent
// use.
type Chain[T any, P Linker[T]] struct {
	head *T
}

// Empty reports whether the chain has no elements left.
func (c *Chain[T, P]) Empty() bool {
	return c.head == nil
}

// Front returns the first element without detaching it.
func (c *Chain[T, P]) Front() *T {
	return c.head
}

// Pop detaches and returns the first element, or nil when the chain is empty.
func (c *Chain[T, P]) Pop() *T {
	n := c.head
	if n == nil {
		return nil
	}
	c.head = next[T, P](n)
	setNext[T, P](n, nil)
	return n
}

// Len walks the chain and counts its elements.
func (c *Chain[T, P]) Len() int {
	count := 0
	for n := c.head; n != nil; n = next[T, P](n) {
		count++
	}
	return count
}
