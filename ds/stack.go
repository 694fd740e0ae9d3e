package ds

import "sync/atomic"

// Stack is a lock-free intrusive LIFO.
//
// Push may be called from any number of goroutines. Pop must only be called
// by a single consumer at a time; the stack does not enforce this. Extract
// detaches the whole stack with one atomic swap and is safe for any number of
// concurrent callers, which makes Extract followed by PushChain the way to
// take one element when several consumers exist.
//
// The zero value is an empty stack.
type Stack[T any, P Linker[T]] struct {
	head atomic.Pointer[T]
}

// Push links n on top of the stack.
func (s *Stack[T, P]) Push(n *T) {
	l := P(n).link()
	for {
		head := s.head.Load()
		l.next.Store(head)
		if s.head.CompareAndSwap(head, n) {
			return
		}
	}
}

// PushChain pushes every element of c individually. The relative order of
// the pushed elements is reversed, so callers must not depend on it.
func (s *Stack[T, P]) PushChain(c *Chain[T, P]) {
	for n := c.Pop(); n != nil; n = c.Pop() {
		s.Push(n)
	}
}

// Pop unlinks and returns the top element, or nil when the stack is empty.
// Single consumer only.
func (s *Stack[T, P]) Pop() *T {
	for {
		head := s.head.Load()
		if head == nil {
			return nil
		}
		if s.head.CompareAndSwap(head, next[T, P](head)) {
			setNext[T, P](head, nil)
			return head
		}
	}
}

// Extract atomically detaches every element and returns them as a chain,
// most recently pushed first.
func (s *Stack[T, P]) Extract() Chain[T, P] {
	return Chain[T, P]{head: s.head.Swap(nil)}
}

// Empty reports whether the stack was empty at the time of the call.
func (s *Stack[T, P]) Empty() bool {
	return s.head.Load() == nil
}
