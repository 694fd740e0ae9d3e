// Package event provides a waitable signal with auto-reset and manual-reset
// semantics.
package event

import (
	"context"
	"sync"
	"time"
)

// Mode selects what happens to the signal when a waiter is released.
type Mode uint8

const (
	// AutoReset clears the signal as one waiter consumes it. Meant for a
	// single waiter; with several, exactly one is released per signal.
	AutoReset Mode = iota

	// ManualReset keeps the signal raised for every waiter until Reset.
	ManualReset
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	switch m {
	case AutoReset:
		return "auto-reset"
	case ManualReset:
		return "manual-reset"
	default:
		return "unknown"
	}
}

// Event is a mutex-protected flag with a broadcast notification. The notify
// channel is closed when the flag is raised and replaced when it is cleared.
type Event struct {
	mu       sync.Mutex
	mode     Mode
	signaled bool
	notify   chan struct{}
}

// New creates an event in the not-signaled state.
func New(mode Mode) *Event {
	return &Event{
		mode:   mode,
		notify: make(chan struct{}),
	}
}

// NewAuto creates an auto-reset event.
func NewAuto() *Event { return New(AutoReset) }

// NewManual creates a manual-reset event.
func NewManual() *Event { return New(ManualReset) }

// Mode returns the reset mode of the event.
func (e *Event) Mode() Mode { return e.mode }

// Signal raises the flag and releases waiters. Safe from any goroutine.
func (e *Event) Signal() {
	e.mu.Lock()
	if !e.signaled {
		e.signaled = true
		close(e.notify)
	}
	e.mu.Unlock()
}

// Reset lowers the flag.
func (e *Event) Reset() {
	e.mu.Lock()
	e.reset()
	e.mu.Unlock()
}

func (e *Event) reset() {
	if e.signaled {
		e.signaled = false
		e.notify = make(chan struct{})
	}
}

// IsSignaled reports the current state without consuming it.
func (e *Event) IsSignaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

// Wait blocks until the event is signaled.
func (e *Event) Wait() {
	e.wait(nil)
}

// WaitTimeout blocks until the event is signaled or d elapses. It returns
// false on timeout.
func (e *Event) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		return e.tryConsume()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return e.wait(ctx.Done())
}

// WaitContext blocks until the event is signaled or ctx is done, in which
// case it returns the context error.
func (e *Event) WaitContext(ctx context.Context) error {
	if e.wait(ctx.Done()) {
		return nil
	}
	return ctx.Err()
}

func (e *Event) tryConsume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.signaled {
		return false
	}
	if e.mode == AutoReset {
		e.reset()
	}
	return true
}

func (e *Event) wait(done <-chan struct{}) bool {
	for {
		e.mu.Lock()
		if e.signaled {
			if e.mode == AutoReset {
				e.reset()
			}
			e.mu.Unlock()
			return true
		}
		notify := e.notify
		e.mu.Unlock()

		select {
		case <-notify:
		case <-done:
			return e.tryConsume()
		}
	}
}
