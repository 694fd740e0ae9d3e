package core

import "errors"

// Runtime errors
var (
	ErrRuntimeStopped   = errors.New("runtime is stopped")
	ErrAlreadyStarted   = errors.New("runtime already started")
	ErrTooManyObjects   = errors.New("object limit reached")
	ErrWorkerStart      = errors.New("worker failed to start")
	ErrInvalidTimeSlice = errors.New("invalid time slice")
)

// Object errors
var (
	ErrNilHandler     = errors.New("nil message handler")
	ErrNilMessage     = errors.New("nil message")
	ErrObjectDeleting = errors.New("object is being deleted")
	ErrObjectNotFound = errors.New("object not found")
	ErrNameTaken      = errors.New("object name already registered")
)
