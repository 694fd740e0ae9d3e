package core

import (
	"time"

	"github.com/najoast/actorrt/ds"
)

// ObjectID identifies an object within one Runtime.
type ObjectID uint32

// MessageType defines the type of message being sent.
type MessageType uint8

// Message represents communication data between objects. Ownership passes
// from the sender to the target's mailbox and then to the worker that
// dispatches it; a message must not be sent twice.
type Message struct {
	ds.Link[Message]

	// ID is a caller-assigned identifier for this message
	ID uint64

	// Type indicates the message category
	Type MessageType

	// Source is the ID of the sending object, zero for outside callers
	Source ObjectID

	// Target is set by the runtime when the message is accepted
	Target ObjectID

	// Data contains the actual message payload
	Data []byte

	// Timestamp when the message was sent
	Timestamp time.Time
}

// MessageTypes define various message categories.
const (
	// MessageTypeText for plain text messages
	MessageTypeText MessageType = iota

	// MessageTypeResponse for response messages
	MessageTypeResponse

	// MessageTypeRequest for request messages
	MessageTypeRequest

	// MessageTypeSystem for system control messages
	MessageTypeSystem

	// MessageTypeError for error notifications
	MessageTypeError
)

// String returns the string representation of MessageType.
func (t MessageType) String() string {
	switch t {
	case MessageTypeText:
		return "text"
	case MessageTypeResponse:
		return "response"
	case MessageTypeRequest:
		return "request"
	case MessageTypeSystem:
		return "system"
	case MessageTypeError:
		return "error"
	default:
		return "unknown"
	}
}

// ObjectState is a snapshot of where an object is in its lifecycle.
type ObjectState uint8

const (
	// ObjectStateIdle means the object has no pending work
	ObjectStateIdle ObjectState = iota

	// ObjectStateScheduled means the object is queued or held by a worker
	ObjectStateScheduled

	// ObjectStateDeleting means deletion was requested and the mailbox is draining
	ObjectStateDeleting

	// ObjectStateReclaimed means the object has been handed to the deletion sink
	ObjectStateReclaimed
)

// String returns the string representation of ObjectState.
func (s ObjectState) String() string {
	switch s {
	case ObjectStateIdle:
		return "idle"
	case ObjectStateScheduled:
		return "scheduled"
	case ObjectStateDeleting:
		return "deleting"
	case ObjectStateReclaimed:
		return "reclaimed"
	default:
		return "unknown"
	}
}

// ObjectOptions contains configuration options for spawning an object.
type ObjectOptions struct {
	// Name registers the object for lookup by name; empty means anonymous
	Name string

	// Exclusive pins the object to its own dedicated worker, locked to one
	// OS thread, for its whole life
	Exclusive bool

	// TimeSlice overrides the runtime's time slice for this object
	TimeSlice time.Duration
}

// ObjectStats contains runtime statistics for an object.
type ObjectStats struct {
	ID                ObjectID
	Name              string
	State             ObjectState
	Exclusive         bool
	MessagesProcessed uint64
	MailboxSize       int
	References        int32
	CreatedAt         time.Time
	LastMessageAt     time.Time
}

// RuntimeStats contains a point-in-time view of the scheduler.
type RuntimeStats struct {
	// Workers is the size of the shared pool
	Workers int

	// DedicatedWorkers is the number of workers bound to exclusive objects
	DedicatedWorkers int

	// IdleWorkers is the number of shared workers waiting for an object
	IdleWorkers int

	// ReadyObjects is the depth of the ready queue
	ReadyObjects int

	// Objects is the number of registered, not yet reclaimed objects
	Objects int

	// Reclaimed is the number of objects handed to the deletion sink
	Reclaimed uint64

	// TimeSlice is the current default time slice
	TimeSlice time.Duration
}
