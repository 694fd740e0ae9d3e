package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/actorrt/ds"
)

// Object is the schedulable unit: a mailbox plus the flags and reference
// count the scheduler coordinates through. Objects are created by
// Runtime.Spawn and must not be copied.
type Object struct {
	ds.Link[Object] // ready queue or deletion stack, never both

	id        ObjectID
	name      string
	handler   MessageHandler
	rt        *Runtime
	slice     time.Duration
	exclusive bool
	worker    *Worker // dedicated worker of an exclusive object

	mailbox *ds.MPSC[Message, *Message]

	// Senders hold mu for reading while they push, so a worker holding it
	// for writing sees a mailbox no producer is touching.
	mu        sync.RWMutex
	deleting  atomic.Bool
	scheduled atomic.Bool
	finalized atomic.Bool
	retired   atomic.Bool
	reclaimed atomic.Bool

	refs atomic.Int32

	processed     atomic.Uint64
	lastMessageAt atomic.Int64
	createdAt     time.Time
}

func newObject(rt *Runtime, id ObjectID, handler MessageHandler, opts ObjectOptions) *Object {
	o := &Object{
		id:        id,
		name:      opts.Name,
		handler:   handler,
		rt:        rt,
		slice:     opts.TimeSlice,
		exclusive: opts.Exclusive,
		mailbox:   ds.NewMPSC[Message](),
		createdAt: time.Now(),
	}
	// creation reference, dropped by Delete
	o.refs.Store(1)
	return o
}

// ID returns the identifier of the object.
func (o *Object) ID() ObjectID { return o.id }

// Name returns the registered name, or "" for anonymous objects.
func (o *Object) Name() string { return o.name }

// Exclusive reports whether the object is pinned to a dedicated worker.
func (o *Object) Exclusive() bool { return o.exclusive }

// Handler returns the handler the object was spawned with.
func (o *Object) Handler() MessageHandler { return o.handler }

// Send appends msg to the mailbox and schedules the object if it was idle.
// It never waits for the object to be processed.
func (o *Object) Send(msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	if o.rt.stopped.Load() {
		return ErrRuntimeStopped
	}

	o.mu.RLock()
	if o.deleting.Load() {
		o.mu.RUnlock()
		return fmt.Errorf("send to object %d: %w", o.id, ErrObjectDeleting)
	}
	msg.Target = o.id
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	o.mailbox.Push(msg)
	first := o.scheduled.CompareAndSwap(false, true)
	o.mu.RUnlock()

	if first {
		o.rt.schedule(o)
	}
	return nil
}

// Delete requests termination. Messages already in the mailbox are still
// dispatched; later sends fail with ErrObjectDeleting. The object is handed
// to the deletion sink once drained and no longer referenced.
func (o *Object) Delete() error {
	o.mu.Lock()
	if o.deleting.Load() {
		o.mu.Unlock()
		return fmt.Errorf("delete object %d: %w", o.id, ErrObjectDeleting)
	}
	o.deleting.Store(true)
	o.mu.Unlock()

	// a worker has to visit the object to finalize it, even with an empty mailbox
	if o.scheduled.CompareAndSwap(false, true) {
		o.rt.schedule(o)
	}
	o.release()
	return nil
}

// Stats returns current runtime statistics for this object.
func (o *Object) Stats() ObjectStats {
	var lastMessageAt time.Time
	if ts := o.lastMessageAt.Load(); ts > 0 {
		lastMessageAt = time.Unix(0, ts)
	}

	return ObjectStats{
		ID:                o.id,
		Name:              o.name,
		State:             o.state(),
		Exclusive:         o.exclusive,
		MessagesProcessed: o.processed.Load(),
		MailboxSize:       o.mailbox.Len(),
		References:        o.refs.Load(),
		CreatedAt:         o.createdAt,
		LastMessageAt:     lastMessageAt,
	}
}

func (o *Object) state() ObjectState {
	switch {
	case o.reclaimed.Load():
		return ObjectStateReclaimed
	case o.deleting.Load():
		return ObjectStateDeleting
	case o.scheduled.Load():
		return ObjectStateScheduled
	default:
		return ObjectStateIdle
	}
}

// objectRef keeps an object alive while a worker or the dispatcher touches
// it. Release is idempotent.
type objectRef struct {
	obj *Object
}

func (o *Object) acquire() objectRef {
	o.refs.Add(1)
	return objectRef{obj: o}
}

func (r *objectRef) Release() {
	if o := r.obj; o != nil {
		r.obj = nil
		o.release()
	}
}

// release drops one reference. The release that reaches zero after a worker
// finalized the object retires it to the deletion stack.
func (o *Object) release() {
	n := o.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("core: object %d released more often than acquired", o.id))
	}
	if n == 0 && o.finalized.Load() && o.retired.CompareAndSwap(false, true) {
		o.rt.retire(o)
	}
}
