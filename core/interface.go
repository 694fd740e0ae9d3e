package core

import (
	"context"
)

// MessageHandler processes incoming messages for an object.
type MessageHandler interface {
	// HandleMessage processes a single message. The runtime never retries a
	// message whose handler returned an error.
	HandleMessage(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(ctx context.Context, msg *Message) error

// HandleMessage calls f(ctx, msg).
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Finalizer is implemented by handlers that release resources when their
// object is reclaimed.
type Finalizer interface {
	Finalize()
}

// Dispatcher delivers one dequeued message to the code that handles it.
// It runs on a worker, once per message, in mailbox order.
type Dispatcher interface {
	Dispatch(ctx context.Context, obj *Object, msg *Message) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, obj *Object, msg *Message) error

// Dispatch calls f(ctx, obj, msg).
func (f DispatcherFunc) Dispatch(ctx context.Context, obj *Object, msg *Message) error {
	return f(ctx, obj, msg)
}

// DeletionSink receives objects that are drained, unreferenced and
// unregistered. It is called on the runtime's reclaimer goroutine, never on a
// worker.
type DeletionSink interface {
	Reclaim(obj *Object)
}

// DeletionSinkFunc adapts a function to DeletionSink.
type DeletionSinkFunc func(obj *Object)

// Reclaim calls f(obj).
func (f DeletionSinkFunc) Reclaim(obj *Object) { f(obj) }

// handlerDispatcher calls the object's own handler.
type handlerDispatcher struct{}

func (handlerDispatcher) Dispatch(ctx context.Context, obj *Object, msg *Message) error {
	return obj.handler.HandleMessage(ctx, msg)
}

// finalizingSink calls Finalize on handlers that implement Finalizer.
type finalizingSink struct{}

func (finalizingSink) Reclaim(obj *Object) {
	if f, ok := obj.handler.(Finalizer); ok {
		f.Finalize()
	}
}
