package core

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/najoast/actorrt/ds"
	"github.com/najoast/actorrt/event"
)

// unlimitedSlice disables the time budget of a pass.
const unlimitedSlice = time.Duration(math.MaxInt64)

// outcome is what a worker does with its object after a pass.
type outcome uint8

const (
	// outcomeKeep leaves an exclusive object with its dedicated worker
	outcomeKeep outcome = iota

	// outcomeRequeue puts an object with pending messages back on the ready queue
	outcomeRequeue

	// outcomeRelease drops an object whose mailbox ran dry
	outcomeRelease

	// outcomeReclaim drops a finalized object on its way to the deletion sink
	outcomeReclaim
)

// Worker is a goroutine that runs objects one pass at a time. Shared workers
// serve the ready queue; a dedicated worker belongs to one exclusive object
// and exits with it.
type Worker struct {
	ds.Link[Worker] // idle pool

	id        int
	rt        *Runtime
	dedicated bool
	cpu       int // -1 when the worker is not pinned

	obj    atomic.Pointer[Object]
	slice  atomic.Int64
	wakeup *event.Event
	quit   atomic.Bool
}

func newWorker(rt *Runtime, id int, dedicated bool, cpu int) *Worker {
	return &Worker{
		id:        id,
		rt:        rt,
		dedicated: dedicated,
		cpu:       cpu,
		wakeup:    event.NewAuto(),
	}
}

// ID returns the worker index. Shared workers come first.
func (w *Worker) ID() int { return w.id }

// Dedicated reports whether the worker is bound to an exclusive object.
func (w *Worker) Dedicated() bool { return w.dedicated }

// assign hands obj to an idle worker and wakes it.
func (w *Worker) assign(obj *Object, slice time.Duration) {
	w.slice.Store(int64(slice))
	if !w.obj.CompareAndSwap(nil, obj) {
		panic(fmt.Sprintf("core: assign object %d to busy worker %d", obj.id, w.id))
	}
	w.wakeup.Signal()
}

func (w *Worker) stop() {
	w.quit.Store(true)
	w.wakeup.Signal()
}

func (w *Worker) runnable() bool {
	obj := w.obj.Load()
	if obj == nil {
		return false
	}
	return !obj.exclusive || obj.scheduled.Load()
}

// execute is the worker goroutine. ready is called exactly once, after the
// thread is set up and before any object runs.
func (w *Worker) execute(ready func(error)) error {
	if w.dedicated || w.cpu >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	if w.cpu >= 0 {
		if err := pinThread(w.cpu); err != nil {
			err = fmt.Errorf("worker %d: pin to cpu %d: %w", w.id, w.cpu, err)
			ready(err)
			return err
		}
	}
	ready(nil)

	log := w.rt.logger.With(slog.Int("worker", w.id))
	log.Debug("worker started", slog.Bool("dedicated", w.dedicated), slog.Int("cpu", w.cpu))
	defer log.Debug("worker stopped")

	for {
		for !w.runnable() {
			if w.quit.Load() {
				return nil
			}
			w.wakeup.Wait()
		}
		if w.quit.Load() {
			return nil
		}

		if !w.process() {
			if w.dedicated || w.quit.Load() {
				return nil
			}
			w.rt.announceIdle(w)
		}
	}
}

// process runs the assigned object and then keeps pulling from the ready
// queue. It returns false when the worker has nothing left to run.
func (w *Worker) process() bool {
	for {
		obj := w.obj.Load()
		switch w.run(obj) {
		case outcomeKeep:
			return true
		case outcomeRequeue:
			w.obj.Store(nil)
			w.rt.pushObject(obj)
		default:
			w.obj.Store(nil)
		}

		if w.dedicated || w.quit.Load() {
			return false
		}
		next := w.rt.popObject()
		if next == nil {
			return false
		}
		w.slice.Store(int64(w.rt.sliceFor(next)))
		w.obj.Store(next)
	}
}

// run drains obj for one pass and decides what happens to it next. The
// decision is taken with the object's lock held, so no sender is between
// its mailbox push and its scheduled check. A deleting object is finalized
// only once its mailbox is empty; on quit it is left undrained like any
// other object.
func (w *Worker) run(obj *Object) outcome {
	ref := obj.acquire()
	defer ref.Release()

	ctx := withObject(w.rt.ctx, obj)
	slice := time.Duration(w.slice.Load())
	if obj.exclusive || slice <= 0 {
		slice = unlimitedSlice
	}
	start := time.Now()

	for {
		for !w.quit.Load() {
			msg := obj.mailbox.Pop()
			if msg == nil {
				break
			}
			w.dispatch(ctx, obj, msg)
			if slice != unlimitedSlice && time.Since(start) >= slice {
				w.rt.metrics.SliceExhausted()
				break
			}
		}

		obj.mu.Lock()
		pending := !obj.mailbox.Empty()
		quit := w.quit.Load()
		switch {
		case obj.deleting.Load() && pending && !quit:
			obj.mu.Unlock()
			slice = unlimitedSlice
		case obj.deleting.Load() && !pending:
			obj.scheduled.Store(false)
			obj.finalized.Store(true)
			obj.mu.Unlock()
			return outcomeReclaim
		case obj.exclusive && pending && !quit:
			obj.mu.Unlock()
		case obj.exclusive:
			if !pending {
				obj.scheduled.Store(false)
			}
			obj.mu.Unlock()
			return outcomeKeep
		case pending:
			obj.mu.Unlock()
			w.rt.metrics.ObjectRequeued()
			return outcomeRequeue
		default:
			obj.scheduled.Store(false)
			obj.mu.Unlock()
			return outcomeRelease
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, obj *Object, msg *Message) {
	timer := w.rt.metrics.MessageDuration()
	err := w.rt.dispatcher.Dispatch(ctx, obj, msg)
	timer.ObserveDuration()

	obj.processed.Add(1)
	obj.lastMessageAt.Store(time.Now().UnixNano())
	w.rt.metrics.MessageDispatched(err == nil)

	if err != nil {
		w.rt.logger.Warn("message handler failed",
			slog.Int("worker", w.id),
			slog.Uint64("object", uint64(obj.id)),
			slog.Uint64("message", msg.ID),
			slog.String("type", msg.Type.String()),
			slog.Any("error", err),
		)
	}
}
