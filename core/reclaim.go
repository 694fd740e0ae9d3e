package core

import (
	"context"
	"log/slog"
)

// retire queues a finalized, unreferenced object for the reclaimer.
func (rt *Runtime) retire(obj *Object) {
	rt.deletions.Push(obj)
	rt.reclaimWake.Signal()
}

// reclaim runs the deletion sink off the workers. It drains once more after
// ctx is cancelled.
func (rt *Runtime) reclaim(ctx context.Context) {
	defer close(rt.reclaimDone)

	for {
		err := rt.reclaimWake.WaitContext(ctx)
		rt.drainDeletions()
		if err != nil {
			return
		}
	}
}

func (rt *Runtime) drainDeletions() {
	c := rt.deletions.Extract()
	for obj := c.Pop(); obj != nil; obj = c.Pop() {
		rt.registry.unregister(obj.id)
		if obj.worker != nil {
			rt.dropDedicated(obj.worker)
		}
		obj.reclaimed.Store(true)

		rt.sink.Reclaim(obj)
		rt.reclaimed.Add(1)
		rt.metrics.ObjectReclaimed()

		rt.logger.Debug("object reclaimed",
			slog.Uint64("object", uint64(obj.id)),
			slog.String("name", obj.name),
			slog.Uint64("messages", obj.processed.Load()),
		)
	}
}

func (rt *Runtime) stopReclaimer() {
	if rt.reclaimCancel == nil {
		return
	}
	rt.reclaimCancel()
	<-rt.reclaimDone
}
