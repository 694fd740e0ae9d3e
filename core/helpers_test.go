package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/najoast/actorrt/metrics"
)

// recorder remembers the IDs of the messages it handled, in order.
type recorder struct {
	mu   sync.Mutex
	seen []uint64
}

func (r *recorder) HandleMessage(_ context.Context, msg *Message) error {
	r.mu.Lock()
	r.seen = append(r.seen, msg.ID)
	r.mu.Unlock()
	return nil
}

func (r *recorder) ids() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seen...)
}

// countingMetrics counts the scheduler hooks the tests assert on.
type countingMetrics struct {
	nopMetrics
	direct, queued, requeued, exhausted atomic.Int32
	succeeded, failed                   atomic.Int32
	spawned, reclaimed                  atomic.Int32
}

func (m *countingMetrics) MessageDuration() metrics.Timer { return metrics.NopTimer() }

func (m *countingMetrics) MessageDispatched(success bool) {
	if success {
		m.succeeded.Add(1)
	} else {
		m.failed.Add(1)
	}
}

func (m *countingMetrics) ObjectScheduled(direct bool) {
	if direct {
		m.direct.Add(1)
	} else {
		m.queued.Add(1)
	}
}

func (m *countingMetrics) ObjectRequeued()  { m.requeued.Add(1) }
func (m *countingMetrics) SliceExhausted()  { m.exhausted.Add(1) }
func (m *countingMetrics) ObjectSpawned()   { m.spawned.Add(1) }
func (m *countingMetrics) ObjectReclaimed() { m.reclaimed.Add(1) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRuntime creates a runtime that is shut down when the test ends.
// It is not started.
func newTestRuntime(t *testing.T, opts Options) *Runtime {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	rt := NewRuntime(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return rt
}

func send(t *testing.T, obj *Object, ids ...uint64) {
	t.Helper()
	for _, id := range ids {
		if err := obj.Send(&Message{ID: id, Type: MessageTypeText}); err != nil {
			t.Fatalf("send message %d to object %d: %v", id, obj.ID(), err)
		}
	}
}

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)
