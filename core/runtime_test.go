package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRuntimeDispatchesInOrderThenIdles(t *testing.T) {
	rt := newTestRuntime(t, Options{Workers: 1, TimeSlice: time.Second})
	rec := &recorder{}

	obj, err := rt.Spawn(rec, ObjectOptions{})
	require.NoError(t, err)
	send(t, obj, 1, 2, 3)

	// the first send handed the object straight to the only worker
	stats := rt.Stats()
	assert.Equal(t, 0, stats.IdleWorkers)
	assert.Equal(t, 0, stats.ReadyObjects)
	assert.Equal(t, ObjectStateScheduled, obj.Stats().State)
	assert.Equal(t, 3, obj.Stats().MailboxSize)

	require.NoError(t, rt.Start())

	require.Eventually(t, func() bool {
		return obj.Stats().State == ObjectStateIdle && rt.Stats().IdleWorkers == 1
	}, waitFor, tick)
	assert.Equal(t, []uint64{1, 2, 3}, rec.ids())
	assert.False(t, obj.scheduled.Load())
	assert.Equal(t, uint64(3), obj.Stats().MessagesProcessed)
	assert.Equal(t, 0, obj.Stats().MailboxSize)
}

func TestRuntimeDeletionDrainsMailboxBeforeSink(t *testing.T) {
	reclaimed := make(chan *Object, 1)
	rt := newTestRuntime(t, Options{
		Workers:   1,
		TimeSlice: time.Nanosecond,
		Sink: DeletionSinkFunc(func(obj *Object) {
			reclaimed <- obj
		}),
	})

	var (
		mu      sync.Mutex
		handled []uint64
	)
	obj, err := rt.Spawn(HandlerFunc(func(_ context.Context, msg *Message) error {
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		handled = append(handled, msg.ID)
		mu.Unlock()
		return nil
	}), ObjectOptions{Name: "doomed"})
	require.NoError(t, err)

	send(t, obj, 1, 2)
	require.NoError(t, obj.Delete())
	assert.Equal(t, ObjectStateDeleting, obj.Stats().State)

	require.ErrorIs(t, obj.Send(&Message{ID: 3}), ErrObjectDeleting)
	require.ErrorIs(t, obj.Delete(), ErrObjectDeleting)

	require.NoError(t, rt.Start())

	select {
	case got := <-reclaimed:
		require.Same(t, obj, got)
	case <-time.After(waitFor):
		t.Fatal("object was never reclaimed")
	}

	mu.Lock()
	assert.Equal(t, []uint64{1, 2}, handled)
	mu.Unlock()
	assert.Equal(t, ObjectStateReclaimed, obj.Stats().State)
	assert.Equal(t, int32(0), obj.Stats().References)

	_, found := rt.Lookup(obj.ID())
	assert.False(t, found)
	_, found = rt.LookupName("doomed")
	assert.False(t, found)
	require.ErrorIs(t, rt.Send(obj.ID(), &Message{}), ErrObjectNotFound)
	assert.Equal(t, uint64(1), rt.Stats().Reclaimed)
}

func TestRuntimeSecondObjectWaitsInReadyQueue(t *testing.T) {
	m := &countingMetrics{}
	rt := newTestRuntime(t, Options{Workers: 1, TimeSlice: time.Second, Metrics: m})

	first, second := &recorder{}, &recorder{}
	o1, err := rt.Spawn(first, ObjectOptions{})
	require.NoError(t, err)
	o2, err := rt.Spawn(second, ObjectOptions{})
	require.NoError(t, err)

	send(t, o1, 1)
	send(t, o2, 2)

	stats := rt.Stats()
	assert.Equal(t, 0, stats.IdleWorkers)
	assert.Equal(t, 1, stats.ReadyObjects)
	assert.Equal(t, int32(1), m.direct.Load())
	assert.Equal(t, int32(1), m.queued.Load())
	assert.Same(t, o2, rt.ready.Front())

	require.NoError(t, rt.Start())

	require.Eventually(t, func() bool {
		s := rt.Stats()
		return s.IdleWorkers == 1 && s.ReadyObjects == 0 &&
			len(first.ids()) == 1 && len(second.ids()) == 1
	}, waitFor, tick)
	assert.Equal(t, int32(2), m.succeeded.Load())
}

func TestRuntimeTimeSliceGivesOthersATurn(t *testing.T) {
	m := &countingMetrics{}
	rt := newTestRuntime(t, Options{Workers: 1, TimeSlice: 5 * time.Millisecond, Metrics: m})

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) MessageHandler {
		return HandlerFunc(func(_ context.Context, msg *Message) error {
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			order = append(order, fmt.Sprintf("%s-%d", name, msg.ID))
			mu.Unlock()
			return nil
		})
	}

	busy, err := rt.Spawn(record("busy"), ObjectOptions{})
	require.NoError(t, err)
	light, err := rt.Spawn(record("light"), ObjectOptions{})
	require.NoError(t, err)

	for i := uint64(1); i <= 20; i++ {
		send(t, busy, i)
	}
	send(t, light, 1)

	require.NoError(t, rt.Start())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 21
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	lightAt := -1
	for i, name := range order {
		if name == "light-1" {
			lightAt = i
		}
	}
	assert.Greater(t, lightAt, 0)
	assert.Less(t, lightAt, len(order)-1, "light object ran only after the busy one drained")
	assert.Positive(t, m.requeued.Load())
	assert.Positive(t, m.exhausted.Load())
}

func TestRuntimePerObjectTimeSlice(t *testing.T) {
	rt := newTestRuntime(t, Options{Workers: 1, TimeSlice: time.Nanosecond})

	obj, err := rt.Spawn(&recorder{}, ObjectOptions{TimeSlice: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, rt.sliceFor(obj))

	anon, err := rt.Spawn(&recorder{}, ObjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, time.Nanosecond, rt.sliceFor(anon))

	_, err = rt.Spawn(&recorder{}, ObjectOptions{TimeSlice: -time.Second})
	require.ErrorIs(t, err, ErrInvalidTimeSlice)
}

func TestRuntimeExclusiveObject(t *testing.T) {
	rt := newTestRuntime(t, Options{Workers: 2, TimeSlice: time.Millisecond})
	rec := &recorder{}

	obj, err := rt.Spawn(rec, ObjectOptions{Exclusive: true, Name: "pinned"})
	require.NoError(t, err)
	require.True(t, obj.Exclusive())
	require.NotNil(t, obj.worker)
	assert.True(t, obj.worker.Dedicated())
	assert.Equal(t, 1, rt.Stats().DedicatedWorkers)

	require.NoError(t, rt.Start())
	send(t, obj, 1, 2, 3)

	require.Eventually(t, func() bool {
		return len(rec.ids()) == 3 && obj.Stats().State == ObjectStateIdle
	}, waitFor, tick)
	assert.Equal(t, []uint64{1, 2, 3}, rec.ids())
	// the shared pool never saw the object
	assert.Equal(t, 2, rt.Stats().IdleWorkers)
	assert.Same(t, obj, obj.worker.obj.Load())

	require.NoError(t, rt.SendByName("pinned", &Message{ID: 4}))
	require.Eventually(t, func() bool { return len(rec.ids()) == 4 }, waitFor, tick)

	require.NoError(t, rt.Delete(obj.ID()))
	require.Eventually(t, func() bool {
		return obj.Stats().State == ObjectStateReclaimed && rt.Stats().DedicatedWorkers == 0
	}, waitFor, tick)
}

func TestRuntimeExclusiveSpawnedBeforeStart(t *testing.T) {
	rt := newTestRuntime(t, Options{Workers: 1})
	rec := &recorder{}

	obj, err := rt.Spawn(rec, ObjectOptions{Exclusive: true})
	require.NoError(t, err)
	send(t, obj, 7)

	require.NoError(t, rt.Start())
	require.Eventually(t, func() bool { return len(rec.ids()) == 1 }, waitFor, tick)
}

func TestRuntimeHandlerErrorIsCountedNotRetried(t *testing.T) {
	m := &countingMetrics{}
	rt := newTestRuntime(t, Options{Workers: 1, Metrics: m})
	require.NoError(t, rt.Start())

	var calls sync.Map
	obj, err := rt.Spawn(HandlerFunc(func(_ context.Context, msg *Message) error {
		n, _ := calls.LoadOrStore(msg.ID, 0)
		calls.Store(msg.ID, n.(int)+1)
		if msg.ID == 1 {
			return errors.New("boom")
		}
		return nil
	}), ObjectOptions{})
	require.NoError(t, err)

	send(t, obj, 1, 2)
	require.Eventually(t, func() bool { return obj.Stats().MessagesProcessed == 2 }, waitFor, tick)

	n, _ := calls.Load(uint64(1))
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), m.failed.Load())
	assert.Equal(t, int32(1), m.succeeded.Load())
}

func TestRuntimeSelfInHandlerContext(t *testing.T) {
	rt := newTestRuntime(t, Options{Workers: 1})
	require.NoError(t, rt.Start())

	got := make(chan ObjectID, 1)
	obj, err := rt.Spawn(HandlerFunc(func(ctx context.Context, _ *Message) error {
		self, ok := Self(ctx)
		if !ok {
			return errors.New("no self in context")
		}
		got <- self.ID()
		return nil
	}), ObjectOptions{})
	require.NoError(t, err)

	send(t, obj, 1)
	select {
	case id := <-got:
		assert.Equal(t, obj.ID(), id)
	case <-time.After(waitFor):
		t.Fatal("handler did not run")
	}

	_, ok := Self(context.Background())
	assert.False(t, ok)
}

type finalizingRecorder struct {
	recorder
	finalized chan struct{}
}

func (f *finalizingRecorder) Finalize() { close(f.finalized) }

func TestRuntimeDefaultSinkFinalizesHandler(t *testing.T) {
	rt := newTestRuntime(t, Options{Workers: 2})
	require.NoError(t, rt.Start())

	h := &finalizingRecorder{finalized: make(chan struct{})}
	obj, err := rt.Spawn(h, ObjectOptions{})
	require.NoError(t, err)
	send(t, obj, 1)
	require.NoError(t, obj.Delete())

	select {
	case <-h.finalized:
	case <-time.After(waitFor):
		t.Fatal("Finalize was not called")
	}
	assert.Equal(t, []uint64{1}, h.ids())
}

func TestRuntimeCustomDispatcher(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []ObjectID
	)
	rt := newTestRuntime(t, Options{
		Workers: 1,
		Dispatcher: DispatcherFunc(func(_ context.Context, obj *Object, _ *Message) error {
			mu.Lock()
			seen = append(seen, obj.ID())
			mu.Unlock()
			return nil
		}),
	})
	require.NoError(t, rt.Start())

	rec := &recorder{}
	obj, err := rt.Spawn(rec, ObjectOptions{})
	require.NoError(t, err)
	send(t, obj, 1)

	require.Eventually(t, func() bool { return obj.Stats().MessagesProcessed == 1 }, waitFor, tick)
	mu.Lock()
	assert.Equal(t, []ObjectID{obj.ID()}, seen)
	mu.Unlock()
	assert.Empty(t, rec.ids())
}

func TestRuntimeConcurrentProducers(t *testing.T) {
	const (
		objects     = 32
		producers   = 8
		perProducer = 200
	)

	rt := newTestRuntime(t, Options{Workers: 4, TimeSlice: 100 * time.Microsecond})
	require.NoError(t, rt.Start())

	type tracker struct {
		mu   sync.Mutex
		last map[ObjectID]int64
		bad  int
		n    int
	}
	trackers := make([]*tracker, objects)
	objs := make([]*Object, objects)
	for i := range objs {
		tr := &tracker{last: make(map[ObjectID]int64)}
		trackers[i] = tr
		obj, err := rt.Spawn(HandlerFunc(func(_ context.Context, msg *Message) error {
			tr.mu.Lock()
			defer tr.mu.Unlock()
			prev, ok := tr.last[msg.Source]
			if ok && int64(msg.ID) != prev+1 {
				tr.bad++
			}
			tr.last[msg.Source] = int64(msg.ID)
			tr.n++
			return nil
		}), ObjectOptions{})
		require.NoError(t, err)
		objs[i] = obj
	}

	var g errgroup.Group
	for p := 1; p <= producers; p++ {
		g.Go(func() error {
			for seq := 0; seq < perProducer; seq++ {
				for _, obj := range objs {
					msg := &Message{ID: uint64(seq), Source: ObjectID(p)}
					if err := rt.Send(obj.ID(), msg); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Eventually(t, func() bool {
		for _, tr := range trackers {
			tr.mu.Lock()
			n := tr.n
			tr.mu.Unlock()
			if n != producers*perProducer {
				return false
			}
		}
		return true
	}, 10*time.Second, 5*time.Millisecond)

	for i, tr := range trackers {
		assert.Zero(t, tr.bad, "object %d saw messages out of order", i)
	}
	require.Eventually(t, func() bool {
		s := rt.Stats()
		return s.IdleWorkers == 4 && s.ReadyObjects == 0
	}, waitFor, tick)
}

func TestRuntimePinnedWorkers(t *testing.T) {
	rt := newTestRuntime(t, Options{Workers: 2, PinWorkers: true})
	require.NoError(t, rt.Start())

	rec := &recorder{}
	obj, err := rt.Spawn(rec, ObjectOptions{})
	require.NoError(t, err)
	send(t, obj, 1, 2)
	require.Eventually(t, func() bool { return len(rec.ids()) == 2 }, waitFor, tick)

	for _, w := range rt.workers {
		assert.GreaterOrEqual(t, w.cpu, 0)
	}
}

func TestRuntimeLifecycleErrors(t *testing.T) {
	rt := newTestRuntime(t, Options{Workers: 1})

	_, err := rt.Spawn(nil, ObjectOptions{})
	require.ErrorIs(t, err, ErrNilHandler)

	obj, err := rt.Spawn(&recorder{}, ObjectOptions{})
	require.NoError(t, err)
	require.ErrorIs(t, obj.Send(nil), ErrNilMessage)

	require.NoError(t, rt.Start())
	require.ErrorIs(t, rt.Start(), ErrAlreadyStarted)

	require.ErrorIs(t, rt.Delete(ObjectID(9999)), ErrObjectNotFound)
	require.ErrorIs(t, rt.SendByName("missing", &Message{}), ErrObjectNotFound)

	require.NoError(t, rt.Shutdown(context.Background()))
	require.ErrorIs(t, rt.Shutdown(context.Background()), ErrRuntimeStopped)
	require.ErrorIs(t, rt.Start(), ErrRuntimeStopped)
	require.ErrorIs(t, obj.Send(&Message{}), ErrRuntimeStopped)

	_, err = rt.Spawn(&recorder{}, ObjectOptions{})
	require.ErrorIs(t, err, ErrRuntimeStopped)
}

func TestRuntimeShutdownCancelsHandlerContext(t *testing.T) {
	rt := newTestRuntime(t, Options{Workers: 1})
	require.NoError(t, rt.Start())

	entered := make(chan struct{})
	obj, err := rt.Spawn(HandlerFunc(func(ctx context.Context, _ *Message) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}), ObjectOptions{})
	require.NoError(t, err)
	send(t, obj, 1)
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, rt.Shutdown(ctx))
}

func TestRuntimeShutdownRespectsDeadline(t *testing.T) {
	rt := newTestRuntime(t, Options{Workers: 1})
	require.NoError(t, rt.Start())

	release := make(chan struct{})
	entered := make(chan struct{})
	obj, err := rt.Spawn(HandlerFunc(func(context.Context, *Message) error {
		close(entered)
		<-release
		return nil
	}), ObjectOptions{})
	require.NoError(t, err)
	send(t, obj, 1)
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, rt.Shutdown(ctx), context.DeadlineExceeded)
	require.ErrorIs(t, rt.Shutdown(context.Background()), ErrRuntimeStopped)

	// the reclaimer stops once the late worker is done
	close(release)
	select {
	case <-rt.reclaimDone:
	case <-time.After(waitFor):
		t.Fatal("reclaimer still running after the workers stopped")
	}
}

func TestRuntimeShutdownLeavesDeletingObjectUndrained(t *testing.T) {
	for _, exclusive := range []bool{false, true} {
		t.Run(fmt.Sprintf("exclusive=%v", exclusive), func(t *testing.T) {
			var sunk atomic.Int32
			rt := newTestRuntime(t, Options{
				Workers: 1,
				Sink:    DeletionSinkFunc(func(*Object) { sunk.Add(1) }),
			})

			entered := make(chan struct{}, 5)
			obj, err := rt.Spawn(HandlerFunc(func(context.Context, *Message) error {
				entered <- struct{}{}
				time.Sleep(50 * time.Millisecond)
				return nil
			}), ObjectOptions{Exclusive: exclusive})
			require.NoError(t, err)

			send(t, obj, 1, 2, 3, 4, 5)
			require.NoError(t, obj.Delete())
			require.NoError(t, rt.Start())
			<-entered

			ctx, cancel := context.WithTimeout(context.Background(), waitFor)
			defer cancel()
			require.NoError(t, rt.Shutdown(ctx))

			stats := obj.Stats()
			assert.Zero(t, sunk.Load())
			assert.Equal(t, uint64(0), rt.Stats().Reclaimed)
			assert.False(t, obj.finalized.Load())
			assert.Equal(t, ObjectStateDeleting, stats.State)
			assert.Equal(t, uint64(1), stats.MessagesProcessed)
			assert.Equal(t, 4, stats.MailboxSize)
		})
	}
}

// trackedHandler counts what it handled and notices handling after reclaim.
type trackedHandler struct {
	handled  atomic.Int64
	late     atomic.Int64
	reclaims atomic.Int32
}

func (h *trackedHandler) HandleMessage(context.Context, *Message) error {
	if h.reclaims.Load() > 0 {
		h.late.Add(1)
	}
	h.handled.Add(1)
	return nil
}

func TestRuntimeDeleteRacesSenders(t *testing.T) {
	const (
		rounds     = 200
		senders    = 4
		perSender  = 50
		maxStagger = 5
	)

	rt := newTestRuntime(t, Options{
		Workers:   4,
		TimeSlice: 50 * time.Microsecond,
		Sink: DeletionSinkFunc(func(obj *Object) {
			obj.Handler().(*trackedHandler).reclaims.Add(1)
		}),
	})
	require.NoError(t, rt.Start())

	handlers := make([]*trackedHandler, rounds)
	for round := 0; round < rounds; round++ {
		h := &trackedHandler{}
		handlers[round] = h
		obj, err := rt.Spawn(h, ObjectOptions{Exclusive: round%2 == 1})
		require.NoError(t, err)

		var accepted atomic.Int64
		var g errgroup.Group
		for s := 0; s < senders; s++ {
			g.Go(func() error {
				for i := 0; i < perSender; i++ {
					err := obj.Send(&Message{ID: uint64(i)})
					if errors.Is(err, ErrObjectDeleting) {
						return nil
					}
					if err != nil {
						return err
					}
					accepted.Add(1)
				}
				return nil
			})
		}
		g.Go(func() error {
			time.Sleep(time.Duration(round%maxStagger) * 20 * time.Microsecond)
			return obj.Delete()
		})
		require.NoError(t, g.Wait())

		require.Eventually(t, func() bool { return h.reclaims.Load() == 1 }, waitFor, tick,
			"round %d: object never reclaimed", round)
		assert.Equal(t, accepted.Load(), h.handled.Load(), "round %d: accepted sends not handled", round)
		assert.Zero(t, h.late.Load(), "round %d: handler ran after reclaim", round)
		assert.Equal(t, ObjectStateReclaimed, obj.Stats().State)
		assert.Equal(t, int32(0), obj.Stats().References)
	}

	// no object reaches the sink twice
	time.Sleep(20 * time.Millisecond)
	for round, h := range handlers {
		assert.Equal(t, int32(1), h.reclaims.Load(), "round %d", round)
	}
	assert.Equal(t, uint64(rounds), rt.Stats().Reclaimed)
	assert.Zero(t, rt.Stats().DedicatedWorkers)
}

func TestRuntimeSetTimeSlice(t *testing.T) {
	rt := newTestRuntime(t, Options{TimeSlice: time.Millisecond})
	assert.Equal(t, time.Millisecond, rt.TimeSlice())

	require.NoError(t, rt.SetTimeSlice(3*time.Millisecond))
	assert.Equal(t, 3*time.Millisecond, rt.Stats().TimeSlice)
	require.ErrorIs(t, rt.SetTimeSlice(0), ErrInvalidTimeSlice)
	assert.Equal(t, 3*time.Millisecond, rt.TimeSlice())
}

func TestRuntimeDefaults(t *testing.T) {
	rt := newTestRuntime(t, Options{})
	def := DefaultOptions()

	stats := rt.Stats()
	assert.Equal(t, def.Workers, stats.Workers)
	assert.Equal(t, def.Workers, stats.IdleWorkers)
	assert.Equal(t, def.TimeSlice, stats.TimeSlice)
	assert.Zero(t, stats.Objects)
}

func TestRuntimeObjectStats(t *testing.T) {
	m := &countingMetrics{}
	rt := newTestRuntime(t, Options{Workers: 1, Metrics: m})

	_, err := rt.Spawn(&recorder{}, ObjectOptions{Name: "a"})
	require.NoError(t, err)
	_, err = rt.Spawn(&recorder{}, ObjectOptions{Name: "b"})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, s := range rt.ObjectStats() {
		names[s.Name] = true
		assert.Equal(t, ObjectStateIdle, s.State)
		assert.Equal(t, int32(1), s.References)
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, names)
	assert.Len(t, rt.Objects(), 2)
	assert.Equal(t, 2, rt.Stats().Objects)
	assert.Equal(t, int32(2), m.spawned.Load())
}
