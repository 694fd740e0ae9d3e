package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/najoast/actorrt/ds"
	"github.com/najoast/actorrt/event"
)

// Options configures a Runtime.
type Options struct {
	// Workers is the size of the shared worker pool. Zero means one per CPU.
	Workers int

	// TimeSlice bounds how long a shared worker drains one object before it
	// gives the others a turn.
	TimeSlice time.Duration

	// PinWorkers locks every worker to an OS thread pinned to one CPU.
	PinWorkers bool

	// MaxObjects caps the number of live objects. Zero means unlimited.
	MaxObjects int

	// Logger for runtime events. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics for scheduler instrumentation. Defaults to no-op.
	Metrics Metrics

	// Dispatcher delivers messages. Defaults to calling the object's handler.
	Dispatcher Dispatcher

	// Sink receives reclaimed objects. Defaults to calling Finalize on
	// handlers that implement Finalizer.
	Sink DeletionSink

	// Context is the parent of the context handlers receive. It is
	// cancelled by Shutdown. Defaults to context.Background().
	Context context.Context
}

// DefaultOptions returns the default runtime options.
func DefaultOptions() Options {
	return Options{
		Workers:   runtime.NumCPU(),
		TimeSlice: 10 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.TimeSlice <= 0 {
		o.TimeSlice = def.TimeSlice
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = NopMetrics()
	}
	if o.Dispatcher == nil {
		o.Dispatcher = handlerDispatcher{}
	}
	if o.Sink == nil {
		o.Sink = finalizingSink{}
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	return o
}

// Runtime schedules objects onto a fixed pool of shared workers plus one
// dedicated worker per exclusive object.
type Runtime struct {
	logger     *slog.Logger
	metrics    Metrics
	dispatcher Dispatcher
	sink       DeletionSink
	pin        bool
	cpus       []int // CPUs workers are pinned to, round robin

	// handler context, cancelled on shutdown
	ctx    context.Context
	cancel context.CancelFunc

	timeSlice atomic.Int64
	registry  *registry

	workers []*Worker

	// idle is pushed lock-free; pops hold idleMu so the stack keeps a
	// single consumer
	idle      ds.Stack[Worker, *Worker]
	idleMu    sync.Mutex
	idleCount atomic.Int32
	ready     ds.Queue[Object, *Object]

	deletions     ds.Stack[Object, *Object]
	reclaimWake   *event.Event
	reclaimCancel context.CancelFunc
	reclaimDone   chan struct{}
	reclaimed     atomic.Uint64

	// mu serializes Start, Shutdown and dedicated worker launches
	mu           sync.Mutex
	started      atomic.Bool
	stopped      atomic.Bool
	group        errgroup.Group
	nextWorkerID int

	dedicatedMu sync.Mutex
	dedicated   map[*Worker]struct{}
}

// NewRuntime creates a runtime. Objects may be spawned and messaged before
// Start; they run once the workers are up.
func NewRuntime(opts Options) *Runtime {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(opts.Context)

	rt := &Runtime{
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		dispatcher:  opts.Dispatcher,
		sink:        opts.Sink,
		pin:         opts.PinWorkers,
		ctx:         ctx,
		cancel:      cancel,
		registry:    newRegistry(opts.MaxObjects),
		reclaimWake: event.NewAuto(),
		reclaimDone: make(chan struct{}),
		dedicated:   make(map[*Worker]struct{}),
	}
	if rt.pin {
		rt.cpus = allowedCPUs()
	}
	rt.timeSlice.Store(int64(opts.TimeSlice))

	rt.workers = make([]*Worker, opts.Workers)
	for i := range rt.workers {
		w := newWorker(rt, rt.allocWorkerID(), false, rt.cpuFor(i))
		rt.workers[i] = w
		rt.idle.Push(w)
	}
	rt.idleCount.Store(int32(len(rt.workers)))
	return rt
}

func (rt *Runtime) allocWorkerID() int {
	id := rt.nextWorkerID
	rt.nextWorkerID++
	return id
}

func (rt *Runtime) cpuFor(id int) int {
	if !rt.pin {
		return -1
	}
	if len(rt.cpus) == 0 {
		return id % runtime.NumCPU()
	}
	return rt.cpus[id%len(rt.cpus)]
}

// Start launches the workers and the reclaimer. If any worker fails to set
// up its thread, every started worker is stopped and the error wraps
// ErrWorkerStart.
func (rt *Runtime) Start() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.stopped.Load() {
		return ErrRuntimeStopped
	}
	if rt.started.Load() {
		return ErrAlreadyStarted
	}

	reclaimCtx, cancel := context.WithCancel(context.Background())
	rt.reclaimCancel = cancel
	go rt.reclaim(reclaimCtx)

	workers := append(append([]*Worker(nil), rt.workers...), rt.dedicatedWorkers()...)
	ready := make(chan error, len(workers))
	for _, w := range workers {
		rt.launch(w, ready)
	}

	var startErr error
	for range workers {
		if err := <-ready; err != nil && startErr == nil {
			startErr = err
		}
	}
	if startErr != nil {
		rt.stopped.Store(true)
		rt.cancel()
		for _, w := range workers {
			w.stop()
		}
		_ = rt.group.Wait()
		rt.stopReclaimer()
		rt.logger.Error("runtime start failed", slog.Any("error", startErr))
		return fmt.Errorf("start runtime: %w: %w", ErrWorkerStart, startErr)
	}

	rt.started.Store(true)
	rt.logger.Info("runtime started",
		slog.Int("workers", len(rt.workers)),
		slog.Int("dedicated", len(workers)-len(rt.workers)),
		slog.Duration("timeSlice", rt.TimeSlice()),
		slog.Bool("pinned", rt.pin),
	)
	return nil
}

func (rt *Runtime) launch(w *Worker, ready chan<- error) {
	rt.group.Go(func() error {
		return w.execute(func(err error) { ready <- err })
	})
}

// Shutdown stops every worker between messages and waits for them, bounded
// by ctx. Messages still queued are dropped.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	if rt.stopped.Swap(true) {
		rt.mu.Unlock()
		return ErrRuntimeStopped
	}
	started := rt.started.Load()
	workers := append(append([]*Worker(nil), rt.workers...), rt.dedicatedWorkers()...)
	rt.mu.Unlock()

	rt.logger.Info("runtime shutting down", slog.Int("workers", len(workers)))
	rt.cancel()
	for _, w := range workers {
		w.stop()
	}
	if !started {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- rt.group.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			rt.logger.Warn("worker exited with error", slog.Any("error", err))
		}
	case <-ctx.Done():
		// the workers still finish their current message; the reclaimer
		// goes once they have
		go func() {
			<-done
			rt.stopReclaimer()
		}()
		return fmt.Errorf("shutdown runtime: %w", ctx.Err())
	}

	rt.stopReclaimer()
	rt.logger.Info("runtime stopped", slog.Uint64("reclaimed", rt.reclaimed.Load()))
	return nil
}

// Spawn creates an object. An exclusive object gets its own dedicated
// worker, locked to an OS thread.
func (rt *Runtime) Spawn(handler MessageHandler, opts ObjectOptions) (*Object, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if opts.TimeSlice < 0 {
		return nil, fmt.Errorf("spawn object: %w: %v", ErrInvalidTimeSlice, opts.TimeSlice)
	}
	if rt.stopped.Load() {
		return nil, ErrRuntimeStopped
	}

	id, err := rt.registry.allocate(opts.Name)
	if err != nil {
		return nil, err
	}
	obj := newObject(rt, id, handler, opts)
	if obj.exclusive {
		if err := rt.startDedicated(obj); err != nil {
			rt.registry.unregister(id)
			return nil, err
		}
	}
	rt.registry.bind(obj)
	rt.metrics.ObjectSpawned()

	rt.logger.Debug("object spawned",
		slog.Uint64("object", uint64(id)),
		slog.String("name", obj.name),
		slog.Bool("exclusive", obj.exclusive),
	)
	return obj, nil
}

func (rt *Runtime) startDedicated(obj *Object) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.stopped.Load() {
		return ErrRuntimeStopped
	}

	id := rt.allocWorkerID()
	w := newWorker(rt, id, true, rt.cpuFor(id))
	w.obj.Store(obj)
	obj.worker = w

	rt.dedicatedMu.Lock()
	rt.dedicated[w] = struct{}{}
	rt.dedicatedMu.Unlock()

	if !rt.started.Load() {
		return nil
	}

	ready := make(chan error, 1)
	rt.launch(w, ready)
	if err := <-ready; err != nil {
		rt.dropDedicated(w)
		return fmt.Errorf("spawn exclusive object %d: %w: %w", obj.id, ErrWorkerStart, err)
	}
	return nil
}

func (rt *Runtime) dedicatedWorkers() []*Worker {
	rt.dedicatedMu.Lock()
	defer rt.dedicatedMu.Unlock()

	workers := make([]*Worker, 0, len(rt.dedicated))
	for w := range rt.dedicated {
		workers = append(workers, w)
	}
	return workers
}

func (rt *Runtime) dropDedicated(w *Worker) {
	rt.dedicatedMu.Lock()
	delete(rt.dedicated, w)
	rt.dedicatedMu.Unlock()
}

// Send delivers msg to the object with the given ID.
func (rt *Runtime) Send(id ObjectID, msg *Message) error {
	obj, ok := rt.registry.lookup(id)
	if !ok {
		return fmt.Errorf("send to object %d: %w", id, ErrObjectNotFound)
	}
	return obj.Send(msg)
}

// SendByName delivers msg to the object registered under name.
func (rt *Runtime) SendByName(name string, msg *Message) error {
	obj, ok := rt.registry.lookupName(name)
	if !ok {
		return fmt.Errorf("send to object %q: %w", name, ErrObjectNotFound)
	}
	return obj.Send(msg)
}

// Delete requests deletion of the object with the given ID.
func (rt *Runtime) Delete(id ObjectID) error {
	obj, ok := rt.registry.lookup(id)
	if !ok {
		return fmt.Errorf("delete object %d: %w", id, ErrObjectNotFound)
	}
	return obj.Delete()
}

// Lookup finds a live object by ID.
func (rt *Runtime) Lookup(id ObjectID) (*Object, bool) {
	return rt.registry.lookup(id)
}

// LookupName finds a live object by registered name.
func (rt *Runtime) LookupName(name string) (*Object, bool) {
	return rt.registry.lookupName(name)
}

// Objects returns every object that has not been reclaimed yet.
func (rt *Runtime) Objects() []*Object {
	return rt.registry.list()
}

// ObjectStats returns statistics for every live object.
func (rt *Runtime) ObjectStats() []ObjectStats {
	objects := rt.registry.list()
	stats := make([]ObjectStats, 0, len(objects))
	for _, obj := range objects {
		stats = append(stats, obj.Stats())
	}
	return stats
}

// Stats returns a snapshot of the scheduler.
func (rt *Runtime) Stats() RuntimeStats {
	rt.dedicatedMu.Lock()
	dedicated := len(rt.dedicated)
	rt.dedicatedMu.Unlock()

	return RuntimeStats{
		Workers:          len(rt.workers),
		DedicatedWorkers: dedicated,
		IdleWorkers:      int(rt.idleCount.Load()),
		ReadyObjects:     rt.ready.Len(),
		Objects:          rt.registry.count(),
		Reclaimed:        rt.reclaimed.Load(),
		TimeSlice:        rt.TimeSlice(),
	}
}

// Running reports whether the runtime has started and not yet been shut
// down.
func (rt *Runtime) Running() bool {
	return rt.started.Load() && !rt.stopped.Load()
}

// TimeSlice returns the default time slice.
func (rt *Runtime) TimeSlice() time.Duration {
	return time.Duration(rt.timeSlice.Load())
}

// SetTimeSlice changes the default time slice. Passes already running keep
// the slice they started with.
func (rt *Runtime) SetTimeSlice(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("set time slice: %w: %v", ErrInvalidTimeSlice, d)
	}
	if old := time.Duration(rt.timeSlice.Swap(int64(d))); old != d {
		rt.logger.Info("time slice changed", slog.Duration("from", old), slog.Duration("to", d))
	}
	return nil
}

func (rt *Runtime) sliceFor(obj *Object) time.Duration {
	if obj.slice > 0 {
		return obj.slice
	}
	return rt.TimeSlice()
}

// schedule makes a freshly scheduled object runnable: the dedicated worker
// of an exclusive object is woken, anything else goes straight to an idle
// worker or onto the ready queue.
func (rt *Runtime) schedule(obj *Object) {
	ref := obj.acquire()
	defer ref.Release()

	if obj.exclusive {
		obj.worker.wakeup.Signal()
		rt.metrics.ObjectScheduled(true)
		return
	}

	if w := rt.takeIdle(); w != nil {
		rt.metrics.ObjectScheduled(true)
		w.assign(obj, rt.sliceFor(obj))
		return
	}
	rt.metrics.ObjectScheduled(false)
	rt.pushObject(obj)
}

func (rt *Runtime) takeIdle() *Worker {
	rt.idleMu.Lock()
	w := rt.idle.Pop()
	rt.idleMu.Unlock()

	if w != nil {
		rt.metrics.IdleWorkers(int(rt.idleCount.Add(-1)))
	}
	return w
}

func (rt *Runtime) putIdle(w *Worker) {
	rt.idle.Push(w)
	rt.metrics.IdleWorkers(int(rt.idleCount.Add(1)))
}

// announceIdle returns a shared worker to the idle pool.
func (rt *Runtime) announceIdle(w *Worker) {
	rt.putIdle(w)
	rt.balance()
}

func (rt *Runtime) pushObject(obj *Object) {
	rt.ready.Push(obj)
	rt.metrics.ReadyDepth(rt.ready.Len())
	rt.balance()
}

func (rt *Runtime) popObject() *Object {
	obj := rt.ready.Pop()
	if obj != nil {
		rt.metrics.ReadyDepth(rt.ready.Len())
	}
	return obj
}

// balance pairs idle workers with ready objects. Both the enqueue path and
// the idle path call it after publishing, so at least one of them sees the
// other.
func (rt *Runtime) balance() {
	for !rt.ready.Empty() {
		w := rt.takeIdle()
		if w == nil {
			return
		}
		obj := rt.popObject()
		if obj == nil {
			rt.putIdle(w)
			continue
		}
		w.assign(obj, rt.sliceFor(obj))
	}
}
