package core

import "github.com/najoast/actorrt/metrics"

// Metrics defines the instrumentation hooks of the scheduler.
// All methods are thread-safe.
type Metrics interface {
	// Message handling
	MessageDuration() metrics.Timer
	MessageDispatched(success bool)

	// Scheduling
	ObjectScheduled(direct bool)
	ObjectRequeued()
	SliceExhausted()
	IdleWorkers(n int)
	ReadyDepth(n int)

	// Lifecycle
	ObjectSpawned()
	ObjectReclaimed()
}

// nopMetrics is a no-op implementation of Metrics.
type nopMetrics struct{}

func (nopMetrics) MessageDuration() metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) MessageDispatched(bool)         {}

func (nopMetrics) ObjectScheduled(bool) {}
func (nopMetrics) ObjectRequeued()      {}
func (nopMetrics) SliceExhausted()      {}
func (nopMetrics) IdleWorkers(int)      {}
func (nopMetrics) ReadyDepth(int)       {}

func (nopMetrics) ObjectSpawned()   {}
func (nopMetrics) ObjectReclaimed() {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
