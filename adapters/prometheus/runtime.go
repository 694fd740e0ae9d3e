package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/najoast/actorrt/core"
	"github.com/najoast/actorrt/metrics"
)

// runtimeMetrics implements core.Metrics using Prometheus.
type runtimeMetrics struct {
	messageDuration  prometheus.Histogram
	messagesTotal    *prometheus.CounterVec
	scheduledTotal   *prometheus.CounterVec
	requeuedTotal    prometheus.Counter
	sliceExhausted   prometheus.Counter
	idleWorkers      prometheus.Gauge
	readyDepth       prometheus.Gauge
	objectsSpawned   prometheus.Counter
	objectsReclaimed prometheus.Counter
}

// NewRuntimeMetrics creates the scheduler metrics and registers them on reg.
func NewRuntimeMetrics(reg prometheus.Registerer) core.Metrics {
	m := &runtimeMetrics{
		messageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "Message dispatch time in seconds",
			Buckets:   messageBuckets,
		}),

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of dispatched messages",
		}, []string{"success"}),

		scheduledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_scheduled_total",
			Help:      "Objects made runnable, by whether an idle worker took them directly",
		}, []string{"direct"}),

		requeuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_requeued_total",
			Help:      "Passes that ended with messages left and sent the object back to the ready queue",
		}),

		sliceExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_slice_exhausted_total",
			Help:      "Passes cut short by the time slice",
		}),

		idleWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle_workers",
			Help:      "Shared workers waiting for an object",
		}),

		readyDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_queue_depth",
			Help:      "Objects waiting for a worker",
		}),

		objectsSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_spawned_total",
			Help:      "Total number of spawned objects",
		}),

		objectsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_reclaimed_total",
			Help:      "Total number of objects handed to the deletion sink",
		}),
	}

	reg.MustRegister(
		m.messageDuration,
		m.messagesTotal,
		m.scheduledTotal,
		m.requeuedTotal,
		m.sliceExhausted,
		m.idleWorkers,
		m.readyDepth,
		m.objectsSpawned,
		m.objectsReclaimed,
	)

	return m
}

func (m *runtimeMetrics) MessageDuration() metrics.Timer {
	return newTimer(m.messageDuration)
}

func (m *runtimeMetrics) MessageDispatched(success bool) {
	m.messagesTotal.WithLabelValues(boolToStr(success)).Inc()
}

func (m *runtimeMetrics) ObjectScheduled(direct bool) {
	m.scheduledTotal.WithLabelValues(boolToStr(direct)).Inc()
}

func (m *runtimeMetrics) ObjectRequeued() { m.requeuedTotal.Inc() }
func (m *runtimeMetrics) SliceExhausted() { m.sliceExhausted.Inc() }

func (m *runtimeMetrics) IdleWorkers(n int) { m.idleWorkers.Set(float64(n)) }
func (m *runtimeMetrics) ReadyDepth(n int)  { m.readyDepth.Set(float64(n)) }

func (m *runtimeMetrics) ObjectSpawned()   { m.objectsSpawned.Inc() }
func (m *runtimeMetrics) ObjectReclaimed() { m.objectsReclaimed.Inc() }

var _ core.Metrics = (*runtimeMetrics)(nil)
