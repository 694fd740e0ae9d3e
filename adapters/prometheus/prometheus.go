// Package prometheus implements the runtime's metrics hooks on top of the
// Prometheus client library.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/najoast/actorrt/metrics"
)

const namespace = "actorrt"

// timer observes the time since its creation into a histogram.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Handlers are expected to be short; the low end is where scheduling
// overhead shows up.
var messageBuckets = []float64{
	.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1,
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
