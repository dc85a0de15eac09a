// Package metrics exposes Prometheus instrumentation for lifecycle
// transitions and HTTP traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusswap_transitions_total",
		Help: "Total lifecycle transitions by machine, event and outcome",
	}, []string{"machine", "event", "outcome"})

	idempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campusswap_idempotent_replays_total",
		Help: "Total responses served from the idempotency store",
	})
)

// Recorder records transition outcomes. It satisfies the Recorder
// interfaces of the application services.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (Recorder) RecordTransition(machine, event, outcome string) {
	transitionsTotal.WithLabelValues(machine, event, outcome).Inc()
}

func (Recorder) RecordIdempotentReplay() {
	idempotentReplaysTotal.Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
