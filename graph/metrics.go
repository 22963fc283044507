package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for graph execution. All metrics are
// namespaced with "datanexus". A nil *Metrics is valid and records nothing,
// so callers never need to guard.
type Metrics struct {
	stepLatency *prometheus.HistogramVec
	stepsTotal  *prometheus.CounterVec
	checkpoints prometheus.Counter
}

// NewMetrics registers the graph metrics with the given registerer. Pass
// prometheus.DefaultRegisterer for the global registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datanexus",
			Name:      "graph_step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node", "status"}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datanexus",
			Name:      "graph_steps_total",
			Help:      "Cumulative count of executed graph steps",
		}, []string{"node", "status"}),
		checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "datanexus",
			Name:      "graph_checkpoints_saved_total",
			Help:      "Cumulative count of checkpoints durably saved",
		}),
	}
}

func (m *Metrics) observeStep(node string, latency time.Duration, status string) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(node, status).Observe(float64(latency.Milliseconds()))
	m.stepsTotal.WithLabelValues(node, status).Inc()
}

func (m *Metrics) incCheckpoint() {
	if m == nil {
		return
	}
	m.checkpoints.Inc()
}
