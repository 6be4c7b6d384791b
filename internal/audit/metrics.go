package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts secondary stream delivery problems.
type Metrics struct {
	StreamFailures *prometheus.CounterVec // by sink
	StreamDropped  *prometheus.CounterVec // by sink, async buffer full
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StreamFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "degreeproof_audit_stream_failures_total",
			Help: "Total number of audit entries a stream sink failed to accept, labeled by sink",
		}, []string{"sink"}),
		StreamDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "degreeproof_audit_stream_dropped_total",
			Help: "Total number of audit entries dropped because the stream buffer was full, labeled by sink",
		}, []string{"sink"}),
	}
}

func (m *Metrics) incFailure(sink string) {
	if m == nil {
		return
	}
	m.StreamFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) incDropped(sink string) {
	if m == nil {
		return
	}
	m.StreamDropped.WithLabelValues(sink).Inc()
}
