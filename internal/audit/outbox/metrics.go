package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the outbox worker.
type Metrics struct {
	PendingDepth     prometheus.Gauge
	OldestPendingAge prometheus.Gauge
	PublishedTotal   prometheus.Counter
	PublishFailures  prometheus.Counter
	PublishDuration  prometheus.Histogram
	BatchSize        prometheus.Histogram
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PendingDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "degreeproof_audit_outbox_pending",
			Help: "Current number of audit outbox entries not yet published",
		}),
		OldestPendingAge: f.NewGauge(prometheus.GaugeOpts{
			Name: "degreeproof_audit_outbox_oldest_pending_seconds",
			Help: "Age in seconds of the oldest unpublished audit outbox entry",
		}),
		PublishedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "degreeproof_audit_outbox_published_total",
			Help: "Total number of audit outbox entries published to Kafka",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "degreeproof_audit_outbox_publish_failures_total",
			Help: "Total number of audit outbox fetch or publish failures",
		}),
		PublishDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "degreeproof_audit_outbox_publish_duration_seconds",
			Help:    "Time taken to publish one audit outbox entry",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "degreeproof_audit_outbox_batch_size",
			Help:    "Number of entries fetched per poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}

func (m *Metrics) setPending(count int64, ageSeconds float64) {
	if m == nil {
		return
	}
	m.PendingDepth.Set(float64(count))
	m.OldestPendingAge.Set(ageSeconds)
}

func (m *Metrics) incPublished() {
	if m == nil {
		return
	}
	m.PublishedTotal.Inc()
}

func (m *Metrics) incFailures() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

func (m *Metrics) observePublish(seconds float64) {
	if m == nil {
		return
	}
	m.PublishDuration.Observe(seconds)
}

func (m *Metrics) observeBatch(size int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
}
