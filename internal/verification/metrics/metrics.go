// Package metrics provides Prometheus metrics for credential verification.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds verification counters.
type Metrics struct {
	Verifications       *prometheus.CounterVec // by outcome and method
	AuditAppendFailures prometheus.Counter
	StoreUnavailable    prometheus.Counter
	ExtractionFailures  *prometheus.CounterVec // by category
	DurationSeconds     *prometheus.HistogramVec
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers on reg; tests pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "degreeproof_verifications_total",
			Help: "Total number of verification results, labeled by outcome and method",
		}, []string{"outcome", "method"}),
		AuditAppendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "degreeproof_audit_append_failures_total",
			Help: "Total number of verification results that could not be appended to the audit log",
		}),
		StoreUnavailable: f.NewCounter(prometheus.CounterOpts{
			Name: "degreeproof_store_unavailable_total",
			Help: "Total number of verifications aborted because the record store was unavailable",
		}),
		ExtractionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "degreeproof_extraction_failures_total",
			Help: "Total number of document extraction failures, labeled by category",
		}, []string{"category"}),
		DurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "degreeproof_verification_duration_seconds",
			Help:    "Duration of verification calls including store lookups and extraction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
	}
}

func (m *Metrics) IncVerification(outcome, method string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome, method).Inc()
}

func (m *Metrics) IncAuditFailure() {
	if m == nil {
		return
	}
	m.AuditAppendFailures.Inc()
}

func (m *Metrics) IncStoreUnavailable() {
	if m == nil {
		return
	}
	m.StoreUnavailable.Inc()
}

func (m *Metrics) IncExtractionFailure(category string) {
	if m == nil {
		return
	}
	if category == "" {
		category = "unknown"
	}
	m.ExtractionFailures.WithLabelValues(category).Inc()
}

func (m *Metrics) ObserveDuration(method string, seconds float64) {
	if m == nil {
		return
	}
	m.DurationSeconds.WithLabelValues(method).Observe(seconds)
}
