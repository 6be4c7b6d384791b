// Package metrics provides Prometheus metrics for credential issuance.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds issuance and revocation counters.
type Metrics struct {
	CredentialsIssued    *prometheus.CounterVec // by mode: single, bulk, reissue
	CredentialsRevoked   *prometheus.CounterVec // by kind: revoke, reissue
	IssueConflicts       prometheus.Counter     // id collisions resolved by retry
	StoreUnavailable     *prometheus.CounterVec // by operation
	IssueDurationSeconds prometheus.Histogram
	BulkRows             *prometheus.CounterVec // by result: issued, failed
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers on reg; tests pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CredentialsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "degreeproof_credentials_issued_total",
			Help: "Total number of credentials issued, labeled by mode",
		}, []string{"mode"}),
		CredentialsRevoked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "degreeproof_credentials_revoked_total",
			Help: "Total number of credentials revoked, labeled by kind",
		}, []string{"kind"}),
		IssueConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "degreeproof_credential_id_conflicts_total",
			Help: "Total number of credential id collisions on insert",
		}),
		StoreUnavailable: f.NewCounterVec(prometheus.CounterOpts{
			Name: "degreeproof_issuer_store_unavailable_total",
			Help: "Total number of record store failures seen by the issuer, labeled by operation",
		}, []string{"op"}),
		IssueDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "degreeproof_issue_duration_seconds",
			Help:    "Duration of single credential issuance including the store write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BulkRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "degreeproof_bulk_rows_total",
			Help: "Total number of bulk upload rows processed, labeled by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncIssued(mode string) {
	if m == nil {
		return
	}
	m.CredentialsIssued.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncRevoked(kind string) {
	if m == nil {
		return
	}
	m.CredentialsRevoked.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.IssueConflicts.Inc()
}

func (m *Metrics) IncStoreUnavailable(op string) {
	if m == nil {
		return
	}
	m.StoreUnavailable.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveIssueDuration(seconds float64) {
	if m == nil {
		return
	}
	m.IssueDurationSeconds.Observe(seconds)
}

func (m *Metrics) IncBulkRow(result string) {
	if m == nil {
		return
	}
	m.BulkRows.WithLabelValues(result).Inc()
}
