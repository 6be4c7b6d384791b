// Package metrics owns the process-wide Prometheus registry and the metric
// sets of every component registered on it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"degreeproof/internal/audit"
	"degreeproof/internal/audit/outbox"
	credmetrics "degreeproof/internal/credential/metrics"
	"degreeproof/internal/platform/redis"
	vermetrics "degreeproof/internal/verification/metrics"
	"degreeproof/pkg/platform/middleware/request"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	Registry     *prometheus.Registry
	Credentials  *credmetrics.Metrics
	Verification *vermetrics.Metrics
	Audit        *audit.Metrics
	Outbox       *outbox.Metrics
	HTTP         *request.Metrics
	RedisPool    *redis.PoolMetrics
}

// New builds a fresh registry with the Go runtime and process collectors and
// registers every component metric set on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		Registry:     reg,
		Credentials:  credmetrics.NewWith(reg),
		Verification: vermetrics.NewWith(reg),
		Audit:        audit.NewMetricsWith(reg),
		Outbox:       outbox.NewMetricsWith(reg),
		HTTP:         request.NewMetricsWith(reg),
		RedisPool:    redis.NewPoolMetricsWith(reg),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
