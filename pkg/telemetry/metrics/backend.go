package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ntonix-ai/ntonix/pkg/config"
)

// BackendMetrics tracks per-backend traffic, latency, and health.
//
// Metrics:
//   - ntonix_gateway_backend_requests_total: proxied requests by backend and outcome
//   - ntonix_gateway_backend_latency_seconds: backend round-trip latency
//   - ntonix_gateway_backend_healthy: health gauge (1=healthy, 0=unhealthy)
type BackendMetrics struct {
	requestsTotal  *prometheus.CounterVec
	latencySeconds *prometheus.HistogramVec
	healthy        *prometheus.GaugeVec
}

// NewBackendMetrics creates and registers the backend metric family.
func NewBackendMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *BackendMetrics {
	bm := &BackendMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "backend_requests_total",
				Help:      "Total requests proxied per backend",
			},
			[]string{"backend", "outcome"},
		),

		latencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "backend_latency_seconds",
				Help:      "Backend round-trip latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"backend"},
		),

		healthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "backend_healthy",
				Help:      "Backend health as reported by the probe loop (1=healthy)",
			},
			[]string{"backend"},
		),
	}

	registry.MustRegister(bm.requestsTotal, bm.latencySeconds, bm.healthy)
	return bm
}

// RecordRequest records one proxied request against a backend.
func (bm *BackendMetrics) RecordRequest(backend string, success bool, latency time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	bm.requestsTotal.WithLabelValues(backend, outcome).Inc()
	bm.latencySeconds.WithLabelValues(backend).Observe(latency.Seconds())
}

// UpdateHealth sets the health gauge for a backend.
func (bm *BackendMetrics) UpdateHealth(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	bm.healthy.WithLabelValues(backend).Set(v)
}

// Forget drops the health gauge for a removed backend.
func (bm *BackendMetrics) Forget(backend string) {
	bm.healthy.DeleteLabelValues(backend)
}
