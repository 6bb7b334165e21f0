package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ntonix-ai/ntonix/pkg/config"
)

// RequestMetrics tracks gateway request throughput and latency.
//
// Metrics:
//   - ntonix_gateway_requests_total: completed requests by status code
//   - ntonix_gateway_requests_in_flight: currently executing requests
//   - ntonix_gateway_request_duration_seconds: request latency histogram
type RequestMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestsInFlight prometheus.Gauge
	requestDuration  *prometheus.HistogramVec
}

// NewRequestMetrics creates and registers the request metric family.
func NewRequestMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of completed requests",
			},
			[]string{"status"},
		),

		requestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being served",
			},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Request latency from acceptance to response emission",
				// LLM inference latencies run from tens of milliseconds
				// (cache hits) to tens of seconds (long generations).
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(rm.requestsTotal, rm.requestsInFlight, rm.requestDuration)
	return rm
}

// RecordStarted marks a request in flight.
func (rm *RequestMetrics) RecordStarted() {
	rm.requestsInFlight.Inc()
}

// RecordCompleted finishes a request.
func (rm *RequestMetrics) RecordCompleted(status int, latency time.Duration) {
	rm.requestsInFlight.Dec()
	label := strconv.Itoa(status)
	rm.requestsTotal.WithLabelValues(label).Inc()
	rm.requestDuration.WithLabelValues(label).Observe(latency.Seconds())
}
