// Package metrics collects gateway counters and gauges.
//
// The Collector owns a private Prometheus registry with request,
// backend, and cache metric families, and additionally maintains the
// plain JSON counters snapshot served on the gateway's /metrics
// endpoint. It is passed to components as an explicit handle; there is
// no process-wide metrics singleton.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ntonix-ai/ntonix/pkg/config"
)

// Collector is the metrics hub for the gateway.
type Collector struct {
	cfg      config.MetricsConfig
	registry *prometheus.Registry

	requestMetrics *RequestMetrics
	backendMetrics *BackendMetrics
	cacheMetrics   *CacheMetrics

	// JSON snapshot counters, lock-free for the hot path.
	requestsTotal   atomic.Uint64
	requestsActive  atomic.Int64
	requestsSuccess atomic.Uint64
	requestsError   atomic.Uint64

	connectionsTotal  atomic.Uint64
	connectionsActive atomic.Int64

	mu       sync.Mutex
	backends map[string]*backendCounters

	startTime time.Time
}

// backendCounters accumulates per-backend totals for the JSON snapshot.
type backendCounters struct {
	requests     uint64
	errors       uint64
	latencySumMS uint64
	latencyCount uint64
}

// NewCollector creates a collector with its own Prometheus registry.
func NewCollector(cfg config.MetricsConfig) *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		cfg:            cfg,
		registry:       registry,
		requestMetrics: NewRequestMetrics(cfg, registry),
		backendMetrics: NewBackendMetrics(cfg, registry),
		cacheMetrics:   NewCacheMetrics(cfg, registry),
		backends:       make(map[string]*backendCounters),
		startTime:      time.Now(),
	}
}

// Registry returns the collector's Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Cache returns the cache metric family.
func (c *Collector) Cache() *CacheMetrics {
	return c.cacheMetrics
}

// Backends returns the backend metric family.
func (c *Collector) Backends() *BackendMetrics {
	return c.backendMetrics
}

// RequestStarted marks a request as in flight.
func (c *Collector) RequestStarted() {
	if !c.cfg.Enabled {
		return
	}
	c.requestsTotal.Add(1)
	c.requestsActive.Add(1)
	c.requestMetrics.RecordStarted()
}

// RequestCompleted finishes a request with its final status and total
// latency.
func (c *Collector) RequestCompleted(status int, latency time.Duration) {
	if !c.cfg.Enabled {
		return
	}
	c.requestsActive.Add(-1)
	if status < 500 {
		c.requestsSuccess.Add(1)
	} else {
		c.requestsError.Add(1)
	}
	c.requestMetrics.RecordCompleted(status, latency)
}

// BackendRequest records one proxied request against a backend.
func (c *Collector) BackendRequest(backendKey string, success bool, latency time.Duration) {
	if !c.cfg.Enabled {
		return
	}

	c.backendMetrics.RecordRequest(backendKey, success, latency)

	c.mu.Lock()
	bc, ok := c.backends[backendKey]
	if !ok {
		bc = &backendCounters{}
		c.backends[backendKey] = bc
	}
	bc.requests++
	if !success {
		bc.errors++
	}
	bc.latencySumMS += uint64(latency.Milliseconds())
	bc.latencyCount++
	c.mu.Unlock()
}

// BackendHealthChanged updates the per-backend health gauge.
func (c *Collector) BackendHealthChanged(backendKey string, healthy bool) {
	if !c.cfg.Enabled {
		return
	}
	c.backendMetrics.UpdateHealth(backendKey, healthy)
}

// ConnectionOpened counts a new client connection.
func (c *Collector) ConnectionOpened() {
	if !c.cfg.Enabled {
		return
	}
	c.connectionsTotal.Add(1)
	c.connectionsActive.Add(1)
}

// ConnectionClosed counts a finished client connection.
func (c *Collector) ConnectionClosed() {
	if !c.cfg.Enabled {
		return
	}
	c.connectionsActive.Add(-1)
}

// Uptime returns how long the collector (and so the gateway) has been up.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}
