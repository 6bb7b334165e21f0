package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"ntonix-ai/ntonix/pkg/config"
)

// CacheMetrics tracks response cache performance.
//
// Metrics:
//   - ntonix_gateway_cache_hits_total / _misses_total / _evictions_total / _expired_total
//   - ntonix_gateway_cache_entries, ntonix_gateway_cache_size_bytes
type CacheMetrics struct {
	hitsTotal      prometheus.Counter
	missesTotal    prometheus.Counter
	evictionsTotal prometheus.Counter
	expiredTotal   prometheus.Counter

	entries   prometheus.Gauge
	sizeBytes prometheus.Gauge
}

// NewCacheMetrics creates and registers the cache metric family.
func NewCacheMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *CacheMetrics {
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}
	}

	cm := &CacheMetrics{
		hitsTotal:      prometheus.NewCounter(opts("cache_hits_total", "Total response cache hits")),
		missesTotal:    prometheus.NewCounter(opts("cache_misses_total", "Total response cache misses")),
		evictionsTotal: prometheus.NewCounter(opts("cache_evictions_total", "Total entries evicted for capacity")),
		expiredTotal:   prometheus.NewCounter(opts("cache_expired_total", "Total entries removed after TTL expiry")),

		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_entries",
			Help:      "Current number of cached responses",
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_size_bytes",
			Help:      "Current cache occupancy in bytes",
		}),
	}

	registry.MustRegister(
		cm.hitsTotal,
		cm.missesTotal,
		cm.evictionsTotal,
		cm.expiredTotal,
		cm.entries,
		cm.sizeBytes,
	)
	return cm
}

// RecordHit records a cache hit.
func (cm *CacheMetrics) RecordHit() {
	cm.hitsTotal.Inc()
}

// RecordMiss records a cache miss.
func (cm *CacheMetrics) RecordMiss() {
	cm.missesTotal.Inc()
}

// UpdateOccupancy refreshes the entry and size gauges from a cache
// stats snapshot. Counter-style snapshot fields are ignored here; the
// cache's own atomic counters remain authoritative for those.
func (cm *CacheMetrics) UpdateOccupancy(entries int, sizeBytes int64) {
	cm.entries.Set(float64(entries))
	cm.sizeBytes.Set(float64(sizeBytes))
}

// RecordEviction records one capacity eviction.
func (cm *CacheMetrics) RecordEviction() {
	cm.evictionsTotal.Inc()
}

// RecordExpiry records one TTL expiry removal.
func (cm *CacheMetrics) RecordExpiry() {
	cm.expiredTotal.Inc()
}
