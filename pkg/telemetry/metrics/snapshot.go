package metrics

import (
	"sort"

	"ntonix-ai/ntonix/pkg/cache"
)

// BackendSnapshot is the JSON view of one backend's counters.
type BackendSnapshot struct {
	Backend      string  `json:"backend"`
	Requests     uint64  `json:"requests"`
	Errors       uint64  `json:"errors"`
	LatencyAvgMS float64 `json:"latency_avg_ms"`
	ErrorRate    float64 `json:"error_rate"`
}

// Snapshot is the JSON counters document served on /metrics.
type Snapshot struct {
	RequestsTotal   uint64 `json:"requests_total"`
	RequestsActive  int64  `json:"requests_active"`
	RequestsSuccess uint64 `json:"requests_success"`
	RequestsError   uint64 `json:"requests_error"`

	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	ConnectionsTotal  uint64 `json:"connections_total"`
	ConnectionsActive int64  `json:"connections_active"`

	UptimeSeconds    uint64 `json:"uptime_seconds"`
	MemoryCacheBytes int64  `json:"memory_cache_bytes"`

	Backends []BackendSnapshot `json:"backends"`
}

// Snapshot assembles the counters document. cacheStats may be the zero
// value when caching is disabled.
func (c *Collector) Snapshot(cacheStats cache.Stats) Snapshot {
	snap := Snapshot{
		RequestsTotal:   c.requestsTotal.Load(),
		RequestsActive:  c.requestsActive.Load(),
		RequestsSuccess: c.requestsSuccess.Load(),
		RequestsError:   c.requestsError.Load(),

		CacheHits:    cacheStats.Hits,
		CacheMisses:  cacheStats.Misses,
		CacheHitRate: cacheStats.HitRate(),

		ConnectionsTotal:  c.connectionsTotal.Load(),
		ConnectionsActive: c.connectionsActive.Load(),

		UptimeSeconds:    uint64(c.Uptime().Seconds()),
		MemoryCacheBytes: cacheStats.SizeBytes,
	}

	c.mu.Lock()
	for key, bc := range c.backends {
		bs := BackendSnapshot{
			Backend:  key,
			Requests: bc.requests,
			Errors:   bc.errors,
		}
		if bc.latencyCount > 0 {
			bs.LatencyAvgMS = float64(bc.latencySumMS) / float64(bc.latencyCount)
		}
		if bc.requests > 0 {
			bs.ErrorRate = float64(bc.errors) / float64(bc.requests)
		}
		snap.Backends = append(snap.Backends, bs)
	}
	c.mu.Unlock()

	sort.Slice(snap.Backends, func(i, j int) bool {
		return snap.Backends[i].Backend < snap.Backends[j].Backend
	})

	return snap
}
