// Package balancer provides backend selection for the gateway: a health
// tracker that classifies backends through periodic probing with
// hysteresis, and a smooth weighted round-robin dispatcher that selects
// among the backends the tracker reports healthy.
package balancer

import (
	"log/slog"
	"sync"
	"time"

	"ntonix-ai/ntonix/pkg/config"
)

// State is the health classification of a backend.
type State string

const (
	// Healthy backends are eligible for dispatch.
	Healthy State = "healthy"

	// Unhealthy backends are excluded from dispatch until they pass
	// enough consecutive probes.
	Unhealthy State = "unhealthy"

	// Draining backends are excluded from dispatch but keep serving
	// in-flight work. The state is set by operators only; probes never
	// enter or leave it.
	Draining State = "draining"
)

// BackendHealth is the tracked health record for one backend.
type BackendHealth struct {
	Backend              config.BackendConfig
	State                State
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
	LastProbeAt          time.Time
	LastLatency          time.Duration
}

// StateChangeFunc is invoked after a backend transitions state. The
// transition is committed to the tracker before any callback runs, and
// callbacks run outside the tracker's lock.
type StateChangeFunc func(backend config.BackendConfig, from, to State)

// Tracker owns the health records for all configured backends, keyed by
// (host, port). The dispatcher and forwarder read through IsHealthy and
// Snapshot; only probe results and operator actions mutate state.
type Tracker struct {
	mu       sync.RWMutex
	backends map[string]*BackendHealth

	unhealthyThreshold uint32
	healthyThreshold   uint32

	cbMu      sync.Mutex
	callbacks []StateChangeFunc

	logger *slog.Logger
}

// NewTracker creates a tracker with the given hysteresis configuration
// and no backends. Call Reconfigure to install the backend set.
func NewTracker(cfg config.HealthConfig) *Tracker {
	return &Tracker{
		backends:           make(map[string]*BackendHealth),
		unhealthyThreshold: cfg.UnhealthyThreshold,
		healthyThreshold:   cfg.HealthyThreshold,
		logger:             slog.Default().With("component", "balancer.health"),
	}
}

// OnStateChange registers a callback for backend state transitions.
func (t *Tracker) OnStateChange(cb StateChangeFunc) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Reconfigure installs a new backend set. Backends present in both the
// old and new sets keep their health state and counters (weight updates
// are absorbed); new backends are admitted Healthy so they take traffic
// immediately; removed backends are forgotten.
func (t *Tracker) Reconfigure(backends []config.BackendConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]*BackendHealth, len(backends))
	for _, b := range backends {
		key := b.Key()
		if existing, ok := t.backends[key]; ok {
			existing.Backend = b
			next[key] = existing
			continue
		}
		next[key] = &BackendHealth{
			Backend: b,
			State:   Healthy,
		}
		t.logger.Info("backend added",
			"backend", key,
			"weight", b.Weight,
		)
	}

	for key := range t.backends {
		if _, ok := next[key]; !ok {
			t.logger.Info("backend removed", "backend", key)
		}
	}

	t.backends = next
}

// IsHealthy reports whether the backend is known and Healthy.
func (t *Tracker) IsHealthy(b config.BackendConfig) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.backends[b.Key()]
	return ok && h.State == Healthy
}

// Snapshot returns a copy of all health records.
func (t *Tracker) Snapshot() []BackendHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]BackendHealth, 0, len(t.backends))
	for _, h := range t.backends {
		out = append(out, *h)
	}
	return out
}

// HealthyCount returns the number of Healthy backends.
func (t *Tracker) HealthyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, h := range t.backends {
		if h.State == Healthy {
			n++
		}
	}
	return n
}

// RecordResult applies one probe outcome to a backend's record,
// transitioning state when the hysteresis threshold is crossed.
// Draining backends record the probe metadata but never change state.
func (t *Tracker) RecordResult(b config.BackendConfig, success bool, latency time.Duration) {
	t.mu.Lock()

	h, ok := t.backends[b.Key()]
	if !ok {
		// Backend was removed while its probe was in flight.
		t.mu.Unlock()
		return
	}

	h.LastProbeAt = time.Now()
	h.LastLatency = latency

	old := h.State

	if h.State != Draining {
		if success {
			h.ConsecutiveFailures = 0
			h.ConsecutiveSuccesses++
			if h.State == Unhealthy && h.ConsecutiveSuccesses >= t.healthyThreshold {
				h.State = Healthy
			}
		} else {
			h.ConsecutiveSuccesses = 0
			h.ConsecutiveFailures++
			if h.State == Healthy && h.ConsecutiveFailures >= t.unhealthyThreshold {
				h.State = Unhealthy
			}
		}
	}

	changed := h.State != old
	newState := h.State
	t.mu.Unlock()

	if changed {
		t.logger.Info("backend state changed",
			"backend", b.Key(),
			"from", string(old),
			"to", string(newState),
		)
		t.fireCallbacks(b, old, newState)
	}
}

// SetState forces a backend's state. This is the operator path into and
// out of Draining.
func (t *Tracker) SetState(b config.BackendConfig, state State) {
	t.mu.Lock()

	h, ok := t.backends[b.Key()]
	if !ok || h.State == state {
		t.mu.Unlock()
		return
	}

	old := h.State
	h.State = state
	h.ConsecutiveFailures = 0
	h.ConsecutiveSuccesses = 0
	t.mu.Unlock()

	t.logger.Info("backend state set",
		"backend", b.Key(),
		"from", string(old),
		"to", string(state),
	)
	t.fireCallbacks(b, old, state)
}

func (t *Tracker) fireCallbacks(b config.BackendConfig, from, to State) {
	t.cbMu.Lock()
	cbs := make([]StateChangeFunc, len(t.callbacks))
	copy(cbs, t.callbacks)
	t.cbMu.Unlock()

	for _, cb := range cbs {
		cb(b, from, to)
	}
}
