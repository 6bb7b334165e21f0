package balancer

import (
	"log/slog"
	"sync"

	"ntonix-ai/ntonix/pkg/config"
)

// HealthView is the dispatcher's read-only view of backend health.
// *Tracker satisfies it.
type HealthView interface {
	IsHealthy(b config.BackendConfig) bool
}

// Selection is the result of one dispatch decision.
type Selection struct {
	Backend config.BackendConfig
	Index   int
}

// entry pairs a backend with its smooth weighted round-robin
// accumulator. currentWeight starts at 0 for every new configuration
// generation.
type entry struct {
	backend       config.BackendConfig
	currentWeight int64
}

// Dispatcher selects backends using smooth weighted round-robin over
// the backends the health view reports Healthy.
//
// For each selection, every healthy entry's accumulator grows by its
// configured weight; the entry with the largest accumulator wins (ties
// go to the earliest index) and pays back the healthy total. Over any
// window of S selections with a fixed healthy set, a backend of weight
// w is chosen exactly w times, and the picks are spread rather than
// bunched: weights [5,1,1] yield A A B A C A A rather than
// A A A A A B C.
type Dispatcher struct {
	mu      sync.Mutex
	entries []*entry
	health  HealthView

	logger *slog.Logger
}

// NewDispatcher creates a dispatcher consulting the given health view.
func NewDispatcher(health HealthView, backends []config.BackendConfig) *Dispatcher {
	d := &Dispatcher{
		health: health,
		logger: slog.Default().With("component", "balancer.dispatcher"),
	}
	d.Reconfigure(backends)
	return d
}

// Select picks the next backend. It returns false when no healthy
// backend exists; callers surface that as 503.
//
// Select never blocks: the work is pure arithmetic under a short lock.
func (d *Dispatcher) Select() (Selection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Healthy total for this round.
	var total int64
	for _, e := range d.entries {
		if d.health.IsHealthy(e.backend) {
			total += int64(e.backend.Weight)
		}
	}
	if total == 0 {
		return Selection{}, false
	}

	var selected *entry
	selectedIndex := 0
	for i, e := range d.entries {
		if !d.health.IsHealthy(e.backend) {
			continue
		}
		e.currentWeight += int64(e.backend.Weight)
		// Strict > keeps the earliest index on ties.
		if selected == nil || e.currentWeight > selected.currentWeight {
			selected = e
			selectedIndex = i
		}
	}

	if selected == nil {
		// Health flipped between the total pass and the selection pass.
		return Selection{}, false
	}
	selected.currentWeight -= total

	return Selection{Backend: selected.backend, Index: selectedIndex}, true
}

// Reconfigure atomically replaces the backend set. Accumulators reset
// to zero for the new generation.
func (d *Dispatcher) Reconfigure(backends []config.BackendConfig) {
	entries := make([]*entry, len(backends))
	for i, b := range backends {
		entries[i] = &entry{backend: b}
	}

	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()

	var total uint32
	for _, b := range backends {
		total += b.Weight
	}
	d.logger.Info("dispatcher configured",
		"backends", len(backends),
		"total_weight", total,
	)
}

// BackendCount returns the number of configured backends.
func (d *Dispatcher) BackendCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
