package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ntonix-ai/ntonix/pkg/config"
)

var (
	// ErrExhausted is returned by Checkout when a backend's pool is at
	// its per-backend bound with no idle connection available.
	ErrExhausted = errors.New("connection pool exhausted")

	// ErrNoPool is returned by Checkout for a backend the manager does
	// not know (removed by a reload, or never configured).
	ErrNoPool = errors.New("no connection pool for backend")

	// ErrPoolClosed is returned by Checkout on a pool that has been
	// shut down.
	ErrPoolClosed = errors.New("connection pool closed")
)

// BackendStats is a point-in-time view of one backend's pool.
type BackendStats struct {
	Backend      string `json:"backend"`
	Idle         int    `json:"idle"`
	InUse        int    `json:"in_use"`
	TotalCreated uint64 `json:"total_created"`
}

// Manager owns one pool per configured backend and the shared idle
// reaper. Reconfigure diffs the backend set: surviving pools keep their
// connections, removed pools are drained, new backends start empty.
type Manager struct {
	cfg config.PoolConfig

	mu    sync.RWMutex
	pools map[string]*backendPool

	reaper *cron.Cron

	logger *slog.Logger
}

// NewManager creates a pool manager for the given backends. The reaper
// is not started; call StartReaper.
func NewManager(cfg config.PoolConfig, backends []config.BackendConfig) *Manager {
	m := &Manager{
		cfg:    cfg,
		pools:  make(map[string]*backendPool),
		logger: slog.Default().With("component", "pool.manager"),
	}
	m.Reconfigure(backends)
	return m
}

// Checkout hands out a guard for a connection to the backend, reusing
// an idle one when possible.
func (m *Manager) Checkout(b config.BackendConfig) (*Guard, error) {
	m.mu.RLock()
	p, ok := m.pools[b.Key()]
	m.mu.RUnlock()

	if !ok {
		m.logger.Warn("checkout for unknown backend", "backend", b.Key())
		return nil, fmt.Errorf("%w: %s", ErrNoPool, b.Key())
	}
	return p.checkout()
}

// Reconfigure installs a new backend set: pools for surviving backends
// are preserved, pools for removed backends are drained (guards still
// out will destroy their connections on release), and new backends get
// empty pools.
func (m *Manager) Reconfigure(backends []config.BackendConfig) {
	next := make(map[string]bool, len(backends))
	for _, b := range backends {
		next[b.Key()] = true
	}

	m.mu.Lock()
	var removed []*backendPool
	for key, p := range m.pools {
		if !next[key] {
			removed = append(removed, p)
			delete(m.pools, key)
		}
	}
	for _, b := range backends {
		if _, ok := m.pools[b.Key()]; !ok {
			m.pools[b.Key()] = newBackendPool(b, m.cfg)
			m.logger.Info("created connection pool", "backend", b.Key())
		}
	}
	m.mu.Unlock()

	for _, p := range removed {
		m.logger.Info("removing connection pool", "backend", p.backend.Key())
		p.closeAll()
	}
}

// StartReaper schedules ReapIdle on the configured interval.
func (m *Manager) StartReaper() error {
	if m.reaper != nil {
		return nil
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", m.cfg.ReapInterval)
	if _, err := c.AddFunc(spec, func() { m.ReapIdle() }); err != nil {
		return fmt.Errorf("failed to schedule pool reaper: %w", err)
	}
	c.Start()
	m.reaper = c

	m.logger.Info("pool reaper started", "interval", m.cfg.ReapInterval)
	return nil
}

// StopReaper stops the reaper schedule, waiting for a running sweep.
func (m *Manager) StopReaper() {
	if m.reaper == nil {
		return
	}
	ctx := m.reaper.Stop()
	<-ctx.Done()
	m.reaper = nil
	m.logger.Info("pool reaper stopped")
}

// ReapIdle sweeps every pool once, closing idle-timeout and dead
// connections. Returns the number of connections reaped.
func (m *Manager) ReapIdle() int {
	m.mu.RLock()
	pools := make([]*backendPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	now := time.Now()
	total := 0
	for _, p := range pools {
		total += p.reapIdle(now)
	}
	return total
}

// Close drains every pool and stops the reaper.
func (m *Manager) Close() {
	m.StopReaper()

	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*backendPool)
	m.mu.Unlock()

	for _, p := range pools {
		p.closeAll()
	}
}

// Stats returns per-backend pool statistics.
func (m *Manager) Stats() []BackendStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BackendStats, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p.stats())
	}
	return out
}
