package pool

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"ntonix-ai/ntonix/pkg/config"
)

// backendPool holds the idle deque and counters for one backend.
// A single mutex guards both; guards touch only their owning pool.
type backendPool struct {
	backend config.BackendConfig
	cfg     config.PoolConfig

	mu     sync.Mutex
	idle   []*PooledConn // index 0 is the front (most recently returned)
	inUse  int
	closed bool

	totalCreated uint64

	logger *slog.Logger
}

func newBackendPool(backend config.BackendConfig, cfg config.PoolConfig) *backendPool {
	return &backendPool{
		backend: backend,
		cfg:     cfg,
		logger:  slog.Default().With("component", "pool", "backend", backend.Key()),
	}
}

// checkout pops a live idle connection, or dials a new one while under
// the per-backend bound. ErrExhausted is returned when the bound is hit.
func (p *backendPool) checkout() (*Guard, error) {
	var conn *PooledConn

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	// Front of the deque first: the most recently returned connection is
	// the most likely to still be open.
	for len(p.idle) > 0 && conn == nil {
		candidate := p.idle[0]
		p.idle = p.idle[1:]
		if alive(candidate.conn) {
			conn = candidate
		} else {
			candidate.close()
			p.logger.Debug("discarded dead idle connection")
		}
	}

	if conn == nil {
		if len(p.idle)+p.inUse >= p.cfg.SizePerBackend {
			p.mu.Unlock()
			p.logger.Warn("connection pool exhausted", "max", p.cfg.SizePerBackend)
			return nil, ErrExhausted
		}
		// Reserve the slot before dialing so concurrent checkouts cannot
		// overshoot the bound, and dial without holding the lock.
		p.inUse++
		p.mu.Unlock()

		dialed, err := p.dial()
		if err != nil {
			p.mu.Lock()
			p.inUse--
			p.mu.Unlock()
			return nil, err
		}

		dialed.inUse = true
		dialed.uses++
		return &Guard{conn: dialed, pool: p}, nil
	}

	conn.inUse = true
	conn.uses++
	p.inUse++
	p.mu.Unlock()

	return &Guard{conn: conn, pool: p}, nil
}

// dial opens a new connection with TCP_NODELAY and the configured
// keep-alive policy.
func (p *backendPool) dial() (*PooledConn, error) {
	dialer := net.Dialer{Timeout: p.cfg.ConnectTimeout}
	if !p.cfg.EnableKeepAlive {
		dialer.KeepAlive = -1
	}

	raw, err := dialer.Dial("tcp", p.backend.Addr())
	if err != nil {
		p.logger.Warn("failed to connect to backend", "error", err)
		return nil, fmt.Errorf("connect %s: %w", p.backend.Key(), err)
	}

	if tc, ok := raw.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	p.mu.Lock()
	p.totalCreated++
	created := p.totalCreated
	p.mu.Unlock()

	p.logger.Debug("created new backend connection", "total_created", created)

	return &PooledConn{conn: raw, backend: p.backend}, nil
}

// release is invoked by Guard.Release. A reusable connection on a live
// pool rejoins the front of the deque; anything else is closed.
func (p *backendPool) release(conn *PooledConn, reusable bool) {
	p.mu.Lock()

	if p.inUse > 0 {
		p.inUse--
	}
	conn.inUse = false
	conn.lastReturned = time.Now()

	if reusable && !p.closed && alive(conn.conn) {
		p.idle = append([]*PooledConn{conn}, p.idle...)
		idleCount, inUse := len(p.idle), p.inUse
		p.mu.Unlock()
		p.logger.Debug("returned connection to pool", "idle", idleCount, "in_use", inUse)
		return
	}
	p.mu.Unlock()

	conn.close()
	p.logger.Debug("discarded connection", "reusable", reusable)
}

// reapIdle closes idle connections past the idle timeout or whose
// stream has died.
func (p *backendPool) reapIdle(now time.Time) int {
	p.mu.Lock()

	kept := p.idle[:0]
	var reaped []*PooledConn
	for _, c := range p.idle {
		if c.idleFor(now) > p.cfg.IdleTimeout || !alive(c.conn) {
			reaped = append(reaped, c)
		} else {
			kept = append(kept, c)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, c := range reaped {
		c.close()
	}
	if len(reaped) > 0 {
		p.logger.Debug("reaped idle connections", "count", len(reaped))
	}
	return len(reaped)
}

// closeAll marks the pool closed and closes every idle connection.
// Guards still out release their connections straight to destruction.
func (p *backendPool) closeAll() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		c.close()
	}
}

func (p *backendPool) stats() BackendStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return BackendStats{
		Backend:      p.backend.Key(),
		Idle:         len(p.idle),
		InUse:        p.inUse,
		TotalCreated: p.totalCreated,
	}
}
