package pool

import (
	"net"

	"ntonix-ai/ntonix/pkg/config"
)

// Guard is the scoped owner of a checked-out connection. Exactly one
// goroutine may use a Guard at a time; Release returns the connection to
// its pool unless MarkFailed was called or the stream died, in which
// case the connection is closed. Release is idempotent.
type Guard struct {
	conn     *PooledConn
	pool     *backendPool
	failed   bool
	released bool
}

// Conn returns the underlying byte stream.
func (g *Guard) Conn() net.Conn {
	return g.conn.Conn()
}

// Backend returns the backend the connection is bound to.
func (g *Guard) Backend() config.BackendConfig {
	return g.conn.backend
}

// MarkFailed flags the connection as unusable. A failed connection is
// closed on Release instead of re-entering the idle deque. Callers must
// mark the guard on any I/O error so a broken stream is never recycled.
func (g *Guard) MarkFailed() {
	g.failed = true
}

// Failed reports whether the guard has been marked failed.
func (g *Guard) Failed() bool {
	return g.failed
}

// Release returns the connection to its pool (or closes it, if failed
// or dead). The first call wins; later calls are no-ops.
func (g *Guard) Release() {
	if g.released || g.conn == nil {
		return
	}
	g.released = true
	g.pool.release(g.conn, !g.failed)
}
