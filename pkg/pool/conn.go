// Package pool provides reusable plaintext connections to backends.
//
// Each backend owns a bounded LIFO deque of idle connections. Checkout
// hands out a Guard that returns the connection to the deque when
// released, unless the caller marked it failed; a periodic reaper closes
// connections that sat idle too long. The pool never lends connections
// to health probes, which use their own short-lived sockets.
package pool

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"ntonix-ai/ntonix/pkg/config"
)

// PooledConn is a backend connection owned by the pool. At any instant
// it is in exactly one place: its pool's idle deque, a caller's Guard,
// or closed.
type PooledConn struct {
	conn    net.Conn
	backend config.BackendConfig

	lastReturned time.Time
	inUse        bool
	uses         uint64
}

// Conn returns the underlying byte stream.
func (c *PooledConn) Conn() net.Conn {
	return c.conn
}

// Backend returns the backend this connection is bound to.
func (c *PooledConn) Backend() config.BackendConfig {
	return c.backend
}

// Uses returns how many times the connection has been checked out.
func (c *PooledConn) Uses() uint64 {
	return c.uses
}

// idleFor returns how long the connection has been idle, or zero while
// checked out.
func (c *PooledConn) idleFor(now time.Time) time.Duration {
	if c.inUse {
		return 0
	}
	return now.Sub(c.lastReturned)
}

func (c *PooledConn) close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// alive reports whether an idle connection is still usable: the peer has
// not closed it and no stray bytes are waiting. The check is a
// non-blocking one-byte peek on the raw socket; on platforms or
// transports without raw access it assumes the connection is fine and
// lets the next write discover otherwise.
func alive(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return true
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return true
	}

	usable := true
	readErr := raw.Read(func(fd uintptr) bool {
		var buf [1]byte
		n, _, err := syscall.Recvfrom(int(fd), buf[:], syscall.MSG_PEEK|syscall.MSG_DONTWAIT)
		switch {
		case errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK):
			// No data pending: the healthy idle state.
		case err != nil:
			usable = false
		case n == 0:
			// Orderly shutdown from the peer.
			usable = false
		default:
			// A response-less idle connection should have nothing to
			// say; buffered bytes mean a desynchronized stream.
			usable = false
		}
		return true
	})
	if readErr != nil && readErr != io.EOF {
		return true
	}
	return usable
}
