package balancer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"ntonix-ai/ntonix/pkg/config"
)

// probeUserAgent identifies the gateway's health probes to backends.
const probeUserAgent = "NTONIX-HealthChecker/1.0"

// Prober drives periodic health probes against every tracked backend.
// Each probe opens a fresh short-lived connection; pooled connections
// are never consumed by probing.
type Prober struct {
	tracker *Tracker

	interval time.Duration
	timeout  time.Duration
	path     string

	logger *slog.Logger
}

// NewProber creates a prober feeding results into the given tracker.
func NewProber(tracker *Tracker, cfg config.HealthConfig) *Prober {
	return &Prober{
		tracker:  tracker,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		path:     cfg.Path,
		logger:   slog.Default().With("component", "balancer.prober"),
	}
}

// Run probes all backends every interval until the context is cancelled.
// Backends in a cycle are probed concurrently; a cycle completes before
// the next one starts.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info("health prober started",
		"interval", p.interval,
		"timeout", p.timeout,
		"path", p.path,
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("health prober stopped")
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll runs one probe cycle over the current backend set.
func (p *Prober) probeAll(ctx context.Context) {
	snapshot := p.tracker.Snapshot()

	var wg sync.WaitGroup
	for _, h := range snapshot {
		wg.Add(1)
		go func(b config.BackendConfig) {
			defer wg.Done()
			start := time.Now()
			success := p.ProbeOnce(ctx, b)
			p.tracker.RecordResult(b, success, time.Since(start))
		}(h.Backend)
	}
	wg.Wait()
}

// ProbeOnce performs a single health probe against a backend over a
// fresh transient connection. Success means an HTTP status in [200,300)
// within the probe timeout; DNS, connect, write, read, and timeout
// failures all count as probe failures.
func (p *Prober) ProbeOnce(ctx context.Context, b config.BackendConfig) bool {
	deadline := time.Now().Add(p.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", b.Addr())
	if err != nil {
		p.logger.Debug("probe connect failed", "backend", b.Key(), "error", err)
		return false
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return false
	}

	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nConnection: close\r\n\r\n",
		p.path, b.Key(), probeUserAgent)
	if _, err := conn.Write([]byte(request)); err != nil {
		p.logger.Debug("probe write failed", "backend", b.Key(), "error", err)
		return false
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		p.logger.Debug("probe read failed", "backend", b.Key(), "error", err)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	p.logger.Debug("probe completed",
		"backend", b.Key(),
		"status", resp.StatusCode,
		"success", ok,
	)
	return ok
}
