// Package proxy implements the forwarding core of the gateway: the
// per-request forwarder that rewrites and relays traffic to a selected
// backend, and the streaming relay that pipes token streams back to
// clients.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"

	"ntonix-ai/ntonix/pkg/config"
	"ntonix-ai/ntonix/pkg/pool"
	"ntonix-ai/ntonix/pkg/proxy/types"
	"ntonix-ai/ntonix/pkg/telemetry/tracing"
)

// ForwardResult is the outcome of forwarding one request. The forwarder
// recovers every backend-side failure into a Response; no network error
// escapes to the caller.
type ForwardResult struct {
	// Success is true when the backend answered (any status) or a
	// stream relay completed acceptably.
	Success bool

	// Response is the buffered response to emit (unset for streaming
	// results, which have already been written to the client).
	Response types.Response

	// IsStreaming marks results whose body was relayed directly.
	IsStreaming bool

	// Stream holds the relay outcome for streaming results.
	Stream *StreamResult

	// BackendKey identifies the backend that served (or failed) the
	// request.
	BackendKey string

	// Latency is forwarder entry to response emission.
	Latency time.Duration

	// ErrorMessage is set when Success is false.
	ErrorMessage string
}

// Forwarder sends rewritten requests to backends over pooled
// connections and assembles the response, buffering or relaying
// according to what the backend returns.
type Forwarder struct {
	pools *pool.Manager
	relay *StreamRelay
	cfg   config.ProxyConfig

	logger *slog.Logger
}

// NewForwarder creates a forwarder drawing connections from pools.
func NewForwarder(pools *pool.Manager, cfg config.ProxyConfig) *Forwarder {
	return &Forwarder{
		pools:  pools,
		relay:  NewStreamRelay(cfg),
		cfg:    cfg,
		logger: slog.Default().With("component", "proxy.forwarder"),
	}
}

// Forward sends the request to the backend and buffers the full
// response. Used for requests that did not ask for streaming. Any trace
// context in ctx is propagated to the backend.
func (f *Forwarder) Forward(ctx context.Context, req *types.Request, backend config.BackendConfig) (result ForwardResult) {
	result = ForwardResult{BackendKey: backend.Key()}
	start := time.Now()
	defer func() {
		result.Latency = time.Since(start)
	}()

	guard, err := f.pools.Checkout(backend)
	if err != nil {
		f.logger.Warn("failed to get connection to backend", "backend", backend.Key(), "error", err)
		result.ErrorMessage = "Failed to connect to backend"
		result.Response = types.NewErrorResponse(http.StatusBadGateway, result.ErrorMessage)
		return result
	}
	defer guard.Release()

	conn := guard.Conn()
	_ = conn.SetDeadline(start.Add(f.cfg.RequestTimeout))

	upReq := f.buildUpstreamRequest(ctx, req, backend, req.RequestID)

	if err := upReq.Write(conn); err != nil {
		guard.MarkFailed()
		f.fillError(&result, err, backend)
		return result
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, upReq)
	if err != nil {
		guard.MarkFailed()
		f.fillError(&result, err, backend)
		return result
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		guard.MarkFailed()
		f.fillError(&result, err, backend)
		return result
	}

	// Clear the deadline so the pooled connection is not poisoned for
	// its next user.
	_ = conn.SetDeadline(time.Time{})

	result.Success = true
	result.Response = types.Response{
		StatusCode:  resp.StatusCode,
		Header:      stripHopByHop(resp.Header),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}

	f.logger.Debug("forwarded request",
		"backend", backend.Key(),
		"status", resp.StatusCode,
		"bytes", len(body),
	)
	return result
}

// ForwardStreaming sends the request, reads only the response header,
// and relays the body straight to the client when the backend answers
// with a token stream. A response that does not classify as streaming
// falls back to buffering, exactly like Forward.
//
// After a relay the connection has been driven to EOF or abandoned
// mid-stream, so its guard is always marked failed.
func (f *Forwarder) ForwardStreaming(ctx context.Context, req *types.Request, backend config.BackendConfig, client net.Conn) (result ForwardResult) {
	result = ForwardResult{BackendKey: backend.Key()}
	start := time.Now()
	defer func() {
		result.Latency = time.Since(start)
	}()

	guard, err := f.pools.Checkout(backend)
	if err != nil {
		f.logger.Warn("failed to get connection to backend", "backend", backend.Key(), "error", err)
		result.ErrorMessage = "Failed to connect to backend"
		result.Response = types.NewErrorResponse(http.StatusBadGateway, result.ErrorMessage)
		return result
	}
	defer guard.Release()

	// The server path always arrives with a middleware-assigned ID;
	// direct callers of the forwarder (tests, embedders that skip the
	// middleware chain) may leave it empty.
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	conn := guard.Conn()
	_ = conn.SetDeadline(start.Add(f.cfg.RequestTimeout))

	upReq := f.buildUpstreamRequest(ctx, req, backend, requestID)

	if err := upReq.Write(conn); err != nil {
		guard.MarkFailed()
		f.fillError(&result, err, backend)
		return result
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, upReq)
	if err != nil {
		guard.MarkFailed()
		f.fillError(&result, err, backend)
		return result
	}

	if req.WantsStream() && IsStreamingResponse(resp.StatusCode, resp.Header, resp.TransferEncoding) {
		// Hand the relay whatever the header read buffered past the
		// header boundary.
		var initial []byte
		if n := br.Buffered(); n > 0 {
			peeked, _ := br.Peek(n)
			initial = append(initial, peeked...)
			_, _ = br.Discard(n)
		}

		// Per-read deadlines belong to the relay now.
		_ = conn.SetDeadline(time.Time{})

		// Streamed responses bypass the middleware, so the relay header
		// carries the request ID itself.
		resp.Header.Set("X-Request-ID", requestID)

		stream := f.relay.Forward(conn, client, resp.StatusCode, resp.Status, resp.Header, initial, nil)

		// The stream was driven to EOF or cut mid-flight; either way
		// this connection cannot be reused.
		guard.MarkFailed()

		result.IsStreaming = true
		result.Stream = &stream
		result.Success = stream.Success
		if !stream.Success && stream.Err != nil {
			result.ErrorMessage = stream.Err.Error()
		}

		f.logger.Info("streaming relay complete",
			"backend", backend.Key(),
			"bytes", stream.BytesForwarded,
			"client_disconnected", stream.ClientDisconnected,
			"done_marker", stream.DoneMarkerReceived,
		)
		return result
	}

	// The body did not turn out to be a stream: buffer it.
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		guard.MarkFailed()
		f.fillError(&result, err, backend)
		return result
	}
	_ = conn.SetDeadline(time.Time{})

	result.Success = true
	result.Response = types.Response{
		StatusCode:  resp.StatusCode,
		Header:      stripHopByHop(resp.Header),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}
	return result
}

// buildUpstreamRequest constructs the outbound request: original
// method, target, and body, Host pointed at the backend, the
// pass-through header allowlist, proxy identification headers, and a
// Content-Length consistent with the body.
func (f *Forwarder) buildUpstreamRequest(ctx context.Context, req *types.Request, backend config.BackendConfig, requestID string) *http.Request {
	upReq, err := http.NewRequest(req.Method, "http://"+backend.Addr()+req.Target, bytes.NewReader(req.Body))
	if err != nil {
		// Method and target were already parsed by the server; this
		// cannot fail for a request that reached the forwarder.
		panic(fmt.Sprintf("build upstream request: %v", err))
	}

	upReq.Host = backend.Addr()

	for _, name := range passThroughHeaders {
		if v := req.Header.Get(name); v != "" {
			upReq.Header.Set(name, v)
		}
	}

	upReq.Header.Set("Connection", "keep-alive")

	if f.cfg.AddForwardedHeaders && req.ClientIP != "" {
		forwardedFor := req.ClientIP
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			forwardedFor = prior + ", " + req.ClientIP
		}
		upReq.Header.Set("X-Forwarded-For", forwardedFor)

		if prior := req.Header.Get("X-Real-IP"); prior != "" {
			upReq.Header.Set("X-Real-IP", prior)
		} else {
			upReq.Header.Set("X-Real-IP", req.ClientIP)
		}
	}

	if requestID == "" {
		requestID = generateRequestID()
	}
	upReq.Header.Set("X-Request-ID", requestID)

	// Carry the trace context across the hop (traceparent/tracestate).
	tracing.Inject(ctx, upReq.Header)

	return upReq
}

// generateRequestID returns a 16-hex-digit random identifier, used when
// the middleware did not already attach one.
func generateRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b[:])
}

// fillError maps a backend-side failure onto the response the client
// sees: 504 for timeouts, 502 for connection and protocol failures.
func (f *Forwarder) fillError(result *ForwardResult, err error, backend config.BackendConfig) {
	var status int
	var reason string

	var netErr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		status = http.StatusGatewayTimeout
		reason = "Backend request timed out"
		f.logger.Warn("backend timeout", "backend", backend.Key(), "error", err)

	case errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF):
		status = http.StatusBadGateway
		reason = "Backend connection failed"
		f.logger.Warn("backend connection error", "backend", backend.Key(), "error", err)

	default:
		status = http.StatusBadGateway
		reason = "Backend communication error"
		f.logger.Warn("backend communication error", "backend", backend.Key(), "error", err)
	}

	result.Success = false
	result.ErrorMessage = reason
	result.Response = types.NewErrorResponse(status, reason)
}
