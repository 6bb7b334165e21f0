package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ntonix-ai/ntonix/pkg/accesslog"
	"ntonix-ai/ntonix/pkg/balancer"
	"ntonix-ai/ntonix/pkg/cache"
	"ntonix-ai/ntonix/pkg/proxy/middleware"
	"ntonix-ai/ntonix/pkg/proxy/types"
	"ntonix-ai/ntonix/pkg/telemetry/tracing"
)

// maxRequestBodySize bounds inbound request bodies (10MB).
const maxRequestBodySize = 10 * 1024 * 1024

// cacheHeader is the response header reporting cache disposition.
const cacheHeader = "X-Cache"

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the gateway's standard JSON error body.
func writeError(w http.ResponseWriter, statusCode int, reason string) {
	writeJSON(w, statusCode, types.ErrorBody{Error: reason})
}

// handleIdentity serves the gateway identity document on "/" and the
// 404 error for every unknown path.
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "NTONIX",
		"version": Version,
		"status":  "ok",
	})
}

// handleHealth is the gateway's own liveness endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"healthy_backends": s.tracker.HealthyCount(),
	})
}

// handleCacheStats serves response cache statistics.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":        s.cfgManager.Current().Cache.Enabled,
		"hits":           stats.Hits,
		"misses":         stats.Misses,
		"evictions":      stats.Evictions,
		"expired":        stats.Expired,
		"entries":        stats.Entries,
		"size_bytes":     stats.SizeBytes,
		"max_size_bytes": stats.MaxSizeBytes,
		"hit_rate":       stats.HitRate(),
	})
}

// handleMetrics serves the JSON counters snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot(s.cache.Stats()))
}

// handlePrometheus serves the Prometheus exposition format.
func (s *Server) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	s.collector.Handler().ServeHTTP(w, r)
}

// backendView is the JSON shape of one tracked backend.
type backendView struct {
	Backend              string  `json:"backend"`
	Weight               uint32  `json:"weight"`
	State                string  `json:"state"`
	ConsecutiveFailures  uint32  `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32  `json:"consecutive_successes"`
	LastLatencyMS        float64 `json:"last_latency_ms"`
}

// handleBackends serves the health tracker's view of the backend fleet.
func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	snapshot := s.tracker.Snapshot()

	views := make([]backendView, 0, len(snapshot))
	for _, h := range snapshot {
		views = append(views, backendView{
			Backend:              h.Backend.Key(),
			Weight:               h.Backend.Weight,
			State:                string(h.State),
			ConsecutiveFailures:  h.ConsecutiveFailures,
			ConsecutiveSuccesses: h.ConsecutiveSuccesses,
			LastLatencyMS:        float64(h.LastLatency.Microseconds()) / 1000.0,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"backends": views})
}

// handleChatCompletions proxies one inference request: cache lookup,
// backend selection, forwarding, and cache fill, with streaming
// requests relayed over the hijacked client socket.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	start := time.Now()
	s.collector.RequestStarted()

	// One span per proxied request, parented to any trace context the
	// client sent.
	ctx, span := s.tracer.Start(
		tracing.Extract(r.Context(), r.Header),
		"proxy.chat_completions",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		s.collector.RequestCompleted(http.StatusBadRequest, time.Since(start))
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) >= maxRequestBodySize {
		s.collector.RequestCompleted(http.StatusBadRequest, time.Since(start))
		writeError(w, http.StatusBadRequest, "Request body too large")
		return
	}

	req := &types.Request{
		Method:    r.Method,
		Target:    r.URL.RequestURI(),
		Body:      body,
		Header:    r.Header,
		ClientIP:  clientIP(r.RemoteAddr),
		RequestID: middleware.GetRequestID(r.Context()),
	}

	cfg := s.cfgManager.Current()
	key := cache.NewKey(req.Method, req.Target, req.Body)
	bypass := cache.ShouldBypass(r.Header.Get("Cache-Control"))
	cacheable := cfg.Cache.Enabled && !bypass

	// recordStatus is the access-log view; proxied responses always
	// carry "X-Cache: MISS" on the wire.
	recordStatus := "BYPASS"
	if cacheable {
		recordStatus = "MISS"
	}

	// Cache lookup before any backend work.
	if cacheable {
		if entry, ok := s.cache.Get(key); ok {
			s.collector.Cache().RecordHit()
			s.collector.RequestCompleted(http.StatusOK, time.Since(start))
			span.SetAttributes(attribute.String("gateway.cache", "HIT"))

			w.Header().Set(cacheHeader, "HIT")
			w.Header().Set("Content-Type", entry.ContentType)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(entry.Body)

			s.emitAccessRecord(req, http.StatusOK, "", time.Since(start), "HIT", false, int64(len(entry.Body)))
			return
		}
		s.collector.Cache().RecordMiss()
	}

	span.SetAttributes(attribute.String("gateway.cache", recordStatus))

	sel, ok := s.dispatcher.Select()
	if !ok {
		s.collector.RequestCompleted(http.StatusServiceUnavailable, time.Since(start))
		writeError(w, http.StatusServiceUnavailable, "No healthy backends available")
		s.emitAccessRecord(req, http.StatusServiceUnavailable, "", time.Since(start), recordStatus, false, 0)
		return
	}

	span.SetAttributes(attribute.String("gateway.backend", sel.Backend.Key()))

	if req.WantsStream() {
		s.serveStreaming(ctx, w, req, sel, start, recordStatus)
		return
	}

	result := s.forwarder.Forward(ctx, req, sel.Backend)

	s.collector.BackendRequest(result.BackendKey, result.Success, result.Latency)

	resp := result.Response
	if result.Success && resp.StatusCode >= 200 && resp.StatusCode < 300 && cacheable {
		s.cache.Put(key, resp.Body, resp.ContentType)
		stats := s.cache.Stats()
		s.collector.Cache().UpdateOccupancy(stats.Entries, stats.SizeBytes)
	}

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(cacheHeader, "MISS")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	s.collector.RequestCompleted(resp.StatusCode, time.Since(start))
	s.emitAccessRecord(req, resp.StatusCode, result.BackendKey, time.Since(start), recordStatus, false, int64(len(resp.Body)))
}

// serveStreaming hijacks the client connection and hands it to the
// forwarder for direct relay. When the backend turns out not to stream,
// the buffered response is written over the raw socket instead.
func (s *Server) serveStreaming(ctx context.Context, w http.ResponseWriter, req *types.Request, sel balancer.Selection, start time.Time, recordStatus string) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		s.collector.RequestCompleted(http.StatusInternalServerError, time.Since(start))
		writeError(w, http.StatusInternalServerError, "Streaming unsupported by listener")
		return
	}

	conn, bufrw, err := hijacker.Hijack()
	if err != nil {
		s.collector.RequestCompleted(http.StatusInternalServerError, time.Since(start))
		writeError(w, http.StatusInternalServerError, "Failed to take over connection")
		return
	}
	defer conn.Close()
	_ = bufrw.Flush()

	result := s.forwarder.ForwardStreaming(ctx, req, sel.Backend, conn)

	s.collector.BackendRequest(result.BackendKey, result.Success, result.Latency)

	if result.IsStreaming {
		status := http.StatusOK
		if !result.Success {
			status = http.StatusBadGateway
		}
		s.collector.RequestCompleted(status, time.Since(start))
		s.emitAccessRecord(req, status, result.BackendKey, time.Since(start), recordStatus, true, result.Stream.BytesForwarded)
		return
	}

	// Classified non-streaming after all: emit the buffered response on
	// the hijacked socket.
	resp := result.Response
	writeRawResponse(conn, &resp, req.RequestID)

	s.collector.RequestCompleted(resp.StatusCode, time.Since(start))
	s.emitAccessRecord(req, resp.StatusCode, result.BackendKey, time.Since(start), recordStatus, false, int64(len(resp.Body)))
}

// writeRawResponse serializes a buffered response onto a hijacked
// connection and closes the HTTP exchange.
func writeRawResponse(conn net.Conn, resp *types.Response, requestID string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode))

	for name, values := range resp.Header {
		for _, v := range values {
			fmt.Fprintf(&sb, "%s: %s\r\n", name, v)
		}
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	fmt.Fprintf(&sb, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(resp.Body))
	if requestID != "" {
		fmt.Fprintf(&sb, "%s: %s\r\n", middleware.RequestIDHeader, requestID)
	}
	fmt.Fprintf(&sb, "%s: MISS\r\n", cacheHeader)
	sb.WriteString("Connection: close\r\n\r\n")

	_, _ = io.WriteString(conn, sb.String())
	_, _ = conn.Write(resp.Body)
}

// emitAccessRecord enqueues an access record when recording is enabled.
func (s *Server) emitAccessRecord(req *types.Request, status int, backend string, latency time.Duration, cacheStatus string, streamed bool, bytes int64) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(&accesslog.Record{
		RequestID:     req.RequestID,
		ClientIP:      req.ClientIP,
		Method:        req.Method,
		Target:        req.Target,
		Status:        status,
		Backend:       backend,
		LatencyMS:     latency.Milliseconds(),
		CacheStatus:   cacheStatus,
		Streamed:      streamed,
		BytesReturned: bytes,
	})
}

// clientIP strips the port from a RemoteAddr.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
