package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"ntonix-ai/ntonix/pkg/config"
	"ntonix-ai/ntonix/pkg/pool"
	"ntonix-ai/ntonix/pkg/proxy/types"
)

func forwarderCfg() config.ProxyConfig {
	return config.ProxyConfig{
		RequestTimeout:      5 * time.Second,
		ConnectTimeout:      2 * time.Second,
		StreamBufferSize:    8192,
		StreamReadTimeout:   2 * time.Second,
		AddForwardedHeaders: true,
	}
}

func testPoolCfg() config.PoolConfig {
	return config.PoolConfig{
		SizePerBackend:  4,
		ConnectTimeout:  2 * time.Second,
		IdleTimeout:     time.Minute,
		ReapInterval:    time.Minute,
		EnableKeepAlive: true,
	}
}

func backendFromURL(t *testing.T, raw string) config.BackendConfig {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return config.BackendConfig{Host: u.Hostname(), Port: uint16(port), Weight: 1}
}

func newForwarder(t *testing.T, backends ...config.BackendConfig) (*Forwarder, *pool.Manager) {
	t.Helper()
	pools := pool.NewManager(testPoolCfg(), backends)
	t.Cleanup(pools.Close)
	return NewForwarder(pools, forwarderCfg()), pools
}

func chatRequest(body string) *types.Request {
	return &types.Request{
		Method:    "POST",
		Target:    "/v1/chat/completions",
		Body:      []byte(body),
		Header:    make(http.Header),
		ClientIP:  "10.0.0.9",
		RequestID: "req-test-1",
	}
}

func TestForwardSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"id":"cmpl-1"}`)
	}))
	defer srv.Close()

	backend := backendFromURL(t, srv.URL)
	f, _ := newForwarder(t, backend)

	result := f.Forward(context.Background(), chatRequest(`{"model":"m"}`), backend)

	if !result.Success {
		t.Fatalf("Forward() failed: %s", result.ErrorMessage)
	}
	if result.Response.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", result.Response.StatusCode)
	}
	if string(result.Response.Body) != `{"id":"cmpl-1"}` {
		t.Errorf("Body = %q", result.Response.Body)
	}
	if result.Response.ContentType != "application/json" {
		t.Errorf("ContentType = %q", result.Response.ContentType)
	}
	if result.Response.Header.Get("X-Upstream") != "yes" {
		t.Error("upstream header not preserved")
	}
	if result.BackendKey != backend.Key() {
		t.Errorf("BackendKey = %q", result.BackendKey)
	}
	if result.Latency <= 0 {
		t.Error("Latency not measured")
	}
}

func TestForwardRequestRewriting(t *testing.T) {
	var mu sync.Mutex
	var got struct {
		host, xff, realIP, reqID, auth, ua string
		contentLength                      int64
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got.host = r.Host
		got.xff = r.Header.Get("X-Forwarded-For")
		got.realIP = r.Header.Get("X-Real-IP")
		got.reqID = r.Header.Get("X-Request-ID")
		got.auth = r.Header.Get("Authorization")
		got.ua = r.Header.Get("User-Agent")
		got.contentLength = r.ContentLength
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	backend := backendFromURL(t, srv.URL)
	f, _ := newForwarder(t, backend)

	req := chatRequest(`{"model":"m"}`)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("Authorization", "Bearer sk-test")
	req.Header.Set("User-Agent", "openai-python/1.0")

	result := f.Forward(context.Background(), req, backend)
	if !result.Success {
		t.Fatalf("Forward() failed: %s", result.ErrorMessage)
	}

	mu.Lock()
	defer mu.Unlock()

	if got.host != backend.Key() {
		t.Errorf("Host = %q, want %q", got.host, backend.Key())
	}
	if got.xff != "203.0.113.7, 10.0.0.9" {
		t.Errorf("X-Forwarded-For = %q, want inherited chain with client appended", got.xff)
	}
	if got.realIP != "10.0.0.9" {
		t.Errorf("X-Real-IP = %q", got.realIP)
	}
	if got.reqID != "req-test-1" {
		t.Errorf("X-Request-ID = %q, want inbound id", got.reqID)
	}
	if got.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, pass-through lost", got.auth)
	}
	if got.ua != "openai-python/1.0" {
		t.Errorf("User-Agent = %q", got.ua)
	}
	if got.contentLength != int64(len(`{"model":"m"}`)) {
		t.Errorf("Content-Length = %d", got.contentLength)
	}
}

func TestForwardStripsHopByHop(t *testing.T) {
	// A raw backend that answers with chunked encoding and hop-by-hop
	// headers; none of them may surface on the buffered response.
	backend, stop := rawBackend(t, "HTTP/1.1 200 OK\r\n"+
		"Content-Type: application/json\r\n"+
		"Transfer-Encoding: chunked\r\n"+
		"Connection: keep-alive\r\n"+
		"Upgrade: h2c\r\n"+
		"Server: upstream/9\r\n"+
		"\r\n"+
		"b\r\n{\"ok\":true}\r\n0\r\n\r\n")
	defer stop()

	f, _ := newForwarder(t, backend)

	result := f.Forward(context.Background(), chatRequest(`{}`), backend)
	if !result.Success {
		t.Fatalf("Forward() failed: %s", result.ErrorMessage)
	}
	if string(result.Response.Body) != `{"ok":true}` {
		t.Errorf("Body = %q (chunked decode failed?)", result.Response.Body)
	}
	for _, name := range []string{"Transfer-Encoding", "Connection", "Upgrade", "Server"} {
		if v := result.Response.Header.Get(name); v != "" {
			t.Errorf("hop-by-hop header %s = %q leaked through", name, v)
		}
	}
}

func TestForwardConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend := backendFromURL(t, srv.URL)
	srv.Close()

	f, _ := newForwarder(t, backend)

	result := f.Forward(context.Background(), chatRequest(`{}`), backend)
	if result.Success {
		t.Fatal("Forward() to dead backend succeeded")
	}
	if result.Response.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", result.Response.StatusCode)
	}
	if !strings.Contains(string(result.Response.Body), `"error"`) {
		t.Errorf("error body = %q", result.Response.Body)
	}
}

func TestForwardTimeout(t *testing.T) {
	// Backend accepts and goes silent.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			io.Copy(io.Discard, conn)
		}
	}()

	_, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	backend := config.BackendConfig{Host: "127.0.0.1", Port: uint16(port), Weight: 1}

	pools := pool.NewManager(testPoolCfg(), []config.BackendConfig{backend})
	defer pools.Close()
	cfg := forwarderCfg()
	cfg.RequestTimeout = 150 * time.Millisecond
	f := NewForwarder(pools, cfg)

	result := f.Forward(context.Background(), chatRequest(`{}`), backend)
	if result.Success {
		t.Fatal("Forward() to silent backend succeeded")
	}
	if result.Response.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("StatusCode = %d, want 504", result.Response.StatusCode)
	}
}

func TestForwardPoolExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	backend := backendFromURL(t, srv.URL)

	cfg := testPoolCfg()
	cfg.SizePerBackend = 1
	pools := pool.NewManager(cfg, []config.BackendConfig{backend})
	defer pools.Close()

	// Hold the only slot.
	guard, err := pools.Checkout(backend)
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	defer guard.Release()

	f := NewForwarder(pools, forwarderCfg())
	result := f.Forward(context.Background(), chatRequest(`{}`), backend)

	if result.Success {
		t.Fatal("Forward() succeeded with exhausted pool")
	}
	if result.Response.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", result.Response.StatusCode)
	}
}

// rawBackend serves one fixed HTTP response per connection.
func rawBackend(t *testing.T, response string) (config.BackendConfig, func()) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				// Consume the request head and body before answering.
				br := bufio.NewReader(c)
				req, err := http.ReadRequest(br)
				if err != nil {
					return
				}
				io.Copy(io.Discard, req.Body)
				c.Write([]byte(response))
			}(conn)
		}
	}()

	_, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	backend := config.BackendConfig{Host: "127.0.0.1", Port: uint16(port), Weight: 1}
	return backend, func() { listener.Close() }
}

func TestForwardStreamingRelaysToClient(t *testing.T) {
	const ssePayload = "data: a\n\ndata: b\n\ndata: [DONE]\n\n"
	backend, stop := rawBackend(t, "HTTP/1.1 200 OK\r\n"+
		"Content-Type: text/event-stream\r\n"+
		"Connection: close\r\n"+
		"\r\n"+
		ssePayload)
	defer stop()

	f, _ := newForwarder(t, backend)

	client, clientPeer := net.Pipe()
	defer client.Close()

	type decoded struct {
		body string
		err  error
	}
	out := make(chan decoded, 1)
	go func() {
		resp, err := http.ReadResponse(bufio.NewReader(clientPeer), nil)
		if err != nil {
			out <- decoded{err: err}
			return
		}
		body, err := io.ReadAll(resp.Body)
		out <- decoded{body: string(body), err: err}
	}()

	req := chatRequest(`{"model":"m","stream":true}`)
	result := f.ForwardStreaming(context.Background(), req, backend, client)

	if !result.IsStreaming {
		t.Fatal("response not relayed as stream")
	}
	if !result.Success {
		t.Fatalf("streaming forward failed: %s", result.ErrorMessage)
	}
	if !result.Stream.DoneMarkerReceived {
		t.Error("done marker not detected")
	}

	got := <-out
	if got.err != nil {
		t.Fatalf("client decode error: %v", got.err)
	}
	if got.body != ssePayload {
		t.Errorf("client body = %q, want %q", got.body, ssePayload)
	}
}

func TestForwardStreamingFallsBackToBuffering(t *testing.T) {
	// Client asked for a stream but the backend answered with plain
	// JSON: buffer it, do not relay.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", "11")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()
	backend := backendFromURL(t, srv.URL)

	f, _ := newForwarder(t, backend)

	client, _ := net.Pipe()
	defer client.Close()

	req := chatRequest(`{"model":"m","stream":true}`)
	result := f.ForwardStreaming(context.Background(), req, backend, client)

	if result.IsStreaming {
		t.Fatal("plain JSON response was relayed as a stream")
	}
	if !result.Success {
		t.Fatalf("fallback forward failed: %s", result.ErrorMessage)
	}
	if string(result.Response.Body) != `{"ok":true}` {
		t.Errorf("Body = %q", result.Response.Body)
	}
}

func TestWantsStream(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		accept string
		want   bool
	}{
		{"stream true compact", `{"stream":true}`, "", true},
		{"stream true spaced", `{"stream": true}`, "", true},
		{"stream false", `{"stream":false}`, "", false},
		{"no stream field", `{"model":"m"}`, "", false},
		{"accept sse", `{}`, "text/event-stream", true},
		{"accept json", `{}`, "application/json", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := chatRequest(tt.body)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if got := req.WantsStream(); got != tt.want {
				t.Errorf("WantsStream() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForwardPropagatesTraceContext(t *testing.T) {
	// Install a real provider and the W3C propagator so the forwarder
	// has a trace context to inject.
	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
		_ = tp.Shutdown(context.Background())
	})

	var mu sync.Mutex
	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		traceparent = r.Header.Get("Traceparent")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	backend := backendFromURL(t, srv.URL)
	f, _ := newForwarder(t, backend)

	ctx, span := tp.Tracer("test").Start(context.Background(), "inbound")
	defer span.End()

	result := f.Forward(ctx, chatRequest(`{}`), backend)
	if !result.Success {
		t.Fatalf("Forward() failed: %s", result.ErrorMessage)
	}

	mu.Lock()
	defer mu.Unlock()
	if traceparent == "" {
		t.Fatal("backend did not receive a traceparent header")
	}
	wantTraceID := span.SpanContext().TraceID().String()
	if !strings.Contains(traceparent, wantTraceID) {
		t.Errorf("traceparent %q does not carry trace id %s", traceparent, wantTraceID)
	}
}
