package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"ntonix-ai/ntonix/pkg/config"
)

// serverToken is the Server header stamped on relayed responses.
const serverToken = "NTONIX/0.1.0"

// doneMarker is the SSE end-of-stream payload. The bare form is also
// the tail of the conventional "data: [DONE]" line, so one scan covers
// both spellings.
var doneMarker = []byte("[DONE]")

// ProgressFunc observes relay progress after each forwarded chunk.
// Returning false stops the relay early.
type ProgressFunc func(bytesForwarded int64) bool

// StreamResult describes the outcome of one relay.
type StreamResult struct {
	Success            bool
	BytesForwarded     int64
	Duration           time.Duration
	ClientDisconnected bool
	BackendClosed      bool
	DoneMarkerReceived bool
	Err                error
}

// StreamRelay forwards a token stream from a backend to a client with
// chunked transfer encoding. Each upstream read is written to the
// client as one chunk via a scatter-gather write that references the
// read buffer directly; the payload bytes are never copied.
//
// The relay watches the client socket with a non-blocking peek between
// reads, so a client that goes away is noticed within one buffer
// iteration and the upstream read is abandoned.
type StreamRelay struct {
	bufferSize  int
	readTimeout time.Duration

	logger *slog.Logger
}

// NewStreamRelay creates a relay with the configured buffer size and
// per-read upstream timeout.
func NewStreamRelay(cfg config.ProxyConfig) *StreamRelay {
	return &StreamRelay{
		bufferSize:  cfg.StreamBufferSize,
		readTimeout: cfg.StreamReadTimeout,
		logger:      slog.Default().With("component", "proxy.stream"),
	}
}

// IsStreamingResponse classifies an upstream response as a token
// stream: a 2xx status with an SSE Content-Type, or chunked transfer
// encoding carrying something other than a plain JSON document.
func IsStreamingResponse(statusCode int, header http.Header, transferEncoding []string) bool {
	if statusCode < 200 || statusCode >= 300 {
		return false
	}

	contentType := header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		return true
	}

	chunked := false
	for _, te := range transferEncoding {
		if strings.Contains(te, "chunked") {
			chunked = true
		}
	}
	if !chunked && strings.Contains(header.Get("Transfer-Encoding"), "chunked") {
		chunked = true
	}
	if chunked {
		return !strings.Contains(contentType, "application/json")
	}

	return false
}

// Forward relays the upstream byte stream to the client. upstream must
// be positioned immediately after the response header; initialBody
// holds any bytes the header read consumed past the header boundary.
//
// The client receives the upstream status line and headers rewritten to
// chunked keep-alive form, the body as chunked data, and a terminating
// zero chunk unless the client disconnected first.
func (r *StreamRelay) Forward(upstream, client net.Conn, statusCode int, status string, header http.Header, initialBody []byte, progress ProgressFunc) (result StreamResult) {
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
	}()

	if err := r.writeClientHeader(client, statusCode, status, header); err != nil {
		result.Err = fmt.Errorf("failed to write response header: %w", err)
		return result
	}

	// carry holds the tail of the previous scan window so a marker
	// straddling two reads is still seen.
	var carry []byte

	forward := func(data []byte) bool {
		if len(data) == 0 {
			return true
		}
		if r.scanForDone(&carry, data) {
			result.DoneMarkerReceived = true
		}
		n, err := writeChunk(client, data)
		if err != nil {
			if isDisconnect(err) {
				result.ClientDisconnected = true
			} else {
				result.Err = fmt.Errorf("client write error: %w", err)
			}
			return false
		}
		result.BytesForwarded += n
		return true
	}

	if !forward(initialBody) {
		r.finish(client, &result)
		return result
	}
	if result.DoneMarkerReceived || (progress != nil && !progress(result.BytesForwarded)) {
		r.finish(client, &result)
		return result
	}

	buf := make([]byte, r.bufferSize)
	for {
		if !clientConnected(client) {
			result.ClientDisconnected = true
			r.logger.Debug("client disconnected mid-stream")
			break
		}

		if r.readTimeout > 0 {
			_ = upstream.SetReadDeadline(time.Now().Add(r.readTimeout))
		}
		n, err := upstream.Read(buf)

		if n > 0 && !forward(buf[:n]) {
			break
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				result.BackendClosed = true
				r.logger.Debug("backend closed stream")
			} else {
				result.Err = fmt.Errorf("backend read error: %w", err)
			}
			break
		}

		if result.DoneMarkerReceived {
			break
		}
		if progress != nil && !progress(result.BytesForwarded) {
			break
		}
	}

	r.finish(client, &result)
	return result
}

// finish terminates the chunked body and settles the success verdict.
func (r *StreamRelay) finish(client net.Conn, result *StreamResult) {
	if !result.ClientDisconnected {
		_, _ = client.Write([]byte("0\r\n\r\n"))
	}

	result.Success = result.Err == nil ||
		result.ClientDisconnected ||
		result.BackendClosed ||
		result.DoneMarkerReceived

	r.logger.Debug("stream relay finished",
		"bytes", result.BytesForwarded,
		"client_disconnected", result.ClientDisconnected,
		"backend_closed", result.BackendClosed,
		"done_marker", result.DoneMarkerReceived,
	)
}

// writeClientHeader emits the rewritten response header: upstream
// status and headers with hop-by-hop fields replaced by chunked
// keep-alive framing.
func (r *StreamRelay) writeClientHeader(client net.Conn, statusCode int, status string, header http.Header) error {
	if status == "" {
		status = fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %s\r\n", status)

	for name, values := range header {
		if isHopByHop(name) || strings.EqualFold(name, "Content-Length") || strings.EqualFold(name, "Server") {
			continue
		}
		for _, v := range values {
			fmt.Fprintf(&sb, "%s: %s\r\n", name, v)
		}
	}

	sb.WriteString("Transfer-Encoding: chunked\r\n")
	sb.WriteString("Connection: keep-alive\r\n")
	fmt.Fprintf(&sb, "Server: %s\r\n", serverToken)
	sb.WriteString("\r\n")

	_, err := io.WriteString(client, sb.String())
	return err
}

// scanForDone looks for the end-of-stream marker in data, including
// across the boundary with the previous read.
func (r *StreamRelay) scanForDone(carry *[]byte, data []byte) bool {
	found := bytes.Contains(data, doneMarker)
	if !found && len(*carry) > 0 {
		window := append(append([]byte{}, *carry...), data[:min(len(data), len(doneMarker)-1)]...)
		found = bytes.Contains(window, doneMarker)
	}

	// Keep the last marker-length-1 bytes for the next boundary.
	keep := len(doneMarker) - 1
	if len(data) >= keep {
		*carry = append((*carry)[:0], data[len(data)-keep:]...)
	} else {
		*carry = append(*carry, data...)
		if len(*carry) > keep {
			*carry = (*carry)[len(*carry)-keep:]
		}
	}

	return found
}

// writeChunk sends one chunked-encoding frame around data. The three
// parts go out as a single vectored write referencing data in place.
func writeChunk(client net.Conn, data []byte) (int64, error) {
	header := []byte(fmt.Sprintf("%x\r\n", len(data)))
	bufs := net.Buffers{header, data, []byte("\r\n")}

	written, err := bufs.WriteTo(client)
	if err != nil {
		return 0, err
	}
	// Report payload bytes, not framing overhead.
	overhead := int64(len(header) + 2)
	if written < overhead {
		return 0, nil
	}
	return written - overhead, nil
}

// clientConnected performs a non-blocking one-byte peek on the client
// socket. A clean EOF or hard reset means the client has gone;
// would-block means it is idle and waiting, which is the healthy state
// for a response-only connection.
func clientConnected(client net.Conn) bool {
	sc, ok := client.(syscall.Conn)
	if !ok {
		return true
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return true
	}

	connected := true
	_ = raw.Read(func(fd uintptr) bool {
		var buf [1]byte
		n, _, err := syscall.Recvfrom(int(fd), buf[:], syscall.MSG_PEEK|syscall.MSG_DONTWAIT)
		switch {
		case errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK):
			// Nothing to read: still connected.
		case err != nil:
			connected = false
		case n == 0:
			connected = false
		}
		return true
	})
	return connected
}

// isDisconnect reports whether a write error means the client went away.
func isDisconnect(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
