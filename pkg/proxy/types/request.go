// Package types contains the request and response values exchanged
// between the gateway's HTTP surface and the forwarding core.
package types

import (
	"net/http"
	"strings"
)

// Request is a parsed inbound request handed to the forwarder.
type Request struct {
	// Method is the HTTP method.
	Method string

	// Target is the request target (path and query) to forward verbatim.
	Target string

	// Body is the full request body.
	Body []byte

	// Header holds the inbound request headers.
	Header http.Header

	// ClientIP is the remote address of the client, without port.
	ClientIP string

	// RequestID correlates logs and responses for this request. The
	// middleware fills it before the forwarder runs; the forwarder
	// generates one if it is still empty.
	RequestID string
}

// WantsStream reports whether the client asked for a streamed response:
// the body requests "stream": true, or the Accept header names
// text/event-stream.
func (r *Request) WantsStream() bool {
	body := string(r.Body)
	if strings.Contains(body, `"stream": true`) || strings.Contains(body, `"stream":true`) {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
