package proxy

import (
	"net/http"
	"strings"
)

// passThroughHeaders are the inbound request headers forwarded to the
// backend verbatim.
var passThroughHeaders = []string{
	"Content-Type",
	"Authorization",
	"Accept",
	"Accept-Encoding",
	"User-Agent",
}

// hopByHopHeaders have single-hop scope and must not travel through the
// gateway unchanged.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// isHopByHop reports whether a header name is hop-by-hop.
func isHopByHop(name string) bool {
	return hopByHopHeaders[http.CanonicalHeaderKey(name)]
}

// stripHopByHop copies header, dropping hop-by-hop fields plus the
// upstream Server and Content-Type (Content-Type is carried separately;
// buffered responses go out without a Server header).
func stripHopByHop(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		if isHopByHop(name) {
			continue
		}
		if strings.EqualFold(name, "Server") || strings.EqualFold(name, "Content-Type") {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}
