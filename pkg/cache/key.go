package cache

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key is a 64-bit fingerprint of a cacheable request.
type Key uint64

// String returns the key as a 16-digit hex string for logging.
func (k Key) String() string {
	const hexdigits = "0123456789abcdef"
	var buf [16]byte
	v := uint64(k)
	for i := 15; i >= 0; i-- {
		buf[i] = hexdigits[v&0xf]
		v >>= 4
	}
	return string(buf[:])
}

// NewKey computes the cache key for a request as the XXH64 digest of
// method, target, and body with a ':' separator between fields. The
// separator prevents boundary collisions between adjacent fields.
func NewKey(method, target string, body []byte) Key {
	d := xxhash.New()
	_, _ = d.WriteString(method)
	_, _ = d.WriteString(":")
	_, _ = d.WriteString(target)
	_, _ = d.WriteString(":")
	_, _ = d.Write(body)
	return Key(d.Sum64())
}

// ShouldBypass reports whether a Cache-Control header value asks to skip
// the cache. The comparison is case-insensitive and matches the
// no-cache and no-store directives as substrings.
func ShouldBypass(cacheControl string) bool {
	if cacheControl == "" {
		return false
	}
	lower := strings.ToLower(cacheControl)
	return strings.Contains(lower, "no-cache") || strings.Contains(lower, "no-store")
}
