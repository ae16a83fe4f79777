// Package identity derives the per-organization client key (C1) that the
// rest of the admission pipeline uses to attribute rate limits, concurrency
// slots, and reaper eviction.
package identity

import (
	"net"
	"net/http"
	"strings"
)

const unknown = "unknown"

// Extract returns the client identity K for r (spec.md §4.1).
//
// Rule: if X-Forwarded-For is present, K is the leftmost comma-separated
// token, trimmed; else K is the peer socket address; else "unknown". This
// function is pure and allocates no per-request state of its own — trusting
// X-Forwarded-For is intentional, since TLS termination and the
// X-Forwarded-For write are assumed to happen in a fronting reverse proxy the
// operator controls.
func Extract(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			if k := strings.TrimSpace(first); k != "" {
				return k
			}
		}
		if k := strings.TrimSpace(xff); k != "" {
			return k
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}

	return unknown
}
