// Package router implements the immutable public route table (C8): for
// each (method, path) it names the backend pool, the upstream path, and
// whether the route can stream.
package router

import "encoding/json"

// Mode is a route's dispatch mode.
type Mode int

const (
	// ModeUnary always dispatches via the unary proxy (C6).
	ModeUnary Mode = iota
	// ModeStreamCapable dispatches via C7 when the payload's "stream" field
	// is true, else via C6 (spec.md §4.8).
	ModeStreamCapable
	// ModeHealth is the unauthenticated health surface (C11); it never
	// touches a backend pool.
	ModeHealth
)

// Route is one entry of the public route table.
type Route struct {
	Method       string
	Path         string
	Pool         string
	UpstreamPath string
	Mode         Mode
}

// Table is the five routes spec.md §4.8 names, in registration order.
var Table = []Route{
	{Method: "POST", Path: "/v1/chat/completions", Pool: "chat", UpstreamPath: "/v1/chat/completions", Mode: ModeStreamCapable},
	{Method: "POST", Path: "/v1/text2sql", Pool: "text2sql", UpstreamPath: "/v1/chat/completions", Mode: ModeStreamCapable},
	{Method: "POST", Path: "/v1/embeddings", Pool: "embed", UpstreamPath: "/v1/embeddings", Mode: ModeUnary},
	{Method: "POST", Path: "/v1/rerank", Pool: "rerank", UpstreamPath: "/rerank", Mode: ModeUnary},
	{Method: "GET", Path: "/health", Mode: ModeHealth},
}

// WithOverrides returns a copy of table with each route's UpstreamPath
// replaced by overrides[route.Path], when that key is present and non-empty.
// Routes with no matching override are copied through unchanged. This is how
// the optional YAML policy overlay's upstream-path overrides (SPEC_FULL.md
// §A.2) reach the route table without router importing internal/config.
func WithOverrides(table []Route, overrides map[string]string) []Route {
	if len(overrides) == 0 {
		return table
	}
	out := make([]Route, len(table))
	for i, route := range table {
		if upstream, ok := overrides[route.Path]; ok && upstream != "" {
			route.UpstreamPath = upstream
		}
		out[i] = route
	}
	return out
}

// EffectiveMode resolves whether a stream-capable route should actually
// stream for this payload, per spec.md §4.8: parse the body once, check
// `stream === true`. Unary routes are always unary regardless of payload
// content, and the stream flag (if present) is forwarded verbatim.
func (r Route) EffectiveMode(body []byte) Mode {
	if r.Mode != ModeStreamCapable {
		return r.Mode
	}
	var probe struct {
		Stream bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ModeUnary
	}
	if probe.Stream {
		return ModeStreamCapable
	}
	return ModeUnary
}
