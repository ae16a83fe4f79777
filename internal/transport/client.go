// Package transport builds the single shared outbound HTTP client (C5) used
// by both the unary and streaming proxies.
package transport

import (
	"net"
	"net/http"
	"time"
)

// Options configures the shared client. Defaults match spec.md §4.5.
type Options struct {
	ConnectTimeout    time.Duration // default 5s
	MaxConnsTotal     int           // default 3000
	MaxIdleConnsTotal int           // default 800
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.MaxConnsTotal <= 0 {
		o.MaxConnsTotal = 3000
	}
	if o.MaxIdleConnsTotal <= 0 {
		o.MaxIdleConnsTotal = 800
	}
	return o
}

// New builds the shared outbound *http.Client. Deliberately no client-level
// Timeout field is set: spec.md §4.5/§9 require that no overall deadline be
// imposed by the HTTP client, since that would amount to an implicit
// generation timeout. Lifetime and idle caps are enforced explicitly by
// internal/proxy instead, via context deadlines scoped to each call.
func New(opts Options) *http.Client {
	opts = opts.withDefaults()

	dialer := &net.Dialer{
		Timeout: opts.ConnectTimeout,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxConnsPerHost:     0, // unlimited per host; the total cap below is what matters
		MaxIdleConns:        opts.MaxIdleConnsTotal,
		MaxIdleConnsPerHost: opts.MaxIdleConnsTotal,
		IdleConnTimeout:     90 * time.Second,
		// ExpectContinueTimeout and TLSHandshakeTimeout keep connection setup
		// itself bounded without touching the per-request lifetime budget.
		ExpectContinueTimeout: 1 * time.Second,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
	}

	return &http.Client{
		Transport: &connLimitedTransport{
			inner: transport,
			sem:   make(chan struct{}, opts.MaxConnsTotal),
		},
		// No Timeout field: see doc comment above.
	}
}

// connLimitedTransport bounds the total number of in-flight round trips
// across all hosts, approximating spec.md's "max total connections = 3000"
// — http.Transport itself only exposes a per-host connection cap.
type connLimitedTransport struct {
	inner http.RoundTripper
	sem   chan struct{}
}

func (c *connLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.sem <- struct{}{}
	resp, err := c.inner.RoundTrip(req)
	<-c.sem
	return resp, err
}
