// Package registry implements the backend pool registry (C4): named,
// ordered lists of backend base URLs with atomic round-robin selection, and
// an optional health-driven active subset.
package registry

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ocx/inference-gateway/internal/circuitbreaker"
)

// ErrUnknownPool is returned by Choose for a pool name not in the registry.
var ErrUnknownPool = errors.New("registry: unknown pool")

// Pool is a named, ordered set of equivalent backend base URLs.
type Pool struct {
	name    string
	members []string
	cursor  uint64 // atomic round-robin cursor

	breakers *circuitbreaker.Manager // one breaker per member, keyed by base URL
}

// Registry holds all named pools (chat, text2sql, embed, rerank).
type Registry struct {
	pools map[string]*Pool
}

// New builds a Registry from pool name -> member URLs. Every pool gets its
// own circuit-breaker manager so health state never leaks across pools.
func New(pools map[string][]string, cbCfg *circuitbreaker.Config) *Registry {
	r := &Registry{pools: make(map[string]*Pool, len(pools))}
	for name, members := range pools {
		cfg := *cbCfg
		cfg.Name = name
		r.pools[name] = &Pool{
			name:     name,
			members:  append([]string(nil), members...),
			breakers: circuitbreaker.NewManager(&cfg),
		}
	}
	return r
}

// Choose returns the next base URL for pool (round-robin), skipping members
// whose breaker is open. If every member is open, it still returns one —
// whichever the round-robin cursor lands on next; failure recency is not
// consulted — so the caller experiences the failure as a normal upstream
// error rather than a registry error.
func (r *Registry) Choose(pool string) (string, error) {
	p, ok := r.pools[pool]
	if !ok {
		return "", ErrUnknownPool
	}
	return p.choose(), nil
}

func (p *Pool) choose() string {
	n := len(p.members)
	if n == 1 {
		return p.members[0]
	}

	start := atomic.AddUint64(&p.cursor, 1) - 1
	for i := 0; i < n; i++ {
		idx := (start + uint64(i)) % uint64(n)
		member := p.members[idx]
		if p.breakers.Get(member).State() != circuitbreaker.StateOpen {
			return member
		}
	}
	// All members are currently tripped; fall back to the plain round-robin
	// pick so the request still goes somewhere and fails visibly upstream.
	return p.members[start%uint64(n)]
}

// Members returns a pool's backend URLs, in registration order.
func (r *Registry) Members(pool string) []string {
	p, ok := r.pools[pool]
	if !ok {
		return nil
	}
	return append([]string(nil), p.members...)
}

// Pools returns the registered pool names.
func (r *Registry) Pools() []string {
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	return names
}

// ReportResult feeds a probe or a live-traffic outcome into the member's
// circuit breaker.
func (r *Registry) ReportResult(pool, member string, ok bool) {
	p, found := r.pools[pool]
	if !found {
		return
	}
	cb := p.breakers.Get(member)
	if ok {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, nil })
	} else {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, errProbeFailed })
	}
}

// Status reports each pool member's current breaker state, for the admin
// surface (SPEC_FULL.md §C.3).
func (r *Registry) Status() map[string]map[string]string {
	out := make(map[string]map[string]string, len(r.pools))
	for name, p := range r.pools {
		members := make(map[string]string, len(p.members))
		for _, m := range p.members {
			members[m] = p.breakers.Get(m).State().String()
		}
		out[name] = members
	}
	return out
}

var errProbeFailed = errors.New("registry: probe failed")

// Prober periodically issues a lightweight GET against every member of every
// pool and feeds the result into that member's circuit breaker, implementing
// the optional health-driven active subset of spec.md §4.4.
type Prober struct {
	reg      *Registry
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
}

// NewProber builds a Prober. client should be a small dedicated client, not
// the large-pool outbound client used for real proxy traffic (C5).
func NewProber(reg *Registry, client *http.Client, interval, timeout time.Duration) *Prober {
	return &Prober{reg: reg, client: client, interval: interval, timeout: timeout}
}

// Run blocks, probing every pool member every interval until ctx is
// cancelled. Intended to be started in its own goroutine.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Prober) sweep(ctx context.Context) {
	for _, poolName := range p.reg.Pools() {
		for _, member := range p.reg.Members(poolName) {
			ok := p.probeOne(ctx, member)
			p.reg.ReportResult(poolName, member, ok)
		}
	}
}

func (p *Prober) probeOne(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
