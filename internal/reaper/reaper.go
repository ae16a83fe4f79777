// Package reaper implements the background state eviction task (C10):
// periodically dropping per-client state for identities that have been
// idle longer than IP_IDLE_SECS.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Forgetter drops per-key state. internal/ratelimit.Limiter satisfies this.
type Forgetter interface {
	Forget(key string)
}

// GuardedForgetter is a Forgetter that can refuse to forget a key still in
// use (internal/admission.Queue.Forget returns false while slots are
// held).
type GuardedForgetter interface {
	Forget(key string) bool
}

// Reaper tracks last-seen times per client key and evicts idle ones from
// every registered store (spec.md §4.10).
type Reaper struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time

	idle     time.Duration
	period   time.Duration
	limiter  Forgetter
	queue    GuardedForgetter
}

// New builds a Reaper. limiter is typically the active ratelimit.Limiter,
// queue the admission.Queue; both may be nil in tests.
func New(limiter Forgetter, queue GuardedForgetter, period, idle time.Duration) *Reaper {
	return &Reaper{
		lastSeen: make(map[string]time.Time),
		limiter:  limiter,
		queue:    queue,
		period:   period,
		idle:     idle,
	}
}

// Touch records key as seen now. Call on every admit attempt (accepted or
// rejected) and on every slot release, per spec.md §4.10's "touches
// last_seen on every admit and on every release" guidance.
func (r *Reaper) Touch(key string) {
	r.mu.Lock()
	r.lastSeen[key] = time.Now()
	r.mu.Unlock()
}

// Run blocks, sweeping every period until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	cutoff := time.Now().Add(-r.idle)

	r.mu.Lock()
	stale := make([]string, 0)
	for key, seen := range r.lastSeen {
		if seen.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	r.mu.Unlock()

	evicted := 0
	for _, key := range stale {
		// A held admission slot vetoes eviction; queue.Forget reports
		// whether it actually dropped the key's semaphore.
		if r.queue != nil && !r.queue.Forget(key) {
			continue
		}
		if r.limiter != nil {
			r.limiter.Forget(key)
		}
		r.mu.Lock()
		delete(r.lastSeen, key)
		r.mu.Unlock()
		evicted++
	}

	if evicted > 0 {
		slog.Debug("reaper sweep", "candidates", len(stale), "evicted", evicted)
	}
}

// Len reports the number of tracked keys, for tests.
func (r *Reaper) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lastSeen)
}
