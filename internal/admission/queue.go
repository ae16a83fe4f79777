// Package admission implements the per-client concurrency queue (C3): a
// counting semaphore per client identity with a bounded wait and a
// guaranteed-release handle.
package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Queue holds one counting semaphore per client key, each of capacity
// maxInflight. Acquire blocks at most queueTimeout waiting for a permit.
type Queue struct {
	mu         sync.Mutex
	sems       map[string]chan struct{}
	maxInflight int
	queueTimeout time.Duration
}

// NewQueue builds a Queue. maxInflight is MAX_INFLIGHT_PER_IP, queueTimeout
// is QUEUE_TIMEOUT_SECS (spec.md §6).
func NewQueue(maxInflight int, queueTimeout time.Duration) *Queue {
	return &Queue{
		sems:         make(map[string]chan struct{}),
		maxInflight:  maxInflight,
		queueTimeout: queueTimeout,
	}
}

func (q *Queue) semFor(key string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	sem, ok := q.sems[key]
	if ok {
		return sem
	}
	sem = make(chan struct{}, q.maxInflight)
	q.sems[key] = sem
	return sem
}

// Slot is the RAII-style handle spec.md §4.9 requires: exactly one matching
// Release per successful Acquire, safe to call more than once.
type Slot struct {
	sem      chan struct{}
	released int32
}

// Acquire attempts to take one permit for key, waiting at most the queue's
// configured timeout. If ctx is cancelled first (client disconnect), the
// wait is abandoned and no permit is consumed — satisfying spec.md §4.3's
// cancellation contract.
func (q *Queue) Acquire(ctx context.Context, key string) (*Slot, error) {
	sem := q.semFor(key)

	waitCtx := ctx
	if q.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, q.queueTimeout)
		defer cancel()
	}

	select {
	case sem <- struct{}{}:
		return &Slot{sem: sem}, nil
	case <-waitCtx.Done():
		return nil, ErrQueueTimeout
	}
}

// Release returns the permit. Idempotent: a second call is a no-op, so it is
// always safe to pair an explicit Release with a deferred one.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&s.released, 0, 1) {
		<-s.sem
	}
}

// Held reports the number of permits currently taken for key (used by
// tests). Held == 0 for a key with no tracked semaphore.
func (q *Queue) Held(key string) int {
	q.mu.Lock()
	sem, ok := q.sems[key]
	q.mu.Unlock()
	if !ok {
		return 0
	}
	return len(sem)
}

// QueueTimeout returns the configured wait bound (QUEUE_TIMEOUT_SECS), so
// callers can derive a Retry-After value from it without duplicating config.
func (q *Queue) QueueTimeout() time.Duration {
	return q.queueTimeout
}

// Forget drops a key's semaphore, but only if it is fully idle — called by
// the reaper, which must never evict a key that currently holds slots
// (spec.md §4.10). Returns whether the key was forgotten.
func (q *Queue) Forget(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	sem, ok := q.sems[key]
	if !ok {
		return true
	}
	if len(sem) > 0 {
		return false
	}
	delete(q.sems, key)
	return true
}
