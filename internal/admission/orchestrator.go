package admission

import (
	"math"
	"net/http"
	"time"

	"github.com/ocx/inference-gateway/internal/gwerrors"
	"github.com/ocx/inference-gateway/internal/identity"
	"github.com/ocx/inference-gateway/internal/ratelimit"
)

// Recorder receives admission outcomes for the metrics surface
// (SPEC_FULL.md §C.2). A nil Recorder is valid — Dispatch skips recording.
type Recorder interface {
	RecordAdmitted(pool string)
	RecordRateLimited(pool string)
	RecordConcurrencyRejected(pool string)
}

// Toucher receives a liveness ping for a client key on every admit attempt
// and every release, per spec.md §4.10's reaper guidance. A nil Toucher is
// valid — Dispatch skips the calls.
type Toucher interface {
	Touch(key string)
}

// Orchestrator composes C1 (identity), C2 (rate limit) and C3 (admission
// queue) ahead of a dispatch call, guaranteeing the admission slot is
// released on every exit path (spec.md §4.9, C9).
type Orchestrator struct {
	limiter  ratelimit.Limiter
	queue    *Queue
	recorder Recorder
	toucher  Toucher
}

// New builds an Orchestrator from a rate limiter and an admission queue.
// recorder and toucher may be nil.
func New(limiter ratelimit.Limiter, queue *Queue, recorder Recorder, toucher Toucher) *Orchestrator {
	return &Orchestrator{limiter: limiter, queue: queue, recorder: recorder, toucher: toucher}
}

// Dispatch extracts the client identity, applies the rate limit and
// admission queue in order, and — only if both admit the request — invokes
// next with the request's concurrency slot already held. next must not
// retain req's context past its own return; the slot is released the
// instant next returns, regardless of how it returns. pool labels the
// metrics this dispatch records.
//
// On rejection, Dispatch writes the spec §7 response itself and never calls
// next.
func (o *Orchestrator) Dispatch(w http.ResponseWriter, r *http.Request, pool string, next func(w http.ResponseWriter, r *http.Request)) {
	key := identity.Extract(r)
	if o.toucher != nil {
		o.toucher.Touch(key)
	}

	if !o.limiter.Check(key, time.Now()) {
		if o.recorder != nil {
			o.recorder.RecordRateLimited(pool)
		}
		gwerrors.Write(w, gwerrors.ErrRateLimited, o.limiter.RetryAfterSecs())
		return
	}

	slot, err := o.queue.Acquire(r.Context(), key)
	if err != nil {
		if o.recorder != nil {
			o.recorder.RecordConcurrencyRejected(pool)
		}
		gwerrors.Write(w, gwerrors.ErrConcurrencyOverflow, concurrencyRetryAfterSecs(o.queue.QueueTimeout()))
		return
	}
	defer func() {
		slot.Release()
		if o.toucher != nil {
			o.toucher.Touch(key)
		}
	}()

	if o.recorder != nil {
		o.recorder.RecordAdmitted(pool)
	}
	next(w, r)
}

// concurrencyRetryAfterSecs derives the Retry-After value spec.md §7/§4.9
// assign to a ConcurrencyOverflow rejection: ceil(QUEUE_TIMEOUT_SECS), floored
// at 1 second (gwerrors.Write floors non-positive values too, but the ceiling
// has to happen here since it's specific to fractional-second durations).
func concurrencyRetryAfterSecs(queueTimeout time.Duration) int {
	secs := int(math.Ceil(queueTimeout.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
