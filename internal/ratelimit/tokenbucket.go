package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is the alternative limiter sanctioned by spec.md §9's design
// notes ("a token-bucket form is an acceptable substitute provided
// properties P3 and P5 still hold"), selected via RATE_LIMITER_ALGORITHM=
// token-bucket. Each key gets its own golang.org/x/time/rate.Limiter sized to
// the same MaxRPSPerIP/Burst the sliding window uses, so both algorithms
// enforce the same nominal cap.
type TokenBucket struct {
	mu       sync.Mutex
	cfg      Config
	limiters map[string]*rate.Limiter
}

// NewTokenBucket builds a TokenBucket limiter from cfg.
func NewTokenBucket(cfg Config) *TokenBucket {
	return &TokenBucket{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *TokenBucket) limiterFor(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[key]
	if ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(t.cfg.MaxRPSPerIP), t.cfg.allowed())
	t.limiters[key] = l
	return l
}

// Check implements Limiter. x/time/rate.Limiter.AllowN with a fixed "now" is
// used instead of Allow() so the limiter is driven by the same clock the
// caller supplies, keeping behavior deterministic under tests.
func (t *TokenBucket) Check(key string, now time.Time) bool {
	return t.limiterFor(key).AllowN(now, 1)
}

// RetryAfterSecs implements Limiter.
func (t *TokenBucket) RetryAfterSecs() int { return 1 }

// Forget implements Limiter.
func (t *TokenBucket) Forget(key string) {
	t.mu.Lock()
	delete(t.limiters, key)
	t.mu.Unlock()
}
