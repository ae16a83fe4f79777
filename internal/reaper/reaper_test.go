package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeForgetter struct {
	forgotten []string
}

func (f *fakeForgetter) Forget(key string) { f.forgotten = append(f.forgotten, key) }

type fakeGuardedForgetter struct {
	veto      map[string]bool
	forgotten []string
}

func (f *fakeGuardedForgetter) Forget(key string) bool {
	if f.veto[key] {
		return false
	}
	f.forgotten = append(f.forgotten, key)
	return true
}

func TestReaper_EvictsOnlyKeysIdleLongerThanThreshold(t *testing.T) {
	limiter := &fakeForgetter{}
	queue := &fakeGuardedForgetter{veto: map[string]bool{}}
	r := New(limiter, queue, time.Hour, 20*time.Millisecond)

	r.Touch("stale-org")
	time.Sleep(30 * time.Millisecond)
	r.Touch("fresh-org")

	r.sweep()

	assert.Contains(t, limiter.forgotten, "stale-org")
	assert.NotContains(t, limiter.forgotten, "fresh-org")
}

func TestReaper_QueueVetoPreventsEviction(t *testing.T) {
	limiter := &fakeForgetter{}
	queue := &fakeGuardedForgetter{veto: map[string]bool{"busy-org": true}}
	r := New(limiter, queue, time.Hour, 10*time.Millisecond)

	r.Touch("busy-org")
	time.Sleep(20 * time.Millisecond)
	r.sweep()

	assert.NotContains(t, limiter.forgotten, "busy-org", "a held admission slot must veto eviction")
	require.Equal(t, 1, r.Len(), "the vetoed key stays tracked")
}

func TestReaper_RunStopsOnContextCancel(t *testing.T) {
	limiter := &fakeForgetter{}
	queue := &fakeGuardedForgetter{veto: map[string]bool{}}
	r := New(limiter, queue, 5*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestReaper_TouchUpdatesLastSeenPreventingPrematureEviction(t *testing.T) {
	limiter := &fakeForgetter{}
	queue := &fakeGuardedForgetter{veto: map[string]bool{}}
	r := New(limiter, queue, time.Hour, 30*time.Millisecond)

	r.Touch("active-org")
	time.Sleep(20 * time.Millisecond)
	r.Touch("active-org") // re-touch before the idle threshold
	r.sweep()

	assert.NotContains(t, limiter.forgotten, "active-org")
}
