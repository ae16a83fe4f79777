package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProbe = errors.New("probe failed")

func execResult(cb *CircuitBreaker, ok bool) {
	_, _ = cb.Execute(func() (interface{}, error) {
		if ok {
			return nil, nil
		}
		return nil, errProbe
	})
}

func TestConsecutiveConfig_TripsAfterFailThresholdConsecutiveFailures(t *testing.T) {
	cfg := ConsecutiveConfig("backend", 3, 2)
	cfg.OnStateChange = nil
	cb := New(cfg)

	execResult(cb, false)
	execResult(cb, false)
	assert.Equal(t, StateClosed, cb.State(), "2 consecutive failures must not trip a 3-failure threshold")

	execResult(cb, false)
	assert.Equal(t, StateOpen, cb.State(), "the 3rd consecutive failure must trip the breaker")
}

func TestConsecutiveConfig_AnyIntermediateSuccessResetsTheStreak(t *testing.T) {
	cfg := ConsecutiveConfig("backend", 3, 2)
	cfg.OnStateChange = nil
	cb := New(cfg)

	execResult(cb, false)
	execResult(cb, false)
	execResult(cb, true)
	execResult(cb, false)
	execResult(cb, false)
	assert.Equal(t, StateClosed, cb.State(), "a success must reset the consecutive-failure streak")
}

func TestConsecutiveConfig_RecoversAfterRecoverThresholdConsecutiveSuccesses(t *testing.T) {
	cfg := ConsecutiveConfig("backend", 2, 2)
	cfg.OnStateChange = nil
	cfg.Timeout = 5 * time.Millisecond
	cb := New(cfg)

	execResult(cb, false)
	execResult(cb, false)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State(), "state must advance to half-open once Timeout has elapsed")

	execResult(cb, true)
	assert.Equal(t, StateHalfOpen, cb.State(), "1 of 2 required consecutive successes must not close it yet")

	execResult(cb, true)
	assert.Equal(t, StateClosed, cb.State(), "2 consecutive successes must close the half-open breaker")
}

func TestConsecutiveConfig_HalfOpenFailureReopensImmediately(t *testing.T) {
	cfg := ConsecutiveConfig("backend", 1, 3)
	cfg.OnStateChange = nil
	cfg.Timeout = 5 * time.Millisecond
	cb := New(cfg)

	execResult(cb, false)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	execResult(cb, false)
	assert.Equal(t, StateOpen, cb.State(), "any half-open failure must reopen the breaker")
}

func TestConsecutiveConfig_FloorsNonPositiveThresholdsAtOne(t *testing.T) {
	cfg := ConsecutiveConfig("backend", 0, -1)
	cfg.OnStateChange = nil
	cb := New(cfg)

	execResult(cb, false)
	assert.Equal(t, StateOpen, cb.State(), "a floored fail threshold of 1 must trip on the first failure")
}
