package gwerrors

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrite_MapsEachSentinelToItsSpecStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"auth missing", ErrAuthMissing, 401},
		{"auth invalid", ErrAuthInvalid, 403},
		{"rate limited", ErrRateLimited, 429},
		{"concurrency overflow", ErrConcurrencyOverflow, 429},
		{"lifetime exceeded", ErrLifetimeExceeded, 504},
		{"upstream transport", ErrUpstreamTransport, 502},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Write(w, c.err, 1)
			assert.Equal(t, c.status, w.Code)
		})
	}
}

func TestWrite_RateLimitedSetsRetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, ErrRateLimited, 7)
	assert.Equal(t, "7", w.Header().Get("Retry-After"))
}

func TestWrite_RetryAfterFloorsNonPositiveToOne(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, ErrRateLimited, 0)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestWrite_StatusErrorPassesThroughVerbatim(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, &StatusError{Status: 418, Body: []byte(`{"detail":"teapot"}`)}, 0)

	assert.Equal(t, 418, w.Code)
	assert.Equal(t, `{"detail":"teapot"}`, w.Body.String())
}

func TestWrite_UnknownErrorDefaultsTo502(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, assertableUnknownErr{}, 0)
	assert.Equal(t, 502, w.Code)
}

type assertableUnknownErr struct{}

func (assertableUnknownErr) Error() string { return "something else entirely" }
