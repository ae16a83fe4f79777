package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnary_ForwardCopiesStatusHeadersAndBodyVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer backend-secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"q":1}`, string(body))

		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"usage":{"total_tokens":42}}`))
	}))
	defer upstream.Close()

	u := NewUnary(upstream.Client(), time.Second)
	w := httptest.NewRecorder()
	got := u.Forward(t.Context(), w, upstream.URL, []byte(`{"q":1}`), "backend-secret")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "yes", w.Header().Get("X-Upstream"))
	assert.Equal(t, `{"usage":{"total_tokens":42}}`, w.Body.String())
	assert.Equal(t, `{"usage":{"total_tokens":42}}`, string(got))
}

func TestUnary_ForwardMapsLifetimeExceededTo504(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	u := NewUnary(upstream.Client(), 5*time.Millisecond)
	w := httptest.NewRecorder()
	got := u.Forward(t.Context(), w, upstream.URL, nil, "backend-secret")

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Nil(t, got)
}

func TestUnary_ForwardMapsTransportErrorTo502(t *testing.T) {
	u := NewUnary(http.DefaultClient, time.Second)
	w := httptest.NewRecorder()
	got := u.Forward(t.Context(), w, "http://127.0.0.1:1", nil, "backend-secret")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Nil(t, got)
}

func TestUnary_ForwardSetsUpstreamAuthHeader(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	u := NewUnary(upstream.Client(), time.Second)
	w := httptest.NewRecorder()
	u.Forward(t.Context(), w, upstream.URL, nil, "sk-backend")

	require.Equal(t, "Bearer sk-backend", gotAuth)
}
