package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ocx/inference-gateway/internal/identity"
)

// requestIDHeader is the response header carrying the per-request ID
// (SPEC_FULL.md §A.1), so a caller can correlate a response with the gateway's
// own logs.
const requestIDHeader = "X-Request-Id"

type ctxKey int

const requestInfoKey ctxKey = iota

// requestInfo is a mutable scratchpad threaded through a request's context:
// the logging middleware creates it, dispatch fills in Backend once the
// registry has chosen one, and the middleware reads it back after the
// handler returns. A pointer value survives context.WithValue's copy
// semantics because nothing downstream ever replaces the pointer itself.
type requestInfo struct {
	Backend string
}

func newRequestContext(ctx context.Context) (context.Context, *requestInfo) {
	info := &requestInfo{}
	return context.WithValue(ctx, requestInfoKey, info), info
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey).(*requestInfo)
	return info
}

// statusRecorder captures the status code a handler wrote, for logging only;
// it never buffers the body.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush passes through to the wrapped writer, so the streaming proxy's
// per-chunk flushes still reach the client through this middleware.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// hashClientKey derives a log-safe form of a client identity: the raw key
// (an X-Forwarded-For entry or a peer address, per internal/identity) never
// reaches a log line, only a truncated SHA-256 digest of it.
func hashClientKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// requestLoggingMiddleware assigns every request a UUID, exposes it via the
// X-Request-Id response header, and emits one structured log line per
// request covering the admission decision and proxy dispatch outcome
// together: request_id, a hashed client_key, the matched route, the chosen
// backend (if dispatch got that far), the final status, and elapsed time.
// Rejections (4xx/5xx) log at Warn, everything else at Debug
// (SPEC_FULL.md §A.1).
func (d Deps) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set(requestIDHeader, reqID)

		ctx, info := newRequestContext(r.Context())
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := ""
		if m := mux.CurrentRoute(r); m != nil {
			route, _ = m.GetPathTemplate()
		}

		attrs := []any{
			"request_id", reqID,
			"client_key", hashClientKey(identity.Extract(r)),
			"route", route,
			"backend", info.Backend,
			"status", rec.status,
			"elapsed", elapsed,
		}
		if rec.status >= 400 {
			slog.Warn("request rejected", attrs...)
		} else {
			slog.Debug("request admitted", attrs...)
		}
	})
}
