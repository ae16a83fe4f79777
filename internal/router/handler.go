package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/inference-gateway/internal/admission"
	"github.com/ocx/inference-gateway/internal/gwerrors"
	"github.com/ocx/inference-gateway/internal/identity"
	"github.com/ocx/inference-gateway/internal/metrics"
	"github.com/ocx/inference-gateway/internal/proxy"
	"github.com/ocx/inference-gateway/internal/quota"
	"github.com/ocx/inference-gateway/internal/registry"
)

// Deps are the components the HTTP handler composes: the backend registry
// (C4), the two proxy modes (C6/C7), the admission orchestrator (C9) and
// the configured auth secrets.
type Deps struct {
	Registry         *registry.Registry
	Unary            *proxy.Unary
	Stream           *proxy.Stream
	Orchestrator     *admission.Orchestrator
	GatewayKey       string
	BackendKey       string
	Metrics          *metrics.Registry
	ChatBackendCount int
	Quota            quota.Accountant // optional; NoopAccountant{} if not configured
	Routes           []Route          // optional; defaults to Table when nil (see WithOverrides)
}

// usageBody is the subset of an OpenAI-compatible response this gateway
// reads to drive the optional quota hook; everything else passes through
// unparsed.
type usageBody struct {
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

// NewHandler builds the top-level http.Handler: a gorilla/mux router
// dispatching the route table's four proxy routes, each wrapped by auth and
// by the admission orchestrator, plus the unauthenticated /health, /metrics
// and /admin/backends surfaces.
func NewHandler(d Deps) http.Handler {
	r := mux.NewRouter()

	table := d.Routes
	if table == nil {
		table = Table
	}

	for _, route := range table {
		route := route
		switch route.Mode {
		case ModeHealth:
			r.HandleFunc(route.Path, d.handleHealth).Methods(route.Method)
		default:
			r.HandleFunc(route.Path, d.authenticate(d.dispatch(route))).Methods(route.Method)
		}
	}

	r.Handle("/metrics", d.Metrics.Handler()).Methods("GET")
	r.HandleFunc("/admin/backends", d.handleAdminBackends).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "not found"})
	})

	r.Use(d.requestLoggingMiddleware)

	return r
}

// authenticate enforces the downstream bearer-token contract of spec.md §6:
// missing header -> 401, wrong token -> 403.
func (d Deps) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			gwerrors.Write(w, gwerrors.ErrAuthMissing, 0)
			return
		}
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || auth[len(prefix):] != d.GatewayKey {
			gwerrors.Write(w, gwerrors.ErrAuthInvalid, 0)
			return
		}
		next(w, r)
	}
}

// dispatch builds the per-route handler: read the body, resolve the
// effective mode, choose a backend via the registry, and forward through
// the admission orchestrator into the right proxy mode.
func (d Deps) dispatch(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			gwerrors.Write(w, gwerrors.ErrUpstreamTransport, 0)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		mode := route.EffectiveMode(body)

		d.Orchestrator.Dispatch(w, r, route.Pool, func(w http.ResponseWriter, r *http.Request) {
			backend, err := d.Registry.Choose(route.Pool)
			if err != nil {
				gwerrors.Write(w, gwerrors.ErrUpstreamTransport, 0)
				return
			}
			if info := requestInfoFrom(r.Context()); info != nil {
				info.Backend = backend
			}
			upstreamURL := backend + route.UpstreamPath

			start := time.Now()
			d.Metrics.ObserveInflight(route.Pool, 1)
			defer d.Metrics.ObserveInflight(route.Pool, -1)

			switch mode {
			case ModeStreamCapable:
				d.Stream.Forward(r.Context(), w, upstreamURL, body, d.BackendKey)
			default:
				respBody := d.Unary.Forward(r.Context(), w, upstreamURL, body, d.BackendKey)
				d.recordQuotaUsage(r, respBody)
			}
			d.Metrics.ObserveUpstreamDuration(route.Pool, time.Since(start))
		})
	}
}

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":            true,
		"chat_backends": d.ChatBackendCount,
	})
}

func (d Deps) handleAdminBackends(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.Registry.Status())
}

// recordQuotaUsage feeds the optional org-daily-token hook (SPEC_FULL.md
// §C.4) from a completed unary response. Best-effort: a malformed body or a
// disabled quota accountant never affects the response already sent.
func (d Deps) recordQuotaUsage(r *http.Request, respBody []byte) {
	if d.Quota == nil || len(respBody) == 0 {
		return
	}
	var parsed usageBody
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Usage.TotalTokens == 0 {
		return
	}
	key := identity.Extract(r)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.Quota.RecordUsage(ctx, key, parsed.Usage.TotalTokens)
}
