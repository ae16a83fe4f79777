// Package metrics exposes the gateway's Prometheus surface (GET /metrics,
// SPEC_FULL.md §C.2): admission outcomes, in-flight gauges and upstream
// latency, grouped by backend pool.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus collectors for one gateway process.
type Registry struct {
	AdmittedTotal      *prometheus.CounterVec
	RateLimitedTotal   *prometheus.CounterVec
	ConcurrencyRejected *prometheus.CounterVec
	Inflight           *prometheus.GaugeVec
	UpstreamDuration   *prometheus.HistogramVec
}

// New builds and registers the gateway's collectors.
func New() *Registry {
	return &Registry{
		AdmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admitted_requests_total",
				Help: "Total requests that passed rate and concurrency admission",
			},
			[]string{"pool"},
		),
		RateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limited_total",
				Help: "Total requests rejected by the per-client rate limiter",
			},
			[]string{"pool"},
		),
		ConcurrencyRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_concurrency_rejected_total",
				Help: "Total requests rejected by the admission queue timeout",
			},
			[]string{"pool"},
		),
		Inflight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_inflight_requests",
				Help: "Requests currently dispatched to a backend pool",
			},
			[]string{"pool"},
		),
		UpstreamDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_duration_seconds",
				Help:    "Duration of a completed upstream round trip, per pool",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pool"},
		),
	}
}

// ObserveInflight adjusts the in-flight gauge for pool by delta (+1 on
// dispatch start, -1 on dispatch end).
func (r *Registry) ObserveInflight(pool string, delta float64) {
	r.Inflight.WithLabelValues(pool).Add(delta)
}

// ObserveUpstreamDuration records one completed upstream round trip.
func (r *Registry) ObserveUpstreamDuration(pool string, d time.Duration) {
	r.UpstreamDuration.WithLabelValues(pool).Observe(d.Seconds())
}

// RecordRateLimited increments the rate-limit rejection counter for pool.
func (r *Registry) RecordRateLimited(pool string) {
	r.RateLimitedTotal.WithLabelValues(pool).Inc()
}

// RecordConcurrencyRejected increments the admission-queue rejection
// counter for pool.
func (r *Registry) RecordConcurrencyRejected(pool string) {
	r.ConcurrencyRejected.WithLabelValues(pool).Inc()
}

// RecordAdmitted increments the admitted-request counter for pool.
func (r *Registry) RecordAdmitted(pool string) {
	r.AdmittedTotal.WithLabelValues(pool).Inc()
}

// Handler returns the /metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
