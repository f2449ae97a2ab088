// Package metrics exposes Prometheus instrumentation for the accident engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/accident-engine/generic"
)

// Metrics holds every collector registered by the engine.
type Metrics struct {
	registry *prometheus.Registry

	SequencesAllocated  *prometheus.CounterVec
	SequencesExhausted  *prometheus.CounterVec
	SequencesOverridden *prometheus.CounterVec

	SummaryBuilds   *prometheus.CounterVec
	SummaryDuration prometheus.Histogram

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SequencesAllocated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accident_sequences_allocated_total",
			Help: "Sequence numbers issued, by counter scope",
		}, []string{"scope"}),
		SequencesExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accident_sequences_exhausted_total",
			Help: "Allocation attempts rejected because the counter reached its maximum",
		}, []string{"scope"}),
		SequencesOverridden: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accident_sequences_overridden_total",
			Help: "Manual counter overrides applied",
		}, []string{"scope"}),

		SummaryBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accident_summary_builds_total",
			Help: "Lagging summary aggregations, by outcome",
		}, []string{"outcome"}),
		SummaryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "accident_summary_build_duration_seconds",
			Help:    "Duration of one lagging summary aggregation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "accident_summary_cache_hits_total",
			Help: "Summary requests served from cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "accident_summary_cache_misses_total",
			Help: "Summary requests that required an aggregation",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accident_http_requests_total",
			Help: "HTTP requests by route pattern, method and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accident_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SequenceAllocated counts one issued sequence number.
func (m *Metrics) SequenceAllocated(scope generic.Scope) {
	if m != nil {
		m.SequencesAllocated.WithLabelValues(string(scope)).Inc()
	}
}

// SequenceExhausted counts one rejected allocation.
func (m *Metrics) SequenceExhausted(scope generic.Scope) {
	if m != nil {
		m.SequencesExhausted.WithLabelValues(string(scope)).Inc()
	}
}

// SequenceOverridden counts one manual override.
func (m *Metrics) SequenceOverridden(scope generic.Scope) {
	if m != nil {
		m.SequencesOverridden.WithLabelValues(string(scope)).Inc()
	}
}

// SummaryBuilt records one aggregation and its duration.
func (m *Metrics) SummaryBuilt(_ int, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SummaryBuilds.WithLabelValues(outcome).Inc()
	m.SummaryDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}
