// Package metrics holds the Prometheus collectors for registry traffic,
// aggregation passes and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 30, 120}

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	registryRequests  *prometheus.CounterVec
	registryDuration  *prometheus.HistogramVec
	aggregateDuration prometheus.Histogram
	aggregateRepos    prometheus.Counter
	aggregateDegraded prometheus.Counter
	aggregateFailed   prometheus.Counter
	panics            *prometheus.CounterVec
	apiRequests       *prometheus.HistogramVec
}

// New registers every collector, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		registryRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regview_registry_requests_total",
				Help: "Requests sent to registries, by operation and outcome.",
			},
			[]string{
				"op",      // catalog, tags, manifest, resolve_digest, delete, probe
				"outcome", // http status code, or "error" for transport failures
			},
		),
		registryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regview_registry_request_duration_seconds",
				Help:    "Registry request duration until response headers, in seconds.",
				Buckets: durationBuckets,
			},
			[]string{"op"},
		),
		aggregateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "regview_aggregate_duration_seconds",
			Help:    "Duration of a full aggregation pass, in seconds.",
			Buckets: durationBuckets,
		}),
		aggregateRepos: f.NewCounter(prometheus.CounterOpts{
			Name: "regview_aggregate_repositories_total",
			Help: "Repository summaries produced by aggregation passes.",
		}),
		aggregateDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "regview_aggregate_degraded_total",
			Help: "Repository summaries that carried a fetch error.",
		}),
		aggregateFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "regview_aggregate_failed_total",
			Help: "Aggregation passes aborted because the catalog was unreachable.",
		}),
		panics: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regview_panic_total",
				Help: "Number of recovered panics, by component.",
			},
			[]string{"component"},
		),
		apiRequests: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regview_api_request_duration_seconds",
				Help:    "HTTP API requests with method, route and response code, in seconds.",
				Buckets: durationBuckets,
			},
			[]string{"method", "route", "code"},
		),
	}
}

// ObserveRequest records one registry round trip. Its signature matches
// registry.RequestObserver.
func (m *Metrics) ObserveRequest(op string, status int, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "error"
	if err == nil {
		outcome = strconv.Itoa(status)
	}
	m.registryRequests.WithLabelValues(op, outcome).Inc()
	m.registryDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveAggregate records a completed aggregation pass.
func (m *Metrics) ObserveAggregate(elapsed time.Duration, repositories, degraded int) {
	if m == nil {
		return
	}
	m.aggregateDuration.Observe(elapsed.Seconds())
	m.aggregateRepos.Add(float64(repositories))
	m.aggregateDegraded.Add(float64(degraded))
}

// ObserveAggregateFailure records a pass aborted by a catalog failure.
func (m *Metrics) ObserveAggregateFailure() {
	if m == nil {
		return
	}
	m.aggregateFailed.Inc()
}

// ObservePanic counts a recovered panic.
func (m *Metrics) ObservePanic(component string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(component).Inc()
}

// ObserveAPIRequest records one HTTP API request.
func (m *Metrics) ObserveAPIRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
