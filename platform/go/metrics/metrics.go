// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// Metrics groups the collectors of one process. Each instance owns its registry so
// tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	storeDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	authAttempts  *prometheus.CounterVec
}

// New registers every collector under prefix (e.g. "bizdesk").
func New(prefix string) *Metrics {
	if prefix == "" {
		prefix = "bizdesk"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		storeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_store_operation_duration_seconds",
			Help:    "Duration of store calls in seconds, retries included",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_store_errors_total",
			Help: "Store calls that ended in an unexpected error",
		}, []string{"operation"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_identity_cache_lookups_total",
			Help: "Identity cache lookups by outcome",
		}, []string{"backend", "result"}),
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_auth_attempts_total",
			Help: "Sign-in attempts by method and outcome",
		}, []string{"method", "result"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRequest records one finished HTTP request. route is the matched pattern, never the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveStore matches persistence.CallConfig.Observe. Not found and conflict
// outcomes are expected answers, not failures.
func (m *Metrics) ObserveStore(op string, elapsed time.Duration, err error) {
	m.storeDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil && !errors.Is(err, persistence.ErrNotFound) && !errors.Is(err, persistence.ErrConflict) {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}

// CacheLookup counts an identity cache hit or miss.
func (m *Metrics) CacheLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(backend, result).Inc()
}

// AuthAttempt counts a sign-in attempt (password, magic_link, refresh).
func (m *Metrics) AuthAttempt(method string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.authAttempts.WithLabelValues(method, result).Inc()
}
