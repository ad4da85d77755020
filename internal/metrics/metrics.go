// Package metrics exposes Prometheus collectors for calendar loading.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	calendarLoadsTotal          *prometheus.CounterVec
	calendarLoadDurationSeconds *prometheus.HistogramVec
	cacheLookupsTotal           *prometheus.CounterVec
	cacheEvictionsTotal         prometheus.Counter
	cacheEntries                prometheus.Gauge
	redirectsTotal              *prometheus.CounterVec
	rateLimitedTotal            *prometheus.CounterVec
	rateLimitWaitSeconds        *prometheus.HistogramVec
	eventsTotal                 *prometheus.CounterVec
	listenerFailuresTotal       *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		calendarLoadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calendar_loads_total",
				Help: "Total number of external calendar loads, labeled by protocol and outcome.",
			},
			[]string{"protocol", "outcome"},
		)

		calendarLoadDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calendar_load_duration_seconds",
				Help:    "Histogram of handler load latencies, labeled by protocol.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"protocol"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calendar_cache_lookups_total",
				Help: "Total number of cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		cacheEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "calendar_cache_evictions_total",
				Help: "Total number of entries evicted from the calendar cache.",
			},
		)

		cacheEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "calendar_cache_entries",
				Help: "Number of entries currently held by the calendar cache.",
			},
		)

		redirectsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calendar_http_redirects_total",
				Help: "Total number of redirects followed or rejected, labeled by status code and verdict.",
			},
			[]string{"code", "verdict"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calendar_rate_limited_total",
				Help: "Total number of rate-limited responses, labeled by protocol.",
			},
			[]string{"protocol"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calendar_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the client-side rate limiter, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"host"},
		)

		eventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calendar_events_total",
				Help: "Total number of lifecycle events emitted, labeled by type.",
			},
			[]string{"type"},
		)

		listenerFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calendar_listener_failures_total",
				Help: "Total number of event listeners that panicked, labeled by event type.",
			},
			[]string{"type"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLoad records the outcome and latency of a registry load.
func ObserveLoad(protocol, outcome string, duration time.Duration) {
	Init()
	calendarLoadsTotal.WithLabelValues(protocol, outcome).Inc()
	if duration > 0 {
		calendarLoadDurationSeconds.WithLabelValues(protocol).Observe(duration.Seconds())
	}
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheEviction counts evicted entries.
func ObserveCacheEviction(n int) {
	Init()
	if n > 0 {
		cacheEvictionsTotal.Add(float64(n))
	}
}

// SetCacheEntries reports the current cache size.
func SetCacheEntries(n int) {
	Init()
	cacheEntries.Set(float64(n))
}

// ObserveRedirect counts a redirect hop and whether it was followed.
func ObserveRedirect(code int, verdict string) {
	Init()
	redirectsTotal.WithLabelValues(strconv.Itoa(code), verdict).Inc()
}

// ObserveRateLimited counts a rate-limited response.
func ObserveRateLimited(protocol string) {
	Init()
	rateLimitedTotal.WithLabelValues(protocol).Inc()
}

// ObserveRateLimitWait records how long a request waited for a token.
func ObserveRateLimitWait(host string, duration time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveEvent counts an emitted lifecycle event.
func ObserveEvent(eventType string) {
	Init()
	eventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveListenerFailure counts a listener that panicked.
func ObserveListenerFailure(eventType string) {
	Init()
	listenerFailuresTotal.WithLabelValues(eventType).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
