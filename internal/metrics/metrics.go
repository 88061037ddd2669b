// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerWorkItemsTotal         *prometheus.CounterVec
	crawlerFetchFailuresTotal     *prometheus.CounterVec
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerParseErrorsTotal       *prometheus.CounterVec
	crawlerItemsTotal             prometheus.Counter
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerWorkItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_work_items_total",
				Help: "Total number of work items dispatched, labeled by kind.",
			},
			[]string{"kind"},
		)

		crawlerFetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_failures_total",
				Help: "Total number of fetches folded into degenerate responses, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		crawlerParseErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_parse_errors_total",
				Help: "Total number of responses whose parse stage failed, labeled by stage.",
			},
			[]string{"stage"},
		)

		crawlerItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Total number of extracted items handed to the sink.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently dispatching an item.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveWorkItem counts one dispatched work item.
func ObserveWorkItem(kind string) {
	Init()
	crawlerWorkItemsTotal.WithLabelValues(kind).Inc()
}

// ObserveFetch records the latency of a completed fetch.
func ObserveFetch(rawURL string, duration time.Duration) {
	Init()
	crawlerFetchDurationSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(duration.Seconds())
}

// ObserveFetchFailure counts a fetch that degraded to an empty response.
func ObserveFetchFailure(rawURL string) {
	Init()
	crawlerFetchFailuresTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveParseError counts a failed parse stage.
func ObserveParseError(stage string) {
	Init()
	crawlerParseErrorsTotal.WithLabelValues(stage).Inc()
}

// ObserveItem counts an item handed to the sink.
func ObserveItem() {
	Init()
	crawlerItemsTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
