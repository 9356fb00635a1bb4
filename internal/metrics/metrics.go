// Package metrics exposes Prometheus collectors for the cloner service.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	assetsTotal                *prometheus.CounterVec
	assetBytesTotal            *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitRejectionsTotal   prometheus.Counter
	analyzerFailuresTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloner_fetch_attempts_total",
				Help: "Document fetch attempts, labeled by endpoint host and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		assetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloner_assets_total",
				Help: "Asset downloads, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		assetBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloner_asset_bytes_total",
				Help: "Bytes downloaded for assets, labeled by kind.",
			},
			[]string{"kind"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloner_runs_total",
				Help: "Clone runs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
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

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloner_active_workers",
				Help: "Number of workers currently executing a clone run.",
			},
		)

		rateLimitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cloner_rate_limit_rejections_total",
				Help: "Clone requests rejected by the per-caller rate limiter.",
			},
		)

		analyzerFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloner_analyzer_failures_total",
				Help: "Post-processing analyzer failures, labeled by analyzer.",
			},
			[]string{"analyzer"},
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
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one failover attempt. endpoint is the relay host
// or "direct", never the clone target.
func ObserveFetchAttempt(endpoint, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(endpoint), outcome).Inc()
}

// ObserveAsset counts one asset download and its size when it succeeded.
func ObserveAsset(kind, outcome string, size int64) {
	Init()
	assetsTotal.WithLabelValues(kind, outcome).Inc()
	if size > 0 {
		assetBytesTotal.WithLabelValues(kind).Add(float64(size))
	}
}

// ObserveRun counts a run reaching a terminal status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitRejection counts a rejected clone request.
func ObserveRateLimitRejection() {
	Init()
	rateLimitRejectionsTotal.Inc()
}

// ObserveAnalyzerFailure counts an analyzer that returned an error.
func ObserveAnalyzerFailure(analyzer string) {
	Init()
	analyzerFailuresTotal.WithLabelValues(analyzer).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
