// Package metrics exposes Prometheus collectors for the downloader service.
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
	downloadsTotal             *prometheus.CounterVec
	downloadBytesTotal         *prometheus.CounterVec
	discoveredLinksTotal       *prometheus.CounterVec
	discoveryFailuresTotal     *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	sessionsTotal              *prometheus.CounterVec
	activeFetches              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperfetch_downloads_total",
				Help: "Page PDF downloads, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		downloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperfetch_download_bytes_total",
				Help: "Bytes written to disk, labeled by source.",
			},
			[]string{"source"},
		)

		discoveredLinksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperfetch_discovered_links_total",
				Help: "Download tasks produced by link discovery, labeled by source.",
			},
			[]string{"source"},
		)

		discoveryFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperfetch_discovery_failures_total",
				Help: "Sources skipped because their index page could not be read.",
			},
			[]string{"source"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperfetch_fetch_retries_total",
				Help: "Connection-level retries, labeled by host.",
			},
			[]string{"host"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperfetch_sessions_total",
				Help: "Download sessions finished, labeled by final status.",
			},
			[]string{"status"},
		)

		activeFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "paperfetch_active_fetches",
				Help: "Number of transfers currently in flight.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paperfetch_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// SanitizeHost extracts a lowercase hostname from rawURL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveDownload records one finished task.
func ObserveDownload(source string, success bool, bytesWritten int64) {
	Init()
	result := "failed"
	if success {
		result = "succeeded"
	}
	downloadsTotal.WithLabelValues(source, result).Inc()
	if bytesWritten > 0 {
		downloadBytesTotal.WithLabelValues(source).Add(float64(bytesWritten))
	}
}

// ObserveDiscovery records the outcome of scraping one source's index page.
func ObserveDiscovery(source string, links int, err error) {
	Init()
	if err != nil {
		discoveryFailuresTotal.WithLabelValues(source).Inc()
		return
	}
	discoveredLinksTotal.WithLabelValues(source).Add(float64(links))
}

// ObserveRetry counts a connection-level retry against rawURL's host.
func ObserveRetry(rawURL string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeHost(rawURL)).Inc()
}

// ObserveSession increments the session counter for the given final status.
func ObserveSession(status string) {
	Init()
	sessionsTotal.WithLabelValues(status).Inc()
}

// IncActiveFetches increments the in-flight transfer gauge.
func IncActiveFetches() {
	Init()
	activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight transfer gauge.
func DecActiveFetches() {
	Init()
	activeFetches.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
