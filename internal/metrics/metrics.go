// Package metrics exposes Prometheus collectors for the results crawler.
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

// Fetch request kinds.
const (
	KindData       = "data"
	KindNavigation = "navigation"
	KindAsset      = "asset"
)

// Fetch attempt outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeAbsent  = "absent"
	OutcomeStatus  = "unexpected_status"
	OutcomeInvalid = "invalid_json"
	OutcomeError   = "error"
)

var (
	fetchRequestsTotal            *prometheus.CounterVec
	fetchDurationSeconds          *prometheus.HistogramVec
	fetchBytesTotal               *prometheus.CounterVec
	branchesLostTotal             *prometheus.CounterVec
	stationsTotal                 *prometheus.CounterVec
	assetsTotal                   *prometheus.CounterVec
	specialVoteShapesTotal        *prometheus.CounterVec
	queueDepth                    prometheus.Gauge
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
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_requests_total",
				Help: "Upstream fetch attempts, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of upstream request latencies, labeled by kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"kind"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		branchesLostTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_branches_lost_total",
				Help: "Hierarchy branches abandoned after navigation retries were exhausted.",
			},
			[]string{"level"},
		)

		stationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_stations_total",
				Help: "Polling stations by pipeline outcome.",
			},
			[]string{"outcome"},
		)

		assetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_assets_total",
				Help: "Asset download results, labeled by folder and outcome.",
			},
			[]string{"folder", "outcome"},
		)

		specialVoteShapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_special_vote_shapes_total",
				Help: "Special-vote payload shapes seen, labeled by category and shape.",
			},
			[]string{"category", "shape"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_queue_depth",
				Help: "Work items waiting in the station queue.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a station.",
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
				Help: "Total number of HTTP requests served, labeled by method and code.",
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

// ObserveFetch records one upstream attempt.
func ObserveFetch(kind, outcome, rawURL string, bytesFetched int, duration time.Duration) {
	Init()
	fetchRequestsTotal.WithLabelValues(kind, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
	}
}

// ObserveBranchLost counts a navigation branch given up at level.
func ObserveBranchLost(level string) {
	Init()
	branchesLostTotal.WithLabelValues(level).Inc()
}

// ObserveStation counts a station outcome (enqueued, skipped, persisted, dropped).
func ObserveStation(outcome string) {
	Init()
	stationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAsset counts an asset download result.
func ObserveAsset(folder, outcome string) {
	Init()
	assetsTotal.WithLabelValues(folder, outcome).Inc()
}

// ObserveSpecialVoteShape counts a decoded special-vote payload shape.
func ObserveSpecialVoteShape(category, shape string) {
	Init()
	specialVoteShapesTotal.WithLabelValues(category, shape).Inc()
}

// SetQueueDepth reports the current queue length.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
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
