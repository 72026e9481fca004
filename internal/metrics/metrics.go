// Package metrics exposes Prometheus collectors for the crawlbridge service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bridgeTasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawlbridge_tasks_active",
			Help: "Number of bridge worker goroutines currently running.",
		},
	)

	bridgeTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlbridge_tasks_total",
			Help: "Total number of finished bridge tasks, labeled by task, outcome and error kind.",
		},
		[]string{"task", "outcome", "kind"},
	)

	bridgeTaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawlbridge_task_duration_seconds",
			Help:    "Histogram of bridge task lifetimes from start to join.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"task"},
	)

	bridgeItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlbridge_items_total",
			Help: "Total number of items handed across bridge channels, labeled by task.",
		},
		[]string{"task"},
	)

	bridgeBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlbridge_stream_bytes_total",
			Help: "Total number of content bytes handed across byte streams, labeled by task.",
		},
		[]string{"task"},
	)

	documentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlbridge_documents_total",
			Help: "Total number of documents processed, labeled by connector and result.",
		},
		[]string{"connector", "result"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlbridge_jobs_total",
			Help: "Total number of jobs processed, labeled by status.",
		},
		[]string{"status"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawlbridge_active_workers",
			Help: "Number of workers currently processing a job.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawlbridge_rate_limit_delays_seconds",
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
)

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

// IncActiveTasks increments the running bridge task gauge.
func IncActiveTasks() {
	bridgeTasksActive.Inc()
}

// DecActiveTasks decrements the running bridge task gauge.
func DecActiveTasks() {
	bridgeTasksActive.Dec()
}

// ObserveTask records a joined bridge task.
func ObserveTask(task, outcome, kind string, items int64, duration time.Duration) {
	bridgeTasksTotal.WithLabelValues(task, outcome, kind).Inc()
	bridgeTaskDurationSeconds.WithLabelValues(task).Observe(duration.Seconds())
	if items > 0 {
		bridgeItemsTotal.WithLabelValues(task).Add(float64(items))
	}
}

// AddStreamBytes counts bytes handed across a byte stream.
func AddStreamBytes(task string, n int) {
	if n > 0 {
		bridgeBytesTotal.WithLabelValues(task).Add(float64(n))
	}
}

// ObserveDocument increments the per-connector document counter.
func ObserveDocument(connector, result string) {
	documentsTotal.WithLabelValues(connector, result).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
