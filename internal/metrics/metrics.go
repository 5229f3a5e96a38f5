// Package metrics exposes Prometheus collectors for the crawler service.
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
	crawlRunsTotal             *prometheus.CounterVec
	crawlRunDurationSeconds    prometheus.Histogram
	sourceItemsTotal           *prometheus.CounterVec
	sourceFailuresTotal        *prometheus.CounterVec
	sourcePagesTotal           *prometheus.CounterVec
	chunksUploadedTotal        prometheus.Counter
	chunkWriteFailuresTotal    prometheus.Counter
	highWaterMark              prometheus.Gauge
	logFlushesTotal            *prometheus.CounterVec
	logFlushBytes              prometheus.Histogram
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcrawler_runs_total",
				Help: "Total number of crawl runs, labeled by trigger and status.",
			},
			[]string{"trigger", "status"},
		)

		crawlRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feedcrawler_run_duration_seconds",
				Help:    "Histogram of crawl run durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		)

		sourceItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcrawler_source_items_total",
				Help: "Total number of items collected, labeled by source and type.",
			},
			[]string{"source", "type"},
		)

		sourceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcrawler_source_failures_total",
				Help: "Total number of source crawls that failed or timed out, labeled by source and reason.",
			},
			[]string{"source", "reason"},
		)

		sourcePagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcrawler_source_pages_total",
				Help: "Total number of feed pages fetched, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		chunksUploadedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "feedcrawler_chunks_uploaded_total",
				Help: "Total number of chunks persisted.",
			},
		)

		chunkWriteFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "feedcrawler_chunk_write_failures_total",
				Help: "Total number of chunk writes that failed.",
			},
		)

		highWaterMark = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedcrawler_high_water_mark_ms",
				Help: "Most recent high-water mark written, in epoch milliseconds.",
			},
		)

		logFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcrawler_log_flushes_total",
				Help: "Total number of log buffer flushes, labeled by status.",
			},
			[]string{"status"},
		)

		logFlushBytes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feedcrawler_log_flush_bytes",
				Help:    "Size of the log buffer written per flush.",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedcrawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedcrawler_active_workers",
				Help: "Number of workers currently processing a job.",
			},
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

// ObserveRun records a finished crawl run.
func ObserveRun(trigger, status string, duration time.Duration) {
	Init()
	crawlRunsTotal.WithLabelValues(trigger, status).Inc()
	crawlRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveSourceItems adds n collected items for a source.
func ObserveSourceItems(source, kind string, n int) {
	Init()
	if n > 0 {
		sourceItemsTotal.WithLabelValues(source, kind).Add(float64(n))
	}
}

// ObserveSourceFailure counts a failed or timed-out source.
func ObserveSourceFailure(source, reason string) {
	Init()
	sourceFailuresTotal.WithLabelValues(source, reason).Inc()
}

// ObservePage counts one page fetch for a source.
func ObservePage(source, status string) {
	Init()
	sourcePagesTotal.WithLabelValues(source, status).Inc()
}

// ObserveChunks records chunk write outcomes.
func ObserveChunks(uploaded, failed int) {
	Init()
	chunksUploadedTotal.Add(float64(uploaded))
	chunkWriteFailuresTotal.Add(float64(failed))
}

// SetHighWaterMark records the last written mark.
func SetHighWaterMark(ms int64) {
	Init()
	highWaterMark.Set(float64(ms))
}

// ObserveLogFlush records one log flush attempt.
func ObserveLogFlush(status string, bytes int) {
	Init()
	logFlushesTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		logFlushBytes.Observe(float64(bytes))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
