// Package metrics exposes Prometheus collectors for the tile builder.
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

// Task and tile result labels.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultCanceled = "canceled"
)

var (
	poolTasksTotal             *prometheus.CounterVec
	poolTaskDurationSeconds    prometheus.Histogram
	poolActiveWorkers          prometheus.Gauge
	tilesWrittenTotal          *prometheus.CounterVec
	polygonsWrittenTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	submissionsThrottledTotal  prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		poolTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiler_pool_tasks_total",
				Help: "Total number of pool tasks executed, labeled by result.",
			},
			[]string{"result"},
		)

		poolTaskDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tiler_pool_task_duration_seconds",
				Help:    "Histogram of pool task durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
		)

		poolActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tiler_pool_active_workers",
				Help: "Number of pool workers currently running.",
			},
		)

		tilesWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiler_tiles_written_total",
				Help: "Total number of tile text files written, labeled by result.",
			},
			[]string{"result"},
		)

		polygonsWrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tiler_polygons_written_total",
				Help: "Total number of polygons serialized into tile text files.",
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

		submissionsThrottledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tiler_submissions_throttled_total",
				Help: "Total number of tile submissions rejected by the rate limiter.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveTask records one finished pool task.
func ObserveTask(ok bool, duration time.Duration) {
	Init()
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	poolTasksTotal.WithLabelValues(result).Inc()
	poolTaskDurationSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	poolActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	poolActiveWorkers.Dec()
}

// ObserveTileWritten records a serializer outcome and, on success, the number
// of polygons it emitted.
func ObserveTileWritten(result string, polygons int) {
	Init()
	tilesWrittenTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess && polygons > 0 {
		polygonsWrittenTotal.Add(float64(polygons))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveThrottled counts a tile submission rejected by the rate limiter.
func ObserveThrottled() {
	Init()
	submissionsThrottledTotal.Inc()
}
