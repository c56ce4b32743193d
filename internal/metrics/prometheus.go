package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meal_board",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meal_board",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method", "route"},
	)

	imageIngestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meal_board",
			Subsystem: "images",
			Name:      "ingestions_total",
			Help:      "Image ingestion outcomes by status.",
		},
		[]string{"status"},
	)

	imageIngestionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meal_board",
			Subsystem: "images",
			Name:      "ingestion_duration_seconds",
			Help:      "Time spent fetching and storing an image.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"status"},
	)

	imageCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meal_board",
			Subsystem: "images",
			Name:      "hash_lookups_total",
			Help:      "Content-hash lookups by where they resolved.",
		},
		[]string{"source"},
	)

	boardSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meal_board",
			Subsystem: "boards",
			Name:      "saves_total",
			Help:      "Week board saves by outcome.",
		},
		[]string{"outcome"},
	)

	boardImagesPending = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meal_board",
			Subsystem: "boards",
			Name:      "images_pending_total",
			Help:      "Meals persisted with a pending image.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		imageIngestions,
		imageIngestionDuration,
		imageCacheLookups,
		boardSaves,
		boardImagesPending,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency labelled by chi route pattern.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveIngestion counts one ingestion outcome.
func ObserveIngestion(status string, latency time.Duration) {
	if latency <= 0 {
		latency = time.Millisecond
	}
	imageIngestions.WithLabelValues(status).Inc()
	imageIngestionDuration.WithLabelValues(status).Observe(latency.Seconds())
}

// ObserveHashLookup counts where a content hash was resolved: cache, store or upload.
func ObserveHashLookup(source string) {
	imageCacheLookups.WithLabelValues(source).Inc()
}

// ObserveBoardSave counts a save outcome and the pending images it persisted.
func ObserveBoardSave(outcome string, imagesPending int) {
	boardSaves.WithLabelValues(outcome).Inc()
	if imagesPending > 0 {
		boardImagesPending.Add(float64(imagesPending))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
