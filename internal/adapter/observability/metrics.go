package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts inbound requests by route, method and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration observes inbound request latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// ProviderRequestsTotal counts outbound chat provider calls.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_provider_requests_total",
			Help: "Total number of chat provider requests by operation",
		},
		[]string{"operation"},
	)
	// ProviderRequestDuration observes outbound provider latency.
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_provider_request_duration_seconds",
			Help:    "Chat provider request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)
	// ProviderKeyRotationsTotal counts credential rotations after failures.
	ProviderKeyRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_provider_key_rotations_total",
			Help: "Total number of provider credential rotations",
		},
	)

	// RepliesTotal counts produced replies by source (trigger, scripted,
	// generated, degraded).
	RepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_replies_total",
			Help: "Total number of replies produced by source",
		},
		[]string{"source"},
	)
	// DroppedSavesTotal counts replies returned without durable history.
	DroppedSavesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_dropped_saves_total",
			Help: "Total number of conversation saves that failed after a reply was produced",
		},
	)
)

var registerOnce sync.Once

// InitMetrics registers all metrics with the default registry. Safe to call
// more than once.
func InitMetrics() {
	registerOnce.Do(registerAll)
}

func registerAll() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderKeyRotationsTotal,
		RepliesTotal,
		DroppedSavesTotal,
	)
}

// HTTPMetricsMiddleware records request counts and durations per chi route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
