// ABOUTME: Prometheus collectors for HTTP traffic, session outcomes, and streamed events
// ABOUTME: Exposes the /metrics handler, request middleware, and record helpers

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seance_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seance_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveSessions tracks currently active sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seance_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// SessionsStarted counts sessions accepted by the gateway
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seance_sessions_started_total",
			Help: "Total number of sessions started",
		},
	)

	// SessionsEnded counts terminal session outcomes by state
	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seance_sessions_ended_total",
			Help: "Total number of sessions ended, by terminal state",
		},
		[]string{"state"},
	)

	// SessionDuration tracks how long sessions run
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seance_session_duration_seconds",
			Help:    "Session duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"state"},
	)

	// EventsStreamed counts events delivered to clients, by wire type
	EventsStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seance_events_streamed_total",
			Help: "Total number of events streamed to clients",
		},
		[]string{"type"},
	)

	// CodecFaults counts events the codec could not encode
	CodecFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seance_codec_faults_total",
			Help: "Total number of events the codec failed to encode",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath normalizes URL paths to avoid high cardinality
func normalizePath(path string) string {
	switch path {
	case "/messages", "/health", "/health/ready", "/sessions", "/metrics":
		return path
	default:
		if strings.HasPrefix(path, "/sessions/") {
			return "/sessions/{id}"
		}
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionStart increments the start counter and active gauge
func RecordSessionStart() {
	SessionsStarted.Inc()
	ActiveSessions.Inc()
}

// RecordSessionEnd decrements the active gauge and records outcome and duration
func RecordSessionEnd(state string, durationSeconds float64) {
	ActiveSessions.Dec()
	SessionsEnded.WithLabelValues(state).Inc()
	SessionDuration.WithLabelValues(state).Observe(durationSeconds)
}

// RecordEventStreamed counts one event delivered to a client
func RecordEventStreamed(wireType string) {
	EventsStreamed.WithLabelValues(wireType).Inc()
}

// RecordCodecFault counts one unencodable event
func RecordCodecFault() {
	CodecFaults.Inc()
}
