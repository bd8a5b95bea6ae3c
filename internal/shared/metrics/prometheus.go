package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	requestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blood_requests_created_total",
			Help: "Total number of blood requests created",
		},
		[]string{"blood_group", "urgency"},
	)

	requestStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blood_request_status_changed_total",
			Help: "Total number of blood request status changes",
		},
		[]string{"from_status", "to_status"},
	)

	donorResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donor_responses_total",
			Help: "Total number of donor responses recorded",
		},
		[]string{"response"},
	)

	candidatesPerRequest = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matching_candidates_per_request",
			Help:    "Number of candidate donors located per blood request",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
		},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total number of realtime notifications dispatched",
		},
		[]string{"event", "outcome"},
	)

	sseSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_subscribers_active",
			Help: "Number of active SSE subscribers",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordRequestCreated records a blood request creation
func RecordRequestCreated(bloodGroup, urgency string) {
	requestsCreated.WithLabelValues(bloodGroup, urgency).Inc()
}

// RecordStatusChange records a blood request status change
func RecordStatusChange(fromStatus, toStatus string) {
	requestStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordDonorResponse records a donor response
func RecordDonorResponse(response string) {
	donorResponses.WithLabelValues(response).Inc()
}

// RecordCandidates records the candidate count of a locator run
func RecordCandidates(count int) {
	candidatesPerRequest.Observe(float64(count))
}

// RecordNotification records a dispatched notification and its outcome
func RecordNotification(event, outcome string) {
	notificationsDispatched.WithLabelValues(event, outcome).Inc()
}

// RecordSubscribers records the active SSE subscriber count
func RecordSubscribers(count int) {
	sseSubscribers.Set(float64(count))
}
