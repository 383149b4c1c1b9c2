package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GenerationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intakeline_generation_attempts_total",
			Help: "Structured generation attempts by artifact kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intakeline_generation_duration_seconds",
			Help:    "Wall time of a generation call including retries.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
		},
		[]string{"kind", "outcome"},
	)

	InvitationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intakeline_invitations_total",
			Help: "Invitation outcomes per recipient.",
		},
		[]string{"status", "error_kind"},
	)

	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intakeline_session_transitions_total",
			Help: "Session status changes by target status.",
		},
		[]string{"status"},
	)

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intakeline_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intakeline_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intakeline_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

var initOnce sync.Once

// Init registers the metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(GenerationAttempts, GenerationDuration, InvitationsTotal, SessionTransitions,
			httpInFlight, httpRequestsTotal, httpRequestDuration)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count and latency. route maps a served request to a low-cardinality
// label; it runs after the handler so router patterns are available.
func Instrument(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpInFlight.Inc()
			defer httpInFlight.Dec()
			start := time.Now()

			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)

			label := r.URL.Path
			if route != nil {
				if p := route(r); p != "" {
					label = p
				}
			}
			status := strconv.Itoa(sw.code)
			httpRequestDuration.WithLabelValues(r.Method, label, status).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, label, status).Inc()
			LogEvent(map[string]any{
				"msg":         "http request",
				"method":      r.Method,
				"route":       label,
				"status":      sw.code,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
