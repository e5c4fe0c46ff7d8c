package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Validation outcomes used as the outcome label.
const (
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

var initOnce sync.Once

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Session metrics
var (
	sessionValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_session_validations_total",
			Help: "Session validations by outcome.",
		},
		[]string{"outcome"},
	)

	sessionValidationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gatehouse_session_validation_duration_seconds",
		Help:    "Time spent validating a session, store round-trips included.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	sessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_sessions_started_total",
			Help: "Sessions started, split by remember-me.",
		},
		[]string{"remembered"},
	)

	authFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_authentication_failures_total",
		Help: "Rejected credential checks.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gatehouse_ready",
		Help: "1 when the backing stores answered the last readiness probe.",
	})
)

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			sessionValidations, sessionValidationDuration, sessionsStarted, authFailures, ready,
		)
	})
}

// Handler serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordValidation counts one validation and observes its latency.
func RecordValidation(outcome string, start time.Time) {
	sessionValidations.WithLabelValues(outcome).Inc()
	sessionValidationDuration.Observe(time.Since(start).Seconds())
}

func RecordSessionStarted(remembered bool) {
	sessionsStarted.WithLabelValues(strconv.FormatBool(remembered)).Inc()
}

func RecordAuthFailure() { authFailures.Inc() }

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

var knownPaths = map[string]struct{}{
	"/":                        {},
	"/healthz":                 {},
	"/readyz":                  {},
	"/metrics":                 {},
	"/v1/sessions":             {},
	"/v1/sessions/current":     {},
	"/v1/sessions/remember":    {},
	"/v1/admin/sessions":       {},
	"/v1/admin/sessions/purge": {},
	"/v1/admin/policy":         {},
}

// CanonicalPath maps a request path to a bounded label value.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}

// Instrument records in-flight, totals and latency for every request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
