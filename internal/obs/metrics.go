package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	// AuthEvents counts credential flows by operation (login, register, refresh,
	// reset_request, reset_complete) and result.
	AuthEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication flow outcomes.",
		},
		[]string{"operation", "result"},
	)

	// GuardDecisions counts authorization outcomes and the stage that decided them.
	GuardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_guard_decisions_total",
			Help: "Authorization guard decisions per endpoint.",
		},
		[]string{"endpoint", "outcome", "stage"},
	)

	// AuditWriteFailures counts audit entries that could not be persisted.
	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit log entries lost because the store rejected them.",
	})

	// TokensSwept counts expired or consumed token rows removed by the sweep job.
	TokensSwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_swept_total",
			Help: "Expired or consumed tokens deleted by the hygiene sweep.",
		},
		[]string{"kind"},
	)

	initOnce sync.Once
)

// Init registers all metrics with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			AuthEvents, GuardDecisions, AuditWriteFailures, TokensSwept,
		)
	})
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests. Installed with chi's Use so
// the matched route pattern is available after the handler ran.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = CanonicalPath(r.URL.Path)
		}
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifier segments so unmatched paths do not explode label
// cardinality. Query strings are dropped.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		if looksLikeID(part) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// looksLikeID matches ULIDs (26 chars Crockford base32) and canonical UUIDs.
func looksLikeID(s string) bool {
	switch len(s) {
	case 26:
		for _, r := range s {
			if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z') {
				return false
			}
		}
		return true
	case 36:
		return strings.Count(s, "-") == 4
	default:
		return false
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
