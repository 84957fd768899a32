package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics.
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "Whether the service currently passes its readiness checks.",
	})
)

// Authentication domain metrics. Incremented by the core services through
// the helpers below so the packages do not import prometheus directly.
var (
	loginFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_login_failures_total",
		Help: "Failed password verifications.",
	})

	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts locked after repeated failures.",
	})

	refreshRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Successful refresh token rotations.",
	})

	refreshReuseTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_detected_total",
		Help: "Revoked refresh tokens presented again (reuse signals).",
	})

	mfaFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_mfa_failures_total",
		Help: "Rejected MFA proofs and backup codes.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		loginFailuresTotal, lockoutsTotal,
		refreshRotationsTotal, refreshReuseTotal, mfaFailuresTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the latest readiness probe outcome.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

func IncLoginFailure()    { loginFailuresTotal.Inc() }
func IncLockout()         { lockoutsTotal.Inc() }
func IncRefreshRotation() { refreshRotationsTotal.Inc() }
func IncRefreshReuse()    { refreshReuseTotal.Inc() }
func IncMFAFailure()      { mfaFailuresTotal.Inc() }

// CanonicalPath collapses identifier segments so metric labels stay bounded.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	// /v1/tenants/{id}/invites and /v1/invites/{code}/accept carry opaque ids.
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "tenants" && parts[3] != "" {
		parts[3] = ":id"
		return strings.Join(parts, "/")
	}
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "invites" && parts[3] != "" {
		parts[3] = ":code"
		return strings.Join(parts, "/")
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight accounting.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streamable through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
