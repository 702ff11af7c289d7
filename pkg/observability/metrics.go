package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters for the SSO login path, registered on the default registry.
var (
	// JWKSFetchesTotal counts provider key-set fetches by result
	JWKSFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhive_jwks_fetches_total",
			Help: "Total number of JWKS fetches from identity providers",
		},
		[]string{"result"},
	)

	// SSOLoginsTotal counts provisioned SSO logins by connection and kind
	SSOLoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhive_sso_logins_total",
			Help: "Total number of provisioned SSO logins",
		},
		[]string{"connection", "kind"},
	)

	// SSOLoginFailuresTotal counts failed SSO callback attempts by reason
	SSOLoginFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhive_sso_login_failures_total",
			Help: "Total number of failed SSO login attempts",
		},
		[]string{"connection", "reason"},
	)

	// SessionsCleanedTotal counts sessions removed by the expiry sweep
	SessionsCleanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "formhive_sessions_cleaned_total",
			Help: "Total number of expired sessions removed",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formhive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// MetricsHandler exposes the default registry for scraping
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
