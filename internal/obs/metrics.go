package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

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

	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_tokens_issued_total",
			Help: "Tokens minted, by token type.",
		},
		[]string{"type"},
	)

	tokenFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_token_failures_total",
			Help: "Token validation and authorization failures, by reason.",
		},
		[]string{"reason"},
	)

	tokensSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authgate_tokens_swept_total",
		Help: "Expired token records removed by the sweeper.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		tokensIssuedTotal, tokenFailuresTotal, tokensSweptTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TokenIssued counts a minted token of the given type.
func TokenIssued(tokenType string) {
	tokensIssuedTotal.WithLabelValues(tokenType).Inc()
}

// TokenFailure counts a validation or authorization failure.
func TokenFailure(reason string) {
	tokenFailuresTotal.WithLabelValues(reason).Inc()
}

// TokensSwept counts records removed by a sweep pass.
func TokensSwept(n int64) {
	if n > 0 {
		tokensSweptTotal.Add(float64(n))
	}
}

// CanonicalPath collapses request paths into low-cardinality metric
// labels: the query string is dropped and unknown paths fall back to
// their first two segments.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) <= 3 {
		return path
	}
	return "/" + strings.Join(segments[:2], "/")
}

// Instrument wraps next with RPS, latency and in-flight measurements.
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

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
