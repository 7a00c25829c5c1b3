package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every handler.
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
		Help: "1 when the service considers itself ready.",
	})
)

// Engine metrics.
var (
	policiesRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "caps_policies_registered",
		Help: "Policies currently registered for dispatch.",
	})

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caps_evaluations_total",
			Help: "Full dispatch evaluations, labeled by outcome.",
		},
		[]string{"result"},
	)

	dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "caps_dispatch_duration_seconds",
		Help:    "Latency of a full policy dispatch.",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})
)

// Init registers every metric in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		policiesRegistered, evaluationsTotal, dispatchDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// PolicyCount tracks the number of registered policies.
func PolicyCount(n int) {
	policiesRegistered.Set(float64(n))
}

// ObserveEvaluation records one dispatch with its outcome and duration.
func ObserveEvaluation(result string, d time.Duration) {
	evaluationsTotal.WithLabelValues(result).Inc()
	dispatchDuration.Observe(d.Seconds())
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

// CanonicalPath collapses identifier segments so metric cardinality stays
// bounded.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	if len(parts) == 4 && parts[1] == "v1" && parts[2] == "policies" && parts[3] != "" {
		return "/v1/policies/:id"
	}
	if len(parts) == 5 && parts[1] == "v1" && parts[2] == "types" && parts[3] != "" && parts[4] != "" {
		return "/v1/types/:kind/:name"
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets instrumented handlers keep streaming responses working.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
