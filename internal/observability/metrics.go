package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP collectors and the registry served on /metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// planBuckets spans cached plan reads (milliseconds) up to cold builds and
// workbook renders over large catalogs.
var planBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60}

// NewMetrics builds an isolated registry with Go runtime and HTTP collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mrp_http_requests_total",
		Help: "Planning API requests by route pattern, method, status code and response format.",
	}, []string{"route", "method", "code", "format"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mrp_http_request_duration_seconds",
		Help:    "Planning API latency by route pattern and response format.",
		Buckets: planBuckets,
	}, []string{"route", "format"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mrp_http_in_flight_requests",
		Help: "Planning API requests currently being served.",
	})
	registry.MustRegister(requests, duration, inFlight, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		inFlight:        inFlight,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency of every request by chi route pattern
// and by response format, so workbook exports are told apart from JSON plans.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		format := responseFormat(w.Header().Get("Content-Type"))
		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status), format).Inc()
		m.requestDuration.WithLabelValues(route, format).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry so planning metrics share the /metrics endpoint.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

func responseFormat(contentType string) string {
	switch {
	case strings.Contains(contentType, "spreadsheetml"):
		return "xlsx"
	case strings.HasPrefix(contentType, "application/problem+json"):
		return "problem"
	case strings.HasPrefix(contentType, "application/json"):
		return "json"
	case contentType == "":
		return "none"
	default:
		return "other"
	}
}
