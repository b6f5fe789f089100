// Package metrics exposes extension initialization outcomes as Prometheus
// metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/extinit/pkg/entrypoint"
	"github.com/mattjoyce/extinit/pkg/extinit"
)

// Collector holds the extinit metrics. It implements extinit.Observer.
type Collector struct {
	registry *prometheus.Registry

	ExtensionsLoaded     *prometheus.CounterVec
	ExtensionsFailed     *prometheus.CounterVec
	ExtensionInitSeconds *prometheus.HistogramVec
	EntryPointsKnown     *prometheus.GaugeVec
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
}

var _ extinit.Observer = (*Collector)(nil)

// New creates and registers all metrics on registry.
func New(registry *prometheus.Registry) *Collector {
	c := &Collector{
		registry: registry,
		ExtensionsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extinit_extensions_loaded_total",
				Help: "Total number of extensions initialized successfully",
			},
			[]string{"group"},
		),
		ExtensionsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extinit_extensions_failed_total",
				Help: "Total number of extensions that failed to load or initialize",
			},
			[]string{"group", "kind"},
		),
		ExtensionInitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extinit_extension_init_seconds",
				Help:    "Time spent loading and calling one extension",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"group"},
		),
		EntryPointsKnown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "extinit_entry_points",
				Help: "Number of entry points the provider currently reports",
			},
			[]string{"group", "name"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extinit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extinit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		c.ExtensionsLoaded,
		c.ExtensionsFailed,
		c.ExtensionInitSeconds,
		c.EntryPointsKnown,
		c.HTTPRequestsTotal,
		c.HTTPRequestDuration,
	)
	return c
}

// OnLoad implements extinit.Observer.
func (c *Collector) OnLoad(ep entrypoint.EntryPoint, elapsed time.Duration) {
	c.ExtensionsLoaded.WithLabelValues(ep.Group).Inc()
	c.ExtensionInitSeconds.WithLabelValues(ep.Group).Observe(elapsed.Seconds())
}

// OnFailure implements extinit.Observer.
func (c *Collector) OnFailure(ep entrypoint.EntryPoint, w extinit.Warning) {
	c.ExtensionsFailed.WithLabelValues(ep.Group, w.Kind).Inc()
}

// SetEntryPoints records how many entries the last discovery found.
func (c *Collector) SetEntryPoints(group, name string, n int) {
	c.EntryPointsKnown.WithLabelValues(group, name).Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// UnmatchedRoute labels requests no route pattern claimed, so unknown paths
// cannot grow the label set.
const UnmatchedRoute = "unmatched"

// Middleware instruments HTTP requests. pattern maps a request to the route
// label; requests it returns "" for, or all requests when it is nil, are
// counted under UnmatchedRoute.
func (c *Collector) Middleware(pattern func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := UnmatchedRoute
			if pattern != nil {
				if p := pattern(r); p != "" {
					path = p
				}
			}
			c.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			c.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
