// Package telemetry exposes Prometheus metrics for cohort generation, sink
// writes and the HTTP API.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry      *prometheus.Registry
	records       *prometheus.CounterVec
	generation    prometheus.Histogram
	sinkWrites    *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatencies *prometheus.HistogramVec
}

// NewMetrics creates a registry with the tbgen collectors plus the standard
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tbgen_records_generated_total",
			Help: "Synthetic patient records generated, by TB status.",
		}, []string{"status"}),
		generation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tbgen_generation_seconds",
			Help:    "Time spent generating one cohort.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tbgen_sink_writes_total",
			Help: "Cohort writes per sink and outcome.",
		}, []string{"sink", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tbgen_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpLatencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tbgen_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.records, m.generation, m.sinkWrites, m.httpRequests, m.httpLatencies,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveCohort records the size, class balance and duration of one run.
func (m *Metrics) ObserveCohort(c cohort.Cohort, elapsed time.Duration) {
	pos := c.Positives()
	m.records.WithLabelValues("1").Add(float64(pos))
	m.records.WithLabelValues("0").Add(float64(len(c) - pos))
	m.generation.Observe(elapsed.Seconds())
}

// ObserveSinkWrite counts one sink write.
func (m *Metrics) ObserveSinkWrite(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sinkWrites.WithLabelValues(sink, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware counts requests by matched route rather than raw path, so
// path parameters do not explode label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpLatencies.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
