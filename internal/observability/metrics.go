package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for the gateway.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Tool execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	OutputTruncations *prometheus.CounterVec
	ExecutionTimeouts *prometheus.CounterVec

	// Gate decision metrics.
	RefusalsTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveExecutions prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics
// registered on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions.",
		}, []string{"tool", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"tool"}),

		OutputTruncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Subsystem: "tool",
			Name:      "output_truncations_total",
			Help:      "Executions whose output was cut at the cap.",
		}, []string{"tool"}),

		ExecutionTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Subsystem: "tool",
			Name:      "execution_timeouts_total",
			Help:      "Executions killed at their deadline.",
		}, []string{"tool"}),

		RefusalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Subsystem: "gate",
			Name:      "refusals_total",
			Help:      "Requests refused before any process was spawned.",
		}, []string{"reason"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "toolgate",
			Name:      "active_executions",
			Help:      "Number of tool executions currently running.",
		}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.OutputTruncations,
		m.ExecutionTimeouts,
		m.RefusalsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveExecutions,
	)

	return m
}

func statusCode(code int) string {
	return strconv.Itoa(code)
}
