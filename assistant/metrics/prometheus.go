// Package metrics provides Prometheus metrics export for the assistant
// conversation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports conversation-engine metrics in Prometheus format.
// All observe methods are safe on a nil receiver so callers can wire
// metrics optionally.
type Exporter struct {
	registry *prometheus.Registry

	turnLatency *prometheus.HistogramVec
	runsTotal   *prometheus.CounterVec
	activeTurns prometheus.Gauge

	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one).
	Registry *prometheus.Registry
	// Buckets for latency histograms, in seconds.
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}
}

// NewExporter creates a new metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "platewise",
			Subsystem: "assistant",
			Name:      "turn_latency_seconds",
			Help:      "Conversational turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"mode", "driver"},
	)
	e.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "platewise",
			Subsystem: "assistant",
			Name:      "runs_total",
			Help:      "Assistant runs by terminal status",
		},
		[]string{"status", "mode"},
	)
	e.activeTurns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "platewise",
			Subsystem: "assistant",
			Name:      "active_turns",
			Help:      "Turns currently executing",
		},
	)
	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "platewise",
			Subsystem: "assistant",
			Name:      "tool_calls_total",
			Help:      "Dispatched tool calls by function and outcome",
		},
		[]string{"function", "status"},
	)
	e.toolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "platewise",
			Subsystem: "assistant",
			Name:      "tool_call_latency_seconds",
			Help:      "Tool dispatch latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"function"},
	)

	registry.MustRegister(e.turnLatency, e.runsTotal, e.activeTurns, e.toolCalls, e.toolLatency)
	return e
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records one completed turn. mode is "guest" or "user",
// driver is "poll" or "stream".
func (e *Exporter) ObserveTurn(mode, driver string, d time.Duration) {
	if e == nil {
		return
	}
	e.turnLatency.WithLabelValues(mode, driver).Observe(d.Seconds())
}

// ObserveRun records one run reaching a terminal status.
func (e *Exporter) ObserveRun(status, mode string) {
	if e == nil {
		return
	}
	e.runsTotal.WithLabelValues(status, mode).Inc()
}

// TurnStarted marks a turn as executing; the returned func ends it.
func (e *Exporter) TurnStarted() func() {
	if e == nil {
		return func() {}
	}
	e.activeTurns.Inc()
	return e.activeTurns.Dec
}

// ObserveToolCall records one dispatched tool call.
func (e *Exporter) ObserveToolCall(function, status string, d time.Duration) {
	if e == nil {
		return
	}
	e.toolCalls.WithLabelValues(function, status).Inc()
	e.toolLatency.WithLabelValues(function).Observe(d.Seconds())
}
