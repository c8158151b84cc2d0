// Package metrics provides Prometheus metrics export for the chat
// orchestrator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports orchestrator metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	chatLatency   *prometheus.HistogramVec
	chatRequests  *prometheus.CounterVec
	streamsActive prometheus.Gauge

	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec

	llmTokens *prometheus.CounterVec

	streamsReaped *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}
}

// NewExporter creates a new Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.chatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "prochat",
			Subsystem: "chat",
			Name:      "turn_latency_seconds",
			Help:      "Generation turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model"},
	)

	e.chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prochat",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total number of generation turns",
		},
		[]string{"model", "status"},
	)

	e.streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prochat",
			Subsystem: "chat",
			Name:      "streams_active",
			Help:      "Number of streams currently generating",
		},
	)

	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prochat",
			Subsystem: "chat",
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool_name", "status"},
	)

	e.toolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "prochat",
			Subsystem: "chat",
			Name:      "tool_latency_seconds",
			Help:      "Tool call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"tool_name"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prochat",
			Subsystem: "chat",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.streamsReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prochat",
			Subsystem: "chat",
			Name:      "streams_reaped_total",
			Help:      "Streams failed or deleted by the reaper",
		},
		[]string{"action"},
	)

	registry.MustRegister(
		e.chatLatency,
		e.chatRequests,
		e.streamsActive,
		e.toolCalls,
		e.toolLatency,
		e.llmTokens,
		e.streamsReaped,
	)

	return e
}

// RecordTurn records one finished generation turn.
func (e *Exporter) RecordTurn(model string, latency time.Duration, status string) {
	e.chatRequests.WithLabelValues(model, status).Inc()
	e.chatLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// StreamStarted / StreamEnded bracket a generating stream.
func (e *Exporter) StreamStarted() { e.streamsActive.Inc() }
func (e *Exporter) StreamEnded()   { e.streamsActive.Dec() }

// RecordToolCall records one tool dispatch.
func (e *Exporter) RecordToolCall(toolName string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.toolCalls.WithLabelValues(toolName, status).Inc()
	e.toolLatency.WithLabelValues(toolName).Observe(latency.Seconds())
}

// RecordTokens records cumulative token usage for a turn.
func (e *Exporter) RecordTokens(model string, promptTokens, completionTokens int) {
	e.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	e.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// RecordReaped records reaper activity.
func (e *Exporter) RecordReaped(action string, count int) {
	if count > 0 {
		e.streamsReaped.WithLabelValues(action).Add(float64(count))
	}
}

// Handler returns the /metrics HTTP handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
