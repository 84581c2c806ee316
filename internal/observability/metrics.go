// Package observability provides Prometheus metrics for the agent
// runtime.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime counters and latencies: model calls, tool
// executions, credit consumption, session lifecycle, and HTTP traffic.
type Metrics struct {
	// ModelRequestDuration measures model API call latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests.
	// Labels: provider, model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	ModelTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|cancelled)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// CreditsConsumed counts credits debited per tool.
	// Labels: tool
	CreditsConsumed *prometheus.CounterVec

	// TurnCounter counts completed turns by terminal status.
	// Labels: status (completed|failed|cancelled)
	TurnCounter *prometheus.CounterVec

	// ActiveTurns is a gauge of turns currently running.
	ActiveTurns prometheus.Gauge

	// ErrorCounter tracks failures by taxonomy code.
	// Labels: code
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default
// Prometheus registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelforge_model_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelforge_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelforge_model_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelforge_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelforge_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		CreditsConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelforge_credits_consumed_total",
				Help: "Total credits debited per tool",
			},
			[]string{"tool"},
		),

		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelforge_turns_total",
				Help: "Total number of agent turns by terminal status",
			},
			[]string{"status"},
		),

		ActiveTurns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pixelforge_active_turns",
				Help: "Number of agent turns currently running",
			},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelforge_errors_total",
				Help: "Total number of failures by taxonomy code",
			},
			[]string{"code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelforge_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelforge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordModelRequest records one model call.
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool call.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64, creditsUsed int64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
	if creditsUsed > 0 {
		m.CreditsConsumed.WithLabelValues(tool).Add(float64(creditsUsed))
	}
}

// TurnStarted marks a turn as running.
func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// TurnFinished records a turn's terminal status.
func (m *Metrics) TurnFinished(status string) {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
	m.TurnCounter.WithLabelValues(status).Inc()
}

// RecordError counts a failure by taxonomy code.
func (m *Metrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(code).Inc()
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
