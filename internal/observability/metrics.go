package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of Prometheus collectors the runtime emits to. It is
// constructed once at startup and passed into every component that needs
// to record an outcome.
type Metrics struct {
	// ToolExecutions counts tool invocations. Labels: tool_name, outcome (success|failure).
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures C5's wall-clock tool latency. Labels: tool_name.
	ToolExecutionDuration *prometheus.HistogramVec

	// Runs counts completed agent turns. Labels: is_error (true|false).
	Runs *prometheus.CounterVec

	// OutboundDenials is registered for C6 rate-limit denials. Labels: channel,
	// mode (strict|lenient). No component increments it.
	OutboundDenials *prometheus.CounterVec

	// ProviderCalls counts C12 completion calls. Labels: provider, outcome (success|failure).
	ProviderCalls *prometheus.CounterVec

	// ProviderCallDuration measures provider completion latency. Labels: provider, model.
	ProviderCallDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns the runtime's metric collectors against
// reg. A nil reg registers against a freshly created registry rather than
// the global default, so callers (and tests) can construct independent
// Metrics instances without colliding on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_tool_executions_total",
				Help: "Tool invocations by name and outcome.",
			},
			[]string{"tool_name", "outcome"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_tool_execution_duration_seconds",
				Help:    "Tool execution wall-clock duration.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_runs_total",
				Help: "Completed agent turns by error flag.",
			},
			[]string{"is_error"},
		),
		OutboundDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_outbound_denials_total",
				Help: "Outbound rate-limit denials by channel and mode.",
			},
			[]string{"channel", "mode"},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_provider_calls_total",
				Help: "Provider completion calls by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_provider_call_duration_seconds",
				Help:    "Provider completion call latency.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
	}
}
