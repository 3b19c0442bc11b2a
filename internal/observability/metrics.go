package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the orchestrator's Prometheus surface. All collectors register
// with the default registry and are served from /metrics.
type Metrics struct {
	// DecideRequests counts decide calls.
	// Labels: route (slm_pipeline|legacy|error), status (ok|degraded|denied|invalid|rate_limited)
	DecideRequests *prometheus.CounterVec

	// DecideDuration measures total decide latency in seconds.
	// Labels: route
	DecideDuration *prometheus.HistogramVec

	// StageDuration measures one pipeline stage in seconds.
	// Labels: stage (extractor|planner|policy|broker|reducer|nlg|legacy)
	StageDuration *prometheus.HistogramVec

	// StageErrors counts stage failures by kind.
	// Labels: stage, kind (llm_unavailable|schema_invalid|timeout|internal)
	StageErrors *prometheus.CounterVec

	// LLMRequestDuration measures LLM completion latency in seconds.
	// Labels: provider (openai|anthropic), model, schema
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequests counts LLM completions.
	// Labels: provider, model, status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMTokens tracks token usage.
	// Labels: provider, model, type (prompt|completion)
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts broker tool calls.
	// Labels: tool, status (ok|failed|timeout|circuit_open|denied)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool latency in seconds, successful calls only.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// ToolAttempts observes how many attempts a call needed.
	// Labels: tool
	ToolAttempts *prometheus.HistogramVec

	// BreakerTransitions counts circuit state changes.
	// Labels: tool, to (open|half-open|closed)
	BreakerTransitions *prometheus.CounterVec

	// Intents counts classified intents per vertical.
	// Labels: vertical, intent
	Intents *prometheus.CounterVec
}

// NewMetrics creates and registers all orchestrator metrics. Call once at
// startup.
func NewMetrics() *Metrics {
	return &Metrics{
		DecideRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_decide_requests_total",
				Help: "Total decide requests by route and status",
			},
			[]string{"route", "status"},
		),
		DecideDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_decide_duration_seconds",
				Help:    "Total decide latency by route",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"route"},
		),
		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_stage_duration_seconds",
				Help:    "Pipeline stage latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"stage"},
		),
		StageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_stage_errors_total",
				Help: "Stage failures by stage and kind",
			},
			[]string{"stage", "kind"},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_llm_request_duration_seconds",
				Help:    "LLM completion latency",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "model", "schema"},
		),
		LLMRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_llm_requests_total",
				Help: "LLM completions by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_llm_tokens_total",
				Help: "Tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_tool_executions_total",
				Help: "Tool calls by tool and final status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_tool_duration_seconds",
				Help:    "Latency of successful tool calls",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"tool"},
		),
		ToolAttempts: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_tool_attempts",
				Help:    "Attempts needed per tool call",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"tool"},
		),
		BreakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"tool", "to"},
		),
		Intents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_intents_total",
				Help: "Classified intents per vertical",
			},
			[]string{"vertical", "intent"},
		),
	}
}
