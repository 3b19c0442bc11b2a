package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

// Registry routes a model name to the provider hosting it. Claude models go
// to Anthropic; everything else goes to the OpenAI-compatible backend.
type Registry struct {
	openai    Provider
	anthropic Provider
}

// NewRegistry builds a registry over the two provider families.
func NewRegistry(openaiProvider, anthropicProvider Provider) *Registry {
	return &Registry{openai: openaiProvider, anthropic: anthropicProvider}
}

// ProviderFor selects the provider for a model name.
func (r *Registry) ProviderFor(model string) Provider {
	if strings.HasPrefix(strings.ToLower(model), "claude") && r.anthropic != nil {
		return r.anthropic
	}
	return r.openai
}

// Instrumented decorates a provider with request metrics. Stages use the
// decorated provider so every LLM call is measured uniformly.
type Instrumented struct {
	inner   Provider
	metrics *observability.Metrics
}

// NewInstrumented wraps p. A nil metrics passes calls through unmeasured.
func NewInstrumented(p Provider, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{inner: p, metrics: metrics}
}

// Name implements Provider.
func (i *Instrumented) Name() string { return i.inner.Name() }

// CompleteJSON implements Provider.
func (i *Instrumented) CompleteJSON(ctx context.Context, req Request) (json.RawMessage, Usage, error) {
	start := time.Now()
	raw, usage, err := i.inner.CompleteJSON(ctx, req)
	if i.metrics != nil {
		provider, model := i.inner.Name(), req.Model
		status := "success"
		if err != nil {
			status = "error"
		}
		i.metrics.LLMRequestDuration.WithLabelValues(provider, model, req.SchemaName).
			Observe(time.Since(start).Seconds())
		i.metrics.LLMRequests.WithLabelValues(provider, model, status).Inc()
		if usage.PromptTokens > 0 {
			i.metrics.LLMTokens.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
		}
		if usage.CompletionTokens > 0 {
			i.metrics.LLMTokens.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
		}
	}
	return raw, usage, err
}
