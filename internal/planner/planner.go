// Package planner chooses which tools to invoke and with what arguments,
// given the extraction result and current slots.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/llm"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

// DefaultTimeout bounds one planning call including the repair pass.
const DefaultTimeout = 300 * time.Millisecond

// Planner is the second SLM pipeline stage.
type Planner struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
	logger   *observability.Logger
	tracer   *observability.Tracer
}

// New creates a planner. timeout ≤ 0 falls back to DefaultTimeout.
func New(provider llm.Provider, model string, timeout time.Duration, logger *observability.Logger, tracer *observability.Tracer) *Planner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Planner{provider: provider, model: model, timeout: timeout, logger: logger, tracer: tracer}
}

// Plan produces the ordered tool-call list. Calls come back in the order the
// model emits them; ordering and the call cap are enforced by policy.
func (p *Planner) Plan(ctx context.Context, snap *dialog.Snapshot, extraction dialog.Extraction, m *manifest.Manifest) (dialog.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "stage.planner",
		attribute.String("vertical", string(snap.Vertical)),
		attribute.String("intent", string(extraction.Intent)),
		attribute.String("model", p.model),
	)

	raw, _, err := llm.CompleteValidated(ctx, p.provider, llm.Request{
		Model:       p.model,
		System:      systemPrompt(snap, m),
		User:        userPrompt(snap, extraction),
		SchemaName:  llm.SchemaPlannerV1,
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		observability.EndSpan(span, err)
		return dialog.Plan{}, fmt.Errorf("plan: %w", err)
	}

	var out dialog.Plan
	if err := json.Unmarshal(raw, &out); err != nil {
		observability.EndSpan(span, err)
		return dialog.Plan{}, fmt.Errorf("plan decode: %w", err)
	}
	for i := range out.ToolCalls {
		if out.ToolCalls[i].Args == nil {
			out.ToolCalls[i].Args = map[string]any{}
		}
	}
	span.SetAttributes(attribute.Int("tool_calls", len(out.ToolCalls)))
	observability.EndSpan(span, nil)
	p.logger.Debug(ctx, "plan complete",
		"tool_calls", len(out.ToolCalls), "requires_user_response", out.RequiresUserResponse)
	return out, nil
}
