// Package extractor turns a free-form user utterance plus current slots into
// a structured {intent, confidence, slots} object via a JSON-mode LLM call.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/llm"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

// DefaultTimeout bounds one extraction including the repair pass.
const DefaultTimeout = 300 * time.Millisecond

// Extractor is the first SLM pipeline stage.
type Extractor struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
	logger   *observability.Logger
	tracer   *observability.Tracer
}

// New creates an extractor. timeout ≤ 0 falls back to DefaultTimeout.
func New(provider llm.Provider, model string, timeout time.Duration, logger *observability.Logger, tracer *observability.Tracer) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{provider: provider, model: model, timeout: timeout, logger: logger, tracer: tracer}
}

// Extract classifies the user message. Empty text short-circuits to
// {other, 0.0, {}} without an LLM call.
func (e *Extractor) Extract(ctx context.Context, snap *dialog.Snapshot, m *manifest.Manifest) (dialog.Extraction, error) {
	if strings.TrimSpace(snap.UserMessage) == "" {
		return dialog.Extraction{Intent: dialog.IntentOther, Confidence: 0.0, Slots: dialog.SlotMap{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "stage.extractor",
		attribute.String("vertical", string(snap.Vertical)),
		attribute.String("model", e.model),
	)

	raw, _, err := llm.CompleteValidated(ctx, e.provider, llm.Request{
		Model:       e.model,
		System:      systemPrompt(snap, m),
		User:        userPrompt(snap),
		SchemaName:  llm.SchemaExtractorV1,
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		observability.EndSpan(span, err)
		return dialog.Extraction{}, fmt.Errorf("extract: %w", err)
	}

	var out dialog.Extraction
	if err := json.Unmarshal(raw, &out); err != nil {
		observability.EndSpan(span, err)
		return dialog.Extraction{}, fmt.Errorf("extract decode: %w", err)
	}
	out.Slots = sanitizeSlots(out.Slots, m)
	span.SetAttributes(
		attribute.String("intent", string(out.Intent)),
		attribute.Float64("confidence", out.Confidence),
	)
	observability.EndSpan(span, nil)
	e.logger.Debug(ctx, "extraction complete",
		"intent", string(out.Intent), "confidence", out.Confidence, "slots", len(out.Slots))
	return out, nil
}

// sanitizeSlots keeps only slot names the manifest declares and drops
// reserved keys; the model never writes internal state.
func sanitizeSlots(slots dialog.SlotMap, m *manifest.Manifest) dialog.SlotMap {
	known := map[string]bool{}
	for _, n := range m.SlotNames() {
		known[n] = true
	}
	out := dialog.SlotMap{}
	for k, v := range slots {
		if strings.HasPrefix(k, dialog.ReservedSlotPrefix) || !known[k] {
			continue
		}
		out[k] = v
	}
	normalized, err := out.Normalize()
	if err != nil {
		return dialog.SlotMap{}
	}
	return normalized
}
