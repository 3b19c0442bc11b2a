// Package legacy is the single-shot fallback path: one JSON-mode LLM call
// that returns assistant text, tool calls, and a patch directly. It exists so
// the staged pipeline can roll out behind a switch with instant rollback; no
// policy validation is applied here.
package legacy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/llm"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

// Result is the legacy path's full answer for one turn.
type Result struct {
	Assistant dialog.Assistant
	ToolCalls []dialog.ToolCall
	Patch     dialog.Patch
}

// Runner issues the legacy call.
type Runner struct {
	provider llm.Provider
	model    string
	logger   *observability.Logger
	tracer   *observability.Tracer
}

// New creates a runner.
func New(provider llm.Provider, model string, logger *observability.Logger, tracer *observability.Tracer) *Runner {
	return &Runner{provider: provider, model: model, logger: logger, tracer: tracer}
}

// legacyReply mirrors the legacy_v1 schema.
type legacyReply struct {
	AssistantText string `json:"assistant_text"`
	ToolCalls     []struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	} `json:"tool_calls"`
	Patch struct {
		Slots         map[string]any `json:"slots"`
		SlotsToRemove []string       `json:"slots_to_remove"`
	} `json:"patch"`
}

// Run performs the single-shot call with one repair pass.
func (r *Runner) Run(ctx context.Context, snap *dialog.Snapshot, m *manifest.Manifest) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "stage.legacy",
		attribute.String("vertical", string(snap.Vertical)),
		attribute.String("model", r.model),
	)

	raw, _, err := llm.CompleteValidated(ctx, r.provider, llm.Request{
		Model:      r.model,
		System:     systemPrompt(snap, m),
		User:       userPrompt(snap),
		SchemaName: llm.SchemaLegacyV1,
		MaxTokens:  1024,
	})
	if err != nil {
		observability.EndSpan(span, err)
		return Result{}, fmt.Errorf("legacy call: %w", err)
	}

	var reply legacyReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		observability.EndSpan(span, err)
		return Result{}, fmt.Errorf("legacy decode: %w", err)
	}
	observability.EndSpan(span, nil)

	out := Result{
		Assistant: dialog.Assistant{Text: reply.AssistantText},
		Patch:     dialog.NewPatch(),
	}
	for _, tc := range reply.ToolCalls {
		args := tc.Args
		if args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, dialog.ToolCall{Tool: tc.Tool, Args: args})
	}
	for k, v := range reply.Patch.Slots {
		out.Patch.SlotsSet[k] = v
	}
	// A set always wins over an unset of the same key; the patch must keep
	// the two disjoint.
	for _, k := range reply.Patch.SlotsToRemove {
		if _, set := out.Patch.SlotsSet[k]; set {
			continue
		}
		out.Patch.SlotsUnset = append(out.Patch.SlotsUnset, k)
	}

	r.logger.Debug(ctx, "legacy call complete",
		"tool_calls", len(out.ToolCalls), "slots_set", len(out.Patch.SlotsSet))
	return out, nil
}

func systemPrompt(snap *dialog.Snapshot, m *manifest.Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the WhatsApp assistant of %s, a %s business.\n", snap.BusinessName, snap.Vertical)
	fmt.Fprintf(&b, "Answer the user in their language (locale %s), briefly and helpfully.\n", snap.Locale)
	b.WriteString("Available tools the workflow engine can run for you:\n")
	for i := range m.Tools {
		fmt.Fprintf(&b, "- %s\n", m.Tools[i].Name)
	}
	b.WriteString("\nReturn JSON with:\n")
	b.WriteString(`  assistant_text: your reply to the user` + "\n")
	b.WriteString(`  tool_calls: [{tool, args}] to execute, [] when none are needed` + "\n")
	b.WriteString(`  patch: {slots: {...}, slots_to_remove: [...]} state updates` + "\n")
	return b.String()
}

func userPrompt(snap *dialog.Snapshot) string {
	slots, _ := json.Marshal(snap.Slots.Public())

	var b strings.Builder
	fmt.Fprintf(&b, "Current slots: %s\n", slots)
	if snap.FSMState != "" {
		fmt.Fprintf(&b, "Conversation state: %s\n", snap.FSMState)
	}
	if len(snap.Observations) > 0 {
		b.WriteString("Recent tool results:\n")
		for _, obs := range snap.Observations {
			data, _ := json.Marshal(obs.Data)
			fmt.Fprintf(&b, "- %s [%s] %s\n", obs.Tool, obs.Status, data)
		}
	}
	fmt.Fprintf(&b, "User message: %s", snap.UserMessage)
	return b.String()
}
