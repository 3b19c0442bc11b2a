// Package policy validates planner output against the tool manifest and acts
// as the slot-filling gate: it decides whether to execute tools, ask the user
// for missing information, hand the conversation off, or deny the plan.
// Handoff triggers live here and nowhere else.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

// DecisionKind enumerates policy outcomes.
type DecisionKind string

// Decision kinds.
const (
	DecisionExecute DecisionKind = "execute"
	DecisionAskUser DecisionKind = "ask_user"
	DecisionHandoff DecisionKind = "handoff"
	DecisionDeny    DecisionKind = "deny"
)

// Drop reasons recorded when a call is filtered out.
const (
	ReasonUnknownTool = "unknown_tool"
	ReasonBadArgs     = "bad_args"
	ReasonOverCap     = "over_cap"
	ReasonDuplicate   = "duplicate"
)

// OffenceSlot is the reserved slot counting guardrail violations within a
// conversation; the first offence hands off, repeats are denied.
const OffenceSlot = "_guardrail_offences"

// DroppedCall records one filtered call for telemetry.
type DroppedCall struct {
	Call   dialog.ToolCall
	Reason string
}

// Decision is the policy verdict for one plan.
type Decision struct {
	Kind         DecisionKind
	Calls        []dialog.ToolCall
	MissingSlots []string
	Reason       string
	Dropped      []DroppedCall

	// InternalSlots carries reserved-slot updates (offence counters) the
	// pipeline folds into the patch.
	InternalSlots dialog.SlotMap
}

// DefaultConfidenceThreshold gates side-effecting execution.
const DefaultConfidenceThreshold = 0.7

// Engine evaluates plans.
type Engine struct {
	threshold  float64
	guardrails map[dialog.Vertical]Guardrails
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// New creates an engine. threshold ≤ 0 falls back to the default; nil
// guardrails use the builtin per-vertical limits.
func New(threshold float64, guardrails map[dialog.Vertical]Guardrails, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if guardrails == nil {
		guardrails = DefaultGuardrails()
	}
	return &Engine{threshold: threshold, guardrails: guardrails, logger: logger, metrics: metrics}
}

// Evaluate runs the validation steps in order: cap, manifest membership, arg
// shape, slot preconditions, guardrails, deduplication.
func (e *Engine) Evaluate(ctx context.Context, plan dialog.Plan, extraction dialog.Extraction, snap *dialog.Snapshot, m *manifest.Manifest) Decision {
	d := Decision{Kind: DecisionExecute, InternalSlots: dialog.SlotMap{}}
	merged := snap.Slots.Merge(extraction.Slots)

	calls := plan.ToolCalls
	if len(calls) > dialog.MaxPlanCalls {
		for _, c := range calls[dialog.MaxPlanCalls:] {
			d.Dropped = append(d.Dropped, DroppedCall{Call: c, Reason: ReasonOverCap})
		}
		calls = calls[:dialog.MaxPlanCalls]
	}

	// Manifest membership and arg shape.
	var surviving []dialog.ToolCall
	for _, call := range calls {
		tool, ok := m.Tool(call.Tool)
		if !ok {
			e.dropped(ctx, &d, call, ReasonUnknownTool)
			continue
		}
		if reason := checkArgs(tool, call); reason != "" {
			e.dropped(ctx, &d, call, reason)
			continue
		}
		surviving = append(surviving, call)
	}

	// Slot preconditions, honouring intra-plan production: a missing slot
	// produced by an earlier surviving call keeps the dependent call. Required
	// args the planner left out are filled from known slots; anything still
	// unsatisfiable becomes a question for the user.
	produced := map[string]bool{}
	var missing []string
	for _, call := range surviving {
		tool, _ := m.Tool(call.Tool)
		for _, req := range tool.Requires {
			if _, ok := merged[req]; ok {
				continue
			}
			if _, inArgs := call.Args[req]; inArgs {
				continue
			}
			if produced[req] {
				continue
			}
			missing = append(missing, req)
		}
		for name, spec := range tool.Args {
			if !spec.Required {
				continue
			}
			if _, ok := call.Args[name]; ok {
				continue
			}
			if v, ok := merged[name]; ok {
				call.Args[name] = v
				continue
			}
			if produced[name] {
				continue
			}
			missing = append(missing, name)
		}
		for _, p := range tool.Produces {
			produced[p] = true
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Decision{
			Kind:          DecisionAskUser,
			MissingSlots:  dedupeStrings(missing),
			Reason:        "missing_slots",
			Dropped:       d.Dropped,
			InternalSlots: d.InternalSlots,
		}
	}

	// Guardrails: first offence hands off, repeats within the conversation
	// are denied.
	if g, ok := e.guardrails[snap.Vertical]; ok {
		if violation := g.check(surviving, m); violation != "" {
			offences, _ := snap.Internal.GetInt(OffenceSlot)
			d.InternalSlots[OffenceSlot] = offences + 1
			kind := DecisionHandoff
			if offences >= 1 {
				kind = DecisionDeny
			}
			e.logger.Warn(ctx, "policy guardrail violation",
				"violation", violation, "offences", offences+1, "decision", string(kind))
			return Decision{
				Kind:          kind,
				Reason:        violation,
				Dropped:       d.Dropped,
				InternalSlots: d.InternalSlots,
			}
		}
	}

	// Low confidence blocks side effects; clarify instead of acting.
	if extraction.Confidence < e.threshold && hasSideEffect(surviving, m) {
		return Decision{
			Kind:          DecisionAskUser,
			Reason:        "low_confidence",
			Dropped:       d.Dropped,
			InternalSlots: d.InternalSlots,
		}
	}

	// Deduplicate on canonical (tool, sorted args).
	seen := map[string]bool{}
	var deduped []dialog.ToolCall
	for _, call := range surviving {
		key := dialog.CanonicalArgKey(call)
		if seen[key] {
			d.Dropped = append(d.Dropped, DroppedCall{Call: call, Reason: ReasonDuplicate})
			continue
		}
		seen[key] = true
		deduped = append(deduped, call)
	}

	d.Calls = deduped
	return d
}

func (e *Engine) dropped(ctx context.Context, d *Decision, call dialog.ToolCall, reason string) {
	d.Dropped = append(d.Dropped, DroppedCall{Call: call, Reason: reason})
	e.logger.Warn(ctx, "policy dropped call", "tool", call.Tool, "reason", reason)
	if e.metrics != nil {
		e.metrics.ToolExecutions.WithLabelValues(call.Tool, string(dialog.ObservationDenied)).Inc()
	}
}

// checkArgs verifies the call's args are a subset of the declared args.
// Missing required args are not a drop reason; the precondition step fills
// them from slots or asks the user.
func checkArgs(tool *manifest.Tool, call dialog.ToolCall) string {
	for name := range call.Args {
		if _, ok := tool.Args[name]; !ok {
			return ReasonBadArgs
		}
	}
	return ""
}

func hasSideEffect(calls []dialog.ToolCall, m *manifest.Manifest) bool {
	for _, call := range calls {
		if tool, ok := m.Tool(call.Tool); ok && tool.SideEffect {
			return true
		}
	}
	return false
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// String renders the decision for logs.
func (d Decision) String() string {
	switch d.Kind {
	case DecisionAskUser:
		return fmt.Sprintf("ask_user(%v)", d.MissingSlots)
	case DecisionExecute:
		return fmt.Sprintf("execute(%d calls)", len(d.Calls))
	default:
		return fmt.Sprintf("%s(%s)", d.Kind, d.Reason)
	}
}
