// Package pipeline orchestrates one decide request: canary routing, the
// staged SLM path (extract, plan, policy, execute, reduce, compose), and the
// legacy single-shot fallback. The flow is a short linear state machine;
// every stage failure degrades to a stock response instead of surfacing an
// error, because the workflow engine always needs something to reply with.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nictes1/automatizacion-ai-sub000/internal/broker"
	"github.com/nictes1/automatizacion-ai-sub000/internal/canary"
	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/extractor"
	"github.com/nictes1/automatizacion-ai-sub000/internal/legacy"
	"github.com/nictes1/automatizacion-ai-sub000/internal/llm"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/nlg"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
	"github.com/nictes1/automatizacion-ai-sub000/internal/planner"
	"github.com/nictes1/automatizacion-ai-sub000/internal/policy"
	"github.com/nictes1/automatizacion-ai-sub000/internal/reducer"
)

// Defaults for the request-level budgets.
const (
	DefaultTotalTimeout  = 10 * time.Second
	DefaultBrokerTimeout = 8 * time.Second

	// DeadlineGuard skips a stage that would start with less than this much
	// budget left, reporting it as a timeout instead of invoking it.
	DeadlineGuard = 50 * time.Millisecond
)

// Config holds the pipeline-level knobs. Stage-internal timeouts live with
// the stages themselves.
type Config struct {
	TotalTimeout  time.Duration
	BrokerTimeout time.Duration

	// FallbackToLLM retries a failed SLM pipeline via the legacy path before
	// degrading to the stock response.
	FallbackToLLM bool
}

// Pipeline wires the stages together.
type Pipeline struct {
	router    *canary.Router
	manifests *manifest.Registry
	extractor *extractor.Extractor
	planner   *planner.Planner
	policy    *policy.Engine
	broker    *broker.Broker
	composer  *nlg.Composer
	legacy    *legacy.Runner
	cfg       Config
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// Result is the pipeline verdict for one request. Denied marks a policy deny
// so the transport layer can answer 409 while still carrying assistant text.
type Result struct {
	Response *dialog.DecideResponse
	Denied   bool
}

// New assembles a pipeline.
func New(router *canary.Router, manifests *manifest.Registry, ext *extractor.Extractor, pl *planner.Planner, pol *policy.Engine, br *broker.Broker, composer *nlg.Composer, leg *legacy.Runner, cfg Config, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Pipeline {
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = DefaultTotalTimeout
	}
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = DefaultBrokerTimeout
	}
	return &Pipeline{
		router:    router,
		manifests: manifests,
		extractor: ext,
		planner:   pl,
		policy:    pol,
		broker:    br,
		composer:  composer,
		legacy:    leg,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
	}
}

// Decide runs one request end to end. It never returns an error: every
// failure path produces a degraded response with route=error.
func (p *Pipeline) Decide(ctx context.Context, snap *dialog.Snapshot) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.TotalTimeout)
	defer cancel()
	ctx = observability.WithCorrelation(ctx, snap.RequestID, snap.WorkspaceID, snap.ConversationID)

	route := p.router.Route(snap.ConversationID)
	ctx, span := p.tracer.Start(ctx, "pipeline.decide",
		attribute.String("route", string(route)),
		attribute.String("vertical", string(snap.Vertical)),
	)
	defer span.End()

	m, ok := p.manifests.Current().Get(snap.Vertical)
	if !ok {
		p.logger.Error(ctx, "no manifest for vertical", "vertical", string(snap.Vertical))
		return p.finish(ctx, p.degradedResult(snap), start, "degraded")
	}

	var result Result
	switch route {
	case dialog.RouteSLMPipeline:
		var failed bool
		result, failed = p.runStaged(ctx, snap, m)
		if failed && p.cfg.FallbackToLLM {
			p.logger.Warn(ctx, "staged pipeline failed, falling back to legacy")
			result = p.runLegacy(ctx, snap, m)
		}
	default:
		result = p.runLegacy(ctx, snap, m)
	}

	status := "ok"
	switch {
	case result.Denied:
		status = "denied"
	case result.Response.Telemetry.Route == dialog.RouteError:
		status = "degraded"
	}
	return p.finish(ctx, result, start, status)
}

// runStaged is the SLM path. The boolean reports stage failure so Decide can
// apply the legacy fallback.
func (p *Pipeline) runStaged(ctx context.Context, snap *dialog.Snapshot, m *manifest.Manifest) (Result, bool) {
	tel := dialog.Telemetry{Route: dialog.RouteSLMPipeline}

	// Extract.
	if !p.stageAllowed(ctx, "extractor") {
		return p.degradedResult(snap), true
	}
	stageStart := time.Now()
	ext, err := p.extractor.Extract(ctx, snap, m)
	tel.ExtractorMs = p.stageDone("extractor", stageStart)
	if err != nil {
		p.stageFailed(ctx, "extractor", err)
		return p.degradedResult(snap), true
	}
	tel.Intent = ext.Intent
	tel.Confidence = ext.Confidence
	if p.metrics != nil {
		p.metrics.Intents.WithLabelValues(string(snap.Vertical), string(ext.Intent)).Inc()
	}
	if ext.Intent == dialog.IntentGreeting {
		ext.Slots["greeted"] = true
	}

	// Plan.
	if !p.stageAllowed(ctx, "planner") {
		return p.degradedResult(snap), true
	}
	stageStart = time.Now()
	plan, err := p.planner.Plan(ctx, snap, ext, m)
	tel.PlannerMs = p.stageDone("planner", stageStart)
	if err != nil {
		p.stageFailed(ctx, "planner", err)
		return p.degradedResult(snap), true
	}

	// Policy.
	stageStart = time.Now()
	_, policySpan := p.tracer.Start(ctx, "stage.policy")
	decision := p.policy.Evaluate(ctx, plan, ext, snap, m)
	observability.EndSpan(policySpan, nil)
	tel.PolicyMs = p.stageDone("policy", stageStart)

	// Execute surviving calls.
	var observations []dialog.Observation
	if decision.Kind == policy.DecisionExecute && len(decision.Calls) > 0 {
		if !p.stageAllowed(ctx, "broker") {
			return p.degradedResult(snap), true
		}
		brokerCtx, cancel := context.WithTimeout(ctx, p.cfg.BrokerTimeout)
		stageStart = time.Now()
		_, brokerSpan := p.tracer.Start(brokerCtx, "stage.broker",
			attribute.Int("calls", len(decision.Calls)))
		observations = p.broker.Execute(brokerCtx, snap, decision.Calls, m)
		observability.EndSpan(brokerSpan, nil)
		tel.BrokerMs = p.stageDone("broker", stageStart)
		cancel()
	}

	// Reduce.
	stageStart = time.Now()
	patch := reducer.Reduce(snap.Slots, ext.Slots, decision.InternalSlots, observations, m)
	tel.ReducerMs = p.stageDone("reducer", stageStart)

	// Compose.
	stageStart = time.Now()
	assistant := p.composer.Compose(ctx, nlg.Input{
		Vertical:     snap.Vertical,
		Locale:       snap.Locale,
		BusinessName: snap.BusinessName,
		Intent:       ext.Intent,
		Outcome:      outcomeOf(decision, observations),
		MissingSlots: decision.MissingSlots,
		Slots:        snap.Slots.Merge(patch.SlotsSet),
		Observations: observations,
		UserMessage:  snap.UserMessage,
	})
	tel.NLGMs = p.stageDone("nlg", stageStart)

	resp := &dialog.DecideResponse{
		Assistant: assistant,
		ToolCalls: emittedCalls(decision.Calls, observations, m),
		Patch:     patch,
		Telemetry: tel,
	}
	return Result{Response: resp, Denied: decision.Kind == policy.DecisionDeny}, false
}

func (p *Pipeline) runLegacy(ctx context.Context, snap *dialog.Snapshot, m *manifest.Manifest) Result {
	tel := dialog.Telemetry{Route: dialog.RouteLegacy}

	if !p.stageAllowed(ctx, "legacy") {
		return p.degradedResult(snap)
	}
	stageStart := time.Now()
	out, err := p.legacy.Run(ctx, snap, m)
	tel.TotalMs = p.stageDone("legacy", stageStart)
	if err != nil {
		p.stageFailed(ctx, "legacy", err)
		return p.degradedResult(snap)
	}

	return Result{Response: &dialog.DecideResponse{
		Assistant: out.Assistant,
		ToolCalls: out.ToolCalls,
		Patch:     out.Patch,
		Telemetry: tel,
	}}
}

// degradedResult builds the stock error response: generic apology, no tool
// calls, empty patch.
func (p *Pipeline) degradedResult(snap *dialog.Snapshot) Result {
	return Result{Response: &dialog.DecideResponse{
		Assistant: nlg.Stock(nlg.OutcomeDegraded, snap.Locale),
		ToolCalls: []dialog.ToolCall{},
		Patch:     dialog.NewPatch(),
		Telemetry: dialog.Telemetry{Route: dialog.RouteError},
	}}
}

func (p *Pipeline) finish(ctx context.Context, result Result, start time.Time, status string) Result {
	result.Response.Telemetry.TotalMs = time.Since(start).Milliseconds()
	route := result.Response.Telemetry.Route
	if p.metrics != nil {
		p.metrics.DecideRequests.WithLabelValues(string(route), status).Inc()
		p.metrics.DecideDuration.WithLabelValues(string(route)).Observe(time.Since(start).Seconds())
	}
	p.logger.Info(ctx, "decide complete",
		"route", string(route), "status", status,
		"intent", string(result.Response.Telemetry.Intent),
		"total_ms", result.Response.Telemetry.TotalMs)
	return result
}

// stageAllowed enforces the deadline guard: a stage starting with less than
// DeadlineGuard of budget left is reported as timed out, not invoked.
func (p *Pipeline) stageAllowed(ctx context.Context, stage string) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	if time.Until(deadline) >= DeadlineGuard {
		return true
	}
	if p.metrics != nil {
		p.metrics.StageErrors.WithLabelValues(stage, "timeout").Inc()
	}
	return false
}

func (p *Pipeline) stageDone(stage string, start time.Time) int64 {
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
	return elapsed.Milliseconds()
}

func (p *Pipeline) stageFailed(ctx context.Context, stage string, err error) {
	if p.metrics != nil {
		p.metrics.StageErrors.WithLabelValues(stage, errorKind(ctx, err)).Inc()
	}
	p.logger.Error(ctx, "stage failed", "stage", stage, "error", err.Error())
}

func errorKind(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "timeout"
	case errors.Is(err, llm.ErrSchemaInvalid):
		return "schema_invalid"
	default:
		return "llm_unavailable"
	}
}

// outcomeOf maps the policy decision and broker results onto an NLG outcome
// tag.
func outcomeOf(decision policy.Decision, observations []dialog.Observation) nlg.Outcome {
	switch decision.Kind {
	case policy.DecisionAskUser:
		return nlg.OutcomeAskUser
	case policy.DecisionHandoff:
		return nlg.OutcomeHandoff
	case policy.DecisionDeny:
		return nlg.OutcomeDeny
	}
	for _, o := range observations {
		if !o.OK() {
			return nlg.OutcomeNoData
		}
	}
	return nlg.OutcomeOK
}

// emittedCalls lists the side-effecting calls that succeeded, for the
// workflow engine's records. Read-only calls executed internally are not
// repeated.
func emittedCalls(calls []dialog.ToolCall, observations []dialog.Observation, m *manifest.Manifest) []dialog.ToolCall {
	out := []dialog.ToolCall{}
	for i, call := range calls {
		tool, ok := m.Tool(call.Tool)
		if !ok || !tool.SideEffect {
			continue
		}
		if i < len(observations) && observations[i].OK() {
			out = append(out, call)
		}
	}
	return out
}
