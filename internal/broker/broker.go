// Package broker executes validated tool calls against the workflow engine's
// tool endpoint. It owns the richest failure semantics of the pipeline:
// per-tool timeouts, bounded retries with jittered backoff, circuit breakers,
// idempotency keys, and bounded intra-request parallelism. Calls are grouped
// into dependency classes; classes run sequentially, calls within a class run
// in parallel, and observations always come back in input order.
package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/nictes1/automatizacion-ai-sub000/internal/backoff"
	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

// PrevSigil prefixes an arg value referencing a field of an earlier call's
// result, as in "$prev.staff_id".
const PrevSigil = "$prev."

// DefaultParallel bounds in-flight calls within one request.
const DefaultParallel = 8

const maxBackoff = 5 * time.Second

// Broker runs tool calls.
type Broker struct {
	client   *Client
	breakers *BreakerRegistry
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	parallel int64

	sleep func(context.Context, time.Duration) error // test hook
}

// New creates a broker. parallel ≤ 0 uses the default bound.
func New(client *Client, breakers *BreakerRegistry, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer, parallel int) *Broker {
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	return &Broker{
		client:   client,
		breakers: breakers,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		parallel: int64(parallel),
		sleep:    sleepCtx,
	}
}

// Execute runs the calls and returns one observation per call, in input
// order regardless of completion order.
func (b *Broker) Execute(ctx context.Context, snap *dialog.Snapshot, calls []dialog.ToolCall, m *manifest.Manifest) []dialog.Observation {
	obs := make([]dialog.Observation, len(calls))
	if len(calls) == 0 {
		return obs
	}

	sem := semaphore.NewWeighted(b.parallel)
	for _, class := range dependencyClasses(calls, m) {
		// Freeze completed observations so in-class goroutines resolve
		// $prev against lower classes only, race-free.
		done := make([]dialog.Observation, len(obs))
		copy(done, obs)

		var wg sync.WaitGroup
		for _, idx := range class {
			if err := sem.Acquire(ctx, 1); err != nil {
				obs[idx] = dialog.Observation{Tool: calls[idx].Tool, Status: dialog.ObservationTimeout, ErrorKind: KindTimeout}
				continue
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer sem.Release(1)
				obs[i] = b.executeOne(ctx, snap, calls[i], i, done, m)
			}(idx)
		}
		wg.Wait()
	}
	return obs
}

// executeOne runs a single call through breaker, idempotency, and the
// attempt loop. earlier holds observations of all lower dependency classes.
func (b *Broker) executeOne(ctx context.Context, snap *dialog.Snapshot, call dialog.ToolCall, index int, earlier []dialog.Observation, m *manifest.Manifest) dialog.Observation {
	tool, ok := m.Tool(call.Tool)
	if !ok {
		// Policy already filtered membership; guard anyway.
		return b.finish(dialog.Observation{Tool: call.Tool, Status: dialog.ObservationFailed, ErrorKind: KindRejected})
	}

	args, errKind := resolveArgs(call.Args, index, earlier, m)
	if errKind != "" {
		return b.finish(dialog.Observation{Tool: call.Tool, Status: dialog.ObservationFailed, ErrorKind: errKind})
	}

	breaker := b.breakers.For(call.Tool, tool.Circuit)
	if !breaker.Allow() {
		return b.finish(dialog.Observation{Tool: call.Tool, Status: dialog.ObservationCircuitOpen, ErrorKind: KindCircuitOpen})
	}

	req := invokeRequest{
		Tool:           call.Tool,
		Args:           args,
		IdempotencyKey: IdempotencyKey(tool.Idempotency.Scheme, snap.RequestID, call.Tool, args),
		WorkspaceID:    snap.WorkspaceID,
		ConversationID: snap.ConversationID,
	}
	timeout := time.Duration(tool.TimeoutMs) * time.Millisecond
	base := time.Duration(tool.Retries.BaseBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= tool.Retries.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		spanCtx, span := b.tracer.Start(attemptCtx, "tool.attempt",
			attribute.String("tool", call.Tool),
			attribute.Int("attempt", attempt),
		)
		start := time.Now()
		data, err := b.client.Invoke(spanCtx, req)
		latency := time.Since(start)
		observability.EndSpan(span, err)
		cancel()

		if err == nil {
			breaker.RecordSuccess()
			return b.finish(dialog.Observation{
				Tool:      call.Tool,
				Status:    dialog.ObservationOK,
				LatencyMs: latency.Milliseconds(),
				Attempts:  attempt,
				Data:      data,
			})
		}
		lastErr = err
		b.logger.Warn(ctx, "tool attempt failed",
			"tool", call.Tool, "attempt", attempt, "error", err.Error())

		if ctx.Err() != nil {
			// Global deadline: cancelled in-flight work reports timeout.
			breaker.RecordFailure()
			return b.finish(dialog.Observation{
				Tool: call.Tool, Status: dialog.ObservationTimeout,
				LatencyMs: latency.Milliseconds(), Attempts: attempt, ErrorKind: KindTimeout,
			})
		}
		var te *ToolError
		if errors.As(err, &te) && te.Permanent {
			breaker.RecordFailure()
			return b.finish(dialog.Observation{
				Tool: call.Tool, Status: dialog.ObservationFailed,
				LatencyMs: latency.Milliseconds(), Attempts: attempt, ErrorKind: te.Kind,
			})
		}
		if attempt < tool.Retries.MaxAttempts {
			if b.sleep(ctx, backoff.Compute(base, maxBackoff, attempt)) != nil {
				breaker.RecordFailure()
				return b.finish(dialog.Observation{
					Tool: call.Tool, Status: dialog.ObservationTimeout,
					Attempts: attempt, ErrorKind: KindTimeout,
				})
			}
		}
	}

	breaker.RecordFailure()
	status := dialog.ObservationFailed
	kind := KindTransport
	var te *ToolError
	switch {
	case errors.Is(lastErr, context.DeadlineExceeded):
		status = dialog.ObservationTimeout
		kind = KindTimeout
	case errors.As(lastErr, &te):
		kind = te.Kind
	}
	return b.finish(dialog.Observation{
		Tool: call.Tool, Status: status,
		Attempts: tool.Retries.MaxAttempts, ErrorKind: kind,
	})
}

func (b *Broker) finish(o dialog.Observation) dialog.Observation {
	if b.metrics != nil {
		b.metrics.ToolExecutions.WithLabelValues(o.Tool, string(o.Status)).Inc()
		if o.Attempts > 0 {
			b.metrics.ToolAttempts.WithLabelValues(o.Tool).Observe(float64(o.Attempts))
		}
		if o.Status == dialog.ObservationOK {
			b.metrics.ToolDuration.WithLabelValues(o.Tool).Observe(float64(o.LatencyMs) / 1000)
		}
	}
	return o
}

// resolveArgs substitutes $prev.<field> references from the most recent
// earlier ok observation carrying the field. Returns a non-empty error kind
// when a reference cannot be satisfied.
func resolveArgs(args map[string]any, index int, earlier []dialog.Observation, m *manifest.Manifest) (map[string]any, string) {
	resolved := make(map[string]any, len(args))
	for name, value := range args {
		ref, ok := value.(string)
		if !ok || !strings.HasPrefix(ref, PrevSigil) {
			resolved[name] = value
			continue
		}
		field := strings.TrimPrefix(ref, PrevSigil)
		v, kind := lookupPrev(field, index, earlier, m)
		if kind != "" {
			return nil, kind
		}
		resolved[name] = v
	}
	return resolved, ""
}

func lookupPrev(field string, index int, earlier []dialog.Observation, m *manifest.Manifest) (any, string) {
	producerSeen := false
	for i := index - 1; i >= 0; i-- {
		o := earlier[i]
		if o.Status == dialog.ObservationOK {
			if v, ok := o.Data[field]; ok {
				return v, ""
			}
		}
		if tool, ok := m.Tool(o.Tool); ok && tool.ProducesSlot(field) {
			producerSeen = true
		}
	}
	if producerSeen {
		return nil, KindDependency
	}
	return nil, KindUnresolved
}

// dependencyClasses groups call indices: a call joins the class after its
// deepest dependency; unreferenced calls form class 0 and run in parallel.
func dependencyClasses(calls []dialog.ToolCall, m *manifest.Manifest) [][]int {
	class := make([]int, len(calls))
	for i := range calls {
		depth := 0
		for _, dep := range dependenciesOf(calls, i, m) {
			if class[dep]+1 > depth {
				depth = class[dep] + 1
			}
		}
		class[i] = depth
	}

	maxClass := 0
	for _, c := range class {
		if c > maxClass {
			maxClass = c
		}
	}
	classes := make([][]int, maxClass+1)
	for i, c := range class {
		classes[c] = append(classes[c], i)
	}
	return classes
}

// dependenciesOf returns indices of earlier calls that call i must wait for:
// the latest producer of each $prev field, plus the latest earlier call named
// by the manifest after: link. A $prev reference with no known producer
// conservatively depends on the immediately preceding call.
func dependenciesOf(calls []dialog.ToolCall, i int, m *manifest.Manifest) []int {
	var deps []int
	add := func(j int) {
		for _, d := range deps {
			if d == j {
				return
			}
		}
		deps = append(deps, j)
	}

	for _, value := range calls[i].Args {
		ref, ok := value.(string)
		if !ok || !strings.HasPrefix(ref, PrevSigil) {
			continue
		}
		field := strings.TrimPrefix(ref, PrevSigil)
		found := false
		for j := i - 1; j >= 0; j-- {
			if tool, ok := m.Tool(calls[j].Tool); ok && tool.ProducesSlot(field) {
				add(j)
				found = true
				break
			}
		}
		if !found && i > 0 {
			add(i - 1)
		}
	}

	if tool, ok := m.Tool(calls[i].Tool); ok && tool.After != "" {
		for j := i - 1; j >= 0; j-- {
			if calls[j].Tool == tool.After {
				add(j)
				break
			}
		}
	}
	return deps
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
