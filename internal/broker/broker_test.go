package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

const testManifest = `
verticals:
  services:
    - name: catalog_lookup
      args_schema:
        service_type: {type: string, required: false}
      produces: [services, price_range]
      timeout_ms: 1000
      retries: {max_attempts: 3, base_backoff_ms: 1}
      idempotency: {scheme: arg_hash}
    - name: business_hours
      args_schema: {}
      produces: [opening_hours]
      timeout_ms: 1000
      retries: {max_attempts: 1, base_backoff_ms: 1}
      idempotency: {scheme: arg_hash}
    - name: check_availability
      args_schema:
        service_type: {type: string, required: true}
        preferred_date: {type: string, required: true}
      requires: [service_type, preferred_date]
      produces: [available_slots, staff_id]
      timeout_ms: 1000
      retries: {max_attempts: 1, base_backoff_ms: 1}
      idempotency: {scheme: arg_hash}
    - name: create_booking
      args_schema:
        service_type: {type: string, required: true}
        preferred_date: {type: string, required: true}
        staff_id: {type: string, required: false}
      requires: [service_type, preferred_date]
      produces: [booking_id]
      after: check_availability
      side_effect: true
      timeout_ms: 1000
      retries: {max_attempts: 1, base_backoff_ms: 1}
      idempotency: {scheme: request_id}
    - name: slow_tool
      args_schema: {}
      produces: [slow_data]
      timeout_ms: 40
      retries: {max_attempts: 2, base_backoff_ms: 1}
      idempotency: {scheme: arg_hash}
`

type recordedRequest struct {
	invokeRequest
	header http.Header
}

// toolServer is a scriptable tool endpoint recording every request.
type toolServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(req invokeRequest, n int) (int, string)
}

func newToolServer(handler func(req invokeRequest, n int) (int, string)) (*toolServer, *httptest.Server) {
	ts := &toolServer{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req invokeRequest
		_ = json.Unmarshal(body, &req)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{invokeRequest: req, header: r.Header.Clone()})
		n := len(ts.requests)
		ts.mu.Unlock()

		status, reply := ts.handler(req, n)
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	return ts, srv
}

func (ts *toolServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]recordedRequest, len(ts.requests))
	copy(out, ts.requests)
	return out
}

func okReply(data string) (int, string) {
	return http.StatusOK, `{"ok": true, "data": ` + data + `}`
}

func testBroker(t *testing.T, url string) *Broker {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	tracer, _, err := observability.NewTracer(context.Background(), observability.TraceConfig{})
	if err != nil {
		t.Fatal(err)
	}
	b := New(NewClient(url, 0), NewBreakerRegistry(nil), logger, nil, tracer, 0)
	b.sleep = func(context.Context, time.Duration) error { return nil }
	return b
}

func servicesManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	set, err := manifest.Parse([]byte(testManifest))
	if err != nil {
		t.Fatal(err)
	}
	return set[dialog.VerticalServices]
}

func brokerSnapshot() *dialog.Snapshot {
	return &dialog.Snapshot{
		WorkspaceID:    "ws-1",
		ConversationID: "conv-1",
		RequestID:      "req-42",
		Vertical:       dialog.VerticalServices,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	ts, srv := newToolServer(func(req invokeRequest, n int) (int, string) {
		return okReply(`{"services": ["Corte"], "price_range": "$10-$30"}`)
	})
	defer srv.Close()

	b := testBroker(t, srv.URL)
	m := servicesManifest(t)
	obs := b.Execute(context.Background(), brokerSnapshot(),
		[]dialog.ToolCall{{Tool: "catalog_lookup", Args: map[string]any{"service_type": "Corte"}}}, m)

	if len(obs) != 1 {
		t.Fatalf("observations = %d", len(obs))
	}
	o := obs[0]
	if o.Status != dialog.ObservationOK || o.Attempts != 1 {
		t.Fatalf("observation: %+v", o)
	}
	if o.Data["price_range"] != "$10-$30" {
		t.Errorf("data: %+v", o.Data)
	}

	reqs := ts.recorded()
	if reqs[0].WorkspaceID != "ws-1" || reqs[0].ConversationID != "conv-1" {
		t.Errorf("tenant context lost: %+v", reqs[0].invokeRequest)
	}
	if reqs[0].IdempotencyKey == "" || reqs[0].header.Get("Idempotency-Key") != reqs[0].IdempotencyKey {
		t.Errorf("idempotency key not propagated")
	}
	// arg_hash scheme: key must not be the request id.
	if reqs[0].IdempotencyKey == "req-42" {
		t.Errorf("arg_hash tool used request id key")
	}
}

func TestExecuteRequestIDScheme(t *testing.T) {
	ts, srv := newToolServer(func(req invokeRequest, n int) (int, string) {
		return okReply(`{"booking_id": "bk-1"}`)
	})
	defer srv.Close()

	b := testBroker(t, srv.URL)
	m := servicesManifest(t)
	b.Execute(context.Background(), brokerSnapshot(),
		[]dialog.ToolCall{{Tool: "create_booking", Args: map[string]any{"service_type": "Corte", "preferred_date": "2026-08-25"}}}, m)

	reqs := ts.recorded()
	if reqs[0].IdempotencyKey != "req-42" {
		t.Errorf("request_id scheme key = %q", reqs[0].IdempotencyKey)
	}
}

func TestExecuteOrderingUnderParallelism(t *testing.T) {
	// The first call is slow, the second fast; observations must still come
	// back in input order.
	_, srv := newToolServer(func(req invokeRequest, n int) (int, string) {
		if req.Tool == "catalog_lookup" {
			time.Sleep(50 * time.Millisecond)
			return okReply(`{"services": []}`)
		}
		return okReply(`{"opening_hours": "9-18"}`)
	})
	defer srv.Close()

	b := testBroker(t, srv.URL)
	m := servicesManifest(t)
	obs := b.Execute(context.Background(), brokerSnapshot(), []dialog.ToolCall{
		{Tool: "catalog_lookup", Args: map[string]any{}},
		{Tool: "business_hours", Args: map[string]any{}},
	}, m)

	if obs[0].Tool != "catalog_lookup" || obs[1].Tool != "business_hours" {
		t.Fatalf("order lost: %s, %s", obs[0].Tool, obs[1].Tool)
	}
	if obs[0].Status != dialog.ObservationOK || obs[1].Status != dialog.ObservationOK {
		t.Fatalf("statuses: %+v", obs)
	}
}

func TestExecuteResolvesPrevReferences(t *testing.T) {
	ts, srv := newToolServer(func(req invokeRequest, n int) (int, string) {
		if req.Tool == "check_availability" {
			return okReply(`{"available_slots": ["15:00"], "staff_id": "staff-7"}`)
		}
		return okReply(`{"booking_id": "bk-9"}`)
	})
	defer srv.Close()

	b := testBroker(t, srv.URL)
	m := servicesManifest(t)
	obs := b.Execute(context.Background(), brokerSnapshot(), []dialog.ToolCall{
		{Tool: "check_availability", Args: map[string]any{"service_type": "Corte", "preferred_date": "2026-08-25"}},
		{Tool: "create_booking", Args: map[string]any{
			"service_type": "Corte", "preferred_date": "2026-08-25", "staff_id": "$prev.staff_id",
		}},
	}, m)

	if obs[1].Status != dialog.ObservationOK {
		t.Fatalf("booking observation: %+v", obs[1])
	}
	reqs := ts.recorded()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d", len(reqs))
	}
	if reqs[1].Args["staff_id"] != "staff-7" {
		t.Errorf("$prev not resolved: %+v", reqs[1].Args)
	}
}

func TestExecuteDependencyFailed(t *testing.T) {
	_, srv := newToolServer(func(req invokeRequest, n int) (int, string) {
		if req.Tool == "check_availability" {
			return http.StatusBadRequest, `{}`
		}
		return okReply(`{}`)
	})
	defer srv.Close()

	b := testBroker(t, srv.URL)
	m := servicesManifest(t)
	obs := b.Execute(context.Background(), brokerSnapshot(), []dialog.ToolCall{
		{Tool: "check_availability", Args: map[string]any{"service_type": "Corte", "preferred_date": "2026-08-25"}},
		{Tool: "create_booking", Args: map[string]any{
			"service_type": "Corte", "preferred_date": "2026-08-25", "staff_id": "$prev.staff_id",
		}},
	}, m)

	if obs[0].Status != dialog.ObservationFailed {
		t.Fatalf("availability should fail: %+v", obs[0])
	}
	if obs[1].Status != dialog.ObservationFailed || obs[1].ErrorKind != KindDependency {
		t.Fatalf("booking should report dependency failure: %+v", obs[1])
	}
}

func TestExecuteRetriesOn5xx(t *testing.T) {
	ts, srv := newToolServer(func(req invokeRequest, n int) (int, string) {
		if n < 3 {
			return http.StatusBadGateway, `{}`
		}
		return okReply(`{"services": []}`)
	})
	defer srv.Close()

	b := testBroker(t, srv.URL)
	m := servicesManifest(t)
	obs := b.Execute(context.Background(), brokerSnapshot(),
		[]dialog.ToolCall{{Tool: "catalog_lookup", Args: map[string]any{}}}, m)

	if obs[0].Status != dialog.ObservationOK || obs[0].Attempts != 3 {
		t.Fatalf("observation: %+v", obs[0])
	}
	if len(ts.recorded()) != 3 {
		t.Errorf("requests = %d", len(ts.recorded()))
	}
}

func TestExecuteNoRetryOn4xx(t *testing.T) {
	ts, srv := newToolServer(func(req invokeRequest, n int) (int, string) {
		return http.StatusUnprocessableEntity, `{}`
	})
	defer srv.Close()

	b := testBroker(t, srv.URL)
	m := servicesManifest(t)
	obs := b.Execute(context.Background(), brokerSnapshot(),
		[]dialog.ToolCall{{Tool: "catalog_lookup", Args: map[string]any{}}}, m)

	if obs[0].Status != dialog.ObservationFailed || obs[0].ErrorKind != KindRejected {
		t.Fatalf("observation: %+v", obs[0])
	}
	if len(ts.recorded()) != 1 {
		t.Errorf("4xx must not retry, requests = %d", len(ts.recorded()))
	}
}

func TestExecuteApplicationFailureNoRetry(t *testing.T) {
	ts, srv := newToolServer(func(req invokeRequest, n int) (int, string) {
		return http.StatusOK, `{"ok": false, "error": {"kind": "no_slots", "message": "fully booked"}}`
	})
	defer srv.Close()

	b := testBroker(t, srv.URL)
	m := servicesManifest(t)
	obs := b.Execute(context.Background(), brokerSnapshot(),
		[]dialog.ToolCall{{Tool: "catalog_lookup", Args: map[string]any{}}}, m)

	if obs[0].Status != dialog.ObservationFailed || obs[0].ErrorKind != "no_slots" {
		t.Fatalf("observation: %+v", obs[0])
	}
	if len(ts.recorded()) != 1 {
		t.Errorf("application failure must not retry, requests = %d", len(ts.recorded()))
	}
}

func TestExecuteTimeout(t *testing.T) {
	_, srv := newToolServer(func(req invokeRequest, n int) (int, string) {
		time.Sleep(200 * time.Millisecond)
		return okReply(`{}`)
	})
	defer srv.Close()

	b := testBroker(t, srv.URL)
	m := servicesManifest(t)
	obs := b.Execute(context.Background(), brokerSnapshot(),
		[]dialog.ToolCall{{Tool: "slow_tool", Args: map[string]any{}}}, m)

	if obs[0].Status != dialog.ObservationTimeout {
		t.Fatalf("observation: %+v", obs[0])
	}
	if obs[0].Attempts != 2 {
		t.Errorf("attempts = %d", obs[0].Attempts)
	}
}

func TestExecuteCircuitOpenSkipsCall(t *testing.T) {
	ts, srv := newToolServer(func(req invokeRequest, n int) (int, string) {
		return okReply(`{}`)
	})
	defer srv.Close()

	b := testBroker(t, srv.URL)
	m := servicesManifest(t)
	tool, _ := m.Tool("catalog_lookup")
	breaker := b.breakers.For("catalog_lookup", tool.Circuit)
	for i := 0; i < manifest.DefaultThreshold; i++ {
		breaker.RecordFailure()
	}

	obs := b.Execute(context.Background(), brokerSnapshot(),
		[]dialog.ToolCall{{Tool: "catalog_lookup", Args: map[string]any{}}}, m)

	if obs[0].Status != dialog.ObservationCircuitOpen || obs[0].Attempts != 0 {
		t.Fatalf("observation: %+v", obs[0])
	}
	if len(ts.recorded()) != 0 {
		t.Errorf("open breaker must skip the endpoint, requests = %d", len(ts.recorded()))
	}
}

func TestBreakerLifecycle(t *testing.T) {
	now := time.Now()
	b := NewBreaker(manifest.CircuitPolicy{Threshold: 3, CooldownMs: 30000}, nil)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("closed breaker must allow (failure %d)", i)
		}
		b.RecordFailure()
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker must reject before cooldown")
	}

	// Cooldown elapsed: half-open admits exactly one probe.
	now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("cooldown elapsed, probe must be admitted")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s", b.State())
	}
	if b.Allow() {
		t.Fatal("half-open admits a single probe")
	}

	// Probe failure re-opens with the cooldown reset.
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %s", b.State())
	}
	if b.Allow() {
		t.Fatal("re-opened breaker must reject")
	}

	// Next probe succeeds and closes the breaker.
	now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("second probe must be admitted")
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state = %s", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker must allow")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(manifest.CircuitPolicy{Threshold: 3, CooldownMs: 30000}, nil)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("non-consecutive failures must not open, state = %s", b.State())
	}
}

func TestIdempotencyKey(t *testing.T) {
	args := map[string]any{"service_type": "Corte", "limit": 3}
	sameArgs := map[string]any{"limit": 3, "service_type": "Corte"}

	if got := IdempotencyKey(manifest.SchemeRequestID, "req-1", "t", args); got != "req-1" {
		t.Errorf("request_id key = %q", got)
	}
	a := IdempotencyKey(manifest.SchemeArgHash, "req-1", "t", args)
	b := IdempotencyKey(manifest.SchemeArgHash, "req-2", "t", sameArgs)
	if a != b {
		t.Errorf("arg hash must be stable across key order and request ids: %q vs %q", a, b)
	}
	c := IdempotencyKey(manifest.SchemeArgHash, "req-1", "t", map[string]any{"service_type": "Color"})
	if a == c {
		t.Errorf("different args must hash differently")
	}
}

func TestDependencyClasses(t *testing.T) {
	m := servicesManifest(t)
	calls := []dialog.ToolCall{
		{Tool: "catalog_lookup", Args: map[string]any{}},
		{Tool: "check_availability", Args: map[string]any{"service_type": "Corte", "preferred_date": "x"}},
		{Tool: "create_booking", Args: map[string]any{
			"service_type": "Corte", "preferred_date": "x", "staff_id": "$prev.staff_id",
		}},
	}
	classes := dependencyClasses(calls, m)
	if len(classes) != 2 {
		t.Fatalf("classes = %v", classes)
	}
	if len(classes[0]) != 2 || len(classes[1]) != 1 || classes[1][0] != 2 {
		t.Fatalf("grouping = %v", classes)
	}
}
