package extractor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/llm"
	"github.com/nictes1/automatizacion-ai-sub000/internal/llm/llmtest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

func testDeps(t *testing.T) (*observability.Logger, *observability.Tracer, *manifest.Manifest) {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	tracer, _, err := observability.NewTracer(context.Background(), observability.TraceConfig{})
	if err != nil {
		t.Fatal(err)
	}
	set, err := manifest.Load("")
	if err != nil {
		t.Fatal(err)
	}
	return logger, tracer, set[dialog.VerticalServices]
}

func servicesSnapshot(text string) *dialog.Snapshot {
	return &dialog.Snapshot{
		WorkspaceID:    "ws-1",
		ConversationID: "conv-1",
		RequestID:      "req-1",
		Vertical:       dialog.VerticalServices,
		BusinessName:   "Peluquería Sol",
		UserMessage:    text,
		Slots:          dialog.SlotMap{},
	}
}

func TestExtractEmptyTextShortCircuits(t *testing.T) {
	logger, tracer, m := testDeps(t)
	fake := llmtest.NewFake()
	e := New(fake, "slm-extractor", 0, logger, tracer)

	got, err := e.Extract(context.Background(), servicesSnapshot("   "), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Intent != dialog.IntentOther || got.Confidence != 0.0 || len(got.Slots) != 0 {
		t.Errorf("unexpected extraction: %+v", got)
	}
	if fake.Calls() != 0 {
		t.Errorf("empty text must not reach the LLM, got %d calls", fake.Calls())
	}
}

func TestExtractHappyPath(t *testing.T) {
	logger, tracer, m := testDeps(t)
	fake := llmtest.NewFake(llmtest.Response{
		JSON: `{"intent":"info_price","confidence":0.92,"slots":{"service_type":"Coloración"}}`,
	})
	e := New(fake, "slm-extractor", 0, logger, tracer)

	got, err := e.Extract(context.Background(), servicesSnapshot("cuánto sale la coloración?"), m)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got.Intent != dialog.IntentInfoPrice {
		t.Errorf("intent = %s", got.Intent)
	}
	if v, _ := got.Slots.GetString("service_type"); v != "Coloración" {
		t.Errorf("service_type = %q", v)
	}
}

func TestExtractPromptCarriesVocabulary(t *testing.T) {
	logger, tracer, m := testDeps(t)
	fake := llmtest.NewFake(llmtest.Response{JSON: `{"intent":"other","confidence":0.3,"slots":{}}`})
	e := New(fake, "slm-extractor", 0, logger, tracer)

	if _, err := e.Extract(context.Background(), servicesSnapshot("ok"), m); err != nil {
		t.Fatalf("extract: %v", err)
	}
	reqs := fake.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	for _, want := range []string{"service_type", "preferred_date", "greeting", "info_price"} {
		if !strings.Contains(reqs[0].System, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if reqs[0].SchemaName != llm.SchemaExtractorV1 {
		t.Errorf("schema = %s", reqs[0].SchemaName)
	}
}

func TestExtractSanitizesSlots(t *testing.T) {
	logger, tracer, m := testDeps(t)
	fake := llmtest.NewFake(llmtest.Response{
		JSON: `{"intent":"book","confidence":0.9,"slots":{"service_type":"Corte","_deny_count":3,"favorite_color":"blue"}}`,
	})
	e := New(fake, "slm-extractor", 0, logger, tracer)

	got, err := e.Extract(context.Background(), servicesSnapshot("reservar corte"), m)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, ok := got.Slots["_deny_count"]; ok {
		t.Errorf("reserved slot leaked through extraction")
	}
	if _, ok := got.Slots["favorite_color"]; ok {
		t.Errorf("undeclared slot leaked through extraction")
	}
	if _, ok := got.Slots["service_type"]; !ok {
		t.Errorf("declared slot dropped")
	}
}

func TestExtractRepairPath(t *testing.T) {
	logger, tracer, m := testDeps(t)
	fake := llmtest.NewFake(
		llmtest.Response{JSON: `{"intent":"shopping","confidence":0.9,"slots":{}}`},
		llmtest.Response{JSON: `{"intent":"info_price","confidence":0.9,"slots":{}}`},
	)
	e := New(fake, "slm-extractor", 0, logger, tracer)

	got, err := e.Extract(context.Background(), servicesSnapshot("precio?"), m)
	if err != nil {
		t.Fatalf("repair should recover: %v", err)
	}
	if got.Intent != dialog.IntentInfoPrice {
		t.Errorf("intent = %s", got.Intent)
	}
	if fake.Calls() != 2 {
		t.Errorf("expected 2 calls (original + repair), got %d", fake.Calls())
	}
}

func TestExtractProviderError(t *testing.T) {
	logger, tracer, m := testDeps(t)
	fake := llmtest.NewFake(llmtest.Response{Err: llm.ErrUnavailable})
	e := New(fake, "slm-extractor", 0, logger, tracer)

	_, err := e.Extract(context.Background(), servicesSnapshot("hola"), m)
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
