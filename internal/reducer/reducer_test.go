package reducer

import (
	"testing"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
)

func servicesManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	set, err := manifest.Load("")
	if err != nil {
		t.Fatal(err)
	}
	return set[dialog.VerticalServices]
}

func TestReduceStartsFromExtraction(t *testing.T) {
	m := servicesManifest(t)
	extracted := dialog.SlotMap{"service_type": "Corte", "preferred_date": "2026-08-25"}
	patch := Reduce(dialog.SlotMap{}, extracted, nil, nil, m)

	if patch.SlotsSet["service_type"] != "Corte" {
		t.Errorf("slots_set: %+v", patch.SlotsSet)
	}
	if len(patch.SlotsUnset) != 0 || len(patch.CacheInvalidationKeys) != 0 {
		t.Errorf("patch: %+v", patch)
	}
}

func TestReduceMergesProducedFields(t *testing.T) {
	m := servicesManifest(t)
	obs := []dialog.Observation{
		{Tool: "catalog_lookup", Status: dialog.ObservationOK, Data: map[string]any{
			"services": []any{"Corte"}, "price_range": "$10-$30", "noise": "x",
		}},
		{Tool: "check_availability", Status: dialog.ObservationOK, Data: map[string]any{
			"available_slots": []any{"15:00"}, "staff_id": "staff-7",
		}},
	}
	patch := Reduce(dialog.SlotMap{}, dialog.SlotMap{}, nil, obs, m)

	if patch.SlotsSet["price_range"] != "$10-$30" || patch.SlotsSet["staff_id"] != "staff-7" {
		t.Errorf("slots_set: %+v", patch.SlotsSet)
	}
	// Fields outside the tool's produces list never enter the patch.
	if _, ok := patch.SlotsSet["noise"]; ok {
		t.Errorf("undeclared field leaked: %+v", patch.SlotsSet)
	}
}

func TestReduceLaterObservationWins(t *testing.T) {
	m := servicesManifest(t)
	obs := []dialog.Observation{
		{Tool: "check_availability", Status: dialog.ObservationOK, Data: map[string]any{"staff_id": "staff-1"}},
		{Tool: "check_availability", Status: dialog.ObservationOK, Data: map[string]any{"staff_id": "staff-2"}},
	}
	patch := Reduce(dialog.SlotMap{}, dialog.SlotMap{}, nil, obs, m)
	if patch.SlotsSet["staff_id"] != "staff-2" {
		t.Errorf("later observation must win: %+v", patch.SlotsSet)
	}
}

func TestReduceFailureNeverUnsets(t *testing.T) {
	m := servicesManifest(t)
	snap := dialog.SlotMap{"staff_id": "staff-1", "available_slots": []any{"10:00"}}
	obs := []dialog.Observation{
		{Tool: "check_availability", Status: dialog.ObservationFailed, ErrorKind: "timeout"},
	}
	patch := Reduce(snap, dialog.SlotMap{}, nil, obs, m)

	if len(patch.SlotsUnset) != 0 {
		t.Errorf("failure must not unset: %+v", patch.SlotsUnset)
	}
	if _, ok := patch.SlotsSet["staff_id"]; ok {
		t.Errorf("failure must not touch existing slots: %+v", patch.SlotsSet)
	}
}

func TestReduceCacheInvalidation(t *testing.T) {
	m := servicesManifest(t)
	snap := dialog.SlotMap{"preferred_date": "2026-08-25"}
	obs := []dialog.Observation{
		// Read-only ok: never invalidates.
		{Tool: "catalog_lookup", Status: dialog.ObservationOK, Data: map[string]any{"services": []any{}}},
		// Side-effecting ok: invalidates with placeholders from data + slots.
		{Tool: "create_booking", Status: dialog.ObservationOK, Data: map[string]any{
			"booking_id": "bk-1", "staff_id": "staff-7",
		}},
	}
	patch := Reduce(snap, dialog.SlotMap{}, nil, obs, m)

	want := map[string]bool{
		"availability:staff-7": true,
		"bookings:2026-08-25":  true,
	}
	if len(patch.CacheInvalidationKeys) != len(want) {
		t.Fatalf("keys: %v", patch.CacheInvalidationKeys)
	}
	for _, k := range patch.CacheInvalidationKeys {
		if !want[k] {
			t.Errorf("unexpected key %q", k)
		}
	}
}

func TestReduceFailedWriteDoesNotInvalidate(t *testing.T) {
	m := servicesManifest(t)
	obs := []dialog.Observation{
		{Tool: "create_booking", Status: dialog.ObservationFailed, ErrorKind: "upstream_5xx"},
	}
	patch := Reduce(dialog.SlotMap{"preferred_date": "2026-08-25"}, dialog.SlotMap{}, nil, obs, m)
	if len(patch.CacheInvalidationKeys) != 0 {
		t.Errorf("failed write invalidated: %v", patch.CacheInvalidationKeys)
	}
}

func TestReduceUnresolvedTemplateSkipped(t *testing.T) {
	m := servicesManifest(t)
	// cancel_booking invalidates "bookings:{preferred_date}" but neither the
	// data nor the slots carry the date.
	obs := []dialog.Observation{
		{Tool: "cancel_booking", Status: dialog.ObservationOK, Data: map[string]any{"booking_status": "cancelled"}},
	}
	patch := Reduce(dialog.SlotMap{}, dialog.SlotMap{}, nil, obs, m)
	if len(patch.CacheInvalidationKeys) != 0 {
		t.Errorf("half-resolved key emitted: %v", patch.CacheInvalidationKeys)
	}
}

func TestReduceCarriesInternalSlots(t *testing.T) {
	m := servicesManifest(t)
	internal := dialog.SlotMap{"_guardrail_offences": 1}
	patch := Reduce(dialog.SlotMap{}, dialog.SlotMap{"service_type": "Corte"}, internal, nil, m)

	if patch.SlotsSet["_guardrail_offences"] != 1 {
		t.Errorf("internal slots lost: %+v", patch.SlotsSet)
	}
	if patch.SlotsSet["service_type"] != "Corte" {
		t.Errorf("extraction lost: %+v", patch.SlotsSet)
	}
}

func TestResolveTemplate(t *testing.T) {
	data := map[string]any{"staff_id": "staff-7", "count": float64(3)}
	slots := dialog.SlotMap{"preferred_date": "2026-08-25"}

	tests := []struct {
		tmpl string
		want string
		ok   bool
	}{
		{"availability:{staff_id}", "availability:staff-7", true},
		{"bookings:{preferred_date}", "bookings:2026-08-25", true},
		{"count:{count}", "count:3", true},
		{"missing:{nope}", "", false},
		{"plain", "plain", true},
	}
	for _, tt := range tests {
		got, ok := resolveTemplate(tt.tmpl, data, slots)
		if ok != tt.ok || got != tt.want {
			t.Errorf("resolveTemplate(%q) = %q, %v; want %q, %v", tt.tmpl, got, ok, tt.want, tt.ok)
		}
	}
}
