// Package dialog defines the core data model shared by every pipeline stage:
// the immutable per-request Snapshot, slot maps, stage outputs (Extraction,
// Plan, Decision), tool Observations, and the Patch returned to the workflow
// engine.
package dialog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Vertical selects the tool manifest and prompt set for a workspace.
type Vertical string

// Supported verticals.
const (
	VerticalGastronomy Vertical = "gastronomy"
	VerticalRealEstate Vertical = "real-estate"
	VerticalServices   Vertical = "services"
	VerticalEcommerce  Vertical = "e-commerce"
	VerticalGeneric    Vertical = "generic"
)

// Valid reports whether v is one of the supported verticals.
func (v Vertical) Valid() bool {
	switch v {
	case VerticalGastronomy, VerticalRealEstate, VerticalServices, VerticalEcommerce, VerticalGeneric:
		return true
	}
	return false
}

// MaxUserMessageLen is the maximum accepted user message length in characters.
const MaxUserMessageLen = 4096

// ReservedSlotPrefix marks internal slots (counters, flags) that are never
// exposed to the planner or NLG.
const ReservedSlotPrefix = "_"

// SlotMap holds conversation state as string-keyed JSON-serialisable values
// (scalars, lists, or maps).
type SlotMap map[string]any

// Clone returns a shallow copy of the map. Values are shared; stages treat
// them as read-only.
func (s SlotMap) Clone() SlotMap {
	if s == nil {
		return SlotMap{}
	}
	out := make(SlotMap, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns a new map with overlay entries overriding base entries.
func (s SlotMap) Merge(overlay SlotMap) SlotMap {
	out := s.Clone()
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Public returns the map without reserved (underscore-prefixed) keys.
func (s SlotMap) Public() SlotMap {
	out := make(SlotMap, len(s))
	for k, v := range s {
		if strings.HasPrefix(k, ReservedSlotPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// GetString returns the slot value as a string if present.
func (s SlotMap) GetString(key string) (string, bool) {
	v, ok := s[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// GetInt returns the slot value as an int if present. JSON numbers decode as
// float64, so both representations are accepted.
func (s SlotMap) GetInt(key string) (int, bool) {
	switch v := s[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Normalize round-trips the map through JSON so every value is a
// JSON-serialisable scalar, list, or map. Non-serialisable values are an
// error, per the snapshot invariant.
func (s SlotMap) Normalize() (SlotMap, error) {
	if len(s) == 0 {
		return SlotMap{}, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("slot map not JSON-serialisable: %w", err)
	}
	var out SlotMap
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("slot map decode: %w", err)
	}
	return out, nil
}

// Snapshot is the immutable per-request input bundle. It is constructed once
// by the request adapter and passed read-only to every stage.
type Snapshot struct {
	WorkspaceID    string   `json:"workspace_id"`
	ChannelID      string   `json:"channel_id"`
	ConversationID string   `json:"conversation_id"`
	RequestID      string   `json:"request_id"`
	Vertical       Vertical `json:"vertical"`
	BusinessName   string   `json:"business_name"`
	Locale         string   `json:"locale"`
	UserMessage    string   `json:"user_message"`
	FSMState       string   `json:"fsm_state,omitempty"`

	// Slots holds the user-visible conversation state.
	Slots SlotMap `json:"slots"`

	// Internal holds reserved (underscore-prefixed) slots, kept apart so
	// they are never rendered into prompts or templates.
	Internal SlotMap `json:"internal,omitempty"`

	// Observations is the bounded window of recent tool results, oldest
	// first.
	Observations []Observation `json:"last_k_observations,omitempty"`
}

// DefaultObservationWindow bounds the recent-observations list.
const DefaultObservationWindow = 5

// Validate checks the snapshot invariants from the request contract.
func (s *Snapshot) Validate() error {
	if strings.TrimSpace(s.WorkspaceID) == "" {
		return fmt.Errorf("workspace id is required")
	}
	if strings.TrimSpace(s.ConversationID) == "" {
		return fmt.Errorf("conversation id is required")
	}
	if strings.TrimSpace(s.RequestID) == "" {
		return fmt.Errorf("request id is required")
	}
	if !s.Vertical.Valid() {
		return fmt.Errorf("unknown vertical %q", s.Vertical)
	}
	if len([]rune(s.UserMessage)) > MaxUserMessageLen {
		return fmt.Errorf("user message exceeds %d characters", MaxUserMessageLen)
	}
	return nil
}

// SplitReserved partitions raw into public and reserved slot maps. Inbound
// state may commingle them; the snapshot keeps them apart.
func SplitReserved(raw SlotMap) (public, internal SlotMap) {
	public = make(SlotMap)
	internal = make(SlotMap)
	for k, v := range raw {
		if strings.HasPrefix(k, ReservedSlotPrefix) {
			internal[k] = v
		} else {
			public[k] = v
		}
	}
	return public, internal
}
