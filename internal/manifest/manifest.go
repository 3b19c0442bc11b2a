// Package manifest holds the per-vertical tool descriptors: which tools
// exist, their argument shapes, the slots they produce and require, and their
// operational policies (timeouts, retries, circuit breaking, idempotency).
// A manifest is loaded at startup and frozen for the duration of a request.
package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
)

// IdempotencyScheme selects how the broker derives a tool's idempotency key.
type IdempotencyScheme string

// Idempotency key schemes.
const (
	// SchemeRequestID reuses the inbound request id, so all retries of one
	// user turn share a key.
	SchemeRequestID IdempotencyScheme = "request_id"
	// SchemeArgHash hashes the canonical args, so identical calls dedupe
	// across turns.
	SchemeArgHash IdempotencyScheme = "arg_hash"
)

// ArgSpec declares one tool argument.
type ArgSpec struct {
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// RetryPolicy bounds the broker's attempt loop for one tool.
type RetryPolicy struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BaseBackoffMs int `yaml:"base_backoff_ms"`
}

// CircuitPolicy configures the per-tool circuit breaker.
type CircuitPolicy struct {
	Threshold  int `yaml:"threshold"`
	CooldownMs int `yaml:"cooldown_ms"`
}

// IdempotencyPolicy declares whether and how a tool is safe to retry.
type IdempotencyPolicy struct {
	Scheme IdempotencyScheme `yaml:"scheme"`
}

// Tool describes one tool available to a vertical.
type Tool struct {
	Name        string             `yaml:"name"`
	Args        map[string]ArgSpec `yaml:"args_schema"`
	Produces    []string           `yaml:"produces"`
	Requires    []string           `yaml:"requires"`
	TimeoutMs   int                `yaml:"timeout_ms"`
	Retries     RetryPolicy        `yaml:"retries"`
	Circuit     CircuitPolicy      `yaml:"circuit"`
	Idempotency IdempotencyPolicy  `yaml:"idempotency"`
	Invalidates []string           `yaml:"invalidates"`

	// SideEffect marks tools whose successful calls must be re-emitted to
	// the workflow engine; read-only tools executed internally are not.
	SideEffect bool `yaml:"side_effect"`

	// After names a tool that must complete earlier in the same plan,
	// forcing the broker to sequence the two even when the args carry no
	// $prev reference.
	After string `yaml:"after,omitempty"`
}

// Defaults applied where a manifest entry leaves a policy unset.
const (
	DefaultTimeoutMs     = 5000
	DefaultMaxAttempts   = 3
	DefaultBaseBackoffMs = 100
	DefaultThreshold     = 5
	DefaultCooldownMs    = 30000
)

// ProducesSlot reports whether the tool declares slot as an output.
func (t *Tool) ProducesSlot(slot string) bool {
	for _, p := range t.Produces {
		if p == slot {
			return true
		}
	}
	return false
}

// normalize fills policy defaults and validates the entry.
func (t *Tool) normalize() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.TimeoutMs <= 0 {
		t.TimeoutMs = DefaultTimeoutMs
	}
	if t.Retries.MaxAttempts <= 0 {
		t.Retries.MaxAttempts = DefaultMaxAttempts
	}
	if t.Retries.BaseBackoffMs <= 0 {
		t.Retries.BaseBackoffMs = DefaultBaseBackoffMs
	}
	if t.Circuit.Threshold <= 0 {
		t.Circuit.Threshold = DefaultThreshold
	}
	if t.Circuit.CooldownMs <= 0 {
		t.Circuit.CooldownMs = DefaultCooldownMs
	}
	switch t.Idempotency.Scheme {
	case SchemeRequestID, SchemeArgHash:
	case "":
		t.Idempotency.Scheme = SchemeRequestID
	default:
		return fmt.Errorf("tool %s: unknown idempotency scheme %q", t.Name, t.Idempotency.Scheme)
	}
	return nil
}

// Manifest is the frozen tool set for one vertical.
type Manifest struct {
	Vertical dialog.Vertical
	Tools    []Tool

	index map[string]*Tool
}

// Tool looks a tool up by name.
func (m *Manifest) Tool(name string) (*Tool, bool) {
	t, ok := m.index[name]
	return t, ok
}

// SlotNames returns the slot vocabulary of the vertical: everything any tool
// produces, requires, or accepts as an argument. The extractor prompt lists
// these, and extraction output is filtered to them.
func (m *Manifest) SlotNames() []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for i := range m.Tools {
		for _, s := range m.Tools[i].Produces {
			add(s)
		}
		for _, s := range m.Tools[i].Requires {
			add(s)
		}
		for a := range m.Tools[i].Args {
			add(a)
		}
	}
	sort.Strings(out)
	return out
}

func newManifest(vertical dialog.Vertical, tools []Tool) (*Manifest, error) {
	m := &Manifest{Vertical: vertical, Tools: tools, index: make(map[string]*Tool, len(tools))}
	for i := range m.Tools {
		t := &m.Tools[i]
		if err := t.normalize(); err != nil {
			return nil, fmt.Errorf("vertical %s: %w", vertical, err)
		}
		if _, dup := m.index[t.Name]; dup {
			return nil, fmt.Errorf("vertical %s: duplicate tool %s", vertical, t.Name)
		}
		if t.After != "" {
			found := false
			for j := range tools {
				if tools[j].Name == t.After {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("vertical %s: tool %s declares after: %s which does not exist", vertical, t.Name, t.After)
			}
		}
		m.index[t.Name] = t
	}
	return m, nil
}

// Set maps verticals to their manifests.
type Set map[dialog.Vertical]*Manifest

// Get returns the manifest for a vertical, falling back to generic.
func (s Set) Get(v dialog.Vertical) (*Manifest, bool) {
	if m, ok := s[v]; ok {
		return m, true
	}
	m, ok := s[dialog.VerticalGeneric]
	return m, ok
}
