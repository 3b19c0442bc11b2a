package dialog

import (
	"encoding/json"
	"fmt"
)

// Patch is the sole write contract towards the workflow engine: slots to set,
// slots to remove, and cache keys the outer layer should evict.
type Patch struct {
	SlotsSet              SlotMap  `json:"slots"`
	SlotsUnset            []string `json:"slots_to_remove"`
	CacheInvalidationKeys []string `json:"cache_invalidation_keys"`
}

// NewPatch returns an empty patch with allocated fields so JSON encoding
// emits objects and arrays rather than nulls.
func NewPatch() Patch {
	return Patch{
		SlotsSet:              SlotMap{},
		SlotsUnset:            []string{},
		CacheInvalidationKeys: []string{},
	}
}

// Validate enforces the patch invariant: set and unset keys are disjoint.
func (p Patch) Validate() error {
	for _, k := range p.SlotsUnset {
		if _, ok := p.SlotsSet[k]; ok {
			return fmt.Errorf("patch sets and unsets slot %q", k)
		}
	}
	return nil
}

// stringify renders an arbitrary slot value for canonical keys and template
// placeholders.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		// Render integral floats without a trailing ".0" so JSON-decoded
		// numbers read naturally in user-facing text.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}

// Stringify renders a slot or observation value as display text.
func Stringify(v any) string { return stringify(v) }
