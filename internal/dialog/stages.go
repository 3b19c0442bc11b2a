package dialog

import "sort"

// Intent is the coarse classification of user purpose for a single turn.
type Intent string

// Intents recognised by the extractor. The set is vertical-scoped at the
// prompt level; unknown or low-signal turns map to IntentOther.
const (
	IntentGreeting   Intent = "greeting"
	IntentInfoHours  Intent = "info_hours"
	IntentInfoPrice  Intent = "info_price"
	IntentBook       Intent = "book"
	IntentCancel     Intent = "cancel"
	IntentReschedule Intent = "reschedule"
	IntentOther      Intent = "other"
)

// KnownIntents lists every intent the extractor schema enumerates.
var KnownIntents = []Intent{
	IntentGreeting, IntentInfoHours, IntentInfoPrice,
	IntentBook, IntentCancel, IntentReschedule, IntentOther,
}

// Valid reports whether i is in the enumerated intent set.
func (i Intent) Valid() bool {
	for _, k := range KnownIntents {
		if i == k {
			return true
		}
	}
	return false
}

// Extraction is the extractor stage output: intent, confidence and the slots
// newly extracted from this turn.
type Extraction struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Slots      SlotMap `json:"slots"`
}

// ToolCall is one planned tool invocation.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Plan is the planner stage output: an ordered tool-call list plus a hint
// whether the turn needs a user-facing reply regardless of tool results.
type Plan struct {
	ToolCalls            []ToolCall `json:"tool_calls"`
	RequiresUserResponse bool       `json:"requires_user_response"`
}

// MaxPlanCalls is the default cap on tool calls per plan.
const MaxPlanCalls = 3

// CanonicalArgKey returns a stable identity for (tool, args) used for plan
// deduplication: the tool name plus sorted arg keys and their values.
func CanonicalArgKey(call ToolCall) string {
	keys := make([]string, 0, len(call.Args))
	for k := range call.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := call.Tool
	for _, k := range keys {
		out += "|" + k + "=" + stringify(call.Args[k])
	}
	return out
}
