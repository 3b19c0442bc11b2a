package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
)

func systemPrompt(snap *dialog.Snapshot, m *manifest.Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You plan tool calls for a %s business assistant.\n", snap.Vertical)
	fmt.Fprintf(&b, "Emit at most %d calls, ordered. Only use listed tools and listed args.\n", dialog.MaxPlanCalls)
	b.WriteString("Reference a field of an earlier call's result as \"$prev.<field>\".\n")
	b.WriteString("Set requires_user_response true when the user needs an answer beyond tool output.\n")
	b.WriteString("Emit no calls when the intent needs none (greetings, chit-chat).\n\n")

	b.WriteString("Tools:\n")
	for i := range m.Tools {
		t := &m.Tools[i]
		args := make([]string, 0, len(t.Args))
		for name, spec := range t.Args {
			suffix := ""
			if spec.Required {
				suffix = "*"
			}
			args = append(args, name+suffix+":"+spec.Type)
		}
		fmt.Fprintf(&b, "- %s(%s)\n", t.Name, strings.Join(args, ", "))
	}
	return b.String()
}

func userPrompt(snap *dialog.Snapshot, extraction dialog.Extraction) string {
	merged := snap.Slots.Public().Merge(extraction.Slots)
	slots, _ := json.Marshal(merged)

	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s (confidence %.2f)\n", extraction.Intent, extraction.Confidence)
	fmt.Fprintf(&b, "Slots: %s\n", slots)

	if len(snap.Observations) > 0 {
		b.WriteString("Recent tool results (do not re-request this data):\n")
		for _, obs := range snap.Observations {
			data, _ := json.Marshal(obs.Data)
			fmt.Fprintf(&b, "- %s [%s] %s\n", obs.Tool, obs.Status, data)
		}
	}
	fmt.Fprintf(&b, "User message: %s", snap.UserMessage)
	return b.String()
}
