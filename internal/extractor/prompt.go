package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
)

func systemPrompt(snap *dialog.Snapshot, m *manifest.Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You classify WhatsApp messages sent to %q, a %s business.\n",
		businessName(snap), snap.Vertical)
	b.WriteString("Return intent, confidence (0..1) and any slot values literally present in the message.\n\n")

	b.WriteString("Intents:\n")
	for _, line := range intentGuide {
		b.WriteString("- " + line + "\n")
	}

	b.WriteString("\nSlot names you may fill: ")
	b.WriteString(strings.Join(m.SlotNames(), ", "))
	b.WriteString("\nNever invent slot values. Dates resolve relative to today; keep the user's words when unsure.\n")

	b.WriteString("\nExamples:\n")
	b.WriteString(fewShot)
	return b.String()
}

func userPrompt(snap *dialog.Snapshot) string {
	slots, _ := json.Marshal(snap.Slots.Public())
	return fmt.Sprintf("Current slots: %s\nUser message: %s", slots, snap.UserMessage)
}

func businessName(snap *dialog.Snapshot) string {
	if snap.BusinessName != "" {
		return snap.BusinessName
	}
	return "the business"
}

var intentGuide = []string{
	"greeting: salutations, small talk openers",
	"info_hours: opening hours, days, availability of the business itself",
	"info_price: prices, rates, how much something costs",
	"book: wants to reserve, book, or schedule something",
	"cancel: wants to cancel an existing booking",
	"reschedule: wants to move an existing booking",
	"other: everything else",
}

const fewShot = `User: "hola"
{"intent":"greeting","confidence":0.97,"slots":{}}
User: "cuánto sale la coloración?"
{"intent":"info_price","confidence":0.92,"slots":{"service_type":"Coloración"}}
User: "quiero reservar corte mañana 15hs a nombre de Juan"
{"intent":"book","confidence":0.94,"slots":{"service_type":"Corte","preferred_date":"mañana","preferred_time":"15:00","client_name":"Juan"}}
User: "a qué hora abren?"
{"intent":"info_hours","confidence":0.95,"slots":{}}
`
