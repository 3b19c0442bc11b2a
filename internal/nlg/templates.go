package nlg

import (
	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
)

// Outcome tags select a template row together with vertical and intent.
type Outcome string

// Outcomes.
const (
	OutcomeOK       Outcome = "ok"
	OutcomeAskUser  Outcome = "ask_user"
	OutcomeHandoff  Outcome = "handoff"
	OutcomeDeny     Outcome = "deny"
	OutcomeNoData   Outcome = "no_data"
	OutcomeDegraded Outcome = "degraded"
)

type templateKey struct {
	vertical dialog.Vertical
	intent   dialog.Intent
	outcome  Outcome
}

// catalogue maps (vertical, intent, outcome) to per-language templates.
// Placeholder names in braces resolve against the merged slot/observation
// view; a template whose placeholders cannot all be resolved is skipped.
// Lookup falls back to the generic vertical row.
var catalogue = map[templateKey]map[string]string{
	// Greetings are vertical-independent.
	{dialog.VerticalGeneric, dialog.IntentGreeting, OutcomeOK}: {
		"es": "¡Hola! Soy el asistente de {business_name}. ¿En qué te ayudo?",
		"en": "Hi! I'm the {business_name} assistant. How can I help?",
	},
	{dialog.VerticalGeneric, dialog.IntentInfoHours, OutcomeOK}: {
		"es": "Nuestro horario de atención es {opening_hours}.",
		"en": "Our opening hours are {opening_hours}.",
	},
	{dialog.VerticalServices, dialog.IntentInfoPrice, OutcomeOK}: {
		"es": "Estos son nuestros servicios: {services}. Rango de precios: {price_range}.",
		"en": "These are our services: {services}. Price range: {price_range}.",
	},
	{dialog.VerticalGastronomy, dialog.IntentInfoPrice, OutcomeOK}: {
		"es": "Nuestro menú: {menu_items}. Rango de precios: {price_range}.",
		"en": "Our menu: {menu_items}. Price range: {price_range}.",
	},
	{dialog.VerticalEcommerce, dialog.IntentInfoPrice, OutcomeOK}: {
		"es": "Encontré estos productos: {products}. Rango de precios: {price_range}.",
		"en": "I found these products: {products}. Price range: {price_range}.",
	},
	{dialog.VerticalServices, dialog.IntentBook, OutcomeOK}: {
		"es": "¡Listo! Reservé {service_type} para el {preferred_date} a las {preferred_time}. Tu código es {booking_id}.",
		"en": "Done! I booked {service_type} for {preferred_date} at {preferred_time}. Your code is {booking_id}.",
	},
	{dialog.VerticalGastronomy, dialog.IntentBook, OutcomeOK}: {
		"es": "¡Listo! Mesa para {party_size} el {preferred_date} a las {preferred_time}. Tu código es {booking_id}.",
		"en": "Done! Table for {party_size} on {preferred_date} at {preferred_time}. Your code is {booking_id}.",
	},
	{dialog.VerticalGeneric, dialog.IntentCancel, OutcomeOK}: {
		"es": "Cancelé tu reserva {booking_id}. ¡Esperamos verte pronto!",
		"en": "I cancelled your booking {booking_id}. Hope to see you soon!",
	},
	// Decision-driven rows, shared across intents via intent fallback.
	{dialog.VerticalGeneric, dialog.IntentOther, OutcomeAskUser}: {
		"es": "Para avanzar necesito un dato más: {missing_slots}. ¿Me lo pasás?",
		"en": "To move forward I still need: {missing_slots}. Could you share that?",
	},
	{dialog.VerticalGeneric, dialog.IntentOther, OutcomeHandoff}: {
		"es": "Te derivo con una persona del equipo, en breve te contactan.",
		"en": "I'm handing you over to a teammate; they'll reach out shortly.",
	},
	{dialog.VerticalGeneric, dialog.IntentOther, OutcomeDeny}: {
		"es": "No puedo avanzar con ese pedido, disculpá.",
		"en": "Sorry, I can't proceed with that request.",
	},
	{dialog.VerticalGeneric, dialog.IntentOther, OutcomeNoData}: {
		"es": "No pude consultar esa información ahora mismo. ¿Probamos de nuevo en un rato?",
		"en": "I couldn't look that up right now. Shall we try again in a bit?",
	},
	{dialog.VerticalGeneric, dialog.IntentOther, OutcomeDegraded}: {
		"es": "Uy, tuve un problema técnico. ¿Podés intentar de nuevo en un momento?",
		"en": "I hit a glitch, can you try again in a moment?",
	},
}

// quickReplies suggests canonical next utterances per intent.
var quickReplies = map[dialog.Intent]map[string][]string{
	dialog.IntentGreeting: {
		"es": {"Quiero reservar", "¿Cuánto sale?", "¿A qué hora abren?"},
		"en": {"I want to book", "How much is it?", "What are your hours?"},
	},
	dialog.IntentInfoPrice: {
		"es": {"Quiero reservar", "¿A qué hora abren?"},
		"en": {"I want to book", "What are your hours?"},
	},
	dialog.IntentInfoHours: {
		"es": {"Quiero reservar", "¿Cuánto sale?"},
		"en": {"I want to book", "How much is it?"},
	},
	dialog.IntentBook: {
		"es": {"Sí, confirmar", "Cambiar horario", "Cancelar"},
		"en": {"Yes, confirm", "Change the time", "Cancel"},
	},
}

// slotLabels humanises slot names in clarification questions.
var slotLabels = map[string]map[string]string{
	"service_type":   {"es": "el servicio", "en": "the service"},
	"preferred_date": {"es": "la fecha", "en": "the date"},
	"preferred_time": {"es": "el horario", "en": "the time"},
	"client_name":    {"es": "tu nombre", "en": "your name"},
	"client_email":   {"es": "tu email", "en": "your email"},
	"party_size":     {"es": "cuántas personas son", "en": "the party size"},
	"booking_id":     {"es": "el código de reserva", "en": "the booking code"},
	"order_id":       {"es": "el número de pedido", "en": "the order number"},
	"listing_id":     {"es": "la propiedad", "en": "the listing"},
}

// lookupTemplate finds the best template: exact vertical first, then the
// generic vertical, each with an intent-specific row before the shared
// IntentOther row for decision outcomes.
func lookupTemplate(vertical dialog.Vertical, intent dialog.Intent, outcome Outcome, lang string) (string, bool) {
	keys := []templateKey{
		{vertical, intent, outcome},
		{dialog.VerticalGeneric, intent, outcome},
		{vertical, dialog.IntentOther, outcome},
		{dialog.VerticalGeneric, dialog.IntentOther, outcome},
	}
	for _, k := range keys {
		if langs, ok := catalogue[k]; ok {
			if tmpl, ok := langs[lang]; ok {
				return tmpl, true
			}
		}
	}
	return "", false
}
