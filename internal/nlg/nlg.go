// Package nlg builds the user-facing assistant text. Deterministic templates
// cover the common shapes (greeting, price quote, hours, confirmations,
// clarification questions); an LLM fallback with strict length caps handles
// everything the catalogue cannot express.
package nlg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/language"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/llm"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
)

// Length caps for generated text, by conversational context.
const (
	CapGreeting = 80
	CapInfo     = 200
	CapDefault  = 400
)

var supportedLangs = []language.Tag{language.Spanish, language.English}

var langMatcher = language.NewMatcher(supportedLangs)

// Input is everything compose needs for one turn.
type Input struct {
	Vertical     dialog.Vertical
	Locale       string
	BusinessName string
	Intent       dialog.Intent
	Outcome      Outcome
	MissingSlots []string
	Slots        dialog.SlotMap
	Observations []dialog.Observation
	UserMessage  string
}

// Composer renders assistant replies. provider may be nil, which disables the
// LLM fallback and leaves only templates and the stock degraded reply.
type Composer struct {
	provider llm.Provider
	model    string
	logger   *observability.Logger
	tracer   *observability.Tracer
}

// New creates a composer.
func New(provider llm.Provider, model string, logger *observability.Logger, tracer *observability.Tracer) *Composer {
	return &Composer{provider: provider, model: model, logger: logger, tracer: tracer}
}

// Compose produces the assistant message. It never fails: when neither a
// template nor the LLM can serve, it falls back to a stock reply.
func (c *Composer) Compose(ctx context.Context, in Input) dialog.Assistant {
	ctx, span := c.tracer.Start(ctx, "stage.nlg",
		attribute.String("intent", string(in.Intent)),
		attribute.String("outcome", string(in.Outcome)),
	)
	defer span.End()

	lang := matchLang(in.Locale)
	view := buildView(in, lang)
	limit := capFor(in.Intent)

	if tmpl, ok := lookupTemplate(in.Vertical, in.Intent, in.Outcome, lang); ok {
		if text, ok := renderTemplate(tmpl, view); ok {
			return assistant(truncate(text, limit), in.Intent, in.Outcome, lang)
		}
	}

	if c.provider != nil {
		if text, err := c.generate(ctx, in, lang, limit); err == nil {
			return assistant(text, in.Intent, in.Outcome, lang)
		} else {
			c.logger.Warn(ctx, "nlg generation failed, using stock reply", "error", err.Error())
		}
	}

	return Stock(OutcomeNoData, in.Locale)
}

// Stock returns the canned reply for an outcome, used when nothing richer
// can be produced. Degradation paths call this directly.
func Stock(outcome Outcome, locale string) dialog.Assistant {
	lang := matchLang(locale)
	tmpl, ok := lookupTemplate(dialog.VerticalGeneric, dialog.IntentOther, outcome, lang)
	if !ok {
		tmpl, _ = lookupTemplate(dialog.VerticalGeneric, dialog.IntentOther, OutcomeDegraded, lang)
	}
	text, _ := renderTemplate(tmpl, nil)
	return dialog.Assistant{Text: text}
}

// generate is the capped LLM fallback.
func (c *Composer) generate(ctx context.Context, in Input, lang string, limit int) (string, error) {
	slots, _ := json.Marshal(in.Slots.Public())

	var obs strings.Builder
	for _, o := range in.Observations {
		data, _ := json.Marshal(o.Data)
		fmt.Fprintf(&obs, "- %s [%s] %s\n", o.Tool, o.Status, data)
	}

	system := fmt.Sprintf(
		"You write WhatsApp replies for %s, a %s business. Answer in language %q.\n"+
			"Never invent facts, prices, or availability not present in the data below.\n"+
			"No medical or legal advice. At most %d characters.\n"+
			`Return JSON: {"text": "<reply>"}.`,
		in.BusinessName, in.Vertical, lang, limit,
	)
	user := fmt.Sprintf("Intent: %s\nSlots: %s\nTool results:\n%s\nUser message: %s",
		in.Intent, slots, obs.String(), in.UserMessage)

	raw, _, err := llm.CompleteValidated(ctx, c.provider, llm.Request{
		Model:      c.model,
		System:     system,
		User:       user,
		SchemaName: llm.SchemaNLGV1,
		MaxTokens:  256,
	})
	if err != nil {
		return "", err
	}
	var reply struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", err
	}
	return truncate(strings.TrimSpace(reply.Text), limit), nil
}

func assistant(text string, intent dialog.Intent, outcome Outcome, lang string) dialog.Assistant {
	a := dialog.Assistant{Text: text}
	if outcome == OutcomeOK {
		if langs, ok := quickReplies[intent]; ok {
			a.SuggestedReplies = langs[lang]
		}
	}
	return a
}

// buildView merges slots and ok-observation data into the placeholder
// namespace, later observations winning, plus the synthetic business_name and
// missing_slots entries.
func buildView(in Input, lang string) map[string]string {
	view := map[string]string{}
	for k, v := range in.Slots.Public() {
		view[k] = stringifyValue(v)
	}
	for _, o := range in.Observations {
		if !o.OK() {
			continue
		}
		for k, v := range o.Data {
			view[k] = stringifyValue(v)
		}
	}
	if in.BusinessName != "" {
		view["business_name"] = in.BusinessName
	}
	if len(in.MissingSlots) > 0 {
		labels := make([]string, 0, len(in.MissingSlots))
		for _, s := range in.MissingSlots {
			labels = append(labels, slotLabel(s, lang))
		}
		view["missing_slots"] = strings.Join(labels, ", ")
	}
	return view
}

func slotLabel(slot, lang string) string {
	if langs, ok := slotLabels[slot]; ok {
		if label, ok := langs[lang]; ok {
			return label
		}
	}
	return slot
}

func stringifyValue(v any) string {
	if list, ok := v.([]any); ok {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, dialog.Stringify(item))
		}
		return strings.Join(parts, ", ")
	}
	return dialog.Stringify(v)
}

// renderTemplate substitutes {name} placeholders from view. Returns false
// when any placeholder is unresolved so the caller can fall back.
func renderTemplate(tmpl string, view map[string]string) (string, bool) {
	var b strings.Builder
	rest := tmpl
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), true
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			b.WriteString(rest)
			return b.String(), true
		}
		b.WriteString(rest[:open])
		name := rest[open+1 : open+closing]
		v, ok := view[name]
		if !ok || v == "" {
			return "", false
		}
		b.WriteString(v)
		rest = rest[open+closing+1:]
	}
}

// matchLang maps a BCP-47 locale to a catalogue language, defaulting to
// Spanish for unparseable input.
func matchLang(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return "es"
	}
	_, idx, _ := langMatcher.Match(tag)
	if supportedLangs[idx] == language.English {
		return "en"
	}
	return "es"
}

func capFor(intent dialog.Intent) int {
	switch intent {
	case dialog.IntentGreeting:
		return CapGreeting
	case dialog.IntentInfoHours, dialog.IntentInfoPrice:
		return CapInfo
	default:
		return CapDefault
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
