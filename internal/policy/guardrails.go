package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
)

// Guardrails are per-vertical hard limits checked before execution.
type Guardrails struct {
	// MaxAmount caps any monetary argument (amount, price, max_price).
	// Zero disables the check.
	MaxAmount float64 `yaml:"max_amount"`

	// BookingOpen/BookingClose bound the preferred_time argument of
	// side-effecting calls, "HH:MM" 24h. Empty disables the check.
	BookingOpen  string `yaml:"booking_open"`
	BookingClose string `yaml:"booking_close"`
}

// DefaultGuardrails returns the builtin limits.
func DefaultGuardrails() map[dialog.Vertical]Guardrails {
	base := Guardrails{MaxAmount: 1000000, BookingOpen: "08:00", BookingClose: "21:00"}
	return map[dialog.Vertical]Guardrails{
		dialog.VerticalServices:   base,
		dialog.VerticalGastronomy: base,
		dialog.VerticalRealEstate: {MaxAmount: 0, BookingOpen: "08:00", BookingClose: "20:00"},
		dialog.VerticalEcommerce:  {MaxAmount: 1000000},
		dialog.VerticalGeneric:    {},
	}
}

var monetaryArgs = []string{"amount", "price", "max_price", "budget"}

// check returns a violation tag or "".
func (g Guardrails) check(calls []dialog.ToolCall, m *manifest.Manifest) string {
	for _, call := range calls {
		if g.MaxAmount > 0 {
			for _, name := range monetaryArgs {
				if v, ok := call.Args[name]; ok {
					if amount, ok := toFloat(v); ok && amount > g.MaxAmount {
						return fmt.Sprintf("amount_limit:%s", call.Tool)
					}
				}
			}
		}
		if g.BookingOpen != "" && g.BookingClose != "" {
			tool, ok := m.Tool(call.Tool)
			if !ok || !tool.SideEffect {
				continue
			}
			if raw, ok := call.Args["preferred_time"].(string); ok {
				minutes, err := parseClock(raw)
				if err != nil {
					continue
				}
				open, err1 := parseClock(g.BookingOpen)
				close, err2 := parseClock(g.BookingClose)
				if err1 != nil || err2 != nil {
					continue
				}
				if minutes < open || minutes >= close {
					return fmt.Sprintf("outside_hours:%s", call.Tool)
				}
			}
		}
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", s)
	}
	mi, err := strconv.Atoi(parts[1])
	if err != nil || mi < 0 || mi > 59 {
		return 0, fmt.Errorf("bad minute %q", s)
	}
	return h*60 + mi, nil
}
