// Package llm is the JSON-mode completion layer used by the extractor,
// planner, NLG fallback, and legacy path. Providers return raw JSON which is
// validated against a frozen stage schema, with a single bounded repair pass
// on validation failure.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Provider errors. Stages map these onto the pipeline error taxonomy.
var (
	// ErrUnavailable means the backend could not be reached or refused the
	// request; the stage fails and the pipeline degrades.
	ErrUnavailable = errors.New("llm unavailable")

	// ErrSchemaInvalid means the reply did not validate against the stage
	// schema even after the repair pass.
	ErrSchemaInvalid = errors.New("llm output does not match schema")
)

// Request is one JSON-mode completion call.
type Request struct {
	Model       string
	System      string
	User        string
	SchemaName  string
	MaxTokens   int
	Temperature float32
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider issues JSON-mode completions against one LLM backend.
type Provider interface {
	Name() string
	CompleteJSON(ctx context.Context, req Request) (json.RawMessage, Usage, error)
}

// ExtractJSON strips markdown fences and surrounding prose from a model
// reply, returning the first top-level JSON object. Models in JSON mode
// occasionally wrap output anyway.
func ExtractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
