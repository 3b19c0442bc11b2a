package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider issues completions against the Anthropic Messages API.
// Claude has no JSON-mode flag, so the JSON contract is carried by the
// system instruction and enforced by schema validation downstream.
type AnthropicProvider struct {
	client anthropic.Client
	ready  bool
}

// NewAnthropicProvider creates a provider. An empty key yields a provider
// that errors on use, allowing delayed configuration.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	if apiKey == "" {
		return &AnthropicProvider{}
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		ready:  true,
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// CompleteJSON implements Provider.
func (p *AnthropicProvider) CompleteJSON(ctx context.Context, req Request) (json.RawMessage, Usage, error) {
	if !p.ready {
		return nil, Usage{}, fmt.Errorf("%w: anthropic client not configured", ErrUnavailable)
	}
	system := req.System
	if req.SchemaName != "" {
		system += "\nRespond with a single JSON object conforming to schema " + req.SchemaName + ". No prose, no markdown."
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Usage{}, ctx.Err()
		}
		return nil, Usage{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	usage := Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}
	return json.RawMessage(ExtractJSON(text.String())), usage, nil
}
