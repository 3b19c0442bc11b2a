package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider issues JSON-mode chat completions against OpenAI or any
// OpenAI-compatible backend (vLLM, Ollama with an OpenAI shim) — the usual
// host for the small extractor/planner models.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider. baseURL is optional and points the
// client at a compatible self-hosted backend.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(config)}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// CompleteJSON implements Provider. The schema name travels in the system
// prompt; the response_format flag forces well-formed JSON.
func (p *OpenAIProvider) CompleteJSON(ctx context.Context, req Request) (json.RawMessage, Usage, error) {
	if p.client == nil {
		return nil, Usage{}, fmt.Errorf("%w: openai client not configured", ErrUnavailable)
	}
	system := req.System
	if req.SchemaName != "" {
		system += "\nRespond with a single JSON object conforming to schema " + req.SchemaName + "."
	}
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, Usage{}, ctx.Err()
		}
		return nil, Usage{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, Usage{}, errors.New("openai returned no choices")
	}
	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	return json.RawMessage(ExtractJSON(resp.Choices[0].Message.Content)), usage, nil
}
