// Package llmtest provides a scripted Provider for stage tests.
package llmtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nictes1/automatizacion-ai-sub000/internal/llm"
)

// Response is one scripted provider turn.
type Response struct {
	JSON string
	Err  error
}

// Fake replays scripted responses in order and records every request. When
// the script runs out it keeps returning the last response. Safe for
// concurrent use.
type Fake struct {
	mu        sync.Mutex
	script    []Response
	requests  []llm.Request
	callCount int

	// Respond, when set, overrides the script entirely.
	Respond func(req llm.Request) (string, error)
}

// NewFake builds a fake provider from scripted responses.
func NewFake(script ...Response) *Fake {
	return &Fake{script: script}
}

// Script replaces the scripted responses and resets the replay position.
func (f *Fake) Script(script ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = script
	f.callCount = 0
	f.requests = nil
}

// Name implements llm.Provider.
func (f *Fake) Name() string { return "fake" }

// CompleteJSON implements llm.Provider.
func (f *Fake) CompleteJSON(ctx context.Context, req llm.Request) (json.RawMessage, llm.Usage, error) {
	if err := ctx.Err(); err != nil {
		return nil, llm.Usage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.callCount++

	if f.Respond != nil {
		reply, err := f.Respond(req)
		if err != nil {
			return nil, llm.Usage{}, err
		}
		return json.RawMessage(reply), llm.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
	}

	if len(f.script) == 0 {
		return json.RawMessage(`{}`), llm.Usage{}, nil
	}
	idx := f.callCount - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	r := f.script[idx]
	if r.Err != nil {
		return nil, llm.Usage{}, r.Err
	}
	return json.RawMessage(r.JSON), llm.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

// Calls returns how many completions were requested.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// Requests returns a copy of the recorded requests.
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.requests))
	copy(out, f.requests)
	return out
}
