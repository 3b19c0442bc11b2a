package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ToolError is a classified tool invocation failure. Permanent errors are
// never retried.
type ToolError struct {
	Kind      string
	Message   string
	Permanent bool
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Error kinds reported in observations.
const (
	KindTransport   = "transport"
	KindUpstream5xx = "upstream_5xx"
	KindRejected    = "rejected"
	KindBadResponse = "bad_response"
	KindTimeout     = "timeout"
	KindCircuitOpen = "circuit_open"
	KindUnresolved  = "unresolved_reference"
	KindDependency  = "dependency_failed"
)

// invokeRequest is the wire shape sent to the workflow engine's
// tool-execution endpoint.
type invokeRequest struct {
	Tool           string         `json:"tool"`
	Args           map[string]any `json:"args"`
	IdempotencyKey string         `json:"idempotency_key"`
	WorkspaceID    string         `json:"workspace_id"`
	ConversationID string         `json:"conversation_id"`
}

type invokeResponse struct {
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

const maxResponseBytes = 1 << 20

// Client invokes tools through the workflow engine's execution endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a tool client. A zero timeout keeps per-call deadlines
// under the broker's control via context only.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Invoke executes one tool call. The returned error, when a *ToolError,
// carries retryability; context errors pass through unwrapped so the caller
// can distinguish timeouts.
func (c *Client) Invoke(ctx context.Context, req invokeRequest) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ToolError{Kind: KindBadResponse, Message: err.Error(), Permanent: true}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/execute", bytes.NewReader(body))
	if err != nil {
		return nil, &ToolError{Kind: KindTransport, Message: err.Error(), Permanent: true}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ToolError{Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ToolError{Kind: KindTransport, Message: err.Error()}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &ToolError{Kind: KindUpstream5xx, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &ToolError{Kind: KindRejected, Message: fmt.Sprintf("status %d", resp.StatusCode), Permanent: true}
	}

	var parsed invokeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ToolError{Kind: KindBadResponse, Message: err.Error()}
	}
	if !parsed.OK {
		kind := KindRejected
		msg := "tool reported failure"
		if parsed.Error != nil {
			if parsed.Error.Kind != "" {
				kind = parsed.Error.Kind
			}
			if parsed.Error.Message != "" {
				msg = parsed.Error.Message
			}
		}
		// The remote executed and said no; retrying will not change that.
		return nil, &ToolError{Kind: kind, Message: msg, Permanent: true}
	}
	if parsed.Data == nil {
		parsed.Data = map[string]any{}
	}
	return parsed.Data, nil
}
