package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
)

// Tenancy and correlation headers on the decide endpoint.
const (
	HeaderWorkspaceID    = "X-Workspace-Id"
	HeaderConversationID = "X-Conversation-Id"
	HeaderRequestID      = "X-Request-Id"
	HeaderChannel        = "X-Channel"
)

// decideRequest is the wire shape the workflow engine sends per message.
// Message provenance fields (message_id, from, to, timestamp) are accepted
// and ignored; the decision depends only on text, locale, and state.
type decideRequest struct {
	UserMessage struct {
		Text         string `json:"text"`
		MessageID    string `json:"message_id"`
		From         string `json:"from"`
		To           string `json:"to"`
		Locale       string `json:"locale"`
		TimestampISO string `json:"timestamp_iso"`
	} `json:"user_message"`
	Context struct {
		Platform     string `json:"platform"`
		Channel      string `json:"channel"`
		BusinessName string `json:"business_name"`
		Vertical     string `json:"vertical"`
	} `json:"context"`
	State struct {
		FSMState          string               `json:"fsm_state"`
		Slots             dialog.SlotMap       `json:"slots"`
		LastKObservations []dialog.Observation `json:"last_k_observations"`
	} `json:"state"`
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.Header.Get(HeaderWorkspaceID)

	if s.limiter != nil && workspaceID != "" {
		if ok, retry := s.limiter.Allow(workspaceID); !ok {
			seconds := int(retry.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "workspace over request limit")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	snap, err := s.buildSnapshot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	result := s.pipeline.Decide(r.Context(), snap)

	status := http.StatusOK
	if result.Denied {
		status = http.StatusConflict
	}
	writeJSON(w, status, result.Response)
}

// buildSnapshot maps headers and body onto the immutable request snapshot.
// A missing request id is generated here so every downstream log line and
// idempotency key still correlates.
func (s *Server) buildSnapshot(r *http.Request) (*dialog.Snapshot, error) {
	var req decideRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, fmt.Errorf("malformed request body: %w", err)
	}

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	slots, err := req.State.Slots.Normalize()
	if err != nil {
		return nil, err
	}
	public, internal := dialog.SplitReserved(slots)

	obs := req.State.LastKObservations
	if len(obs) > dialog.DefaultObservationWindow {
		obs = obs[len(obs)-dialog.DefaultObservationWindow:]
	}

	snap := &dialog.Snapshot{
		WorkspaceID:    r.Header.Get(HeaderWorkspaceID),
		ChannelID:      r.Header.Get(HeaderChannel),
		ConversationID: r.Header.Get(HeaderConversationID),
		RequestID:      requestID,
		Vertical:       dialog.Vertical(req.Context.Vertical),
		BusinessName:   req.Context.BusinessName,
		Locale:         req.UserMessage.Locale,
		UserMessage:    req.UserMessage.Text,
		FSMState:       req.State.FSMState,
		Slots:          public,
		Internal:       internal,
		Observations:   obs,
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = message
	writeJSON(w, status, body)
}
