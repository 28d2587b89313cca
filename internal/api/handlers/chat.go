package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/ragchat/internal/auth"
	"github.com/nikhilbhutani/ragchat/internal/rag"
)

// Chatter is the conversational QA path.
type Chatter interface {
	Send(ctx context.Context, sessionID, message string) (*rag.Response, error)
	End(ctx context.Context, sessionID string) error
}

type ChatHandler struct {
	chat Chatter
}

func NewChatHandler(chat Chatter) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response  string       `json:"response"`
	SessionID string       `json:"session_id"`
	Sources   []rag.Source `json:"sources"`
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message required"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := h.chat.Send(r.Context(), sessionKey(r.Context(), req.SessionID), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	sources := resp.Sources
	if sources == nil {
		sources = []rag.Source{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Response:  resp.Answer,
		SessionID: req.SessionID,
		Sources:   sources,
	})
}

// sessionKey scopes a client-chosen session id to the authenticated
// subject so one user cannot read another's history.
func sessionKey(ctx context.Context, sessionID string) string {
	if sub := auth.Subject(ctx); sub != "" {
		return sub + ":" + sessionID
	}
	return sessionID
}
