package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/streamd/internal/session"
	"github.com/opencode-ai/streamd/pkg/types"
)

// TextPartInput is a text part of a message request.
type TextPartInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendMessageRequest is the body of POST /session/{sessionID}/message.
// The text comes from Content, or else from the text entries of Parts.
type SendMessageRequest struct {
	Content     string          `json:"content,omitempty"`
	Parts       []TextPartInput `json:"parts,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
}

// GetContent returns the message text.
func (r *SendMessageRequest) GetContent() string {
	if r.Content != "" {
		return r.Content
	}
	var texts []string
	for _, part := range r.Parts {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// sendMessage handles POST /session/{sessionID}/message. The response is an
// SSE stream with one "data:" frame per stream event, ending after the
// terminal event. A client that disconnects only stops receiving events; the
// turn still runs to the end and is persisted.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	text := req.GetContent()
	if text == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	ch, err := s.sessions.Send(r.Context(), session.StartRequest{
		SessionID:   sessionID,
		Text:        text,
		Attachments: req.Attachments,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer ch.Close()

	sse.start()
	for {
		ev, ok, err := ch.Next(r.Context())
		if err != nil {
			s.log.Debug().Str("sessionID", sessionID).Msg("Client left the stream")
			return
		}
		if !ok {
			return
		}
		if err := sse.writeData(ev); err != nil {
			return
		}
	}
}

// getMessages handles GET /session/{sessionID}/message
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.sessions.Messages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}
