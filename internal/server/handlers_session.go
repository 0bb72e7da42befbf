package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/streamd/internal/session"
	"github.com/opencode-ai/streamd/pkg/types"
)

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Directory  string `json:"directory,omitempty"`
	Title      string `json:"title,omitempty"`
	ProviderID string `json:"providerID,omitempty"`
	ModelID    string `json:"modelID,omitempty"`
}

// UpdateSessionRequest lists the session fields PATCH may change.
type UpdateSessionRequest struct {
	Title *string         `json:"title,omitempty"`
	Model *types.ModelRef `json:"model,omitempty"`
}

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session. An empty body creates a session with
// all defaults.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if (req.ProviderID == "") != (req.ModelID == "") {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "providerID and modelID must be set together")
		return
	}

	sess, err := s.sessions.Create(r.Context(), session.CreateParams{
		Directory:  req.Directory,
		Title:      req.Title,
		ProviderID: req.ProviderID,
		ModelID:    req.ModelID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// updateSession handles PATCH /session/{sessionID}
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Model != nil && (req.Model.ProviderID == "" || req.Model.ModelID == "") {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "model needs providerID and modelID")
		return
	}

	sess, err := s.sessions.Update(r.Context(), chi.URLParam(r, "sessionID"), session.UpdateParams{
		Title: req.Title,
		Model: req.Model,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// deleteSession handles DELETE /session/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// abortSession handles POST /session/{sessionID}/abort. It reports whether a
// stream was running.
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": s.sessions.Abort(sessionID)})
}

// getTodo handles GET /session/{sessionID}/todo
func (s *Server) getTodo(w http.ResponseWriter, r *http.Request) {
	todos, err := s.sessions.Todos(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if todos == nil {
		todos = []types.Todo{}
	}
	writeJSON(w, http.StatusOK, todos)
}
