package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AnswerQuestionRequest carries the answers to a pending question, in
// question order.
type AnswerQuestionRequest struct {
	Answers []string `json:"answers"`
}

// listQuestions handles GET /session/{sessionID}/question
func (s *Server) listQuestions(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.PendingQuestions(sessionID))
}

// answerQuestion handles POST /session/{sessionID}/question/{callID}
func (s *Server) answerQuestion(w http.ResponseWriter, r *http.Request) {
	var req AnswerQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if len(req.Answers) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "answers required")
		return
	}

	if err := s.sessions.Answer(chi.URLParam(r, "sessionID"), chi.URLParam(r, "callID"), req.Answers); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}
