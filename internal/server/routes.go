package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Patch("/", s.updateSession)
			r.Delete("/", s.deleteSession)

			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage) // SSE
			r.Post("/abort", s.abortSession)
			r.Get("/todo", s.getTodo)
			r.Get("/question", s.listQuestions)
			r.Post("/question/{callID}", s.answerQuestion)
		})
	})

	// Notification stream (SSE)
	r.Get("/event", s.events)
}
