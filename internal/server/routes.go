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
			r.Delete("/", s.deleteSession)

			r.Post("/message", s.sendMessage) // SSE response
			r.Get("/message", s.getTranscript)
			r.Post("/abort", s.abortSession)
			r.Get("/ws", s.chatSocket)
		})
	})

	// Event streaming (SSE)
	r.Get("/event", s.events)
}
