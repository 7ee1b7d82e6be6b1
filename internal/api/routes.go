package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes configures API v1 routes
func (s *Server) setupAPIRoutes(r chi.Router) {
	// Public routes
	r.Get("/health", s.HandleHealth)
	r.Post("/auth/login", s.HandleLogin)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/status", s.HandleStatus)
		r.Get("/punches", s.HandleListPunches)
		r.Get("/punches/latest", s.HandleLatestPunch)
	})
}
