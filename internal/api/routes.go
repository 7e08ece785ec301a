package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Liveness probe stays public regardless of auth settings
	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Auth is optional: an empty key leaves the API open
		if h.apiKey != "" {
			r.Use(AuthMiddleware(h.apiKey))
		}
		r.Get("/status", h.Status)
		r.Get("/runs", h.Runs)
		r.Post("/sync", h.TriggerSync)
	})

	return r
}
