package api

import (
	"time"

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

	// Rate limiter for DELETE operations: burst of 100, then sustained
	// 10/second.
	deleteRateLimiter := NewDeleteRateLimiter(100, 100*time.Millisecond)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Get("/types", h.ListTypes)
			r.Get("/types/{id}", h.GetType)
			r.Get("/types/{id}/fields", h.TypeFields)
			r.Get("/transaction-types", h.ListTransactionTypes)
			r.Get("/references/{category}", h.ListReferences)

			r.Get("/records", h.ListRecords)
			r.Get("/records/{id}", h.GetRecord)
			// DELETE has additional rate limiting to prevent abuse
			r.With(deleteRateLimiter.Middleware).Delete("/records/{id}", h.DeleteRecord)

			r.Post("/sessions", h.OpenSession)
			r.Get("/sessions/{id}", h.GetSession)
			r.Post("/sessions/{id}/events", h.ApplyEvent)
			r.Get("/sessions/{id}/fields", h.SessionFields)
			r.Get("/sessions/{id}/categories", h.SessionCategories)
			r.Get("/sessions/{id}/counterparties", h.SessionCounterparties)
			r.Post("/sessions/{id}/commit", h.CommitSession)
			r.Post("/sessions/{id}/dismiss", h.DismissSession)
		})
	})

	return r
}
