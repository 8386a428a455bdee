/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for admin tooling

ROUTE GROUPS:
  /api/participant-declarations/*  Declaration submission and voiding
  /api/participants/*              Schedule changes
  /api/duplicates/*                Profile merges
  /api/statements/*                Payment breakdowns
  /api/admin/*                     Operator sweeps
  /api/scenarios/*                 Demo scenario loading (dev only)

SECURITY NOTE:
  No authentication middleware. The calling provider is trusted from the
  X-Provider-ID header; production deployments put token auth in front.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Provider-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/participant-declarations", func(r chi.Router) {
			r.Post("/", h.SubmitDeclaration)
			r.Get("/{id}", h.GetDeclaration)
			r.Put("/{id}/void", h.VoidDeclaration)
		})

		r.Route("/participants", func(r chi.Router) {
			r.Put("/{id}/change-schedule", h.ChangeSchedule)
		})

		r.Route("/duplicates", func(r chi.Router) {
			r.Post("/dedup", h.DedupProfiles)
		})

		r.Route("/statements", func(r chi.Router) {
			r.Get("/{id}/payment-breakdown", h.PaymentBreakdown)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/statements/sweep", h.SweepStatements)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
