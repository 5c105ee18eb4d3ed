/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/commissions/*    Commission types, rules, scheduled changes
  /api/leads/*          Lead registration and monthly recompute
  /api/brokers/*        Per-broker tier lookups
  /api/settlements/*    Settlement file processing and confirmation

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Commission configuration routes
		r.Route("/commissions", func(r chi.Router) {
			r.Get("/types", h.ListCommissionTypes)
			r.Post("/types", h.CreateCommissionType)
			r.Get("/rules", h.ListRules)
			r.Post("/rules", h.CreateRule)
			r.Post("/changes", h.CreateChange)
			r.Post("/changes/run", h.RunDueChanges)
		})

		// Lead routes
		r.Route("/leads", func(r chi.Router) {
			r.Post("/", h.CreateLead)
			r.Post("/recompute", h.RecomputeCommissions)
		})

		// Broker routes
		r.Route("/brokers", func(r chi.Router) {
			r.Get("/{id}/tiers", h.GetBrokerTiers)
		})

		// Settlement routes
		r.Route("/settlements", func(r chi.Router) {
			r.Post("/process", h.ProcessSettlementFile)
			r.Post("/confirm", h.ConfirmMatches)
		})
	})

	return r
}
