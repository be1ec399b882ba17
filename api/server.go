/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. RateLimit:  Token bucket on write requests under /api (429 when spent)

ROUTE GROUPS:
  /api/premises, /api/subjects, /api/categories   Reference data
  /api/events/*        Intake, approval, rejection, mirror lookup
  /api/sheets/*        Open, inspect, close
  /api/entries/*       Void, correct, amendment chain
  /api/guides/*        Guide registry
  /api/violations/*    Compliance violations
  /api/compliance/*    Manual detector run
  /api/audit           Audit log
  /api/scenarios/*     Demo scenarios (dev only)

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
	"golang.org/x/time/rate"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	// WritesPerSecond caps POST traffic across all clients; 0 disables it.
	WritesPerSecond float64
	WriteBurst      int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	allowedOrigins := opts.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	var limiter *rate.Limiter
	if opts.WritesPerSecond > 0 {
		burst := opts.WriteBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.WritesPerSecond), burst)
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(writesOnly(RateLimit(limiter)))

		// Reference data
		r.Post("/premises", h.CreatePremise)
		r.Post("/subjects", h.CreateSubject)
		r.Get("/categories", h.ListCategories)

		// Event routes
		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.SubmitEvent)
			r.Get("/{id}", h.GetEvent)
			r.Post("/{id}/approve", h.ApproveEvent)
			r.Post("/{id}/reject", h.RejectEvent)
			r.Get("/{id}/mirror", h.GetMirror)
		})

		// Sheet routes
		r.Route("/sheets", func(r chi.Router) {
			r.Post("/", h.OpenSheet)
			r.Get("/{id}", h.GetSheet)
			r.Get("/{id}/entries", h.ListSheetEntries)
			r.Get("/{id}/balances", h.GetSheetBalances)
			r.Post("/{id}/close", h.CloseSheet)
		})

		// Entry routes
		r.Route("/entries", func(r chi.Router) {
			r.Post("/{id}/void", h.VoidEntry)
			r.Post("/{id}/corrections", h.CorrectEntry)
			r.Get("/{id}/chain", h.GetEntryChain)
		})

		r.Get("/guides/{series}/{number}", h.GetGuide)

		// Compliance routes
		r.Route("/violations", func(r chi.Router) {
			r.Get("/", h.ListViolations)
			r.Post("/{id}/resolve", h.ResolveViolation)
		})
		r.Post("/compliance/scan", h.ScanCompliance)

		r.Get("/audit", h.ListAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
