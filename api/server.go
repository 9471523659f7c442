/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (logger.Middleware, zap)
  3. Recovery:   Panic recovery (500 instead of crash)
  4. Timeout:    Per-request deadline, propagated to lock waits
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/leases/*         Leases, schedules, calendars, ledgers
  /api/payments/*       Payment recording, completion, reversal
  /api/invoices/*       Invoice lifecycle
  /api/admin/*          Time-advance reconciliation
  /health               Liveness and store ping

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/rent-engine/logger"
)

// RouterOptions configures NewRouter. Zero values are usable.
type RouterOptions struct {
	Logger         *zap.Logger
	AllowedOrigins []string
	// RequestTimeout bounds each request; zero disables the deadline.
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(log))
	r.Use(logger.Recovery(log))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/leases", func(r chi.Router) {
			r.Get("/", h.ListLeases)
			r.Post("/", h.CreateLease)
			r.Get("/{id}", h.GetLease)
			r.Patch("/{id}", h.UpdateLease)
			r.Post("/{id}/terminate", h.TerminateLease)
			r.Get("/{id}/calendar", h.GetCalendar)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Post("/{id}/reconcile", h.ReconcileLease)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.RecordPayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/complete", h.CompletePayment)
			r.Post("/{id}/reverse", h.ReversePayment)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/send", h.SendInvoice)
			r.Post("/{id}/cancel", h.CancelInvoice)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", h.ReconcileAll)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
