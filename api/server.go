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
  /api/courts/*         Courts and their slots
  /api/bookings/*       Booking lifecycle
  /api/cancellations/*  Cancellation review
  /api/wallets/*        Wallet balance and audit trail
  /api/sessions/*       Class sessions and escrow registration
  /api/admin/*          Operator triggers

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
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/courts", func(r chi.Router) {
			r.Get("/", h.ListCourts)
			r.Post("/", h.CreateCourt)
			r.Post("/{id}/slots", h.GenerateSlots)
			r.Get("/{id}/slots", h.ListAvailableSlots)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/confirm-payment", h.ConfirmBookingPayment)
			r.Post("/{id}/cancellation", h.RequestCancellation)
		})

		r.Route("/cancellations", func(r chi.Router) {
			r.Get("/pending", h.ListPendingCancellations)
			r.Post("/{id}/approve", h.ApproveCancellation)
			r.Post("/{id}/reject", h.RejectCancellation)
		})

		r.Route("/wallets", func(r chi.Router) {
			r.Get("/{memberID}", h.GetWallet)
			r.Post("/{memberID}/topup", h.TopUpWallet)
			r.Get("/{memberID}/transactions", h.GetWalletTransactions)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/{id}", h.GetSession)
			r.Post("/{id}/register", h.RegisterForSession)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/scheduler/run", h.RunScheduler)
		})
	})

	return r
}
