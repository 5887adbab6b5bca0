package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestTimeout bounds every request, including webhook processing.
const requestTimeout = 30 * time.Second

// NewRouter builds the HTTP routes. Webhooks are exempt from rate limiting;
// providers control their own delivery rate.
func NewRouter(bookings *BookingHandler, webhooks *WebhookHandler, limiter *RateLimiter, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(chimiddleware.Timeout(requestTimeout))

	// Health
	r.Get("/health", HealthCheck)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/scheduling", webhooks.SchedulingWebhook)
		r.Post("/payment", webhooks.PaymentWebhook)
	})

	r.Route("/bookings", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Post("/initialize", bookings.Initialize)
		r.Get("/{id}", bookings.GetBooking)
		r.Get("/{id}/audit", bookings.ListAudit)
		r.Post("/{id}/checkout", bookings.StartCheckout)
		r.Post("/{id}/cancel", bookings.Cancel)
		r.Post("/{id}/refund", bookings.Refund)
	})

	return r
}
