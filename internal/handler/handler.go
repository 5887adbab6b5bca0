// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/apperror"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/service"
)

// BookingHandler holds the HTTP handlers for the client booking API.
type BookingHandler struct {
	svc *service.BookingService
	log *zap.Logger
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(svc *service.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, log: log}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

const maxBodyBytes = 1 << 20 // 1 MB limit

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeServiceError maps a classified service error to a response. Details
// of unclassified failures stay in the log.
func (h *BookingHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "temporarily unavailable, retry later")
		return
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		writeError(w, status, ae.Msg)
		return
	}
	writeError(w, status, err.Error())
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// Initialize handles POST /bookings/initialize
// Creates a booking in INITIATED for a builder's session type.
func (h *BookingHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req model.InitializeBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Initialize(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// GetBooking handles GET /bookings/{id}
// Clients poll this while a booking is PAYMENT_PENDING.
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// ListAudit handles GET /bookings/{id}/audit
func (h *BookingHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if entries == nil {
		entries = []model.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// StartCheckout handles POST /bookings/{id}/checkout
// Opens a payment checkout session and returns its URL.
func (h *BookingHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req model.StartCheckoutRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.StartCheckout(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles POST /bookings/{id}/cancel
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.svc.Cancel)
}

// Refund handles POST /bookings/{id}/refund
// Only a confirmed, paid booking can be refunded.
func (h *BookingHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.svc.Refund)
}

func (h *BookingHandler) command(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, id, reason string) (*model.Booking, error)) {
	var req model.CommandRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	b, err := run(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
