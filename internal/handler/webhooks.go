package handler

import (
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/apperror"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/normalize"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/service"
)

// WebhookHandler receives provider webhooks. Verification happens here;
// nothing unverified reaches the service.
type WebhookHandler struct {
	svc        *service.BookingService
	scheduling *normalize.SchedulingNormalizer
	payments   *normalize.PaymentNormalizer
	log        *zap.Logger

	paymentFailures atomic.Int64
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(
	svc *service.BookingService,
	scheduling *normalize.SchedulingNormalizer,
	payments *normalize.PaymentNormalizer,
	log *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{svc: svc, scheduling: scheduling, payments: payments, log: log}
}

// PaymentFailures returns how many verified payment events were acknowledged
// without being applied since start.
func (h *WebhookHandler) PaymentFailures() int64 {
	return h.paymentFailures.Load()
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// acknowledged reports whether err is a per-event anomaly that was already
// recorded and must not be redelivered.
func acknowledged(err error) bool {
	return apperror.Is(err, apperror.NotFound) || apperror.Is(err, apperror.Conflict)
}

// SchedulingWebhook handles POST /webhooks/scheduling
//
// Responds 200 {processed:true} once the event is applied, recorded as an
// anomaly or found in the ledger; 401 when the signature does not verify;
// 400 for malformed deliveries; 503 when the provider should redeliver.
func (h *WebhookHandler) SchedulingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	if err := h.scheduling.Verify(r.Header, body); err != nil {
		h.log.Warn("scheduling webhook rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	eventID, err := h.scheduling.EventID(r.Header)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := h.log.With(zap.String("provider", model.ProviderScheduling), zap.String("event_id", eventID))

	seen, err := h.svc.Seen(r.Context(), model.ProviderScheduling, eventID)
	if err != nil {
		log.Error("ledger lookup failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry later")
		return
	}
	if seen {
		log.Debug("duplicate delivery acknowledged")
		writeJSON(w, http.StatusOK, model.SchedulingAck{Processed: true})
		return
	}

	ev, err := h.scheduling.Normalize(eventID, body)
	if err != nil {
		log.Warn("scheduling payload rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err = h.svc.HandleScheduleEvent(r.Context(), ev)
	switch {
	case err == nil, acknowledged(err):
		writeJSON(w, http.StatusOK, model.SchedulingAck{Processed: true})
	case apperror.Is(err, apperror.Validation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error("scheduling event failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry later")
	}
}

// PaymentWebhook handles POST /webhooks/payment
//
// Once the signature verifies, the response is always 200
// {received:true, success:bool}: the payment provider retries aggressively
// and then disables endpoints, so internal failures are surfaced through
// an error log carrying operator_alert instead of a non-2xx status.
// Before verification: 400 for a missing signature header or an
// unconfigured secret, 401 for a signature that does not verify.
func (h *WebhookHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	ev, err := h.payments.Parse(body, r.Header.Get(normalize.HeaderPaymentSignature))
	switch {
	case errors.Is(err, normalize.ErrNoSecret):
		h.log.Error("payment webhook secret not configured", zap.Bool("operator_alert", true))
		writeError(w, http.StatusBadRequest, "webhook not configured")
		return
	case errors.Is(err, normalize.ErrMissingSignature):
		writeError(w, http.StatusBadRequest, "missing signature")
		return
	case apperror.Is(err, apperror.Authentication):
		h.log.Warn("payment webhook rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	case err != nil:
		h.log.Error("payment event could not be mapped",
			zap.Bool("operator_alert", true),
			zap.Int64("failures_total", h.paymentFailures.Add(1)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, model.PaymentAck{Received: true, Success: false})
		return
	}

	log := h.log.With(zap.String("provider", model.ProviderPayment), zap.String("event_id", ev.EventID))
	_, err = h.svc.HandlePaymentEvent(r.Context(), ev)
	switch {
	case err == nil, acknowledged(err):
		writeJSON(w, http.StatusOK, model.PaymentAck{Received: true, Success: true})
	default:
		log.Error("payment event failed",
			zap.Bool("operator_alert", true),
			zap.Int64("failures_total", h.paymentFailures.Add(1)),
			zap.String("kind", string(ev.Kind)),
			zap.String("booking_id", ev.BookingID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, model.PaymentAck{Received: true, Success: false})
	}
}
