// Package notify hands booking lifecycle events to the external notification
// system. Delivery is best-effort: callers log failures and move on.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EventType names a lifecycle event; it doubles as the broker routing key.
type EventType string

const (
	BookingConfirmed     EventType = "booking.confirmed"
	BookingCanceled      EventType = "booking.canceled"
	BookingRescheduled   EventType = "booking.rescheduled"
	BookingPaymentFailed EventType = "booking.payment_failed"
	BookingRefunded      EventType = "booking.refunded"
)

// Recipient selects who should hear about an event.
type Recipient string

const (
	RecipientClient  Recipient = "client"
	RecipientBuilder Recipient = "builder"
)

// Event is the message published for downstream email/push fan-out.
type Event struct {
	Type       EventType   `json:"type"`
	BookingID  string      `json:"bookingId"`
	BuilderID  string      `json:"builderId"`
	ClientID   *string     `json:"clientId,omitempty"`
	Recipients []Recipient `json:"recipients"`
	Status     string      `json:"status"`
	StartsAt   *time.Time  `json:"startsAt,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// Dispatcher publishes lifecycle events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// LogDispatcher writes events to the log. It is used when no broker is
// configured.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	d.log.Info("booking notification",
		zap.String("type", string(ev.Type)),
		zap.String("booking_id", ev.BookingID),
		zap.Any("recipients", ev.Recipients),
		zap.String("status", ev.Status),
	)
	return nil
}
