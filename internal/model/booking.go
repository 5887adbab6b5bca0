// Package model defines the core domain types for the booking orchestrator.
package model

import "time"

// Status is the lifecycle state of a Booking.
type Status string

const (
	StatusInitiated      Status = "INITIATED"
	StatusScheduled      Status = "SCHEDULED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusCompleted      Status = "COMPLETED"
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
	StatusCanceled       Status = "CANCELED"
	StatusRefunded       Status = "REFUNDED"
	StatusAbandoned      Status = "ABANDONED"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusRefunded, StatusAbandoned:
		return true
	}
	return false
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusScheduled, StatusPaymentPending, StatusConfirmed,
		StatusCompleted, StatusPaymentFailed, StatusCanceled, StatusRefunded, StatusAbandoned:
		return true
	}
	return false
}

// PaymentStatus tracks the money side of a Booking independently of Status.
type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "not_required"
	PaymentUnpaid      PaymentStatus = "unpaid"
	PaymentPaid        PaymentStatus = "paid"
	PaymentFailed      PaymentStatus = "failed"
	PaymentRefunded    PaymentStatus = "refunded"
)

// ScheduleRef points at the scheduling provider's view of the booked slot.
// It is attached once; a reschedule rewrites the fields in place.
type ScheduleRef struct {
	ProviderEventID    string    `json:"providerEventId"`
	ProviderEventURI   string    `json:"providerEventUri"`
	ProviderInviteeURI string    `json:"providerInviteeUri"`
	StartsAt           time.Time `json:"startsAt"`
	EndsAt             time.Time `json:"endsAt"`
}

// PaymentRef points at the payment provider's checkout session and intent.
type PaymentRef struct {
	ProviderSessionID       string `json:"providerSessionId"`
	ProviderPaymentIntentID string `json:"providerPaymentIntentId,omitempty"`
}

// Booking is the aggregate root driven by the state machine.
type Booking struct {
	ID            string        `json:"id"`
	ClientID      *string       `json:"clientId"`
	BuilderID     string        `json:"builderId"`
	SessionTypeID string        `json:"sessionTypeId"`
	Pathway       string        `json:"pathway,omitempty"`
	ScheduleRef   *ScheduleRef  `json:"scheduleRef"`
	PaymentRef    *PaymentRef   `json:"paymentRef"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	// PaidAt is the pending-payment marker: set as soon as the payment
	// provider reports success, even before the slot is confirmed.
	PaidAt    *time.Time `json:"paidAt,omitempty"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Scheduled reports whether a scheduling event has been applied.
func (b *Booking) Scheduled() bool { return b.ScheduleRef != nil }

// Paid reports whether the payment provider has confirmed a payment.
func (b *Booking) Paid() bool { return b.PaidAt != nil }

// Clone returns a deep copy so callers can mutate without aliasing.
func (b *Booking) Clone() *Booking {
	c := *b
	if b.ClientID != nil {
		id := *b.ClientID
		c.ClientID = &id
	}
	if b.ScheduleRef != nil {
		ref := *b.ScheduleRef
		c.ScheduleRef = &ref
	}
	if b.PaymentRef != nil {
		ref := *b.PaymentRef
		c.PaymentRef = &ref
	}
	if b.PaidAt != nil {
		t := *b.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// SessionType is a catalog entry describing an offered session.
type SessionType struct {
	ID              string `json:"id"`
	BuilderID       string `json:"builderId"`
	Name            string `json:"name"`
	PriceCents      int64  `json:"priceCents"`
	Currency        string `json:"currency"`
	DurationMinutes int    `json:"durationMinutes"`
	RequiresPayment bool   `json:"requiresPayment"`
	RequiresAuth    bool   `json:"requiresAuth"`
	// SchedulingEventTypeURI links the session to the scheduling provider's
	// event type so inbound events can be resolved back to it.
	SchedulingEventTypeURI string `json:"schedulingEventTypeUri,omitempty"`
}

// IdempotencyRecord marks an inbound provider event as applied.
type IdempotencyRecord struct {
	ProviderName   string    `json:"providerName"`
	EventID        string    `json:"eventId"`
	FirstSeenAt    time.Time `json:"firstSeenAt"`
	OutcomeSummary string    `json:"outcomeSummary"`
}

// AuditEntry is one line of a booking's audit trail.
type AuditEntry struct {
	ID           string    `json:"id"`
	BookingID    string    `json:"bookingId"`
	ProviderName string    `json:"providerName"`
	EventID      string    `json:"eventId"`
	FromStatus   Status    `json:"fromStatus"`
	ToStatus     Status    `json:"toStatus"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
