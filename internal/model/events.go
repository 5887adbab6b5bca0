package model

import "time"

// Provider names used as the first half of an idempotency key.
const (
	ProviderScheduling = "scheduling"
	ProviderPayment    = "payment"
	ProviderInternal   = "internal"
)

// ScheduleKind classifies a normalized scheduling event.
type ScheduleKind string

const (
	ScheduleCreated     ScheduleKind = "created"
	ScheduleCanceled    ScheduleKind = "canceled"
	ScheduleRescheduled ScheduleKind = "rescheduled"
	// ScheduleIgnored is acknowledged and recorded but never applied.
	ScheduleIgnored ScheduleKind = "ignored"
)

// ScheduleEvent is the provider-agnostic form of a scheduling webhook.
type ScheduleEvent struct {
	EventID            string
	Kind               ScheduleKind
	ProviderEventID    string
	ProviderEventURI   string
	ProviderInviteeURI string
	// PreviousInviteeURI is set on reschedules and names the invitee the
	// new slot replaces.
	PreviousInviteeURI string
	StartTime          time.Time
	EndTime            time.Time
	SessionTypeHint    string
	HostURI            string
	CustomAnswers      map[string]string
	BookingID          string
	Pathway            string
	OccurredAt         time.Time
}

// PaymentKind classifies a normalized payment event.
type PaymentKind string

const (
	PaymentCheckoutCompleted PaymentKind = "checkout_completed"
	PaymentCheckoutExpired   PaymentKind = "checkout_expired"
	PaymentSucceeded         PaymentKind = "payment_succeeded"
	PaymentFailedKind        PaymentKind = "payment_failed"
	PaymentIgnored           PaymentKind = "ignored"
)

// Success reports whether the event confirms money was collected.
func (k PaymentKind) Success() bool {
	return k == PaymentCheckoutCompleted || k == PaymentSucceeded
}

// Failure reports whether the event closes the checkout without payment.
func (k PaymentKind) Failure() bool {
	return k == PaymentCheckoutExpired || k == PaymentFailedKind
}

// PaymentEvent is the provider-agnostic form of a payment webhook.
type PaymentEvent struct {
	EventID                 string
	Kind                    PaymentKind
	ProviderSessionID       string
	ProviderPaymentIntentID string
	BookingID               string
	OccurredAt              time.Time
}
