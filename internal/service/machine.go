package service

import (
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/notify"
)

// InputKind names what happened to a booking.
type InputKind string

const (
	InputScheduleCreated     InputKind = "schedule_created"
	InputScheduleRescheduled InputKind = "schedule_rescheduled"
	InputScheduleCanceled    InputKind = "schedule_canceled"
	InputPaymentSucceeded    InputKind = "payment_succeeded"
	InputPaymentFailed       InputKind = "payment_failed"
	InputStartCheckout       InputKind = "start_checkout"
	InputCancel              InputKind = "cancel"
	InputRefund              InputKind = "refund"
	InputComplete            InputKind = "complete"
	InputAbandon             InputKind = "abandon"
)

// Input is one normalized stimulus for Transition.
type Input struct {
	Kind     InputKind
	Schedule *model.ScheduleRef
	Payment  *model.PaymentRef
	// Pathway is copied onto the booking when it has none.
	Pathway string
}

// Outcome classifies a Decision.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeConflict Outcome = "conflict"
	// The last three never come out of Transition; they label ledger rows.
	OutcomeNotFound  Outcome = "not_found"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

// Notification is a post-commit notify effect.
type Notification struct {
	Type       notify.EventType
	Recipients []notify.Recipient
}

// Decision is the result of Transition. Booking is nil unless the outcome
// is OutcomeApplied.
type Decision struct {
	Booking       *model.Booking
	Outcome       Outcome
	Reason        string
	Notifications []Notification
	Refund        bool
	// StrayCapture is money captured through a checkout the booking no
	// longer tracks. It is refunded on its own; the booking is untouched.
	StrayCapture *model.PaymentRef
}

var (
	both       = []notify.Recipient{notify.RecipientClient, notify.RecipientBuilder}
	clientOnly = []notify.Recipient{notify.RecipientClient}
)

func noop(reason string) Decision { return Decision{Outcome: OutcomeNoop, Reason: reason} }

func conflict(format string, args ...any) Decision {
	return Decision{Outcome: OutcomeConflict, Reason: fmt.Sprintf(format, args...)}
}

// Transition computes the next state of cur for in. It never mutates cur.
//
// The reduction runs on two flags: scheduled (ScheduleRef set) and paid
// (PaidAt set). A booking is confirmed exactly when both hold, or when the
// session is free and it is scheduled.
func Transition(cur *model.Booking, st model.SessionType, in Input, now time.Time) Decision {
	b := cur.Clone()
	var d Decision

	switch in.Kind {
	case InputScheduleCreated:
		d = scheduleCreated(b, st, in.Schedule)
	case InputScheduleRescheduled:
		d = scheduleRescheduled(b, st, in.Schedule)
	case InputScheduleCanceled, InputCancel:
		d = cancel(b)
	case InputPaymentSucceeded:
		d = paymentSucceeded(b, st, in.Payment, now)
	case InputPaymentFailed:
		d = paymentFailed(b, in.Payment)
	case InputStartCheckout:
		d = startCheckout(b, st, in.Payment)
	case InputRefund:
		d = refund(b)
	case InputComplete:
		d = complete(b, now)
	case InputAbandon:
		d = abandon(b)
	default:
		d = conflict("unknown input %q", in.Kind)
	}

	if d.Outcome == OutcomeApplied {
		if b.Pathway == "" && in.Pathway != "" {
			b.Pathway = in.Pathway
		}
		b.UpdatedAt = now
		d.Booking = b
	}
	return d
}

func applied(notes ...Notification) Decision {
	return Decision{Outcome: OutcomeApplied, Notifications: notes}
}

func notifyBoth(t notify.EventType) Notification { return Notification{Type: t, Recipients: both} }

func scheduleCreated(b *model.Booking, st model.SessionType, ref *model.ScheduleRef) Decision {
	if ref == nil {
		return conflict("schedule event without slot")
	}
	if b.Scheduled() {
		if b.ScheduleRef.ProviderInviteeURI == ref.ProviderInviteeURI {
			return noop("slot already attached")
		}
		return conflict("booking already scheduled with %s", b.ScheduleRef.ProviderInviteeURI)
	}
	if b.Status != model.StatusInitiated {
		return conflict("cannot schedule a %s booking", b.Status)
	}

	b.ScheduleRef = ref
	return settleScheduled(b, st)
}

// settleScheduled picks the state of a freshly scheduled booking.
func settleScheduled(b *model.Booking, st model.SessionType) Decision {
	switch {
	case !st.RequiresPayment:
		b.Status = model.StatusConfirmed
		return applied(notifyBoth(notify.BookingConfirmed))
	case b.Paid():
		b.Status = model.StatusConfirmed
		b.PaymentStatus = model.PaymentPaid
		return applied(notifyBoth(notify.BookingConfirmed))
	case b.PaymentRef != nil && b.PaymentStatus == model.PaymentUnpaid:
		b.Status = model.StatusPaymentPending
	default:
		b.Status = model.StatusScheduled
	}
	return applied()
}

func scheduleRescheduled(b *model.Booking, st model.SessionType, ref *model.ScheduleRef) Decision {
	if ref == nil {
		return conflict("reschedule event without slot")
	}
	if b.Status.Terminal() {
		return conflict("cannot reschedule a %s booking", b.Status)
	}
	if !b.Scheduled() {
		if b.Status != model.StatusInitiated {
			return conflict("cannot schedule a %s booking", b.Status)
		}
		b.ScheduleRef = ref
		return settleScheduled(b, st)
	}
	if *b.ScheduleRef == *ref {
		return noop("slot unchanged")
	}
	*b.ScheduleRef = *ref
	return applied(notifyBoth(notify.BookingRescheduled))
}

func cancel(b *model.Booking) Decision {
	switch b.Status {
	case model.StatusCanceled:
		return noop("already canceled")
	case model.StatusInitiated, model.StatusScheduled, model.StatusPaymentPending,
		model.StatusPaymentFailed, model.StatusConfirmed:
	default:
		return conflict("cannot cancel a %s booking", b.Status)
	}

	b.Status = model.StatusCanceled
	d := applied(notifyBoth(notify.BookingCanceled))
	if b.Paid() {
		b.PaymentStatus = model.PaymentRefunded
		d.Refund = true
	}
	return d
}

// compareRef reports whether an inbound payment reference is the payment
// recorded on cur. The payment intent decides when both carry one, then the
// checkout session. known is false when they share no identifier.
func compareRef(cur, in *model.PaymentRef) (same, known bool) {
	if cur.ProviderPaymentIntentID != "" && in.ProviderPaymentIntentID != "" {
		return cur.ProviderPaymentIntentID == in.ProviderPaymentIntentID, true
	}
	if cur.ProviderSessionID != "" && in.ProviderSessionID != "" {
		return cur.ProviderSessionID == in.ProviderSessionID, true
	}
	return false, false
}

func refLabel(ref *model.PaymentRef) string {
	if ref.ProviderPaymentIntentID != "" {
		return ref.ProviderPaymentIntentID
	}
	return ref.ProviderSessionID
}

// strayCapture rejects a captured payment that is not the booking's and
// hands it back.
func strayCapture(in *model.PaymentRef, format string, args ...any) Decision {
	d := conflict(format, args...)
	r := *in
	d.StrayCapture = &r
	return d
}

func mergeRef(b *model.Booking, in *model.PaymentRef) {
	if b.PaymentRef == nil {
		b.PaymentRef = &model.PaymentRef{}
	}
	if b.PaymentRef.ProviderSessionID == "" {
		b.PaymentRef.ProviderSessionID = in.ProviderSessionID
	}
	if b.PaymentRef.ProviderPaymentIntentID == "" {
		b.PaymentRef.ProviderPaymentIntentID = in.ProviderPaymentIntentID
	}
}

func paymentSucceeded(b *model.Booking, st model.SessionType, in *model.PaymentRef, now time.Time) Decision {
	if in == nil {
		return conflict("payment event without reference")
	}
	if !st.RequiresPayment {
		return conflict("payment received for free session %s", st.ID)
	}
	// A booking without a recorded checkout, or whose checkout has not
	// learned its intent yet, accepts the capture; the booking id in the
	// provider metadata already tied them.
	if b.PaymentRef != nil {
		same, known := compareRef(b.PaymentRef, in)
		if known && !same {
			if b.Paid() {
				return strayCapture(in, "second capture %s for a booking paid with %s", refLabel(in), refLabel(b.PaymentRef))
			}
			return strayCapture(in, "capture %s on a superseded checkout, open checkout is %s", refLabel(in), refLabel(b.PaymentRef))
		}
	}
	if b.Paid() {
		return noop("payment already recorded")
	}

	switch b.Status {
	case model.StatusInitiated, model.StatusScheduled, model.StatusPaymentPending, model.StatusPaymentFailed:
	case model.StatusCanceled, model.StatusAbandoned:
		// Money arrived for a booking that no longer exists for the user;
		// hand it straight back.
		mergeRef(b, in)
		paidAt := now
		b.PaidAt = &paidAt
		b.PaymentStatus = model.PaymentRefunded
		d := applied()
		d.Refund = true
		return d
	default:
		return conflict("payment received for a %s booking", b.Status)
	}

	mergeRef(b, in)
	paidAt := now
	b.PaidAt = &paidAt
	if !b.Scheduled() {
		return applied()
	}
	b.Status = model.StatusConfirmed
	b.PaymentStatus = model.PaymentPaid
	return applied(notifyBoth(notify.BookingConfirmed))
}

func paymentFailed(b *model.Booking, in *model.PaymentRef) Decision {
	if in == nil {
		return conflict("payment event without reference")
	}
	if b.PaymentRef == nil {
		return conflict("payment failure without an open checkout")
	}
	if same, known := compareRef(b.PaymentRef, in); !same {
		if !known {
			// A declined attempt inside a still open checkout; the session
			// itself reports when it closes.
			return noop("payment failure cannot be tied to the open checkout")
		}
		return conflict("payment failure %s does not match open checkout %s", refLabel(in), refLabel(b.PaymentRef))
	}
	if b.Paid() {
		return noop("payment already recorded")
	}
	if b.PaymentStatus == model.PaymentFailed {
		return noop("payment failure already recorded")
	}

	switch b.Status {
	case model.StatusPaymentPending:
		b.Status = model.StatusPaymentFailed
		b.PaymentStatus = model.PaymentFailed
		return applied(Notification{Type: notify.BookingPaymentFailed, Recipients: clientOnly})
	case model.StatusInitiated:
		b.PaymentStatus = model.PaymentFailed
		return applied()
	}
	return conflict("payment failure for a %s booking", b.Status)
}

func startCheckout(b *model.Booking, st model.SessionType, ref *model.PaymentRef) Decision {
	if !st.RequiresPayment {
		return conflict("session %s does not require payment", st.ID)
	}
	if b.Paid() {
		return conflict("booking is already paid")
	}
	if ref == nil {
		return conflict("checkout without reference")
	}

	switch b.Status {
	case model.StatusScheduled, model.StatusPaymentFailed:
		b.Status = model.StatusPaymentPending
	case model.StatusInitiated:
	default:
		return conflict("cannot start checkout for a %s booking", b.Status)
	}
	r := *ref
	b.PaymentRef = &r
	b.PaymentStatus = model.PaymentUnpaid
	return applied()
}

func refund(b *model.Booking) Decision {
	switch {
	case b.Status == model.StatusRefunded:
		return noop("already refunded")
	case b.Status != model.StatusConfirmed:
		return conflict("cannot refund a %s booking", b.Status)
	case !b.Paid():
		return conflict("booking has no payment to refund")
	}
	b.Status = model.StatusRefunded
	b.PaymentStatus = model.PaymentRefunded
	d := applied(notifyBoth(notify.BookingRefunded))
	d.Refund = true
	return d
}

func complete(b *model.Booking, now time.Time) Decision {
	if b.Status != model.StatusConfirmed || !b.Scheduled() || b.ScheduleRef.EndsAt.After(now) {
		return conflict("booking %s is not due for completion", b.ID)
	}
	b.Status = model.StatusCompleted
	return applied()
}

func abandon(b *model.Booking) Decision {
	if b.Status != model.StatusInitiated || b.Scheduled() || b.PaymentRef != nil || b.Paid() {
		return conflict("booking %s has progressed", b.ID)
	}
	b.Status = model.StatusAbandoned
	return applied()
}
