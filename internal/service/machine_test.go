package service

import (
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/notify"
)

var machineNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type bookingOpt func(*model.Booking)

func withStatus(s model.Status) bookingOpt { return func(b *model.Booking) { b.Status = s } }

func withSlot(ends time.Time) bookingOpt {
	return func(b *model.Booking) {
		b.ScheduleRef = &model.ScheduleRef{ProviderInviteeURI: "inv-1", StartsAt: ends.Add(-time.Hour), EndsAt: ends}
	}
}

func withCheckout(session string) bookingOpt {
	return func(b *model.Booking) { b.PaymentRef = &model.PaymentRef{ProviderSessionID: session} }
}

func withRef(session, intent string) bookingOpt {
	return func(b *model.Booking) {
		b.PaymentRef = &model.PaymentRef{ProviderSessionID: session, ProviderPaymentIntentID: intent}
	}
}

func withPaid() bookingOpt {
	return func(b *model.Booking) {
		t := machineNow.Add(-time.Hour)
		b.PaidAt = &t
	}
}

func withPaymentStatus(p model.PaymentStatus) bookingOpt {
	return func(b *model.Booking) { b.PaymentStatus = p }
}

func booking(opts ...bookingOpt) *model.Booking {
	b := &model.Booking{
		ID:            "b1",
		BuilderID:     "builder-1",
		SessionTypeID: "mentoring",
		Status:        model.StatusInitiated,
		PaymentStatus: model.PaymentUnpaid,
		Version:       4,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func TestTransitionTable(t *testing.T) {
	slot := &model.ScheduleRef{ProviderInviteeURI: "inv-1", StartsAt: machineNow.Add(24 * time.Hour), EndsAt: machineNow.Add(25 * time.Hour)}
	later := &model.ScheduleRef{ProviderInviteeURI: "inv-2", StartsAt: machineNow.Add(48 * time.Hour), EndsAt: machineNow.Add(49 * time.Hour)}
	pay := func(session, intent string) *model.PaymentRef {
		return &model.PaymentRef{ProviderSessionID: session, ProviderPaymentIntentID: intent}
	}

	tests := []struct {
		name       string
		booking    *model.Booking
		session    model.SessionType
		input      Input
		outcome    Outcome
		status     model.Status
		payment    model.PaymentStatus
		notify     []notify.EventType
		wantRefund bool
		wantStray  bool
	}{
		{
			name:    "free session scheduled confirms",
			booking: booking(withPaymentStatus(model.PaymentNotRequired)),
			session: introSession,
			input:   Input{Kind: InputScheduleCreated, Schedule: slot},
			outcome: OutcomeApplied, status: model.StatusConfirmed, payment: model.PaymentNotRequired,
			notify: []notify.EventType{notify.BookingConfirmed},
		},
		{
			name:    "paid session scheduled before payment",
			booking: booking(),
			session: mentoringSession,
			input:   Input{Kind: InputScheduleCreated, Schedule: slot},
			outcome: OutcomeApplied, status: model.StatusScheduled, payment: model.PaymentUnpaid,
		},
		{
			name:    "paid session scheduled with open checkout",
			booking: booking(withCheckout("cs_1")),
			session: mentoringSession,
			input:   Input{Kind: InputScheduleCreated, Schedule: slot},
			outcome: OutcomeApplied, status: model.StatusPaymentPending, payment: model.PaymentUnpaid,
		},
		{
			name:    "paid session scheduled after failed checkout",
			booking: booking(withCheckout("cs_1"), withPaymentStatus(model.PaymentFailed)),
			session: mentoringSession,
			input:   Input{Kind: InputScheduleCreated, Schedule: slot},
			outcome: OutcomeApplied, status: model.StatusScheduled, payment: model.PaymentFailed,
		},
		{
			name:    "paid session scheduled after early payment",
			booking: booking(withCheckout("cs_1"), withPaid()),
			session: mentoringSession,
			input:   Input{Kind: InputScheduleCreated, Schedule: slot},
			outcome: OutcomeApplied, status: model.StatusConfirmed, payment: model.PaymentPaid,
			notify: []notify.EventType{notify.BookingConfirmed},
		},
		{
			name:    "second slot for scheduled booking",
			booking: booking(withStatus(model.StatusScheduled), withSlot(machineNow.Add(time.Hour))),
			session: mentoringSession,
			input:   Input{Kind: InputScheduleCreated, Schedule: later},
			outcome: OutcomeConflict,
		},
		{
			name:    "same slot redelivered under a new id",
			booking: booking(withStatus(model.StatusScheduled), withSlot(machineNow.Add(time.Hour))),
			session: mentoringSession,
			input:   Input{Kind: InputScheduleCreated, Schedule: slot},
			outcome: OutcomeNoop,
		},
		{
			name:    "payment before scheduling holds the marker",
			booking: booking(),
			session: mentoringSession,
			input:   Input{Kind: InputPaymentSucceeded, Payment: pay("cs_1", "pi_1")},
			outcome: OutcomeApplied, status: model.StatusInitiated, payment: model.PaymentUnpaid,
		},
		{
			name:    "payment for pending booking confirms",
			booking: booking(withStatus(model.StatusPaymentPending), withSlot(machineNow.Add(time.Hour)), withCheckout("cs_1")),
			session: mentoringSession,
			input:   Input{Kind: InputPaymentSucceeded, Payment: pay("cs_1", "pi_1")},
			outcome: OutcomeApplied, status: model.StatusConfirmed, payment: model.PaymentPaid,
			notify: []notify.EventType{notify.BookingConfirmed},
		},
		{
			name:    "payment for another checkout",
			booking: booking(withStatus(model.StatusPaymentPending), withSlot(machineNow.Add(time.Hour)), withCheckout("cs_2")),
			session: mentoringSession,
			input:     Input{Kind: InputPaymentSucceeded, Payment: pay("cs_1", "")},
			outcome:   OutcomeConflict,
			wantStray: true,
		},
		{
			name:      "capture on a superseded checkout",
			booking:   booking(withCheckout("cs_2")),
			session:   mentoringSession,
			input:     Input{Kind: InputPaymentSucceeded, Payment: pay("cs_1", "pi_1")},
			outcome:   OutcomeConflict,
			wantStray: true,
		},
		{
			name: "second capture on a paid booking",
			booking: booking(withStatus(model.StatusConfirmed), withSlot(machineNow.Add(time.Hour)),
				withRef("cs_1", "pi_1"), withPaid(), withPaymentStatus(model.PaymentPaid)),
			session:   mentoringSession,
			input:     Input{Kind: InputPaymentSucceeded, Payment: pay("cs_2", "pi_2")},
			outcome:   OutcomeConflict,
			wantStray: true,
		},
		{
			name: "checkout completion after the intent confirmed",
			booking: booking(withStatus(model.StatusConfirmed), withSlot(machineNow.Add(time.Hour)),
				withRef("", "pi_1"), withPaid(), withPaymentStatus(model.PaymentPaid)),
			session: mentoringSession,
			input:   Input{Kind: InputPaymentSucceeded, Payment: pay("cs_1", "pi_1")},
			outcome: OutcomeNoop,
		},
		{
			name:    "intent settles a checkout that has not learned it",
			booking: booking(withStatus(model.StatusPaymentPending), withSlot(machineNow.Add(time.Hour)), withCheckout("cs_1")),
			session: mentoringSession,
			input:   Input{Kind: InputPaymentSucceeded, Payment: pay("", "pi_1")},
			outcome: OutcomeApplied, status: model.StatusConfirmed, payment: model.PaymentPaid,
			notify: []notify.EventType{notify.BookingConfirmed},
		},
		{
			name:    "intent-only failure keeps the checkout open",
			booking: booking(withStatus(model.StatusPaymentPending), withSlot(machineNow.Add(time.Hour)), withCheckout("cs_1")),
			session: mentoringSession,
			input:   Input{Kind: InputPaymentFailed, Payment: pay("", "pi_1")},
			outcome: OutcomeNoop,
		},
		{
			name: "failure of another intent",
			booking: booking(withStatus(model.StatusPaymentPending), withSlot(machineNow.Add(time.Hour)),
				withRef("cs_1", "pi_1")),
			session: mentoringSession,
			input:   Input{Kind: InputPaymentFailed, Payment: pay("", "pi_9")},
			outcome: OutcomeConflict,
		},
		{
			name:    "payment failed while pending",
			booking: booking(withStatus(model.StatusPaymentPending), withSlot(machineNow.Add(time.Hour)), withCheckout("cs_1")),
			session: mentoringSession,
			input:   Input{Kind: InputPaymentFailed, Payment: pay("cs_1", "")},
			outcome: OutcomeApplied, status: model.StatusPaymentFailed, payment: model.PaymentFailed,
			notify: []notify.EventType{notify.BookingPaymentFailed},
		},
		{
			name:    "payment failed before scheduling",
			booking: booking(withCheckout("cs_1")),
			session: mentoringSession,
			input:   Input{Kind: InputPaymentFailed, Payment: pay("cs_1", "")},
			outcome: OutcomeApplied, status: model.StatusInitiated, payment: model.PaymentFailed,
		},
		{
			name:    "checkout from scheduled",
			booking: booking(withStatus(model.StatusScheduled), withSlot(machineNow.Add(time.Hour))),
			session: mentoringSession,
			input:   Input{Kind: InputStartCheckout, Payment: pay("cs_1", "")},
			outcome: OutcomeApplied, status: model.StatusPaymentPending, payment: model.PaymentUnpaid,
		},
		{
			name:    "checkout for confirmed booking",
			booking: booking(withStatus(model.StatusConfirmed), withSlot(machineNow.Add(time.Hour)), withPaid()),
			session: mentoringSession,
			input:   Input{Kind: InputStartCheckout, Payment: pay("cs_9", "")},
			outcome: OutcomeConflict,
		},
		{
			name:    "cancel confirmed paid booking refunds",
			booking: booking(withStatus(model.StatusConfirmed), withSlot(machineNow.Add(time.Hour)), withPaid(), withPaymentStatus(model.PaymentPaid)),
			session: mentoringSession,
			input:   Input{Kind: InputScheduleCanceled},
			outcome: OutcomeApplied, status: model.StatusCanceled, payment: model.PaymentRefunded,
			notify: []notify.EventType{notify.BookingCanceled}, wantRefund: true,
		},
		{
			name:    "cancel completed booking",
			booking: booking(withStatus(model.StatusCompleted)),
			session: mentoringSession,
			input:   Input{Kind: InputCancel},
			outcome: OutcomeConflict,
		},
		{
			name:    "reschedule rewrites slot",
			booking: booking(withStatus(model.StatusConfirmed), withSlot(machineNow.Add(time.Hour)), withPaid(), withPaymentStatus(model.PaymentPaid)),
			session: mentoringSession,
			input:   Input{Kind: InputScheduleRescheduled, Schedule: later},
			outcome: OutcomeApplied, status: model.StatusConfirmed, payment: model.PaymentPaid,
			notify: []notify.EventType{notify.BookingRescheduled},
		},
		{
			name:    "reschedule without slot acts as created",
			booking: booking(withPaymentStatus(model.PaymentNotRequired)),
			session: introSession,
			input:   Input{Kind: InputScheduleRescheduled, Schedule: later},
			outcome: OutcomeApplied, status: model.StatusConfirmed, payment: model.PaymentNotRequired,
			notify: []notify.EventType{notify.BookingConfirmed},
		},
		{
			name:    "reschedule canceled booking",
			booking: booking(withStatus(model.StatusCanceled), withSlot(machineNow.Add(time.Hour))),
			session: mentoringSession,
			input:   Input{Kind: InputScheduleRescheduled, Schedule: later},
			outcome: OutcomeConflict,
		},
		{
			name:    "complete after slot ends",
			booking: booking(withStatus(model.StatusConfirmed), withSlot(machineNow.Add(-time.Minute))),
			session: introSession,
			input:   Input{Kind: InputComplete},
			outcome: OutcomeApplied, status: model.StatusCompleted, payment: model.PaymentUnpaid,
		},
		{
			name:    "complete before slot ends",
			booking: booking(withStatus(model.StatusConfirmed), withSlot(machineNow.Add(time.Minute))),
			session: introSession,
			input:   Input{Kind: InputComplete},
			outcome: OutcomeConflict,
		},
		{
			name:    "abandon untouched booking",
			booking: booking(),
			session: mentoringSession,
			input:   Input{Kind: InputAbandon},
			outcome: OutcomeApplied, status: model.StatusAbandoned, payment: model.PaymentUnpaid,
		},
		{
			name:    "abandon booking with open checkout",
			booking: booking(withCheckout("cs_1")),
			session: mentoringSession,
			input:   Input{Kind: InputAbandon},
			outcome: OutcomeConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.booking.Clone()
			d := Transition(tt.booking, tt.session, tt.input, machineNow)

			if d.Outcome != tt.outcome {
				t.Fatalf("outcome = %s (%s), want %s", d.Outcome, d.Reason, tt.outcome)
			}
			if tt.booking.Status != before.Status || tt.booking.Version != before.Version {
				t.Fatal("Transition mutated its input")
			}
			if (d.StrayCapture != nil) != tt.wantStray {
				t.Fatalf("stray capture = %+v, want %v", d.StrayCapture, tt.wantStray)
			}
			if tt.outcome != OutcomeApplied {
				if d.Booking != nil {
					t.Fatal("non-applied decision carries a booking")
				}
				return
			}
			if d.Booking.Status != tt.status || d.Booking.PaymentStatus != tt.payment {
				t.Fatalf("next = %s/%s, want %s/%s", d.Booking.Status, d.Booking.PaymentStatus, tt.status, tt.payment)
			}
			if !d.Booking.UpdatedAt.Equal(machineNow) {
				t.Errorf("updatedAt = %s", d.Booking.UpdatedAt)
			}
			if len(d.Notifications) != len(tt.notify) {
				t.Fatalf("notifications = %+v, want %v", d.Notifications, tt.notify)
			}
			for i, n := range d.Notifications {
				if n.Type != tt.notify[i] {
					t.Errorf("notification %d = %s, want %s", i, n.Type, tt.notify[i])
				}
			}
			if d.Refund != tt.wantRefund {
				t.Errorf("refund = %v, want %v", d.Refund, tt.wantRefund)
			}
		})
	}
}

// paymentStatus=paid only ever accompanies CONFIRMED or COMPLETED.
func TestPaidImpliesConfirmed(t *testing.T) {
	inputs := []Input{
		{Kind: InputScheduleCreated, Schedule: &model.ScheduleRef{ProviderInviteeURI: "inv-1", StartsAt: machineNow, EndsAt: machineNow.Add(time.Hour)}},
		{Kind: InputPaymentSucceeded, Payment: &model.PaymentRef{ProviderSessionID: "cs_1"}},
		{Kind: InputPaymentFailed, Payment: &model.PaymentRef{ProviderSessionID: "cs_1"}},
		{Kind: InputStartCheckout, Payment: &model.PaymentRef{ProviderSessionID: "cs_1"}},
		{Kind: InputCancel},
		{Kind: InputRefund},
	}
	// Explore every order of the inputs above, two steps deep.
	for _, first := range inputs {
		for _, second := range inputs {
			b := booking()
			for _, in := range []Input{first, second} {
				if d := Transition(b, mentoringSession, in, machineNow); d.Outcome == OutcomeApplied {
					b = d.Booking
				}
				if b.PaymentStatus == model.PaymentPaid && b.Status != model.StatusConfirmed && b.Status != model.StatusCompleted {
					t.Fatalf("%s then %s left %s/%s", first.Kind, second.Kind, b.Status, b.PaymentStatus)
				}
			}
		}
	}
}
