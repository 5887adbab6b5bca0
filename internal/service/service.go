// Package service implements the booking lifecycle: validation, correlation
// of provider events, the state machine transaction and the post-commit
// side effects.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/apperror"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/catalog"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/notify"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/payments"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/repository"
)

const (
	defaultMaxAttempts  = 5
	defaultSlotLookback = 6 * time.Hour
	defaultAbandonAfter = 24 * time.Hour
	defaultSweepBatch   = 200
	retryBackoff        = 20 * time.Millisecond
	// clockSkew widens the slot-matching window past the event time.
	clockSkew = time.Minute
)

// Refunder schedules refund compensation for a booking.
type Refunder interface {
	EnqueueRefund(ctx context.Context, bookingID string) error
	// EnqueueStrayRefund hands back a capture that is not the booking's
	// recorded payment.
	EnqueueStrayRefund(ctx context.Context, bookingID string, ref model.PaymentRef) error
}

// Options tunes a BookingService. Zero values select the defaults.
type Options struct {
	MaxAttempts  int
	SlotLookback time.Duration
	AbandonAfter time.Duration
	SweepBatch   int
}

// BookingService orchestrates booking operations.
type BookingService struct {
	store    repository.Store
	catalog  catalog.Catalog
	gateway  payments.Gateway
	notifier notify.Dispatcher
	refunds  Refunder
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewBookingService constructs a BookingService with its dependencies.
func NewBookingService(
	store repository.Store,
	cat catalog.Catalog,
	gateway payments.Gateway,
	notifier notify.Dispatcher,
	refunds Refunder,
	log *zap.Logger,
	opts Options,
) *BookingService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.SlotLookback <= 0 {
		opts.SlotLookback = defaultSlotLookback
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = defaultAbandonAfter
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = defaultSweepBatch
	}
	return &BookingService{
		store:    store,
		catalog:  cat,
		gateway:  gateway,
		notifier: notifier,
		refunds:  refunds,
		log:      log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Result reports what an inbound event did.
type Result struct {
	BookingID string
	Outcome   Outcome
	Status    model.Status
}

// Initialize creates a booking in INITIATED.
func (s *BookingService) Initialize(ctx context.Context, req model.InitializeBookingRequest) (*model.InitializeBookingResponse, error) {
	req.BuilderID = strings.TrimSpace(req.BuilderID)
	req.SessionTypeID = strings.TrimSpace(req.SessionTypeID)
	if req.BuilderID == "" {
		return nil, apperror.Validationf("builderId is required")
	}
	if req.SessionTypeID == "" {
		return nil, apperror.Validationf("sessionTypeId is required")
	}
	if req.ClientID != nil && strings.TrimSpace(*req.ClientID) == "" {
		req.ClientID = nil
	}

	st, err := s.catalog.Get(ctx, req.SessionTypeID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, apperror.Validationf("unknown session type %q", req.SessionTypeID)
	}
	if err != nil {
		return nil, apperror.Wrap(err, "load session type")
	}
	if st.BuilderID != req.BuilderID {
		return nil, apperror.Validationf("session type %q is not offered by builder %q", st.ID, req.BuilderID)
	}
	if st.RequiresAuth && req.ClientID == nil {
		return nil, apperror.Validationf("session type %q requires a signed-in client", st.ID)
	}

	now := s.now()
	b := &model.Booking{
		ID:            uuid.NewString(),
		ClientID:      req.ClientID,
		BuilderID:     req.BuilderID,
		SessionTypeID: st.ID,
		Pathway:       strings.TrimSpace(req.Pathway),
		Status:        model.StatusInitiated,
		PaymentStatus: model.PaymentNotRequired,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if st.RequiresPayment {
		b.PaymentStatus = model.PaymentUnpaid
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, model.AuditEntry{
			BookingID:    b.ID,
			ProviderName: model.ProviderInternal,
			EventID:      "initialize",
			ToStatus:     b.Status,
			Outcome:      string(OutcomeApplied),
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, apperror.Wrap(err, "create booking")
	}

	s.log.Info("booking initialized",
		zap.String("booking_id", b.ID),
		zap.String("builder_id", b.BuilderID),
		zap.String("session_type_id", b.SessionTypeID),
		zap.Bool("anonymous", b.ClientID == nil),
	)
	return &model.InitializeBookingResponse{BookingID: b.ID, RequiresPayment: st.RequiresPayment}, nil
}

// Get returns a booking by id.
func (s *BookingService) Get(ctx context.Context, id string) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.NotFoundf("booking %s not found", id)
	}
	if err != nil {
		return nil, apperror.Wrap(err, "get booking")
	}
	return b, nil
}

// Audit returns the audit trail of a booking.
func (s *BookingService) Audit(ctx context.Context, id string) ([]model.AuditEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListAudit(ctx, id)
	if err != nil {
		return nil, apperror.Wrap(err, "list audit")
	}
	return entries, nil
}

// Seen reports whether a provider event is already in the ledger.
func (s *BookingService) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	seen, err := s.store.HasSeen(ctx, provider, eventID)
	if err != nil {
		return false, apperror.Wrap(err, "check ledger")
	}
	return seen, nil
}

// StartCheckout opens a checkout session for a paid booking and records it.
func (s *BookingService) StartCheckout(ctx context.Context, id string, req model.StartCheckoutRequest) (*model.CheckoutResponse, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.sessionType(ctx, b)
	if err != nil {
		return nil, err
	}
	// Reject early so no checkout session is opened for a booking that
	// cannot take one.
	check := Transition(b, *st, Input{Kind: InputStartCheckout, Payment: &model.PaymentRef{}}, s.now())
	if check.Outcome == OutcomeConflict {
		return nil, apperror.Conflictf("%s", check.Reason)
	}

	clientID := b.ClientID
	if clientID == nil {
		clientID = req.ClientID
	}
	co, err := s.gateway.CreateCheckout(ctx, payments.CheckoutRequest{BookingID: b.ID, ClientID: clientID, SessionType: *st})
	if err != nil {
		return nil, apperror.Wrap(err, "create checkout")
	}

	in := Input{
		Kind:    InputStartCheckout,
		Payment: &model.PaymentRef{ProviderSessionID: co.SessionID, ProviderPaymentIntentID: co.PaymentIntentID},
	}
	updated, err := s.runCommand(ctx, id, in, "checkout "+co.SessionID)
	if err != nil {
		return nil, err
	}
	return &model.CheckoutResponse{
		BookingID:         updated.ID,
		CheckoutURL:       co.URL,
		ProviderSessionID: co.SessionID,
		Status:            updated.Status,
	}, nil
}

// Cancel applies an explicit cancel command.
func (s *BookingService) Cancel(ctx context.Context, id, reason string) (*model.Booking, error) {
	return s.runCommand(ctx, id, Input{Kind: InputCancel}, reason)
}

// Refund applies an explicit refund command to a confirmed, paid booking.
func (s *BookingService) Refund(ctx context.Context, id, reason string) (*model.Booking, error) {
	return s.runCommand(ctx, id, Input{Kind: InputRefund}, reason)
}

// HandleScheduleEvent applies a verified, normalized scheduling event.
// NotFound and Conflict errors are anomalies that were already recorded;
// callers acknowledge them.
func (s *BookingService) HandleScheduleEvent(ctx context.Context, ev *model.ScheduleEvent) (Result, error) {
	job := inbound{provider: model.ProviderScheduling, eventID: ev.EventID, kind: string(ev.Kind)}
	if ev.Kind == model.ScheduleIgnored {
		return s.ignore(ctx, job)
	}

	job.input = Input{Pathway: ev.Pathway}
	switch ev.Kind {
	case model.ScheduleCreated:
		job.input.Kind = InputScheduleCreated
	case model.ScheduleRescheduled:
		job.input.Kind = InputScheduleRescheduled
	case model.ScheduleCanceled:
		job.input.Kind = InputScheduleCanceled
	default:
		return Result{}, apperror.Validationf("unsupported scheduling event kind %q", ev.Kind)
	}
	if ev.Kind != model.ScheduleCanceled {
		job.input.Schedule = &model.ScheduleRef{
			ProviderEventID:    ev.ProviderEventID,
			ProviderEventURI:   ev.ProviderEventURI,
			ProviderInviteeURI: ev.ProviderInviteeURI,
			StartsAt:           ev.StartTime,
			EndsAt:             ev.EndTime,
		}
	}
	job.locate = func(ctx context.Context, tx repository.Tx) (*model.Booking, error) {
		return s.locateSchedule(ctx, tx, ev)
	}
	return s.process(ctx, job)
}

// HandlePaymentEvent applies a verified, normalized payment event.
func (s *BookingService) HandlePaymentEvent(ctx context.Context, ev *model.PaymentEvent) (Result, error) {
	job := inbound{provider: model.ProviderPayment, eventID: ev.EventID, kind: string(ev.Kind)}
	switch {
	case ev.Kind.Success():
		job.input.Kind = InputPaymentSucceeded
	case ev.Kind.Failure():
		job.input.Kind = InputPaymentFailed
	default:
		return s.ignore(ctx, job)
	}
	job.input.Payment = &model.PaymentRef{
		ProviderSessionID:       ev.ProviderSessionID,
		ProviderPaymentIntentID: ev.ProviderPaymentIntentID,
	}
	job.locate = func(ctx context.Context, tx repository.Tx) (*model.Booking, error) {
		return locatePayment(ctx, tx, ev)
	}
	return s.process(ctx, job)
}

// inbound binds a ledger key to the work of one provider event.
type inbound struct {
	provider string
	eventID  string
	kind     string
	input    Input
	locate   func(ctx context.Context, tx repository.Tx) (*model.Booking, error)
}

// process runs the ledger check, the state machine transaction and the
// post-commit effects for one provider event.
func (s *BookingService) process(ctx context.Context, job inbound) (Result, error) {
	log := s.log.With(
		zap.String("provider", job.provider),
		zap.String("event_id", job.eventID),
		zap.String("kind", job.kind),
	)

	seen, err := s.store.HasSeen(ctx, job.provider, job.eventID)
	if err != nil {
		return Result{}, apperror.Wrap(err, "check ledger")
	}
	if seen {
		log.Info("duplicate delivery")
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	var (
		res     Result
		dec     Decision
		anomaly error
	)
	err = s.retry(ctx, func() error {
		res, dec, anomaly = Result{}, Decision{}, nil
		return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			b, err := job.locate(ctx, tx)
			if errors.Is(err, repository.ErrNotFound) {
				res.Outcome = OutcomeNotFound
				anomaly = apperror.NotFoundf("no booking matches %s event %s", job.provider, job.eventID)
				return s.recordEvent(ctx, tx, job.provider, job.eventID, OutcomeNotFound)
			}
			if err != nil {
				return fmt.Errorf("locate booking: %w", err)
			}

			dec, err = s.decide(ctx, b, job.input)
			if err != nil {
				return err
			}
			if err := s.commit(ctx, tx, b, dec, job.provider, job.eventID, dec.Reason); err != nil {
				return err
			}
			res = Result{BookingID: b.ID, Outcome: dec.Outcome, Status: b.Status}
			if dec.Booking != nil {
				res.Status = dec.Booking.Status
			}
			if dec.Outcome == OutcomeConflict {
				anomaly = apperror.Conflictf("booking %s: %s", b.ID, dec.Reason)
			}
			return nil
		})
	})
	if errors.Is(err, repository.ErrDuplicateEvent) {
		log.Info("duplicate delivery raced another handler")
		return Result{Outcome: OutcomeDuplicate}, nil
	}
	if err != nil {
		return Result{}, apperror.Wrap(err, "apply "+job.provider+" event")
	}

	switch res.Outcome {
	case OutcomeNotFound:
		log.Warn("no booking correlates with event")
	case OutcomeConflict:
		if dec.StrayCapture != nil {
			log.Error("captured payment does not belong to the booking's checkout, refunding",
				zap.Bool("operator_alert", true),
				zap.String("booking_id", res.BookingID),
				zap.String("session_id", dec.StrayCapture.ProviderSessionID),
				zap.String("payment_intent_id", dec.StrayCapture.ProviderPaymentIntentID),
				zap.String("reason", dec.Reason),
			)
			break
		}
		log.Warn("event rejected by state machine", zap.String("booking_id", res.BookingID), zap.String("reason", dec.Reason))
	default:
		log.Info("event processed",
			zap.String("booking_id", res.BookingID),
			zap.String("outcome", string(res.Outcome)),
			zap.String("status", string(res.Status)),
		)
	}
	s.afterCommit(ctx, res.BookingID, dec)
	return res, anomaly
}

// ignore records an event that carries nothing to apply.
func (s *BookingService) ignore(ctx context.Context, job inbound) (Result, error) {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return s.recordEvent(ctx, tx, job.provider, job.eventID, OutcomeIgnored)
	})
	if errors.Is(err, repository.ErrDuplicateEvent) {
		return Result{Outcome: OutcomeDuplicate}, nil
	}
	if err != nil {
		return Result{}, apperror.Wrap(err, "record ignored event")
	}
	s.log.Debug("event ignored", zap.String("provider", job.provider), zap.String("event_id", job.eventID), zap.String("kind", job.kind))
	return Result{Outcome: OutcomeIgnored}, nil
}

// runCommand applies a client, operator or sweep command. Commands are not
// ledgered; a rejected command is returned as a Conflict and not audited.
func (s *BookingService) runCommand(ctx context.Context, id string, in Input, detail string) (*model.Booking, error) {
	eventID := string(in.Kind) + "-" + uuid.NewString()
	var (
		dec Decision
		out *model.Booking
	)
	err := s.retry(ctx, func() error {
		dec, out = Decision{}, nil
		return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			b, err := tx.GetBooking(ctx, id)
			if err != nil {
				return err
			}
			dec, err = s.decide(ctx, b, in)
			if err != nil {
				return err
			}
			out = b
			if dec.Outcome == OutcomeConflict {
				return nil
			}
			if dec.Booking != nil {
				out = dec.Booking
			}
			return s.commit(ctx, tx, b, dec, model.ProviderInternal, eventID, detail)
		})
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.NotFoundf("booking %s not found", id)
	}
	if err != nil {
		return nil, apperror.Wrap(err, string(in.Kind))
	}
	if dec.Outcome == OutcomeConflict {
		return nil, apperror.Conflictf("%s", dec.Reason)
	}

	if dec.Outcome == OutcomeApplied {
		s.log.Info("booking command applied",
			zap.String("booking_id", id),
			zap.String("command", string(in.Kind)),
			zap.String("status", string(out.Status)),
		)
	}
	s.afterCommit(ctx, id, dec)
	return out, nil
}

// decide loads the session type and runs the state machine.
func (s *BookingService) decide(ctx context.Context, b *model.Booking, in Input) (Decision, error) {
	st, err := s.catalog.Get(ctx, b.SessionTypeID)
	if errors.Is(err, catalog.ErrNotFound) {
		return conflict("session type %s is not in the catalog", b.SessionTypeID), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load session type: %w", err)
	}
	return Transition(b, *st, in, s.now()), nil
}

func (s *BookingService) sessionType(ctx context.Context, b *model.Booking) (*model.SessionType, error) {
	st, err := s.catalog.Get(ctx, b.SessionTypeID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, apperror.Conflictf("session type %s is not in the catalog", b.SessionTypeID)
	}
	if err != nil {
		return nil, apperror.Wrap(err, "load session type")
	}
	return st, nil
}

// commit writes the decision, its ledger row and its audit entry inside tx.
func (s *BookingService) commit(ctx context.Context, tx repository.Tx, cur *model.Booking, dec Decision, provider, eventID, detail string) error {
	to := cur.Status
	if dec.Outcome == OutcomeApplied {
		if err := tx.UpdateBooking(ctx, dec.Booking, cur.Version); err != nil {
			return err
		}
		to = dec.Booking.Status
	}
	if provider != model.ProviderInternal {
		if err := s.recordEvent(ctx, tx, provider, eventID, dec.Outcome); err != nil {
			return err
		}
	}
	return tx.AppendAudit(ctx, model.AuditEntry{
		BookingID:    cur.ID,
		ProviderName: provider,
		EventID:      eventID,
		FromStatus:   cur.Status,
		ToStatus:     to,
		Outcome:      string(dec.Outcome),
		Detail:       detail,
		CreatedAt:    s.now(),
	})
}

func (s *BookingService) recordEvent(ctx context.Context, tx repository.Tx, provider, eventID string, outcome Outcome) error {
	return tx.RecordEvent(ctx, model.IdempotencyRecord{
		ProviderName:   provider,
		EventID:        eventID,
		FirstSeenAt:    s.now(),
		OutcomeSummary: string(outcome),
	})
}

// retry reruns fn on version conflicts with a jittered linear backoff.
func (s *BookingService) retry(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= s.opts.MaxAttempts {
			return err
		}
		s.log.Debug("version conflict, retrying", zap.Int("attempt", attempt))
		wait := time.Duration(attempt)*retryBackoff + rand.N(retryBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// afterCommit dispatches notifications and schedules compensation. Failures
// are logged; committed state is never rolled back.
func (s *BookingService) afterCommit(ctx context.Context, bookingID string, dec Decision) {
	ctx = context.WithoutCancel(ctx)
	if dec.StrayCapture != nil {
		s.refundStray(ctx, bookingID, *dec.StrayCapture)
	}
	if dec.Outcome != OutcomeApplied || dec.Booking == nil {
		return
	}
	b := dec.Booking

	for _, n := range dec.Notifications {
		ev := notify.Event{
			Type:       n.Type,
			BookingID:  b.ID,
			BuilderID:  b.BuilderID,
			ClientID:   b.ClientID,
			Recipients: n.Recipients,
			Status:     string(b.Status),
			OccurredAt: b.UpdatedAt,
		}
		if b.ScheduleRef != nil {
			starts := b.ScheduleRef.StartsAt
			ev.StartsAt = &starts
		}
		if err := s.notifier.Dispatch(ctx, ev); err != nil {
			s.log.Warn("notification dispatch failed",
				zap.String("booking_id", b.ID),
				zap.String("type", string(n.Type)),
				zap.Error(err),
			)
		}
	}

	if dec.Refund {
		if s.refunds == nil {
			s.log.Error("refund required but no refunder configured",
				zap.String("booking_id", b.ID), zap.Bool("operator_alert", true))
			return
		}
		if err := s.refunds.EnqueueRefund(ctx, b.ID); err != nil {
			s.log.Error("refund enqueue failed",
				zap.String("booking_id", b.ID),
				zap.Bool("operator_alert", true),
				zap.Error(err),
			)
		}
	}
}

func (s *BookingService) refundStray(ctx context.Context, bookingID string, ref model.PaymentRef) {
	log := s.log.With(
		zap.String("booking_id", bookingID),
		zap.String("session_id", ref.ProviderSessionID),
		zap.String("payment_intent_id", ref.ProviderPaymentIntentID),
	)
	if s.refunds == nil {
		log.Error("stray capture needs a refund but no refunder configured", zap.Bool("operator_alert", true))
		return
	}
	if err := s.refunds.EnqueueStrayRefund(ctx, bookingID, ref); err != nil {
		log.Error("stray refund enqueue failed", zap.Bool("operator_alert", true), zap.Error(err))
	}
}

func firstFound(fns ...func() (*model.Booking, error)) (*model.Booking, error) {
	for _, fn := range fns {
		b, err := fn()
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, repository.ErrNotFound
}

// locateSchedule correlates a scheduling event: explicit booking id, then
// the invitee (current or replaced), then the provider event, then the
// builder and slot fallback.
func (s *BookingService) locateSchedule(ctx context.Context, tx repository.Tx, ev *model.ScheduleEvent) (*model.Booking, error) {
	var lookups []func() (*model.Booking, error)
	if ev.BookingID != "" {
		lookups = append(lookups, func() (*model.Booking, error) { return tx.GetBooking(ctx, ev.BookingID) })
	}
	for _, uri := range []string{ev.ProviderInviteeURI, ev.PreviousInviteeURI} {
		if uri != "" {
			lookups = append(lookups, func() (*model.Booking, error) { return tx.FindByInvitee(ctx, uri) })
		}
	}
	if ev.ProviderEventURI != "" {
		lookups = append(lookups, func() (*model.Booking, error) { return tx.FindByScheduledEvent(ctx, ev.ProviderEventURI) })
	}
	if ev.Kind != model.ScheduleCanceled {
		lookups = append(lookups, func() (*model.Booking, error) { return s.matchSlot(ctx, tx, ev) })
	}
	return firstFound(lookups...)
}

// matchSlot resolves the builder and session type from the event type and
// picks the newest open booking created within the lookback window.
func (s *BookingService) matchSlot(ctx context.Context, tx repository.Tx, ev *model.ScheduleEvent) (*model.Booking, error) {
	if ev.SessionTypeHint == "" {
		return nil, repository.ErrNotFound
	}
	st, err := s.catalog.ByEventType(ctx, ev.SessionTypeHint)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve event type: %w", err)
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	return tx.FindSlotCandidate(ctx, st.BuilderID, st.ID, at.Add(-s.opts.SlotLookback), at.Add(clockSkew))
}

func locatePayment(ctx context.Context, tx repository.Tx, ev *model.PaymentEvent) (*model.Booking, error) {
	var lookups []func() (*model.Booking, error)
	if ev.BookingID != "" {
		lookups = append(lookups, func() (*model.Booking, error) { return tx.GetBooking(ctx, ev.BookingID) })
	}
	if ev.ProviderSessionID != "" {
		lookups = append(lookups, func() (*model.Booking, error) { return tx.FindByCheckoutSession(ctx, ev.ProviderSessionID) })
	}
	return firstFound(lookups...)
}
