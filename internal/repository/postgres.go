package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

// PostgresStore implements Store with raw SQL over pgx.
//
// Concurrency control is optimistic: UpdateBooking only matches the row when
// its version column still equals the version the caller read. Under READ
// COMMITTED a second writer blocks on the row lock taken by the first
// UPDATE, re-evaluates the WHERE clause after the first commits, matches
// zero rows and reports ErrVersionConflict. The caller then re-reads and
// retries, so no write is ever silently lost.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const bookingColumns = `id, client_id, builder_id, session_type_id, pathway,
	provider_event_id, provider_event_uri, provider_invitee_uri, starts_at, ends_at,
	provider_session_id, provider_payment_intent_id,
	status, payment_status, paid_at, version, created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b                              model.Booking
		eventID, eventURI, inviteeURI  *string
		startsAt, endsAt               *time.Time
		checkoutSession, paymentIntent *string
		status, paymentStatus          string
	)
	err := row.Scan(
		&b.ID, &b.ClientID, &b.BuilderID, &b.SessionTypeID, &b.Pathway,
		&eventID, &eventURI, &inviteeURI, &startsAt, &endsAt,
		&checkoutSession, &paymentIntent,
		&status, &paymentStatus, &b.PaidAt, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	b.Status = model.Status(status)
	b.PaymentStatus = model.PaymentStatus(paymentStatus)
	if eventID != nil {
		b.ScheduleRef = &model.ScheduleRef{
			ProviderEventID:    *eventID,
			ProviderEventURI:   deref(eventURI),
			ProviderInviteeURI: deref(inviteeURI),
		}
		if startsAt != nil {
			b.ScheduleRef.StartsAt = startsAt.UTC()
		}
		if endsAt != nil {
			b.ScheduleRef.EndsAt = endsAt.UTC()
		}
	}
	if checkoutSession != nil {
		b.PaymentRef = &model.PaymentRef{
			ProviderSessionID:       *checkoutSession,
			ProviderPaymentIntentID: deref(paymentIntent),
		}
	}
	return &b, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func getBooking(ctx context.Context, q querier, where string, arg any) (*model.Booking, error) {
	return scanBooking(q.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE `+where+` LIMIT 1`, arg))
}

func listBookings(ctx context.Context, q querier, sql string, args ...any) ([]*model.Booking, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// WithinTx runs fn inside a single database transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetBooking returns a single booking or ErrNotFound.
func (s *PostgresStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return getBooking(ctx, s.db, "id = $1", id)
}

// HasSeen reports whether the ledger already holds the event.
func (s *PostgresStore) HasSeen(ctx context.Context, provider, eventID string) (bool, error) {
	var seen bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM idempotency_records WHERE provider_name = $1 AND event_id = $2)`,
		provider, eventID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}
	return seen, nil
}

// ListAudit returns the audit trail of a booking, oldest first.
func (s *PostgresStore) ListAudit(ctx context.Context, bookingID string) ([]model.AuditEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, booking_id, provider_name, event_id, from_status, to_status, outcome, detail, created_at
		 FROM booking_audit
		 WHERE booking_id = $1
		 ORDER BY created_at ASC`,
		bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e        model.AuditEntry
			from, to string
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &e.ProviderName, &e.EventID, &from, &to, &e.Outcome, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.FromStatus, e.ToStatus = model.Status(from), model.Status(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEndedConfirmed returns confirmed bookings whose slot has ended.
func (s *PostgresStore) ListEndedConfirmed(ctx context.Context, before time.Time, limit int) ([]*model.Booking, error) {
	return listBookings(ctx, s.db,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = $1 AND ends_at IS NOT NULL AND ends_at < $2
		 ORDER BY ends_at ASC
		 LIMIT $3`,
		string(model.StatusConfirmed), before, limit,
	)
}

// ListStaleInitiated returns initiated bookings that never progressed.
func (s *PostgresStore) ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]*model.Booking, error) {
	return listBookings(ctx, s.db,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = $1 AND created_at < $2
		   AND provider_event_id IS NULL AND provider_session_id IS NULL AND paid_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT $3`,
		string(model.StatusInitiated), before, limit,
	)
}

// pgTx is the transactional Tx over a pgx.Tx.
type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return getBooking(ctx, t.q, "id = $1", id)
}

func (t *pgTx) FindByInvitee(ctx context.Context, inviteeURI string) (*model.Booking, error) {
	return getBooking(ctx, t.q, "provider_invitee_uri = $1", inviteeURI)
}

func (t *pgTx) FindByScheduledEvent(ctx context.Context, eventURI string) (*model.Booking, error) {
	return getBooking(ctx, t.q, "provider_event_uri = $1", eventURI)
}

func (t *pgTx) FindByCheckoutSession(ctx context.Context, sessionID string) (*model.Booking, error) {
	return getBooking(ctx, t.q, "provider_session_id = $1", sessionID)
}

func (t *pgTx) FindSlotCandidate(ctx context.Context, builderID, sessionTypeID string, from, to time.Time) (*model.Booking, error) {
	return scanBooking(t.q.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE builder_id = $1 AND session_type_id = $2 AND status = $3
		   AND provider_event_id IS NULL
		   AND created_at BETWEEN $4 AND $5
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		builderID, sessionTypeID, string(model.StatusInitiated), from, to,
	))
}

func (t *pgTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	sched, pay := flatten(b)
	_, err := t.q.Exec(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		b.ID, b.ClientID, b.BuilderID, b.SessionTypeID, b.Pathway,
		sched.eventID, sched.eventURI, sched.inviteeURI, sched.startsAt, sched.endsAt,
		pay.sessionID, pay.intentID,
		string(b.Status), string(b.PaymentStatus), b.PaidAt, b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateBooking
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateBooking(ctx context.Context, b *model.Booking, expected int64) error {
	sched, pay := flatten(b)
	tag, err := t.q.Exec(ctx,
		`UPDATE bookings SET
			client_id = $3, pathway = $4,
			provider_event_id = $5, provider_event_uri = $6, provider_invitee_uri = $7,
			starts_at = $8, ends_at = $9,
			provider_session_id = $10, provider_payment_intent_id = $11,
			status = $12, payment_status = $13, paid_at = $14,
			version = version + 1, updated_at = $15
		 WHERE id = $1 AND version = $2`,
		b.ID, expected, b.ClientID, b.Pathway,
		sched.eventID, sched.eventURI, sched.inviteeURI, sched.startsAt, sched.endsAt,
		pay.sessionID, pay.intentID,
		string(b.Status), string(b.PaymentStatus), b.PaidAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	b.Version = expected + 1
	return nil
}

func (t *pgTx) RecordEvent(ctx context.Context, rec model.IdempotencyRecord) error {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO idempotency_records (provider_name, event_id, first_seen_at, outcome_summary)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (provider_name, event_id) DO NOTHING`,
		rec.ProviderName, rec.EventID, rec.FirstSeenAt, rec.OutcomeSummary,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (t *pgTx) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO booking_audit (id, booking_id, provider_name, event_id, from_status, to_status, outcome, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.BookingID, e.ProviderName, e.EventID, string(e.FromStatus), string(e.ToStatus), e.Outcome, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

type scheduleCols struct {
	eventID, eventURI, inviteeURI *string
	startsAt, endsAt              *time.Time
}

type paymentCols struct {
	sessionID, intentID *string
}

func flatten(b *model.Booking) (scheduleCols, paymentCols) {
	var s scheduleCols
	if r := b.ScheduleRef; r != nil {
		s.eventID, s.eventURI, s.inviteeURI = &r.ProviderEventID, &r.ProviderEventURI, &r.ProviderInviteeURI
		if !r.StartsAt.IsZero() {
			s.startsAt = &r.StartsAt
		}
		if !r.EndsAt.IsZero() {
			s.endsAt = &r.EndsAt
		}
	}
	var p paymentCols
	if r := b.PaymentRef; r != nil {
		p.sessionID = &r.ProviderSessionID
		if r.ProviderPaymentIntentID != "" {
			p.intentID = &r.ProviderPaymentIntentID
		}
	}
	return s, p
}
