// Package repository persists the Booking aggregate, its audit trail and the
// idempotency ledger. Every mutation goes through a Tx so a ledger row is
// only ever written together with the booking change it guards.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

// ErrNotFound is returned when a requested booking does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a booking was modified by another
// transaction after it was read.
var ErrVersionConflict = errors.New("booking version conflict")

// ErrDuplicateEvent is returned when the ledger already holds the event.
var ErrDuplicateEvent = errors.New("event already recorded")

// ErrDuplicateBooking is returned when inserting a booking id twice.
var ErrDuplicateBooking = errors.New("booking already exists")

// Store is the durable home of bookings and the idempotency ledger.
type Store interface {
	// WithinTx runs fn in one transaction. The transaction commits only
	// when fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	HasSeen(ctx context.Context, provider, eventID string) (bool, error)
	ListAudit(ctx context.Context, bookingID string) ([]model.AuditEntry, error)

	// ListEndedConfirmed returns CONFIRMED bookings whose slot ended before t.
	ListEndedConfirmed(ctx context.Context, before time.Time, limit int) ([]*model.Booking, error)
	// ListStaleInitiated returns INITIATED bookings created before t with no
	// schedule and no payment attached.
	ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]*model.Booking, error)
}

// Tx is the transactional view used by the state machine.
type Tx interface {
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	FindByInvitee(ctx context.Context, inviteeURI string) (*model.Booking, error)
	FindByScheduledEvent(ctx context.Context, eventURI string) (*model.Booking, error)
	FindByCheckoutSession(ctx context.Context, sessionID string) (*model.Booking, error)
	// FindSlotCandidate returns the most recently created INITIATED booking
	// without a schedule for the builder and session type, created within
	// [from, to]. Ties on created_at go to the greatest id.
	FindSlotCandidate(ctx context.Context, builderID, sessionTypeID string, from, to time.Time) (*model.Booking, error)

	InsertBooking(ctx context.Context, b *model.Booking) error
	// UpdateBooking writes b if the stored version still equals expected and
	// bumps b.Version on success.
	UpdateBooking(ctx context.Context, b *model.Booking, expected int64) error
	// RecordEvent inserts a ledger row or fails with ErrDuplicateEvent.
	RecordEvent(ctx context.Context, rec model.IdempotencyRecord) error
	AppendAudit(ctx context.Context, e model.AuditEntry) error
}
