package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

type ledgerKey struct{ provider, eventID string }

// MemoryStore is an in-process Store with the same optimistic concurrency
// contract as PostgresStore: writes are staged per transaction and
// validated against the committed versions at commit time.
type MemoryStore struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
	ledger   map[ledgerKey]model.IdempotencyRecord
	audit    []model.AuditEntry

	// BeforeCommit, when set, runs after fn returns and before the commit
	// is validated. Tests use it to interleave transactions.
	BeforeCommit func()
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*model.Booking),
		ledger:   make(map[ledgerKey]model.IdempotencyRecord),
	}
}

// WithinTx stages the writes of fn and applies them atomically.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		store:    s,
		staged:   make(map[string]*model.Booking),
		base:     make(map[string]int64),
		inserted: make(map[string]bool),
		ledger:   make(map[ledgerKey]model.IdempotencyRecord),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.BeforeCommit != nil {
		s.BeforeCommit()
	}
	return tx.commit()
}

// GetBooking returns a copy of the committed booking.
func (s *MemoryStore) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

// HasSeen reports whether the ledger holds the event.
func (s *MemoryStore) HasSeen(_ context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ledger[ledgerKey{provider, eventID}]
	return ok, nil
}

// Ledger returns the recorded outcome of an event.
func (s *MemoryStore) Ledger(provider, eventID string) (model.IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.ledger[ledgerKey{provider, eventID}]
	return rec, ok
}

// ListAudit returns the audit trail of a booking, oldest first.
func (s *MemoryStore) ListAudit(_ context.Context, bookingID string) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range s.audit {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListEndedConfirmed returns confirmed bookings whose slot ended before t.
func (s *MemoryStore) ListEndedConfirmed(_ context.Context, before time.Time, limit int) ([]*model.Booking, error) {
	return s.filter(limit, func(b *model.Booking) bool {
		return b.Status == model.StatusConfirmed && b.ScheduleRef != nil &&
			!b.ScheduleRef.EndsAt.IsZero() && b.ScheduleRef.EndsAt.Before(before)
	}), nil
}

// ListStaleInitiated returns initiated bookings that never progressed.
func (s *MemoryStore) ListStaleInitiated(_ context.Context, before time.Time, limit int) ([]*model.Booking, error) {
	return s.filter(limit, func(b *model.Booking) bool {
		return b.Status == model.StatusInitiated && b.CreatedAt.Before(before) &&
			b.ScheduleRef == nil && b.PaymentRef == nil && b.PaidAt == nil
	}), nil
}

func (s *MemoryStore) filter(limit int, keep func(*model.Booking) bool) []*model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Booking
	for _, b := range s.bookings {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// memTx buffers writes until commit.
type memTx struct {
	store    *MemoryStore
	staged   map[string]*model.Booking
	base     map[string]int64
	inserted map[string]bool
	ledger   map[ledgerKey]model.IdempotencyRecord
	audit    []model.AuditEntry
}

func (t *memTx) visible(id string) (*model.Booking, bool) {
	if b, ok := t.staged[id]; ok {
		return b, true
	}
	b, ok := t.store.bookings[id]
	return b, ok
}

// find scans the bookings visible to this transaction.
func (t *memTx) find(match func(*model.Booking) bool) (*model.Booking, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	seen := make(map[string]bool)
	for id, b := range t.staged {
		seen[id] = true
		if match(b) {
			return b.Clone(), nil
		}
	}
	for id, b := range t.store.bookings {
		if !seen[id] && match(b) {
			return b.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	b, ok := t.visible(id)
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (t *memTx) FindByInvitee(_ context.Context, inviteeURI string) (*model.Booking, error) {
	return t.find(func(b *model.Booking) bool {
		return b.ScheduleRef != nil && b.ScheduleRef.ProviderInviteeURI == inviteeURI
	})
}

func (t *memTx) FindByScheduledEvent(_ context.Context, eventURI string) (*model.Booking, error) {
	return t.find(func(b *model.Booking) bool {
		return b.ScheduleRef != nil && b.ScheduleRef.ProviderEventURI == eventURI
	})
}

func (t *memTx) FindByCheckoutSession(_ context.Context, sessionID string) (*model.Booking, error) {
	return t.find(func(b *model.Booking) bool {
		return b.PaymentRef != nil && b.PaymentRef.ProviderSessionID == sessionID
	})
}

func (t *memTx) FindSlotCandidate(_ context.Context, builderID, sessionTypeID string, from, to time.Time) (*model.Booking, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	var best *model.Booking
	consider := func(b *model.Booking) {
		if b.BuilderID != builderID || b.SessionTypeID != sessionTypeID ||
			b.Status != model.StatusInitiated || b.ScheduleRef != nil ||
			b.CreatedAt.Before(from) || b.CreatedAt.After(to) {
			return
		}
		if best == nil || b.CreatedAt.After(best.CreatedAt) ||
			(b.CreatedAt.Equal(best.CreatedAt) && b.ID > best.ID) {
			best = b
		}
	}
	for _, b := range t.staged {
		consider(b)
	}
	for id, b := range t.store.bookings {
		if _, ok := t.staged[id]; !ok {
			consider(b)
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (t *memTx) InsertBooking(_ context.Context, b *model.Booking) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.visible(b.ID); ok {
		return ErrDuplicateBooking
	}
	t.staged[b.ID] = b.Clone()
	t.inserted[b.ID] = true
	return nil
}

func (t *memTx) UpdateBooking(_ context.Context, b *model.Booking, expected int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	cur, ok := t.visible(b.ID)
	if !ok || cur.Version != expected {
		return ErrVersionConflict
	}
	if _, staged := t.base[b.ID]; !staged && !t.inserted[b.ID] {
		t.base[b.ID] = expected
	}
	next := b.Clone()
	next.Version = expected + 1
	t.staged[b.ID] = next
	b.Version = expected + 1
	return nil
}

func (t *memTx) RecordEvent(_ context.Context, rec model.IdempotencyRecord) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	k := ledgerKey{rec.ProviderName, rec.EventID}
	if _, ok := t.store.ledger[k]; ok {
		return ErrDuplicateEvent
	}
	if _, ok := t.ledger[k]; ok {
		return ErrDuplicateEvent
	}
	t.ledger[k] = rec
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, e model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	t.audit = append(t.audit, e)
	return nil
}

func (t *memTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, v := range t.base {
		cur, ok := s.bookings[id]
		if !ok || cur.Version != v {
			return ErrVersionConflict
		}
	}
	for id := range t.inserted {
		if _, ok := s.bookings[id]; ok {
			return ErrDuplicateBooking
		}
	}
	for k := range t.ledger {
		if _, ok := s.ledger[k]; ok {
			return ErrDuplicateEvent
		}
	}

	for id, b := range t.staged {
		s.bookings[id] = b
	}
	for k, rec := range t.ledger {
		s.ledger[k] = rec
	}
	s.audit = append(s.audit, t.audit...)
	return nil
}
