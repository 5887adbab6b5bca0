// Package catalog resolves offered session types. It is read-only from the
// orchestrator's point of view.
package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

// ErrNotFound is returned for unknown session types.
var ErrNotFound = errors.New("session type not found")

// Catalog looks up session types.
type Catalog interface {
	Get(ctx context.Context, id string) (*model.SessionType, error)
	// ByEventType resolves the scheduling provider's event type URI.
	ByEventType(ctx context.Context, uri string) (*model.SessionType, error)
}

// Static is an in-memory Catalog.
type Static struct {
	mu    sync.RWMutex
	byID  map[string]model.SessionType
	byURI map[string]string
}

// NewStatic builds a Static catalog from the given entries.
func NewStatic(types ...model.SessionType) *Static {
	s := &Static{byID: make(map[string]model.SessionType), byURI: make(map[string]string)}
	for _, st := range types {
		s.Put(st)
	}
	return s
}

// Put adds or replaces an entry.
func (s *Static) Put(st model.SessionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[st.ID] = st
	if st.SchedulingEventTypeURI != "" {
		s.byURI[st.SchedulingEventTypeURI] = st.ID
	}
}

func (s *Static) Get(_ context.Context, id string) (*model.SessionType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *Static) ByEventType(ctx context.Context, uri string) (*model.SessionType, error) {
	s.mu.RLock()
	id, ok := s.byURI[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}
