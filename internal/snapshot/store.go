// Package snapshot holds the latest rendered incident snapshot and pushes
// it to connected WebSocket clients.
package snapshot

import (
	"context"
	"sync/atomic"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
)

// Store keeps the most recent snapshot. Each render replaces it wholesale.
type Store struct {
	current atomic.Pointer[domain.Snapshot]
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) Name() string { return "store" }

// Render publishes snap as the current snapshot.
func (s *Store) Render(_ context.Context, snap *domain.Snapshot) error {
	s.current.Store(snap)
	return nil
}

// Current returns the latest snapshot, or false before the first render.
func (s *Store) Current() (*domain.Snapshot, bool) {
	snap := s.current.Load()
	return snap, snap != nil
}
