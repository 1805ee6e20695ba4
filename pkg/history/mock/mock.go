// Package mock provides an in-memory test double for the history.Store
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxatar/voxatar/pkg/history"
)

// Store is a mock implementation of history.Store backed by a map. The zero
// value is ready to use.
type Store struct {
	mu      sync.Mutex
	records map[string][]history.Record

	// AppendErr, if non-nil, is returned from every AppendTurn call.
	AppendErr error

	// RecentErr, if non-nil, is returned from every RecentTurns call.
	RecentErr error
}

var _ history.Store = (*Store)(nil)

// AppendTurn implements history.Store.
func (s *Store) AppendTurn(_ context.Context, rec history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	if s.records == nil {
		s.records = make(map[string][]history.Record)
	}
	s.records[rec.SessionID] = append(s.records[rec.SessionID], rec)
	return nil
}

// RecentTurns implements history.Store.
func (s *Store) RecentTurns(_ context.Context, sessionID string, limit int) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	all := s.records[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]history.Record, len(all))
	copy(out, all)
	return out, nil
}

// Close implements history.Store.
func (s *Store) Close() {}

// Turns returns a copy of every record stored for sessionID, oldest first.
func (s *Store) Turns(sessionID string) []history.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Record, len(s.records[sessionID]))
	copy(out, s.records[sessionID])
	return out
}
