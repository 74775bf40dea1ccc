// Package memory provides in-process session and blob stores for the CLI and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

// SessionStore keeps session records in a map.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]newspaper.Record
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]newspaper.Record)}
}

// CreateSession stores a new record.
func (s *SessionStore) CreateSession(_ context.Context, rec newspaper.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[rec.ID]; exists {
		return fmt.Errorf("session %s already exists", rec.ID)
	}
	rec.Request.Sources = append([]string(nil), rec.Request.Sources...)
	s.sessions[rec.ID] = rec
	return nil
}

// UpdateSessionStatus records a transition. Started is stamped on the first
// move out of idle and Finished on any terminal status.
func (s *SessionStore) UpdateSessionStatus(
	_ context.Context,
	id string,
	status newspaper.Status,
	counts newspaper.Counts,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, newspaper.ErrNotFound)
	}
	rec.Status = status
	rec.Counts = counts
	rec.ErrorText = errText
	now := time.Now().UTC()
	if status != newspaper.StatusIdle && rec.Started == nil {
		rec.Started = &now
	}
	if status.Terminal() && rec.Finished == nil {
		rec.Finished = &now
	}
	s.sessions[id] = rec
	return nil
}

// GetSession fetches a record by ID.
func (s *SessionStore) GetSession(_ context.Context, id string) (newspaper.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return newspaper.Record{}, fmt.Errorf("get %s: %w", id, newspaper.ErrNotFound)
	}
	return rec, nil
}

// ListSessions returns up to limit records, most recently submitted first.
// A non-positive limit returns every record.
func (s *SessionStore) ListSessions(_ context.Context, limit int) ([]newspaper.Record, error) {
	s.mu.RLock()
	out := make([]newspaper.Record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID > out[j].ID
		}
		return out[i].Submitted.After(out[j].Submitted)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
