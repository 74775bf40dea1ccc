package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/paperfetch/internal/progress"
)

// Line is one entry of a session's progress log.
type Line struct {
	TS    time.Time      `json:"ts"`
	Stage progress.Stage `json:"stage"`
	Text  string         `json:"text"`
}

// HistorySink keeps the most recent lines of each session in memory.
type HistorySink struct {
	mu    sync.RWMutex
	limit int
	lines map[string][]Line
}

// NewHistorySink keeps at most limit lines per session.
func NewHistorySink(limit int) *HistorySink {
	if limit <= 0 {
		limit = 500
	}
	return &HistorySink{limit: limit, lines: make(map[string][]Line)}
}

// Consume appends each event's note to its session's log.
func (s *HistorySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Note == "" {
			continue
		}
		lines := append(s.lines[evt.SessionID], Line{TS: evt.TS, Stage: evt.Stage, Text: evt.Note})
		if len(lines) > s.limit {
			lines = append([]Line(nil), lines[len(lines)-s.limit:]...)
		}
		s.lines[evt.SessionID] = lines
	}
	return nil
}

// Lines returns a copy of the log for sessionID, oldest first.
func (s *HistorySink) Lines(sessionID string) []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Line(nil), s.lines[sessionID]...)
}

// Forget drops a session's log.
func (s *HistorySink) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, sessionID)
}

// Close implements the Sink interface; it performs no action.
func (s *HistorySink) Close(context.Context) error {
	return nil
}
