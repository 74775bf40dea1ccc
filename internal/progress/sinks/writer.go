package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/paperfetch/internal/progress"
)

// WriterSink prints each event's note as a line, the way the CLI reports
// progress on stdout.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink builds a WriterSink around w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Consume writes one line per event with a non-empty note.
func (s *WriterSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Note == "" {
			continue
		}
		if _, err := fmt.Fprintln(s.w, evt.Note); err != nil {
			return fmt.Errorf("write progress line: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *WriterSink) Close(context.Context) error {
	return nil
}
