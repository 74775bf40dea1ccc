package newspaper

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	ErrEmptyBody     = errors.New("empty response body")
	ErrUnknownSource = errors.New("unknown source")
	ErrNoSources     = errors.New("at least one source is required")
	ErrFutureDate    = errors.New("date is in the future")
	ErrNotFound      = errors.New("session not found")
)

// DiscoveryError reports that one source's index could not be fetched or
// parsed. It aborts discovery for that source only.
type DiscoveryError struct {
	Source string
	URL    string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("discover %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("discover %s (%s): %v", e.Source, e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// FetchError reports a failed task download. It is recorded on the Outcome
// and never returned to the dispatcher.
type FetchError struct {
	Title      string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %q: status %d: %v", e.Title, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %q: %v", e.Title, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SessionError aborts a whole session before any task is dispatched.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
