package newspaper

import (
	"context"
	"io"
	"time"
)

// LinkSource discovers the page PDFs a newspaper published on a date.
type LinkSource interface {
	ID() string
	Name() string
	Discover(ctx context.Context, date time.Time) ([]Task, error)
}

// PageFetcher fetches an index page and returns its body.
type PageFetcher interface {
	FetchPage(ctx context.Context, request PageRequest) (Page, error)
}

// Fetcher downloads one task into dir. Failures are reported on the Outcome.
type Fetcher interface {
	Fetch(ctx context.Context, task Task, dir string) Outcome
}

// SessionStore persists session records.
type SessionStore interface {
	CreateSession(ctx context.Context, rec Record) error
	UpdateSessionStatus(ctx context.Context, id string, status Status, counts Counts, errText string) error
	GetSession(ctx context.Context, id string) (Record, error)
	ListSessions(ctx context.Context, limit int) ([]Record, error)
}

// BlobStore archives downloaded files and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
