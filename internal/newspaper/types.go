// Package newspaper defines core types shared across subsystems.
package newspaper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Status represents the lifecycle state of a download session.
type Status string

// Session status values persisted in the session store.
const (
	StatusIdle        Status = "idle"
	StatusDiscovering Status = "discovering"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions can follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// DateLayout is the wire format for session dates.
const DateLayout = "2006-01-02"

// Task is one page PDF to fetch. Tasks are built by link discovery and never
// mutated afterwards.
type Task struct {
	Source string `json:"source"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// Validate checks that the task URL is non-empty and absolute.
func (t Task) Validate() error {
	if strings.TrimSpace(t.URL) == "" {
		return errors.New("task url is required")
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("parse task url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("task url %q is not absolute", t.URL)
	}
	return nil
}

// Outcome is the result of fetching a single Task.
type Outcome struct {
	Task       Task
	Success    bool
	Path       string
	Bytes      int64
	SHA256     string
	StatusCode int
	Duration   time.Duration
	// Skipped marks tasks that never started because the session was cancelled.
	Skipped bool
	Err     error
}

// Counts tracks per-session or per-source download tallies.
type Counts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Summary is reported by the dispatcher once a download phase ends.
type Summary struct {
	Status   Status            `json:"status"`
	Counts   Counts            `json:"counts"`
	BySource map[string]Counts `json:"by_source,omitempty"`
	// Files lists the paths written by successful tasks.
	Files []string `json:"files,omitempty"`
}

// Request captures what the caller asked a session to download.
type Request struct {
	Date      time.Time `json:"date"`
	Sources   []string  `json:"sources"`
	OutputDir string    `json:"output_dir"`
}

// Record is the metadata persisted for each session.
type Record struct {
	ID        string     `json:"id"`
	Request   Request    `json:"request"`
	Status    Status     `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	Counts    Counts     `json:"counts"`
	ErrorText string     `json:"error_text,omitempty"`
}

// PageRequest captures everything needed to fetch an index page.
type PageRequest struct {
	Source string
	URL    string
}

// Page is an index page returned by a PageFetcher.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}
