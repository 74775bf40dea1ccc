// Package progress defines the events a download session emits.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart     Stage = "SESSION_START"
	StageDiscoveryStart   Stage = "DISCOVERY_START"
	StageDiscoveryDone    Stage = "DISCOVERY_DONE"
	StageDiscoveryError   Stage = "DISCOVERY_ERROR"
	StageDownloadStart    Stage = "DOWNLOAD_START"
	StageFetchDone        Stage = "FETCH_DONE"
	StageFetchError       Stage = "FETCH_ERROR"
	StageSessionDone      Stage = "SESSION_DONE"
	StageSessionCancelled Stage = "SESSION_CANCELLED"
	StageSessionError     Stage = "SESSION_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one progress notification. Note always carries the human-readable
// line shown to operators.
type Event struct {
	SessionID   string
	TS          time.Time
	Stage       Stage
	Source      string
	Title       string
	URL         string
	Bytes       int64
	Pages       int
	StatusClass StatusClass
	Dur         time.Duration
	Note        string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageDownloadStart, StageSessionDone, StageSessionCancelled, StageSessionError:
	case StageDiscoveryStart, StageDiscoveryDone, StageDiscoveryError:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
	case StageFetchDone, StageFetchError:
		if e.Title == "" {
			return fmt.Errorf("%s requires title", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a session.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageSessionDone, StageSessionCancelled, StageSessionError:
		return true
	default:
		return false
	}
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
