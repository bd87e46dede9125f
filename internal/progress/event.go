package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names the pipeline milestone an Event reports.
type Stage string

// Pipeline stages.
const (
	StageCrawlStart     Stage = "CRAWL_START"
	StageCrawlDone      Stage = "CRAWL_DONE"
	StageCrawlError     Stage = "CRAWL_ERROR"
	StageFetchDone      Stage = "FETCH_DONE"
	StageTargetDenied   Stage = "TARGET_DENIED"
	StageTargetRejected Stage = "TARGET_REJECTED"
	StageTargetFailed   Stage = "TARGET_FAILED"
	StageDocIndexed     Stage = "DOC_INDEXED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes recorded on FETCH_DONE.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusCache StatusClass = "cache"
	StatusOther StatusClass = "other"
)

// Event is one progress record.
type Event struct {
	SessionID string
	TS        time.Time
	Stage     Stage
	// Host scopes target events; it never carries credentials.
	Host        string
	URL         string
	Depth       int
	Bytes       int64
	StatusClass StatusClass
	// Reason is the deny, rejection or failure reason for target events.
	Reason string
	Chunks int
	Dur    time.Duration
	Note   string
}

// Validate performs coarse checks on an event.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError:
	case StageFetchDone:
		if e.Host == "" {
			return errors.New("fetch done requires host")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageTargetDenied, StageTargetRejected, StageTargetFailed:
		if e.URL == "" || e.Reason == "" {
			return fmt.Errorf("%s requires url and reason", e.Stage)
		}
	case StageDocIndexed:
		if e.URL == "" {
			return errors.New("doc indexed requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
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
