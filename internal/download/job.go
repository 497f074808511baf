package download

import (
	"net/url"
	"strings"
	"time"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/timestamps"
)

// Status is a job's lifecycle state
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobSpec is what a caller submits
type JobSpec struct {
	SourceURL    string            `json:"source_url"`
	ThumbnailURL string            `json:"thumbnail_url,omitempty"`
	PlaylistID   int64             `json:"playlist_id,omitempty"`
	PlaylistName string            `json:"playlist_name,omitempty"`
	Splits       []timestamps.Span `json:"splits,omitempty"`
}

// Validate checks a JobSpec before it is queued
func (s JobSpec) Validate() error {
	raw := strings.TrimSpace(s.SourceURL)
	if raw == "" {
		return apperrors.NewValidationError("source URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.NewValidationError("source URL must be an http or https URL")
	}
	if s.ThumbnailURL != "" {
		t, err := url.Parse(s.ThumbnailURL)
		if err != nil || (t.Scheme != "http" && t.Scheme != "https") {
			return apperrors.NewValidationError("thumbnail URL must be an http or https URL")
		}
	}
	for i, sp := range s.Splits {
		if sp.Start < 0 || (sp.End != nil && *sp.End <= sp.Start) {
			return apperrors.NewValidationError("split " + sp.Title + " has an invalid time range")
		}
		if i > 0 && sp.Start <= s.Splits[i-1].Start {
			return apperrors.NewValidationError("splits must be sorted by start time")
		}
	}
	return nil
}

// Job is one acquisition request. Values returned by the queue are
// snapshots; mutating them has no effect on the queue.
type Job struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	SourceURL    string            `json:"source_url"`
	ThumbnailURL string            `json:"thumbnail_url,omitempty"`
	PlaylistID   int64             `json:"playlist_id,omitempty"`
	PlaylistName string            `json:"playlist_name,omitempty"`
	Splits       []timestamps.Span `json:"splits,omitempty"`
	Status       Status            `json:"status"`
	Progress     float64           `json:"progress"`
	Speed        uint64            `json:"speed,omitempty"`
	ETA          time.Duration     `json:"eta,omitempty"`
	Message      string            `json:"message,omitempty"`
	Error        string            `json:"error,omitempty"`
	Title        string            `json:"title,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`

	startedAt    time.Time
	lastEmit     time.Time
	lastEmitPct  float64
	lastEmitText string
}

func (j *Job) snapshot() Job {
	c := *j
	if j.Splits != nil {
		c.Splits = append([]timestamps.Span(nil), j.Splits...)
	}
	return c
}

// Progress is reported by a Processor while a job runs
type Progress struct {
	Percent float64
	Speed   uint64
	ETA     time.Duration
	Message string
}

// Outcome summarizes a successful run
type Outcome struct {
	Title         string
	TracksAdded   int
	TracksSkipped int
	Message       string
}
