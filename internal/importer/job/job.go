package job

import (
	"time"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
)

// Status is the lifecycle state of an import job. Transitions only move
// forward: queued -> running -> completed | failed.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EventType classifies entries in a job's event log.
type EventType string

const (
	EventTypeInfo     EventType = "info"
	EventTypeWarning  EventType = "warning"
	EventTypeError    EventType = "error"
	EventTypeBatch    EventType = "batch"
	EventTypeEntry    EventType = "entry"
	EventTypeImage    EventType = "image"
	EventTypeComplete EventType = "complete"
)

// Event is one sequenced record in a job's append-only log. Seq values are
// gapless and strictly increasing within a job; pollers use them as cursors.
type Event struct {
	Seq          int64         `json:"seq"`
	Type         EventType     `json:"type"`
	Timestamp    time.Time     `json:"timestamp"`
	Message      string        `json:"message,omitempty"`
	Batch        int           `json:"batch,omitempty"`
	TotalBatches int           `json:"total_batches,omitempty"`
	Entry        *EntryPreview `json:"entry,omitempty"`
	ImageID      string        `json:"image_id,omitempty"`
	Summary      *Summary      `json:"summary,omitempty"`
}

// EntryPreview is the shortened entry payload carried by entry events.
type EntryPreview struct {
	Page  int     `json:"page"`
	Date  string  `json:"date,omitempty"`
	Hours float64 `json:"hours,omitempty"`
	Text  string  `json:"text"`
}

// Summary holds the final counts reported by a complete event.
type Summary struct {
	EntriesCreated int `json:"entries_created"`
	ImagesUploaded int `json:"images_uploaded"`
	Warnings       int `json:"warnings"`
	Errors         int `json:"errors"`
}

// Result is the final output of a completed job.
type Result struct {
	Entries []domain.LogEntry `json:"entries"`
	Summary Summary           `json:"summary"`
}

// Snapshot is a consistent read of one job for a polling client: current
// status, the events after the requested cursor, and the result once the
// job has completed.
type Snapshot struct {
	Status Status
	Events []Event
	Result *Result
}
