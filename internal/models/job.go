package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

// Job statuses
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusStopped    JobStatus = "stopped"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status only changes through an explicit restart
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusStopped
}

// IsSuspended reports whether a user asked the job to stop running
func (s JobStatus) IsSuspended() bool {
	return s == JobStatusPaused || s == JobStatusStopped
}

// Job represents the structure of the 'jobs' table.
type Job struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	OwnerID           uuid.UUID  `json:"owner_id" db:"owner_id"`
	CaptureFilename   string     `json:"capture_filename" db:"capture_filename"`
	Status            JobStatus  `json:"status" db:"status"`
	Paused            bool       `json:"paused" db:"paused"`
	Priority          int        `json:"priority" db:"priority"`
	Progress          float64    `json:"progress" db:"progress"`
	ItemsTotal        int        `json:"items_total" db:"items_total"`
	ItemsCracked      int        `json:"items_cracked" db:"items_cracked"`
	CurrentDictionary string     `json:"current_dictionary,omitempty" db:"current_dictionary"`
	Speed             string     `json:"speed,omitempty" db:"speed"`
	ETA               string     `json:"eta,omitempty" db:"eta"`
	ErrorMessage      string     `json:"error,omitempty" db:"error_message"`
	Log               string     `json:"log,omitempty" db:"log"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// JobProgress is the set of live counters written on each monitor tick
type JobProgress struct {
	Progress          float64 `json:"progress"`
	CurrentDictionary string  `json:"current_dictionary"`
	Speed             string  `json:"speed"`
	ETA               string  `json:"eta"`
	ItemsTotal        int     `json:"items_total"`
	ItemsCracked      int     `json:"items_cracked"`
}
