package models

import "github.com/google/uuid"

// Notification event types pushed to job subscribers
const (
	EventStatus      = "status"
	EventProgress    = "progress"
	EventItemCracked = "item_cracked"
	EventNewResult   = "new_result"
)

// JobEvent is the {type, data} envelope published for a job
type JobEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StatusEventData is carried by "status" events
type StatusEventData struct {
	JobID    uuid.UUID `json:"job_id"`
	Status   JobStatus `json:"status"`
	Paused   bool      `json:"paused"`
	Priority *int      `json:"priority,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ProgressEventData is carried by "progress" events
type ProgressEventData struct {
	JobID uuid.UUID `json:"job_id"`
	JobProgress
}

// ItemCrackedEventData is carried by "item_cracked" events
type ItemCrackedEventData struct {
	JobID    uuid.UUID `json:"job_id"`
	ESSID    string    `json:"essid"`
	Password string    `json:"password"`
}

// NewStatusEvent builds a "status" event
func NewStatusEvent(job *Job) JobEvent {
	priority := job.Priority
	return JobEvent{
		Type: EventStatus,
		Data: StatusEventData{
			JobID:    job.ID,
			Status:   job.Status,
			Paused:   job.Paused,
			Priority: &priority,
			Error:    job.ErrorMessage,
		},
	}
}
