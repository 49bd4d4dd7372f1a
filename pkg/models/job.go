package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// PassJob tracks one requested recomputation from enqueue to outcome.
type PassJob struct {
	JobID        uuid.UUID               `json:"job_id"`
	Kind         string                  `json:"kind"`
	Status       string                  `json:"status"`
	RequestedBy  string                  `json:"requested_by,omitempty"`
	Attempts     int                     `json:"attempts"`
	Reports      map[string]*BatchReport `json:"reports,omitempty"`
	Failures     map[string]string       `json:"failures,omitempty"`
	ErrorMessage *string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// Terminal reports whether the job will not change state again.
func (j *PassJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
