package dto

import (
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/job"
)

// SubmitResponse is returned when an import job is accepted.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// PollResponse is one cursor poll of a job's event log.
type PollResponse struct {
	Status job.Status  `json:"status"`
	Events []job.Event `json:"events"`
	Result *job.Result `json:"result,omitempty"`
}

// ConflictResponse is returned when a whole-record import collides with
// an existing aircraft and override was not set.
type ConflictResponse struct {
	Error      string `json:"error"`
	TailNumber string `json:"tail_number"`
	ExistingID string `json:"existing_id"`
}
