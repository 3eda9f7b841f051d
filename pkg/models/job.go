package models

import (
	"encoding/json"
	"time"
)

// JobStatus defines the possible states of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusDone      JobStatus = "DONE"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusPaused    JobStatus = "PAUSED"
)

// IsTerminal reports whether the status accepts no further writes.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one unit of work: run this node, for this execution, with this input.
type Job struct {
	ID           string          `json:"job_id"`
	Seq          int64           `json:"seq"`
	ExecutionID  string          `json:"execution_id"`
	NodeID       string          `json:"node_id"`
	WorkflowID   string          `json:"workflow_id"`
	UserID       string          `json:"user_id"`
	Status       JobStatus       `json:"status"`
	InputData    json.RawMessage `json:"input_data,omitempty"`
	OutputData   json.RawMessage `json:"output_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}
