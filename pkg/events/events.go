// Package events defines the notifications published while executions progress.
package events

import (
	"time"

	"github.com/flowork/flowcore/pkg/models"
)

type EventType string

// Topic carries every flowcore event.
const Topic = "flowcore.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

// TargetUserMetadataKey names the user a notification is addressed to.
const TargetUserMetadataKey = "_target_user_id"

const (
	JobCompletedEvent             EventType = "job.completed"
	WorkflowExecutionUpdateEvent  EventType = "WORKFLOW_EXECUTION_UPDATE"
	WorkflowExecutionStartedEvent EventType = "workflow.execution.started"
	JobOverdueEvent               EventType = "job.overdue"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent fills the common fields of an event.
func NewBaseEvent(id string, eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// JobCompleted is published by a worker after it records the outcome of a job.
type JobCompleted struct {
	BaseEvent

	ExecutionID string           `json:"execution_id"`
	JobID       string           `json:"job_id"`
	NodeID      string           `json:"node_id"`
	UserID      string           `json:"user_id,omitempty"`
	Status      models.JobStatus `json:"status"`
	Port        string           `json:"port,omitempty"`
	Downstream  int              `json:"downstream"`
	DurationMs  int64            `json:"duration_ms"`
}

func (j JobCompleted) GetType() EventType {
	return JobCompletedEvent
}

func (j JobCompleted) TargetUser() string {
	return j.UserID
}

// WorkflowExecutionUpdate reports an execution status change, with the final report once terminal.
type WorkflowExecutionUpdate struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	UserID      string                 `json:"user_id,omitempty"`
	Status      models.ExecutionStatus `json:"status"`
	Iteration   int                    `json:"iteration,omitempty"`
	Outcome     any                    `json:"outcome,omitempty"`
	Analysis    any                    `json:"analysis,omitempty"`
	Error       string                 `json:"error,omitempty"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
}

func (w WorkflowExecutionUpdate) GetType() EventType {
	return WorkflowExecutionUpdateEvent
}

func (w WorkflowExecutionUpdate) TargetUser() string {
	return w.UserID
}

// WorkflowExecutionStarted is published when a dispatch commits.
type WorkflowExecutionStarted struct {
	BaseEvent

	ExecutionID  string   `json:"execution_id"`
	UserID       string   `json:"user_id,omitempty"`
	Strategy     string   `json:"strategy"`
	StartNodeIDs []string `json:"start_node_ids"`
	JobIDs       []string `json:"job_ids"`
}

func (w WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

func (w WorkflowExecutionStarted) TargetUser() string {
	return w.UserID
}

// JobOverdue is published by the watchdog for a job running past its deadline.
type JobOverdue struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	JobID       string        `json:"job_id"`
	NodeID      string        `json:"node_id"`
	UserID      string        `json:"user_id,omitempty"`
	RunningFor  time.Duration `json:"running_for"`
}

func (j JobOverdue) GetType() EventType {
	return JobOverdueEvent
}

func (j JobOverdue) TargetUser() string {
	return j.UserID
}
