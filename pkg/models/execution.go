package models

import "time"

// ExecutionStatus defines the possible states of an execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusStopped   ExecutionStatus = "STOPPED"
	ExecutionStatusPaused    ExecutionStatus = "PAUSED"
)

// IsTerminal reports whether no further job of the execution will be scheduled.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed || s == ExecutionStatusStopped
}

// DefaultGasBudget is the gas budget hint recorded when a dispatch does not carry one.
const DefaultGasBudget int64 = 10000

// Execution is one run instance of a workflow.
type Execution struct {
	ID            string          `json:"execution_id"`
	WorkflowID    string          `json:"workflow_id"`
	UserID        string          `json:"user_id"`
	Strategy      string          `json:"strategy"`
	Status        ExecutionStatus `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	GasBudgetHint int64           `json:"gas_budget_hint"`
	LoopConfig    *LoopConfig     `json:"loop_config,omitempty"`
	LoopIteration int             `json:"loop_iteration"`
}
