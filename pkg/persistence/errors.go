// Package persistence provides standardized error types for job store operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrNodeNotFound indicates a node was not found by the given identifier.
	ErrNodeNotFound = errors.New("node not found")

	// ErrJobNotFound indicates a job was not found by the given identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNoStartNode indicates a workflow has no node without incoming edges.
	ErrNoStartNode = errors.New("no valid start node")

	// ErrInvalidTransition indicates a status change that the job or execution lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrContentionExhausted indicates storage stayed locked or busy through every retry.
	ErrContentionExhausted = errors.New("storage contention retries exhausted")
)

// JobError wraps job-related errors with additional context.
type JobError struct {
	Op    string // Operation being performed (e.g., "FinishJob", "FailJob")
	JobID string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s operation failed for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for job errors.
func (e *JobError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewJobError creates a new job error with context.
func NewJobError(op, jobID string, err error) *JobError {
	return &JobError{
		Op:    op,
		JobID: jobID,
		Err:   err,
	}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	WorkflowID  string
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.WorkflowID != "" {
		return fmt.Sprintf("%s operation failed for execution %s of workflow %s: %v", e.Op, e.ExecutionID, e.WorkflowID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// IsNodeNotFound checks if an error indicates a node was not found.
func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsNoStartNode checks if an error indicates a workflow without entry point.
func IsNoStartNode(err error) bool {
	return errors.Is(err, ErrNoStartNode)
}

// IsContentionExhausted checks if an error indicates the retry budget ran out.
func IsContentionExhausted(err error) bool {
	return errors.Is(err, ErrContentionExhausted)
}
