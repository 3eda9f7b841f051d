// Package persistence provides the job store contract shared by every scheduler component.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowork/flowcore/pkg/models"
)

// Submission is everything a dispatch writes in one transaction.
type Submission struct {
	// Workflow is upserted when set (insert if absent).
	Workflow *models.Workflow
	// Nodes are upserted by node id when set.
	Nodes []*models.Node
	// Edges replace every edge of Execution.WorkflowID when ReplaceEdges is true.
	Edges        []*models.Edge
	ReplaceEdges bool

	Execution *models.Execution

	// StartNodeIDs are the nodes receiving the initial jobs. When empty, the store
	// resolves the entry points of the workflow inside the same transaction.
	StartNodeIDs []string
	// JobIDs optionally forces the ids of the initial jobs, positionally.
	JobIDs []string
	Input  json.RawMessage
}

// Store is the durable job store. Every multi-statement operation is atomic.
type Store interface {
	UpsertWorkflow(ctx context.Context, workflow *models.Workflow) error
	ReplaceNodes(ctx context.Context, workflowID string, nodes []*models.Node) error
	ReplaceEdges(ctx context.Context, workflowID string, edges []*models.Edge) error
	InsertJobs(ctx context.Context, jobs []*models.Job) error

	// Submit persists a submission and returns the ids of the jobs it enqueued.
	Submit(ctx context.Context, submission *Submission) ([]string, error)

	// ClaimOnePendingJob moves the oldest claimable job to RUNNING. It returns nil when none exists.
	ClaimOnePendingJob(ctx context.Context) (*models.Job, error)
	// FinishJob marks a running job DONE and enqueues one job per downstream node.
	// It returns the number of jobs inserted.
	FinishJob(ctx context.Context, jobID string, output json.RawMessage, downstreamNodeIDs []string) (int, error)
	FailJob(ctx context.Context, jobID string, errorMessage string) error

	CountIncomplete(ctx context.Context, executionID string) (int, error)
	HasAnyFailed(ctx context.Context, executionID string) (bool, error)
	SetExecutionStatus(ctx context.Context, executionID string, status models.ExecutionStatus, finishedAt *time.Time) error
	// FinalizeExecution moves a RUNNING execution without incomplete jobs to a terminal status.
	// It reports false otherwise, which makes repeated finalization a no-op.
	FinalizeExecution(ctx context.Context, executionID string, status models.ExecutionStatus, finishedAt time.Time) (bool, error)

	GetNode(ctx context.Context, nodeID string) (*models.Node, error)
	GetExecution(ctx context.Context, executionID string) (*models.Execution, error)
	Edges(ctx context.Context, workflowID, sourceNodeID string) ([]*models.Edge, error)
	ExecutionJobs(ctx context.Context, executionID string) ([]*models.Job, error)
	// RunningJobs lists RUNNING jobs claimed before the given instant.
	RunningJobs(ctx context.Context, startedBefore time.Time) ([]*models.Job, error)

	// ResolveStartNode returns the entry point used to restart a workflow.
	ResolveStartNode(ctx context.Context, workflowID string) (string, error)
	// RestartIteration moves a RUNNING execution from iteration-1 to iteration and enqueues one
	// job for the start node. Any other current iteration yields ErrInvalidTransition.
	RestartIteration(ctx context.Context, executionID, startNodeID string, iteration int) (string, error)

	// StopExecution marks the execution STOPPED and cancels its pending jobs.
	StopExecution(ctx context.Context, executionID string) (int, error)
	// PauseExecution marks the execution PAUSED and pauses its pending jobs.
	PauseExecution(ctx context.Context, executionID string) (int, error)
	// ResumeExecution marks the execution RUNNING and returns its paused jobs to PENDING.
	ResumeExecution(ctx context.Context, executionID string) (int, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
