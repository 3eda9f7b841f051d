package persistence

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/flowork/flowcore/pkg/models"
)

// RetryingStore decorates a Store so every operation is retried on transient contention.
type RetryingStore struct {
	next   Store
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetryingStore wraps next with the given retry policy.
func NewRetryingStore(next Store, policy RetryPolicy, logger *slog.Logger) *RetryingStore {
	s := &RetryingStore{
		next:   next,
		logger: logger.With("module", "retrying_store"),
	}

	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.logger.Warn("storage contention, retrying", "attempt", attempt, "delay", delay, "error", err)

		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	s.policy = policy

	return s
}

// Unwrap returns the decorated store.
func (s *RetryingStore) Unwrap() Store {
	return s.next
}

func (s *RetryingStore) UpsertWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return RetryErr(ctx, s.policy, func(ctx context.Context) error {
		return s.next.UpsertWorkflow(ctx, workflow)
	})
}

func (s *RetryingStore) ReplaceNodes(ctx context.Context, workflowID string, nodes []*models.Node) error {
	return RetryErr(ctx, s.policy, func(ctx context.Context) error {
		return s.next.ReplaceNodes(ctx, workflowID, nodes)
	})
}

func (s *RetryingStore) ReplaceEdges(ctx context.Context, workflowID string, edges []*models.Edge) error {
	return RetryErr(ctx, s.policy, func(ctx context.Context) error {
		return s.next.ReplaceEdges(ctx, workflowID, edges)
	})
}

func (s *RetryingStore) InsertJobs(ctx context.Context, jobs []*models.Job) error {
	return RetryErr(ctx, s.policy, func(ctx context.Context) error {
		return s.next.InsertJobs(ctx, jobs)
	})
}

func (s *RetryingStore) Submit(ctx context.Context, submission *Submission) ([]string, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) ([]string, error) {
		return s.next.Submit(ctx, submission)
	})
}

func (s *RetryingStore) ClaimOnePendingJob(ctx context.Context) (*models.Job, error) {
	return Retry(ctx, s.policy, s.next.ClaimOnePendingJob)
}

func (s *RetryingStore) FinishJob(ctx context.Context, jobID string, output json.RawMessage, downstreamNodeIDs []string) (int, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (int, error) {
		return s.next.FinishJob(ctx, jobID, output, downstreamNodeIDs)
	})
}

func (s *RetryingStore) FailJob(ctx context.Context, jobID string, errorMessage string) error {
	return RetryErr(ctx, s.policy, func(ctx context.Context) error {
		return s.next.FailJob(ctx, jobID, errorMessage)
	})
}

func (s *RetryingStore) CountIncomplete(ctx context.Context, executionID string) (int, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (int, error) {
		return s.next.CountIncomplete(ctx, executionID)
	})
}

func (s *RetryingStore) HasAnyFailed(ctx context.Context, executionID string) (bool, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (bool, error) {
		return s.next.HasAnyFailed(ctx, executionID)
	})
}

func (s *RetryingStore) SetExecutionStatus(
	ctx context.Context,
	executionID string,
	status models.ExecutionStatus,
	finishedAt *time.Time,
) error {
	return RetryErr(ctx, s.policy, func(ctx context.Context) error {
		return s.next.SetExecutionStatus(ctx, executionID, status, finishedAt)
	})
}

func (s *RetryingStore) FinalizeExecution(
	ctx context.Context,
	executionID string,
	status models.ExecutionStatus,
	finishedAt time.Time,
) (bool, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (bool, error) {
		return s.next.FinalizeExecution(ctx, executionID, status, finishedAt)
	})
}

func (s *RetryingStore) GetNode(ctx context.Context, nodeID string) (*models.Node, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (*models.Node, error) {
		return s.next.GetNode(ctx, nodeID)
	})
}

func (s *RetryingStore) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (*models.Execution, error) {
		return s.next.GetExecution(ctx, executionID)
	})
}

func (s *RetryingStore) Edges(ctx context.Context, workflowID, sourceNodeID string) ([]*models.Edge, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) ([]*models.Edge, error) {
		return s.next.Edges(ctx, workflowID, sourceNodeID)
	})
}

func (s *RetryingStore) ExecutionJobs(ctx context.Context, executionID string) ([]*models.Job, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) ([]*models.Job, error) {
		return s.next.ExecutionJobs(ctx, executionID)
	})
}

func (s *RetryingStore) RunningJobs(ctx context.Context, startedBefore time.Time) ([]*models.Job, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) ([]*models.Job, error) {
		return s.next.RunningJobs(ctx, startedBefore)
	})
}

func (s *RetryingStore) ResolveStartNode(ctx context.Context, workflowID string) (string, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.next.ResolveStartNode(ctx, workflowID)
	})
}

func (s *RetryingStore) RestartIteration(ctx context.Context, executionID, startNodeID string, iteration int) (string, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.next.RestartIteration(ctx, executionID, startNodeID, iteration)
	})
}

func (s *RetryingStore) StopExecution(ctx context.Context, executionID string) (int, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (int, error) {
		return s.next.StopExecution(ctx, executionID)
	})
}

func (s *RetryingStore) PauseExecution(ctx context.Context, executionID string) (int, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (int, error) {
		return s.next.PauseExecution(ctx, executionID)
	})
}

func (s *RetryingStore) ResumeExecution(ctx context.Context, executionID string) (int, error) {
	return Retry(ctx, s.policy, func(ctx context.Context) (int, error) {
		return s.next.ResumeExecution(ctx, executionID)
	})
}

func (s *RetryingStore) HealthCheck(ctx context.Context) error {
	return s.next.HealthCheck(ctx)
}

func (s *RetryingStore) Close() error {
	return s.next.Close()
}
