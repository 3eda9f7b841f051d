package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory returns an empty, migrated store owned by the test.
type StoreFactory func(t *testing.T) persistence.Store

// RunStoreSuite exercises the behaviour every persistence.Store implementation must share.
func RunStoreSuite(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("submit enqueues one job per entry node", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("a", "b", "c")

		submission := NewSubmission(ids[0]+"-wf", []*models.Node{
			CreateTestNode(WithID(ids[0])),
			CreateTestNode(WithID(ids[1])),
			CreateTestNode(WithID(ids[2])),
		}, []*models.Edge{Connect(ids[0], ids[2], ""), Connect(ids[1], ids[2], "")})
		submission.Input = json.RawMessage(`{"data":{"seed":1},"history":[]}`)

		jobIDs, err := store.Submit(ctx, submission)
		require.NoError(t, err)
		assert.Len(t, jobIDs, 2)

		execution, err := store.GetExecution(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
		assert.Equal(t, models.DefaultGasBudget, execution.GasBudgetHint)
		assert.Equal(t, 1, execution.LoopIteration)

		jobs, err := store.ExecutionJobs(ctx, submission.Execution.ID)
		require.NoError(t, err)
		require.Len(t, jobs, 2)

		started := []string{jobs[0].NodeID, jobs[1].NodeID}
		assert.ElementsMatch(t, []string{ids[0], ids[1]}, started)

		for _, job := range jobs {
			assert.Equal(t, models.JobStatusPending, job.Status)
			assert.Equal(t, "user-1", job.UserID)
			assert.JSONEq(t, `{"data":{"seed":1},"history":[]}`, string(job.InputData))
		}

		count, err := store.CountIncomplete(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("submit prefers the designated start node", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("orphan", "start", "next")

		submission := NewSubmission(ids[1]+"-wf", []*models.Node{
			CreateTestNode(WithID(ids[0])),
			CreateTestNode(WithID(ids[1]), WithType(models.StartNodeType)),
			CreateTestNode(WithID(ids[2])),
		}, []*models.Edge{Connect(ids[1], ids[2], "")})

		_, err := store.Submit(ctx, submission)
		require.NoError(t, err)

		jobs, err := store.ExecutionJobs(ctx, submission.Execution.ID)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, ids[1], jobs[0].NodeID)

		startNode, err := store.ResolveStartNode(ctx, ids[1]+"-wf")
		require.NoError(t, err)
		assert.Equal(t, ids[1], startNode)
	})

	t.Run("submit without entry node writes nothing", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("x", "y")

		submission := NewSubmission(ids[0]+"-wf", []*models.Node{
			CreateTestNode(WithID(ids[0])),
			CreateTestNode(WithID(ids[1])),
		}, []*models.Edge{Connect(ids[0], ids[1], ""), Connect(ids[1], ids[0], "")})

		_, err := store.Submit(ctx, submission)
		require.Error(t, err)
		assert.True(t, persistence.IsNoStartNode(err))

		_, err = store.GetExecution(ctx, submission.Execution.ID)
		assert.True(t, persistence.IsExecutionNotFound(err))

		_, err = store.GetNode(ctx, ids[0])
		assert.True(t, persistence.IsNodeNotFound(err))
	})

	t.Run("submit honours explicit start node and forced job id", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("first", "second")

		submission := Chain(ids[0]+"-wf", ids[0], ids[1])
		submission.StartNodeIDs = []string{ids[1]}
		submission.JobIDs = []string{"forced-" + ids[1]}

		jobIDs, err := store.Submit(ctx, submission)
		require.NoError(t, err)
		assert.Equal(t, []string{"forced-" + ids[1]}, jobIDs)

		missing := Chain(ids[0]+"-wf", ids[0], ids[1])
		missing.StartNodeIDs = []string{"does-not-exist-" + ids[0]}

		_, err = store.Submit(ctx, missing)
		assert.True(t, persistence.IsNodeNotFound(err))
	})

	t.Run("resubmission replaces edges and upserts nodes", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("s", "t", "u")
		workflowID := ids[0] + "-wf"

		first := NewSubmission(workflowID, []*models.Node{
			CreateTestNode(WithID(ids[0])),
			CreateTestNode(WithID(ids[1])),
			CreateTestNode(WithID(ids[2])),
		}, []*models.Edge{Connect(ids[0], ids[1], "success")})
		_, err := store.Submit(ctx, first)
		require.NoError(t, err)

		second := NewSubmission(workflowID, []*models.Node{
			CreateTestNode(WithID(ids[0]), WithConfig(map[string]any{"message": "changed"})),
			CreateTestNode(WithID(ids[1])),
			CreateTestNode(WithID(ids[2])),
		}, []*models.Edge{Connect(ids[0], ids[2], "error")})
		_, err = store.Submit(ctx, second)
		require.NoError(t, err)

		edges, err := store.Edges(ctx, workflowID, ids[0])
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, ids[2], edges[0].TargetNodeID)
		assert.Equal(t, "error", edges[0].Handle())

		node, err := store.GetNode(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "changed", node.Config["message"])
		assert.Equal(t, workflowID, node.WorkflowID)
	})

	t.Run("upsert workflow inserts only when absent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("only")
		workflowID := ids[0] + "-wf"

		require.NoError(t, store.UpsertWorkflow(ctx, &models.Workflow{ID: workflowID, Name: "first"}))
		require.NoError(t, store.UpsertWorkflow(ctx, &models.Workflow{ID: workflowID, Name: "second"}))
		require.NoError(t, store.ReplaceNodes(ctx, workflowID, []*models.Node{CreateTestNode(WithID(ids[0]))}))

		submission := NewSubmission(workflowID, nil, nil)
		submission.Workflow = nil
		submission.ReplaceEdges = false

		jobIDs, err := store.Submit(ctx, submission)
		require.NoError(t, err)
		assert.Len(t, jobIDs, 1)
	})

	t.Run("replace nodes upserts by node id", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("kept", "added")
		workflowID := ids[0] + "-wf"

		require.NoError(t, store.UpsertWorkflow(ctx, &models.Workflow{ID: workflowID}))
		require.NoError(t, store.ReplaceNodes(ctx, workflowID, []*models.Node{
			CreateTestNode(WithID(ids[0]), WithConfig(map[string]any{"message": "old"})),
		}))
		require.NoError(t, store.ReplaceNodes(ctx, workflowID, []*models.Node{
			CreateTestNode(WithID(ids[0]), WithType("transform"), WithConfig(map[string]any{"message": "new"})),
			CreateTestNode(WithID(ids[1]), WithConfig(nil)),
		}))

		kept, err := store.GetNode(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "transform", kept.Type)
		assert.Equal(t, "new", kept.Config["message"])
		assert.Equal(t, workflowID, kept.WorkflowID)

		added, err := store.GetNode(ctx, ids[1])
		require.NoError(t, err)
		assert.Empty(t, added.Config)
	})

	t.Run("replace edges drops every previous edge", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("p", "q", "r")
		workflowID := ids[0] + "-wf"

		require.NoError(t, store.UpsertWorkflow(ctx, &models.Workflow{ID: workflowID}))
		require.NoError(t, store.ReplaceNodes(ctx, workflowID, []*models.Node{
			CreateTestNode(WithID(ids[0])),
			CreateTestNode(WithID(ids[1])),
			CreateTestNode(WithID(ids[2])),
		}))
		require.NoError(t, store.ReplaceEdges(ctx, workflowID, []*models.Edge{
			Connect(ids[0], ids[1], "success"),
			Connect(ids[0], ids[2], "error"),
		}))
		require.NoError(t, store.ReplaceEdges(ctx, workflowID, []*models.Edge{Connect(ids[1], ids[2], "")}))

		edges, err := store.Edges(ctx, workflowID, ids[0])
		require.NoError(t, err)
		assert.Empty(t, edges)

		edges, err = store.Edges(ctx, workflowID, ids[1])
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, ids[2], edges[0].TargetNodeID)
		assert.Empty(t, edges[0].Handle())

		require.NoError(t, store.ReplaceEdges(ctx, workflowID, nil))

		edges, err = store.Edges(ctx, workflowID, ids[1])
		require.NoError(t, err)
		assert.Empty(t, edges)
	})

	t.Run("insert jobs enqueues a batch atomically", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("head", "tail")
		workflowID := ids[0] + "-wf"

		submission := Chain(workflowID, ids[0], ids[1])
		_, err := store.Submit(ctx, submission)
		require.NoError(t, err)

		executionID := submission.Execution.ID
		newJob := func() *models.Job {
			return &models.Job{ExecutionID: executionID, NodeID: ids[1], WorkflowID: workflowID, UserID: "user-1"}
		}

		batch := []*models.Job{newJob(), newJob()}
		require.NoError(t, store.InsertJobs(ctx, batch))

		for _, job := range batch {
			assert.NotEmpty(t, job.ID)
			assert.Equal(t, models.JobStatusPending, job.Status)
			assert.False(t, job.CreatedAt.IsZero())
		}

		count, err := store.CountIncomplete(ctx, executionID)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		duplicate := newJob()
		duplicate.ID = "dup-" + ids[1]
		twin := newJob()
		twin.ID = duplicate.ID

		err = store.InsertJobs(ctx, []*models.Job{duplicate, twin})
		require.Error(t, err)

		jobs, err := store.ExecutionJobs(ctx, executionID)
		require.NoError(t, err)
		assert.Len(t, jobs, 3, "a failed batch inserts nothing")
	})

	t.Run("set execution status", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("solo")

		submission := Chain(ids[0]+"-wf", ids[0])
		_, err := store.Submit(ctx, submission)
		require.NoError(t, err)

		finishedAt := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, store.SetExecutionStatus(ctx, submission.Execution.ID, models.ExecutionStatusFailed, &finishedAt))

		execution, err := store.GetExecution(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
		require.NotNil(t, execution.FinishedAt)
		assert.WithinDuration(t, finishedAt, *execution.FinishedAt, time.Second)

		err = store.SetExecutionStatus(ctx, "missing-"+ids[0], models.ExecutionStatusStopped, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
	})

	t.Run("claim takes the oldest pending job once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("only")

		submission := Chain(ids[0]+"-wf", ids[0])
		_, err := store.Submit(ctx, submission)
		require.NoError(t, err)

		job, err := store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, ids[0], job.NodeID)
		assert.Equal(t, models.JobStatusRunning, job.Status)
		assert.NotNil(t, job.StartedAt)

		again, err := store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		assert.Nil(t, again)
	})

	t.Run("finish job enqueues downstream after the parent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("p", "c1", "c2")

		submission := NewSubmission(ids[0]+"-wf", []*models.Node{
			CreateTestNode(WithID(ids[0])),
			CreateTestNode(WithID(ids[1])),
			CreateTestNode(WithID(ids[2])),
		}, []*models.Edge{Connect(ids[0], ids[1], ""), Connect(ids[0], ids[2], "")})
		_, err := store.Submit(ctx, submission)
		require.NoError(t, err)

		parent, err := store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, parent)

		output := json.RawMessage(`{"data":"hello","history":[]}`)

		inserted, err := store.FinishJob(ctx, parent.ID, output, []string{ids[1], ids[2]})
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)

		jobs, err := store.ExecutionJobs(ctx, submission.Execution.ID)
		require.NoError(t, err)
		require.Len(t, jobs, 3)

		assert.Equal(t, parent.ID, jobs[0].ID)
		assert.Equal(t, models.JobStatusDone, jobs[0].Status)
		assert.JSONEq(t, string(output), string(jobs[0].OutputData))
		assert.NotNil(t, jobs[0].FinishedAt)

		assert.Equal(t, ids[1], jobs[1].NodeID)
		assert.Equal(t, ids[2], jobs[2].NodeID)

		for _, child := range jobs[1:] {
			assert.Equal(t, models.JobStatusPending, child.Status)
			assert.JSONEq(t, string(output), string(child.InputData))
			assert.False(t, child.CreatedAt.Before(*jobs[0].StartedAt))
			assert.Greater(t, child.Seq, jobs[0].Seq)
		}

		_, err = store.FinishJob(ctx, parent.ID, output, nil)
		assert.ErrorIs(t, err, persistence.ErrInvalidTransition)
	})

	t.Run("fail job records the error", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("boom")

		submission := Chain(ids[0]+"-wf", ids[0])
		_, err := store.Submit(ctx, submission)
		require.NoError(t, err)

		job, err := store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)

		failed, err := store.HasAnyFailed(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.False(t, failed)

		require.NoError(t, store.FailJob(ctx, job.ID, "division by zero"))

		failed, err = store.HasAnyFailed(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.True(t, failed)

		jobs, err := store.ExecutionJobs(ctx, submission.Execution.ID)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
		assert.Equal(t, "division by zero", jobs[0].ErrorMessage)

		count, err := store.CountIncomplete(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Zero(t, count)

		assert.ErrorIs(t, store.FailJob(ctx, job.ID, "again"), persistence.ErrInvalidTransition)
		assert.ErrorIs(t, store.FailJob(ctx, "missing-"+ids[0], "x"), persistence.ErrJobNotFound)
	})

	t.Run("finalize transitions once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("fin")

		submission := Chain(ids[0]+"-wf", ids[0])
		_, err := store.Submit(ctx, submission)
		require.NoError(t, err)

		now := time.Now().UTC()

		transitioned, err := store.FinalizeExecution(ctx, submission.Execution.ID, models.ExecutionStatusSucceeded, now)
		require.NoError(t, err)
		assert.False(t, transitioned, "an execution with pending jobs is not finalized")

		job, err := store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)

		_, err = store.FinishJob(ctx, job.ID, json.RawMessage(`{}`), nil)
		require.NoError(t, err)

		transitioned, err = store.FinalizeExecution(ctx, submission.Execution.ID, models.ExecutionStatusSucceeded, now)
		require.NoError(t, err)
		assert.True(t, transitioned)

		transitioned, err = store.FinalizeExecution(ctx, submission.Execution.ID, models.ExecutionStatusFailed, now)
		require.NoError(t, err)
		assert.False(t, transitioned)

		execution, err := store.GetExecution(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusSucceeded, execution.Status)
		assert.NotNil(t, execution.FinishedAt)

		_, err = store.FinalizeExecution(ctx, "missing-"+ids[0], models.ExecutionStatusSucceeded, now)
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("stop cancels pending work and blocks new jobs", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("r1", "r2", "next")

		submission := NewSubmission(ids[0]+"-wf", []*models.Node{
			CreateTestNode(WithID(ids[0])),
			CreateTestNode(WithID(ids[1])),
			CreateTestNode(WithID(ids[2])),
		}, []*models.Edge{Connect(ids[0], ids[2], "")})
		_, err := store.Submit(ctx, submission)
		require.NoError(t, err)

		running, err := store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, running)

		cancelled, err := store.StopExecution(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, cancelled)

		claimed, err := store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		assert.Nil(t, claimed)

		inserted, err := store.FinishJob(ctx, running.ID, json.RawMessage(`{}`), []string{ids[2]})
		require.NoError(t, err)
		assert.Zero(t, inserted)

		execution, err := store.GetExecution(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusStopped, execution.Status)

		_, err = store.StopExecution(ctx, submission.Execution.ID)
		assert.ErrorIs(t, err, persistence.ErrInvalidTransition)
	})

	t.Run("pause and resume", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("pa", "pb", "pc")

		submission := NewSubmission(ids[0]+"-wf", []*models.Node{
			CreateTestNode(WithID(ids[0])),
			CreateTestNode(WithID(ids[1])),
			CreateTestNode(WithID(ids[2])),
		}, []*models.Edge{Connect(ids[0], ids[2], "")})
		_, err := store.Submit(ctx, submission)
		require.NoError(t, err)

		running, err := store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, running)

		paused, err := store.PauseExecution(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, paused)

		claimed, err := store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		assert.Nil(t, claimed)

		inserted, err := store.FinishJob(ctx, running.ID, json.RawMessage(`{}`), []string{ids[2]})
		require.NoError(t, err)
		assert.Equal(t, 1, inserted)

		count, err := store.CountIncomplete(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		resumed, err := store.ResumeExecution(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, resumed)

		claimed, err = store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		assert.NotNil(t, claimed)
	})

	t.Run("restart iteration enqueues the start node", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("loop")

		submission := Chain(ids[0]+"-wf", ids[0])
		submission.Execution.LoopConfig = &models.LoopConfig{Enabled: true, Iterations: 3}
		_, err := store.Submit(ctx, submission)
		require.NoError(t, err)

		jobID, err := store.RestartIteration(ctx, submission.Execution.ID, ids[0], 2)
		require.NoError(t, err)
		assert.NotEmpty(t, jobID)

		_, err = store.RestartIteration(ctx, submission.Execution.ID, ids[0], 2)
		require.ErrorIs(t, err, persistence.ErrInvalidTransition, "an iteration starts only once")

		execution, err := store.GetExecution(ctx, submission.Execution.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, execution.LoopIteration)
		require.NotNil(t, execution.LoopConfig)
		assert.Equal(t, 3, execution.LoopConfig.Iterations)

		jobs, err := store.ExecutionJobs(ctx, submission.Execution.ID)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, jobID, jobs[1].ID)
		assert.JSONEq(t, `{}`, string(jobs[1].InputData))
	})

	t.Run("running jobs lists claims older than the deadline", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ids := uniqueIDs("slow")

		_, err := store.Submit(ctx, Chain(ids[0]+"-wf", ids[0]))
		require.NoError(t, err)

		job, err := store.ClaimOnePendingJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)

		jobs, err := store.RunningJobs(ctx, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.ID, jobs[0].ID)

		jobs, err = store.RunningJobs(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("concurrent claimers never share a job", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		const jobCount = 40

		ids := make([]string, jobCount)
		for i := range ids {
			ids[i] = "claim-" + uuid.NewString()
		}

		nodes := make([]*models.Node, 0, jobCount)
		for _, id := range ids {
			nodes = append(nodes, CreateTestNode(WithID(id)))
		}

		_, err := store.Submit(ctx, NewSubmission("claim-wf-"+uuid.NewString(), nodes, nil))
		require.NoError(t, err)

		var (
			mu      sync.Mutex
			claimed = map[string]int{}
			wg      sync.WaitGroup
		)

		for range 8 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				for {
					job, err := store.ClaimOnePendingJob(ctx)
					if err != nil {
						t.Errorf("claim failed: %v", err)

						return
					}

					if job == nil {
						return
					}

					mu.Lock()
					claimed[job.ID]++
					mu.Unlock()
				}
			}()
		}

		wg.Wait()

		assert.Len(t, claimed, jobCount)

		for jobID, times := range claimed {
			assert.Equal(t, 1, times, "job %s claimed more than once", jobID)
		}
	})
}

func uniqueIDs(names ...string) []string {
	suffix := uuid.NewString()[:8]
	ids := make([]string, len(names))

	for i, name := range names {
		ids[i] = name + "-" + suffix
	}

	return ids
}
