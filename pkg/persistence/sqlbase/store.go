package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/google/uuid"
)

const emptyPayload = "{}"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used for created/started/finished timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator replaces the generator of job ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// Store implements persistence.Store on database/sql for any supported Dialect.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

var _ persistence.Store = (*Store)(nil)

// NewStore creates a store over an already migrated database.
func NewStore(db *sql.DB, dialect Dialect, logger *slog.Logger, opts ...Option) *Store {
	store := &Store{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// DB exposes the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(tx)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpsertWorkflow inserts the workflow when absent.
func (s *Store) UpsertWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.upsertWorkflow(ctx, tx, workflow)
	})
}

// ReplaceNodes upserts every node of the workflow by node id.
func (s *Store) ReplaceNodes(ctx context.Context, workflowID string, nodes []*models.Node) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.replaceNodes(ctx, tx, workflowID, nodes)
	})
}

// ReplaceEdges deletes every edge of the workflow and inserts the given ones.
func (s *Store) ReplaceEdges(ctx context.Context, workflowID string, edges []*models.Edge) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.replaceEdges(ctx, tx, workflowID, edges)
	})
}

// InsertJobs inserts jobs as given. Missing ids, statuses and timestamps are filled in.
func (s *Store) InsertJobs(ctx context.Context, jobs []*models.Job) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, job := range jobs {
			err := s.insertJob(ctx, tx, job)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// Submit writes the workflow definition, the execution and its initial jobs atomically.
func (s *Store) Submit(ctx context.Context, submission *persistence.Submission) ([]string, error) {
	execution := submission.Execution
	if execution == nil {
		return nil, errors.New("submission has no execution")
	}

	var jobIDs []string

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if submission.Workflow != nil {
			err := s.upsertWorkflow(ctx, tx, submission.Workflow)
			if err != nil {
				return err
			}
		}

		if submission.Nodes != nil {
			err := s.replaceNodes(ctx, tx, execution.WorkflowID, submission.Nodes)
			if err != nil {
				return err
			}
		}

		if submission.ReplaceEdges {
			err := s.replaceEdges(ctx, tx, execution.WorkflowID, submission.Edges)
			if err != nil {
				return err
			}
		}

		err := s.insertExecution(ctx, tx, execution)
		if err != nil {
			return err
		}

		startNodeIDs := submission.StartNodeIDs
		if len(startNodeIDs) == 0 {
			startNodeIDs, err = s.resolveStartNodes(ctx, tx, execution.WorkflowID)
			if err != nil {
				return err
			}
		} else {
			for _, nodeID := range startNodeIDs {
				err = s.ensureNode(ctx, tx, nodeID)
				if err != nil {
					return err
				}
			}
		}

		if len(startNodeIDs) == 0 {
			exeErr := persistence.NewExecutionError("Submit", execution.ID, persistence.ErrNoStartNode)
			exeErr.WorkflowID = execution.WorkflowID

			return exeErr
		}

		input := submission.Input
		if len(input) == 0 {
			input = json.RawMessage(emptyPayload)
		}

		jobIDs = make([]string, 0, len(startNodeIDs))

		for i, nodeID := range startNodeIDs {
			job := &models.Job{
				ExecutionID: execution.ID,
				NodeID:      nodeID,
				WorkflowID:  execution.WorkflowID,
				UserID:      execution.UserID,
				Status:      models.JobStatusPending,
				InputData:   input,
			}
			if i < len(submission.JobIDs) {
				job.ID = submission.JobIDs[i]
			}

			err = s.insertJob(ctx, tx, job)
			if err != nil {
				return err
			}

			jobIDs = append(jobIDs, job.ID)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return jobIDs, nil
}

// ClaimOnePendingJob atomically moves the oldest claimable job to RUNNING.
// Jobs of executions that are not RUNNING are never claimed.
func (s *Store) ClaimOnePendingJob(ctx context.Context) (*models.Job, error) {
	var claimed *models.Job

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`
			SELECT j.job_id
			FROM jobs j
			JOIN executions e ON e.execution_id = j.execution_id
			WHERE j.status = ? AND e.status = ?
			ORDER BY j.created_at, j.%s
			LIMIT 1 %s`, s.dialect.SeqColumn, s.dialect.ClaimLock)

		var jobID string

		err := tx.QueryRowContext(ctx, s.q(query), models.JobStatusPending, models.ExecutionStatusRunning).Scan(&jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("failed to select pending job: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			s.q(`UPDATE jobs SET status = ?, started_at = ? WHERE job_id = ? AND status = ?`),
			models.JobStatusRunning, s.now(), jobID, models.JobStatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to claim job %s: %w", jobID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read claim result: %w", err)
		}

		if affected != 1 {
			return nil
		}

		claimed, err = s.getJob(ctx, tx, jobID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// FinishJob marks the job DONE and enqueues one job per downstream node, all in one transaction.
// Downstream jobs are PENDING for a running execution, PAUSED for a paused one, and not
// created at all once the execution stopped or finished.
func (s *Store) FinishJob(ctx context.Context, jobID string, output json.RawMessage, downstreamNodeIDs []string) (int, error) {
	if len(output) == 0 {
		output = json.RawMessage(emptyPayload)
	}

	inserted := 0

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		job, err := s.getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if job.Status != models.JobStatusRunning {
			return persistence.NewJobError("FinishJob", jobID, persistence.ErrInvalidTransition)
		}

		now := s.now()

		_, err = tx.ExecContext(ctx,
			s.q(`UPDATE jobs SET status = ?, output_data = ?, finished_at = ? WHERE job_id = ? AND status = ?`),
			models.JobStatusDone, string(output), now, jobID, models.JobStatusRunning,
		)
		if err != nil {
			return fmt.Errorf("failed to mark job %s done: %w", jobID, err)
		}

		if len(downstreamNodeIDs) == 0 {
			return nil
		}

		status, err := s.executionStatus(ctx, tx, job.ExecutionID)
		if err != nil {
			return err
		}

		var downstreamStatus models.JobStatus

		switch status {
		case models.ExecutionStatusRunning:
			downstreamStatus = models.JobStatusPending
		case models.ExecutionStatusPaused:
			downstreamStatus = models.JobStatusPaused
		default:
			s.logger.InfoContext(ctx, "execution no longer running, dropping downstream jobs",
				"execution_id", job.ExecutionID, "job_id", jobID, "status", status, "dropped", len(downstreamNodeIDs))

			return nil
		}

		for _, nodeID := range downstreamNodeIDs {
			err = s.insertJob(ctx, tx, &models.Job{
				ExecutionID: job.ExecutionID,
				NodeID:      nodeID,
				WorkflowID:  job.WorkflowID,
				UserID:      job.UserID,
				Status:      downstreamStatus,
				InputData:   output,
				CreatedAt:   now,
			})
			if err != nil {
				return err
			}

			inserted++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// FailJob marks a running job FAILED with the given message.
func (s *Store) FailJob(ctx context.Context, jobID string, errorMessage string) error {
	result, err := s.db.ExecContext(ctx,
		s.q(`UPDATE jobs SET status = ?, error_message = ?, finished_at = ? WHERE job_id = ? AND status = ?`),
		models.JobStatusFailed, errorMessage, s.now(), jobID, models.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read fail result: %w", err)
	}

	if affected == 1 {
		return nil
	}

	_, err = s.getJob(ctx, s.db, jobID)
	if err != nil {
		return err
	}

	return persistence.NewJobError("FailJob", jobID, persistence.ErrInvalidTransition)
}

// CountIncomplete counts jobs of the execution that may still run: PENDING, RUNNING or PAUSED.
func (s *Store) CountIncomplete(ctx context.Context, executionID string) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM jobs WHERE execution_id = ? AND status IN (?, ?, ?)`),
		executionID, models.JobStatusPending, models.JobStatusRunning, models.JobStatusPaused,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count incomplete jobs of %s: %w", executionID, err)
	}

	return count, nil
}

// HasAnyFailed reports whether any job of the execution reached FAILED.
func (s *Store) HasAnyFailed(ctx context.Context, executionID string) (bool, error) {
	var count int

	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM jobs WHERE execution_id = ? AND status = ?`),
		executionID, models.JobStatusFailed,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count failed jobs of %s: %w", executionID, err)
	}

	return count > 0, nil
}

// SetExecutionStatus sets the execution status unconditionally.
func (s *Store) SetExecutionStatus(
	ctx context.Context,
	executionID string,
	status models.ExecutionStatus,
	finishedAt *time.Time,
) error {
	result, err := s.db.ExecContext(ctx,
		s.q(`UPDATE executions SET status = ?, finished_at = ? WHERE execution_id = ?`),
		status, finishedAt, executionID,
	)
	if err != nil {
		return fmt.Errorf("failed to set execution %s status: %w", executionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read status update result: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("SetExecutionStatus", executionID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// FinalizeExecution moves a RUNNING execution to a terminal status and reports whether it did.
func (s *Store) FinalizeExecution(
	ctx context.Context,
	executionID string,
	status models.ExecutionStatus,
	finishedAt time.Time,
) (bool, error) {
	if !status.IsTerminal() {
		return false, persistence.NewExecutionError("FinalizeExecution", executionID, persistence.ErrInvalidTransition)
	}

	result, err := s.db.ExecContext(ctx,
		s.q(`UPDATE executions SET status = ?, finished_at = ?
			WHERE execution_id = ? AND status = ?
			AND NOT EXISTS (SELECT 1 FROM jobs WHERE execution_id = ? AND status IN (?, ?, ?))`),
		status, finishedAt, executionID, models.ExecutionStatusRunning,
		executionID, models.JobStatusPending, models.JobStatusRunning, models.JobStatusPaused,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finalize execution %s: %w", executionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read finalize result: %w", err)
	}

	if affected == 1 {
		return true, nil
	}

	_, err = s.executionStatus(ctx, s.db, executionID)
	if err != nil {
		return false, err
	}

	return false, nil
}

// GetNode returns a node by its globally unique id.
func (s *Store) GetNode(ctx context.Context, nodeID string) (*models.Node, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT node_id, workflow_id, node_type, config_json FROM nodes WHERE node_id = ?`),
		nodeID,
	)

	var (
		node   models.Node
		config sql.NullString
	)

	err := row.Scan(&node.ID, &node.WorkflowID, &node.Type, &config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", nodeID, persistence.ErrNodeNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan node %s: %w", nodeID, err)
	}

	node.Config = map[string]any{}

	if config.Valid && config.String != "" {
		err = json.Unmarshal([]byte(config.String), &node.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal config of node %s: %w", nodeID, err)
		}
	}

	return &node, nil
}

// GetExecution returns an execution by id.
func (s *Store) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`
			SELECT execution_id, workflow_id, user_id, strategy, status, created_at, finished_at,
				   gas_budget_hint, loop_config, loop_iteration
			FROM executions
			WHERE execution_id = ?`),
		executionID,
	)

	var (
		execution  models.Execution
		finishedAt sql.NullTime
		loopConfig sql.NullString
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.UserID,
		&execution.Strategy,
		&execution.Status,
		&execution.CreatedAt,
		&finishedAt,
		&execution.GasBudgetHint,
		&loopConfig,
		&execution.LoopIteration,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("GetExecution", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan execution %s: %w", executionID, err)
	}

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	if loopConfig.Valid && loopConfig.String != "" {
		var config models.LoopConfig

		err = json.Unmarshal([]byte(loopConfig.String), &config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal loop config of %s: %w", executionID, err)
		}

		execution.LoopConfig = &config
	}

	return &execution, nil
}

// Edges returns the outgoing edges of a node in insertion order.
func (s *Store) Edges(ctx context.Context, workflowID, sourceNodeID string) ([]*models.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`
			SELECT edge_id, workflow_id, source_node_id, target_node_id, source_handle, target_handle
			FROM edges
			WHERE workflow_id = ? AND source_node_id = ?
			ORDER BY edge_id`),
		workflowID, sourceNodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges of %s: %w", sourceNodeID, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var edges []*models.Edge

	for rows.Next() {
		var (
			edge         models.Edge
			sourceHandle sql.NullString
			targetHandle sql.NullString
		)

		err := rows.Scan(&edge.ID, &edge.WorkflowID, &edge.SourceNodeID, &edge.TargetNodeID, &sourceHandle, &targetHandle)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}

		if sourceHandle.Valid {
			edge.SourceHandle = &sourceHandle.String
		}

		if targetHandle.Valid {
			edge.TargetHandle = &targetHandle.String
		}

		edges = append(edges, &edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}

	return edges, nil
}

// ExecutionJobs returns every job of the execution in claim order.
func (s *Store) ExecutionJobs(ctx context.Context, executionID string) ([]*models.Job, error) {
	return s.queryJobs(ctx,
		fmt.Sprintf(`SELECT %s FROM jobs WHERE execution_id = ? ORDER BY created_at, %s`, s.jobColumns(), s.dialect.SeqColumn),
		executionID,
	)
}

// RunningJobs returns RUNNING jobs whose claim happened before the given instant.
func (s *Store) RunningJobs(ctx context.Context, startedBefore time.Time) ([]*models.Job, error) {
	return s.queryJobs(ctx,
		fmt.Sprintf(`SELECT %s FROM jobs WHERE status = ? AND started_at < ? ORDER BY started_at`, s.jobColumns()),
		models.JobStatusRunning, startedBefore,
	)
}

// ResolveStartNode returns the first entry point of the workflow.
func (s *Store) ResolveStartNode(ctx context.Context, workflowID string) (string, error) {
	nodeIDs, err := s.resolveStartNodes(ctx, s.db, workflowID)
	if err != nil {
		return "", err
	}

	if len(nodeIDs) == 0 {
		return "", fmt.Errorf("workflow %s: %w", workflowID, persistence.ErrNoStartNode)
	}

	return nodeIDs[0], nil
}

// RestartIteration records the iteration number and enqueues a fresh start job with empty input.
func (s *Store) RestartIteration(ctx context.Context, executionID, startNodeID string, iteration int) (string, error) {
	var jobID string

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		execution, err := s.getExecutionOwner(ctx, tx, executionID)
		if err != nil {
			return err
		}

		if execution.Status != models.ExecutionStatusRunning {
			return persistence.NewExecutionError("RestartIteration", executionID, persistence.ErrInvalidTransition)
		}

		// Only the process that observed the previous iteration may start the next one.
		result, err := tx.ExecContext(ctx,
			s.q(`UPDATE executions SET loop_iteration = ? WHERE execution_id = ? AND loop_iteration = ?`),
			iteration, executionID, iteration-1,
		)
		if err != nil {
			return fmt.Errorf("failed to record loop iteration of %s: %w", executionID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read loop iteration result: %w", err)
		}

		if affected != 1 {
			return persistence.NewExecutionError("RestartIteration", executionID, persistence.ErrInvalidTransition)
		}

		job := &models.Job{
			ExecutionID: executionID,
			NodeID:      startNodeID,
			WorkflowID:  execution.WorkflowID,
			UserID:      execution.UserID,
			Status:      models.JobStatusPending,
			InputData:   json.RawMessage(emptyPayload),
		}

		err = s.insertJob(ctx, tx, job)
		if err != nil {
			return err
		}

		jobID = job.ID

		return nil
	})
	if err != nil {
		return "", err
	}

	return jobID, nil
}

// StopExecution marks the execution STOPPED and cancels its pending and paused jobs.
func (s *Store) StopExecution(ctx context.Context, executionID string) (int, error) {
	now := s.now()

	return s.transition(ctx, "StopExecution", executionID,
		models.ExecutionStatusStopped, &now,
		[]models.ExecutionStatus{models.ExecutionStatusRunning, models.ExecutionStatusPaused},
		models.JobStatusCancelled,
		[]models.JobStatus{models.JobStatusPending, models.JobStatusPaused},
	)
}

// PauseExecution marks the execution PAUSED and pauses its pending jobs.
func (s *Store) PauseExecution(ctx context.Context, executionID string) (int, error) {
	return s.transition(ctx, "PauseExecution", executionID,
		models.ExecutionStatusPaused, nil,
		[]models.ExecutionStatus{models.ExecutionStatusRunning},
		models.JobStatusPaused,
		[]models.JobStatus{models.JobStatusPending},
	)
}

// ResumeExecution marks the execution RUNNING again and returns its paused jobs to PENDING.
func (s *Store) ResumeExecution(ctx context.Context, executionID string) (int, error) {
	return s.transition(ctx, "ResumeExecution", executionID,
		models.ExecutionStatusRunning, nil,
		[]models.ExecutionStatus{models.ExecutionStatusPaused},
		models.JobStatusPending,
		[]models.JobStatus{models.JobStatusPaused},
	)
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

func (s *Store) transition(
	ctx context.Context,
	op, executionID string,
	to models.ExecutionStatus,
	finishedAt *time.Time,
	from []models.ExecutionStatus,
	jobsTo models.JobStatus,
	jobsFrom []models.JobStatus,
) (int, error) {
	var changed int

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		args := []any{to, finishedAt, executionID}
		for _, status := range from {
			args = append(args, status)
		}

		result, err := tx.ExecContext(ctx,
			s.q(fmt.Sprintf(`UPDATE executions SET status = ?, finished_at = ? WHERE execution_id = ? AND status IN (%s)`,
				Placeholders(len(from)))),
			args...,
		)
		if err != nil {
			return fmt.Errorf("failed to update execution %s: %w", executionID, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read execution update result: %w", err)
		}

		if affected == 0 {
			_, err = s.executionStatus(ctx, tx, executionID)
			if err != nil {
				return err
			}

			return persistence.NewExecutionError(op, executionID, persistence.ErrInvalidTransition)
		}

		args = []any{jobsTo, executionID}
		for _, status := range jobsFrom {
			args = append(args, status)
		}

		query := `UPDATE jobs SET status = ? WHERE execution_id = ? AND status IN (%s)`
		if jobsTo.IsTerminal() {
			query = `UPDATE jobs SET status = ?, finished_at = ? WHERE execution_id = ? AND status IN (%s)`
			args = append([]any{jobsTo, s.now()}, args[1:]...)
		}

		result, err = tx.ExecContext(ctx, s.q(fmt.Sprintf(query, Placeholders(len(jobsFrom)))), args...)
		if err != nil {
			return fmt.Errorf("failed to update jobs of %s: %w", executionID, err)
		}

		jobsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read job update result: %w", err)
		}

		changed = int(jobsAffected)

		return nil
	})
	if err != nil {
		return 0, err
	}

	return changed, nil
}

func (s *Store) upsertWorkflow(ctx context.Context, q querier, workflow *models.Workflow) error {
	_, err := q.ExecContext(ctx,
		s.q(`INSERT INTO workflows (workflow_id, name, created_at) VALUES (?, ?, ?) ON CONFLICT (workflow_id) DO NOTHING`),
		workflow.ID, workflow.Name, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert workflow %s: %w", workflow.ID, err)
	}

	return nil
}

func (s *Store) replaceNodes(ctx context.Context, q querier, workflowID string, nodes []*models.Node) error {
	for _, node := range nodes {
		config := node.Config
		if config == nil {
			config = map[string]any{}
		}

		configJSON, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal config of node %s: %w", node.ID, err)
		}

		_, err = q.ExecContext(ctx,
			s.q(`
				INSERT INTO nodes (node_id, workflow_id, node_type, config_json)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (node_id) DO UPDATE SET
					workflow_id = excluded.workflow_id,
					node_type = excluded.node_type,
					config_json = excluded.config_json`),
			node.ID, workflowID, node.Type, string(configJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert node %s: %w", node.ID, err)
		}

		node.WorkflowID = workflowID
	}

	return nil
}

func (s *Store) replaceEdges(ctx context.Context, q querier, workflowID string, edges []*models.Edge) error {
	_, err := q.ExecContext(ctx, s.q(`DELETE FROM edges WHERE workflow_id = ?`), workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete edges of workflow %s: %w", workflowID, err)
	}

	for _, edge := range edges {
		_, err = q.ExecContext(ctx,
			s.q(`
				INSERT INTO edges (workflow_id, source_node_id, target_node_id, source_handle, target_handle)
				VALUES (?, ?, ?, ?, ?)`),
			workflowID, edge.SourceNodeID, edge.TargetNodeID, nullable(edge.SourceHandle), nullable(edge.TargetHandle),
		)
		if err != nil {
			return fmt.Errorf("failed to insert edge %s -> %s: %w", edge.SourceNodeID, edge.TargetNodeID, err)
		}

		edge.WorkflowID = workflowID
	}

	return nil
}

func (s *Store) insertExecution(ctx context.Context, q querier, execution *models.Execution) error {
	if execution.Status == "" {
		execution.Status = models.ExecutionStatusRunning
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = s.now()
	}

	if execution.GasBudgetHint == 0 {
		execution.GasBudgetHint = models.DefaultGasBudget
	}

	if execution.LoopIteration == 0 {
		execution.LoopIteration = 1
	}

	var loopConfig any

	if execution.LoopConfig != nil {
		encoded, err := json.Marshal(execution.LoopConfig)
		if err != nil {
			return fmt.Errorf("failed to marshal loop config: %w", err)
		}

		loopConfig = string(encoded)
	}

	_, err := q.ExecContext(ctx,
		s.q(`
			INSERT INTO executions (
				execution_id, workflow_id, user_id, strategy, status, created_at,
				gas_budget_hint, loop_config, loop_iteration
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		execution.ID, execution.WorkflowID, execution.UserID, execution.Strategy, execution.Status,
		execution.CreatedAt, execution.GasBudgetHint, loopConfig, execution.LoopIteration,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", execution.ID, err)
	}

	return nil
}

func (s *Store) insertJob(ctx context.Context, q querier, job *models.Job) error {
	if job.ID == "" {
		job.ID = s.newID()
	}

	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}

	if len(job.InputData) == 0 {
		job.InputData = json.RawMessage(emptyPayload)
	}

	_, err := q.ExecContext(ctx,
		s.q(`
			INSERT INTO jobs (job_id, execution_id, node_id, workflow_id, user_id, status, input_data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.ExecutionID, job.NodeID, job.WorkflowID, job.UserID, job.Status, string(job.InputData), job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job for node %s: %w", job.NodeID, err)
	}

	return nil
}

func (s *Store) ensureNode(ctx context.Context, q querier, nodeID string) error {
	var count int

	err := q.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM nodes WHERE node_id = ?`), nodeID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to look up node %s: %w", nodeID, err)
	}

	if count == 0 {
		return fmt.Errorf("start node %s: %w", nodeID, persistence.ErrNodeNotFound)
	}

	return nil
}

// resolveStartNodes prefers nodes of the designated start type, then falls back to nodes
// that are no edge's target.
func (s *Store) resolveStartNodes(ctx context.Context, q querier, workflowID string) ([]string, error) {
	designated, err := s.queryStrings(ctx, q,
		`SELECT node_id FROM nodes WHERE workflow_id = ? AND node_type = ? ORDER BY node_id`,
		workflowID, models.StartNodeType,
	)
	if err != nil {
		return nil, err
	}

	if len(designated) > 0 {
		return designated, nil
	}

	return s.queryStrings(ctx, q, `
		SELECT n.node_id
		FROM nodes n
		WHERE n.workflow_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM edges e WHERE e.workflow_id = n.workflow_id AND e.target_node_id = n.node_id
		  )
		ORDER BY n.node_id`,
		workflowID,
	)
}

func (s *Store) queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var values []string

	for rows.Next() {
		var value string

		err := rows.Scan(&value)
		if err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}

		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return values, nil
}

func (s *Store) executionStatus(ctx context.Context, q querier, executionID string) (models.ExecutionStatus, error) {
	var status models.ExecutionStatus

	err := q.QueryRowContext(ctx, s.q(`SELECT status FROM executions WHERE execution_id = ?`), executionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", persistence.NewExecutionError("GetExecution", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return "", fmt.Errorf("failed to read status of execution %s: %w", executionID, err)
	}

	return status, nil
}

func (s *Store) getExecutionOwner(ctx context.Context, q querier, executionID string) (*models.Execution, error) {
	var execution models.Execution

	err := q.QueryRowContext(ctx,
		s.q(`SELECT execution_id, workflow_id, user_id, status FROM executions WHERE execution_id = ?`),
		executionID,
	).Scan(&execution.ID, &execution.WorkflowID, &execution.UserID, &execution.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("GetExecution", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read execution %s: %w", executionID, err)
	}

	return &execution, nil
}

func (s *Store) jobColumns() string {
	return s.dialect.SeqColumn + `, job_id, execution_id, node_id, workflow_id, user_id, status,
		input_data, output_data, error_message, created_at, started_at, finished_at`
}

func (s *Store) getJob(ctx context.Context, q querier, jobID string) (*models.Job, error) {
	row := q.QueryRowContext(ctx, s.q(fmt.Sprintf(`SELECT %s FROM jobs WHERE job_id = ?`, s.jobColumns())), jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewJobError("GetJob", jobID, persistence.ErrJobNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan job %s: %w", jobID, err)
	}

	return job, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var jobs []*models.Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func scanJob(scanner interface {
	Scan(dest ...any) error
},
) (*models.Job, error) {
	var (
		job          models.Job
		inputData    sql.NullString
		outputData   sql.NullString
		errorMessage sql.NullString
		startedAt    sql.NullTime
		finishedAt   sql.NullTime
	)

	err := scanner.Scan(
		&job.Seq,
		&job.ID,
		&job.ExecutionID,
		&job.NodeID,
		&job.WorkflowID,
		&job.UserID,
		&job.Status,
		&inputData,
		&outputData,
		&errorMessage,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if inputData.Valid {
		job.InputData = json.RawMessage(inputData.String)
	}

	if outputData.Valid {
		job.OutputData = json.RawMessage(outputData.String)
	}

	job.ErrorMessage = errorMessage.String

	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}

	return &job, nil
}

func nullable(value *string) any {
	if value == nil {
		return nil
	}

	return *value
}
