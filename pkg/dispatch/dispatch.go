// Package dispatch is the front door of the scheduler: it persists submitted workflows,
// enqueues their first jobs and carries the execution control signals.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flowork/flowcore/pkg/completion"
	"github.com/flowork/flowcore/pkg/eventbus"
	"github.com/flowork/flowcore/pkg/events"
	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/flowork/flowcore/pkg/protocol"
	"github.com/flowork/flowcore/pkg/strategy"
	"github.com/flowork/flowcore/pkg/wake"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	shadowWorkflowPrefix = "shadow_workflow_"
	shadowWorkflowName   = "Shadow Execution Workflow"

	// DefaultStandaloneUser owns standalone executions submitted without a user.
	DefaultStandaloneUser = "direct_command"
)

// NodeCatalog knows the registered node types and their configuration schemas.
type NodeCatalog interface {
	Resolve(nodeType string) (protocol.NodeFactory, error)
	ValidateConfig(nodeType string, config map[string]any) error
}

// Tracker is the part of the completion tracker dispatch drives.
type Tracker interface {
	Seed(execution *models.Execution)
	Evict(executionID string)
	Check(ctx context.Context, executionID string) (completion.Result, error)
}

type NodeSpec struct {
	ID     string         `json:"id"     validate:"required"`
	Type   string         `json:"type"   validate:"required"`
	Config map[string]any `json:"config"`
}

type EdgeSpec struct {
	Source       string `json:"source"                 validate:"required"`
	Target       string `json:"target"                 validate:"required"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Request submits a workflow graph for execution.
type Request struct {
	WorkflowID     string             `json:"workflow_id"     validate:"required"`
	WorkflowName   string             `json:"workflow_name"`
	UserID         string             `json:"user_id"         validate:"required"`
	Nodes          []NodeSpec         `json:"nodes"           validate:"required,min=1,dive"`
	Edges          []EdgeSpec         `json:"edges"           validate:"dive"`
	InitialPayload models.Payload     `json:"initial_payload"`
	ForceStrategy  string             `json:"force_strategy"`
	StartNodeID    string             `json:"start_node_id"`
	Loop           *models.LoopConfig `json:"loop_config"`
	GasBudget      int64              `json:"gas_budget"      validate:"gte=0"`
	// ExecutionID optionally forces the id of the new execution.
	ExecutionID string `json:"execution_id"`
}

// StandaloneRequest runs a single node outside of a submitted graph. Node is either the id
// of a persisted node or a registered node type.
type StandaloneRequest struct {
	Node        string         `json:"node_id"      validate:"required"`
	UserID      string         `json:"user_id"`
	Input       models.Payload `json:"input"`
	ExecutionID string         `json:"execution_id"`
	JobID       string         `json:"job_id"`
}

// Monitor is the status view of an execution.
type Monitor struct {
	Execution *models.Execution `json:"execution"`
	// Result is the data of the last finished job's output, once the execution is terminal.
	Result any            `json:"result,omitempty"`
	Output models.Payload `json:"output_payload,omitempty"`
	Error  string         `json:"error,omitempty"`
	NodeID string         `json:"node_id,omitempty"`
}

type Service struct {
	store     persistence.Store
	nodes     NodeCatalog
	selector  strategy.Selector
	tracker   Tracker
	signal    wake.Signal
	publisher eventbus.EventPublisher
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	store persistence.Store,
	nodes NodeCatalog,
	selector strategy.Selector,
	tracker Tracker,
	signal wake.Signal,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		nodes:     nodes,
		selector:  selector,
		tracker:   tracker,
		signal:    signal,
		publisher: publisher,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With("module", "dispatch"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch persists the graph, creates a RUNNING execution and enqueues one job per start node,
// all in one transaction. It returns the execution id and the ids of the enqueued jobs.
func (s *Service) Dispatch(ctx context.Context, req Request) (string, []string, error) {
	err := s.validateRequest(req)
	if err != nil {
		return "", nil, err
	}

	input, err := encodeInput(req.InitialPayload)
	if err != nil {
		return "", nil, NewValidationError("Dispatch", "invalid_payload", err.Error(), ErrInvalidRequest)
	}

	loop := req.Loop
	if loop == nil {
		var ok bool

		loop, ok = models.LoopConfigFromPayload(req.InitialPayload)
		if raw := req.InitialPayload[models.RuntimeLoopConfigKey]; raw != nil && !ok {
			s.logger.WarnContext(ctx, "Ignoring undecodable loop configuration in initial payload",
				"workflow_id", req.WorkflowID,
				"key", models.RuntimeLoopConfigKey,
			)
		}
	}

	budget := req.GasBudget
	if budget == 0 {
		budget = models.DefaultGasBudget
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	name := req.WorkflowName
	if name == "" {
		name = req.WorkflowID
	}

	execution := &models.Execution{
		ID:            executionID,
		WorkflowID:    req.WorkflowID,
		UserID:        req.UserID,
		Strategy:      s.selector.Pick(ctx, strategy.Context{ForceStrategy: req.ForceStrategy}),
		Status:        models.ExecutionStatusRunning,
		CreatedAt:     s.now(),
		GasBudgetHint: budget,
		LoopConfig:    loop,
		LoopIteration: 1,
	}

	submission := &persistence.Submission{
		Workflow:     &models.Workflow{ID: req.WorkflowID, Name: name},
		Nodes:        toNodes(req),
		Edges:        toEdges(req),
		ReplaceEdges: true,
		Execution:    execution,
		Input:        input,
	}

	if req.StartNodeID != "" {
		submission.StartNodeIDs = []string{req.StartNodeID}
	}

	jobIDs, err := s.store.Submit(ctx, submission)
	if err != nil {
		if persistence.IsNoStartNode(err) {
			return "", nil, NewValidationError("Dispatch", "no_start_node",
				"workflow "+req.WorkflowID+" has no start node", ErrNoStartNode)
		}

		return "", nil, fmt.Errorf("failed to submit workflow %s: %w", req.WorkflowID, err)
	}

	s.started(ctx, execution, jobIDs)

	return execution.ID, jobIDs, nil
}

// ExecuteStandalone runs one node as the entry point of a new execution. A node type
// without a persisted node gets a shadow workflow holding a single shadow node.
func (s *Service) ExecuteStandalone(ctx context.Context, req StandaloneRequest) (string, string, error) {
	err := s.validator.Struct(req)
	if err != nil {
		return "", "", NewValidationError("ExecuteStandalone", "invalid_request", err.Error(), ErrInvalidRequest)
	}

	userID := req.UserID
	if userID == "" {
		userID = DefaultStandaloneUser
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	input, err := encodeInput(req.Input)
	if err != nil {
		return "", "", NewValidationError("ExecuteStandalone", "invalid_payload", err.Error(), ErrInvalidRequest)
	}

	submission := &persistence.Submission{
		Execution: &models.Execution{
			ID:            executionID,
			UserID:        userID,
			Strategy:      strategy.ManualNodeTrigger,
			Status:        models.ExecutionStatusRunning,
			CreatedAt:     s.now(),
			GasBudgetHint: models.DefaultGasBudget,
			LoopIteration: 1,
		},
		JobIDs: []string{jobID},
		Input:  input,
	}

	node, err := s.store.GetNode(ctx, req.Node)

	switch {
	case err == nil:
		submission.Execution.WorkflowID = node.WorkflowID
		submission.StartNodeIDs = []string{node.ID}
	case persistence.IsNodeNotFound(err):
		if _, resolveErr := s.nodes.Resolve(req.Node); resolveErr != nil {
			return "", "", NewValidationError("ExecuteStandalone", "unknown_node",
				"'"+req.Node+"' is neither a node id nor a registered node type", ErrUnknownNode)
		}

		shadow := &models.Node{ID: uuid.NewString(), Type: req.Node, Config: map[string]any{}}
		workflowID := fmt.Sprintf("%s%d", shadowWorkflowPrefix, s.now().Unix())

		submission.Workflow = &models.Workflow{ID: workflowID, Name: shadowWorkflowName}
		submission.Nodes = []*models.Node{shadow}
		submission.Execution.WorkflowID = workflowID
		submission.StartNodeIDs = []string{shadow.ID}

		s.logger.InfoContext(ctx, "Created shadow node", "node_type", req.Node, "node_id", shadow.ID, "workflow_id", workflowID)
	default:
		return "", "", fmt.Errorf("failed to resolve node %s: %w", req.Node, err)
	}

	jobIDs, err := s.store.Submit(ctx, submission)
	if err != nil {
		return "", "", fmt.Errorf("failed to submit standalone node %s: %w", req.Node, err)
	}

	s.started(ctx, submission.Execution, jobIDs)

	return executionID, jobIDs[0], nil
}

// Stop marks the execution STOPPED and cancels its pending jobs. Running jobs finish.
func (s *Service) Stop(ctx context.Context, executionID string) (int, error) {
	cancelled, err := s.store.StopExecution(ctx, executionID)
	if err != nil {
		return 0, err
	}

	s.tracker.Evict(executionID)
	s.publishStatus(ctx, executionID, models.ExecutionStatusStopped)

	s.logger.InfoContext(ctx, "Execution stopped", "execution_id", executionID, "cancelled_jobs", cancelled)

	return cancelled, nil
}

// Pause marks the execution PAUSED and pauses its pending jobs.
func (s *Service) Pause(ctx context.Context, executionID string) (int, error) {
	paused, err := s.store.PauseExecution(ctx, executionID)
	if err != nil {
		return 0, err
	}

	s.publishStatus(ctx, executionID, models.ExecutionStatusPaused)

	s.logger.InfoContext(ctx, "Execution paused", "execution_id", executionID, "paused_jobs", paused)

	return paused, nil
}

// Resume returns a paused execution to RUNNING, re-queues its paused jobs and re-runs
// the completion check, which finalizes an execution paused with nothing left to run.
func (s *Service) Resume(ctx context.Context, executionID string) (int, error) {
	resumed, err := s.store.ResumeExecution(ctx, executionID)
	if err != nil {
		return 0, err
	}

	s.publishStatus(ctx, executionID, models.ExecutionStatusRunning)

	if resumed > 0 {
		if err := s.signal.Set(ctx); err != nil {
			s.logger.WarnContext(ctx, "Failed to raise wake signal", "error", err)
		}
	}

	if _, err := s.tracker.Check(ctx, executionID); err != nil {
		s.logger.ErrorContext(ctx, "Completion check after resume failed", "execution_id", executionID, "error", err)
	}

	s.logger.InfoContext(ctx, "Execution resumed", "execution_id", executionID, "resumed_jobs", resumed)

	return resumed, nil
}

// Status returns the execution and, once it is terminal, the outcome of its last finished job.
func (s *Service) Status(ctx context.Context, executionID string) (*Monitor, error) {
	execution, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	monitor := &Monitor{Execution: execution}

	if execution.Status != models.ExecutionStatusSucceeded && execution.Status != models.ExecutionStatusFailed {
		return monitor, nil
	}

	jobs, err := s.store.ExecutionJobs(ctx, executionID)
	if err != nil {
		return nil, err
	}

	last := lastFinished(jobs)
	if last == nil {
		return monitor, nil
	}

	monitor.NodeID = last.NodeID
	monitor.Error = last.ErrorMessage

	if len(last.OutputData) > 0 {
		output, err := models.DecodePayload(last.OutputData)
		if err != nil {
			return nil, err
		}

		monitor.Output = output
		monitor.Result = output

		if data, ok := output[models.PayloadDataKey]; ok {
			monitor.Result = data
		}
	}

	return monitor, nil
}

func (s *Service) validateRequest(req Request) error {
	err := s.validator.Struct(req)
	if err != nil {
		return NewValidationError("Dispatch", "invalid_request", err.Error(), ErrInvalidRequest)
	}

	known := make(map[string]bool, len(req.Nodes))

	for _, node := range req.Nodes {
		if known[node.ID] {
			return NewValidationError("Dispatch", "duplicate_node", "duplicate node id "+node.ID, ErrInvalidRequest)
		}

		known[node.ID] = true

		err = s.nodes.ValidateConfig(node.Type, node.Config)
		if err != nil {
			return NewValidationError("Dispatch", "invalid_config", err.Error(), err)
		}
	}

	for _, edge := range req.Edges {
		if !known[edge.Source] || !known[edge.Target] {
			return NewValidationError("Dispatch", "dangling_edge",
				fmt.Sprintf("edge %s -> %s references an unknown node", edge.Source, edge.Target), ErrInvalidRequest)
		}
	}

	if req.StartNodeID != "" && !known[req.StartNodeID] {
		return NewValidationError("Dispatch", "unknown_start_node",
			"start node "+req.StartNodeID+" is not part of the workflow", ErrInvalidRequest)
	}

	return nil
}

func (s *Service) started(ctx context.Context, execution *models.Execution, jobIDs []string) {
	s.tracker.Seed(execution)

	if err := s.signal.Set(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to raise wake signal", "error", err)
	}

	startNodeIDs := make([]string, 0, len(jobIDs))

	jobs, err := s.store.ExecutionJobs(ctx, execution.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to list initial jobs", "execution_id", execution.ID, "error", err)
	}

	for _, job := range jobs {
		startNodeIDs = append(startNodeIDs, job.NodeID)
	}

	s.logger.InfoContext(ctx, "Execution dispatched",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"strategy", execution.Strategy,
		"jobs", len(jobIDs),
	)

	eventbus.PublishOrLog(ctx, s.logger, s.publisher, execution.ID, events.WorkflowExecutionStarted{
		BaseEvent:    events.NewBaseEvent(uuid.NewString(), events.WorkflowExecutionStartedEvent, execution.WorkflowID),
		ExecutionID:  execution.ID,
		UserID:       execution.UserID,
		Strategy:     execution.Strategy,
		StartNodeIDs: startNodeIDs,
		JobIDs:       jobIDs,
	})
}

func (s *Service) publishStatus(ctx context.Context, executionID string, status models.ExecutionStatus) {
	execution, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load execution for update", "execution_id", executionID, "error", err)

		return
	}

	eventbus.PublishOrLog(ctx, s.logger, s.publisher, executionID, events.WorkflowExecutionUpdate{
		BaseEvent:   events.NewBaseEvent(uuid.NewString(), events.WorkflowExecutionUpdateEvent, execution.WorkflowID),
		ExecutionID: executionID,
		UserID:      execution.UserID,
		Status:      status,
		Iteration:   execution.LoopIteration,
		FinishedAt:  execution.FinishedAt,
	})
}

func toNodes(req Request) []*models.Node {
	nodes := make([]*models.Node, 0, len(req.Nodes))
	for _, node := range req.Nodes {
		nodes = append(nodes, &models.Node{
			ID:         node.ID,
			WorkflowID: req.WorkflowID,
			Type:       node.Type,
			Config:     node.Config,
		})
	}

	return nodes
}

func toEdges(req Request) []*models.Edge {
	edges := make([]*models.Edge, 0, len(req.Edges))
	for _, edge := range req.Edges {
		converted := &models.Edge{
			WorkflowID:   req.WorkflowID,
			SourceNodeID: edge.Source,
			TargetNodeID: edge.Target,
		}

		if edge.SourceHandle != "" {
			converted.SourceHandle = models.StringPtr(edge.SourceHandle)
		}

		if edge.TargetHandle != "" {
			converted.TargetHandle = models.StringPtr(edge.TargetHandle)
		}

		edges = append(edges, converted)
	}

	return edges
}

// encodeInput leaves an empty payload unset so the store writes its default.
func encodeInput(payload models.Payload) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	return models.EncodePayload(payload)
}

func lastFinished(jobs []*models.Job) *models.Job {
	var last *models.Job

	for _, job := range jobs {
		if job.FinishedAt == nil {
			continue
		}

		if last == nil || !job.FinishedAt.Before(*last.FinishedAt) {
			last = job
		}
	}

	return last
}

// IsShadowWorkflow reports whether a workflow was created for a standalone node.
func IsShadowWorkflow(workflowID string) bool {
	return strings.HasPrefix(workflowID, shadowWorkflowPrefix)
}

var _ Tracker = (*completion.Tracker)(nil)
