// Package report builds the summary attached to a finished execution: an outcome meter and an analysis.
package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/flowork/flowcore/pkg/models"
)

const (
	// Latencies are tracked in milliseconds up to one hour.
	maxTrackableLatencyMs = 3_600_000
	latencySigFigs        = 3

	gasPerJob int64 = 1
)

// Risk and tag values of an Analysis.
const (
	RiskNoData          = "no-data"
	RiskFailures        = "job-failures"
	RiskBudgetExceeded  = "gas-budget-exceeded"
	RiskBudgetNearLimit = "gas-budget-near-limit"

	TagSucceeded = "succeeded"
	TagFailed    = "failed"
	TagLooped    = "looped"
	TagCancelled = "cancelled"
)

// Outcome counts executed jobs.
type Outcome struct {
	Success     int     `json:"success"`
	Failure     int     `json:"failure"`
	Total       int     `json:"total"`
	SuccessRate float64 `json:"success_rate"`
	TotalCost   float64 `json:"total_cost"`
}

type Latency struct {
	P50 int64 `json:"p50"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
	Max int64 `json:"max"`
}

type Stats struct {
	Jobs       int     `json:"jobs"`
	Done       int     `json:"done"`
	Failed     int     `json:"failed"`
	Cancelled  int     `json:"cancelled"`
	Iterations int     `json:"iterations"`
	GasUsed    int64   `json:"gas_used"`
	GasBudget  int64   `json:"gas_budget"`
	DurationMs int64   `json:"duration_ms"`
	LatencyMs  Latency `json:"latency_ms"`
}

type Analysis struct {
	Stats Stats    `json:"stats"`
	Risks []string `json:"risks"`
	Tags  []string `json:"tags"`
}

// Generator produces the report of an execution.
type Generator interface {
	Generate(ctx context.Context, executionID string) (Outcome, Analysis, error)
}

// Source reads the records a report is built from.
type Source interface {
	GetExecution(ctx context.Context, executionID string) (*models.Execution, error)
	ExecutionJobs(ctx context.Context, executionID string) ([]*models.Job, error)
}

type DefaultGenerator struct {
	source Source
	logger *slog.Logger
}

func NewDefaultGenerator(source Source, logger *slog.Logger) *DefaultGenerator {
	return &DefaultGenerator{
		source: source,
		logger: logger.With("module", "report"),
	}
}

func (g *DefaultGenerator) Generate(ctx context.Context, executionID string) (Outcome, Analysis, error) {
	execution, err := g.source.GetExecution(ctx, executionID)
	if err != nil {
		return Outcome{}, Analysis{}, fmt.Errorf("failed to load execution for report: %w", err)
	}

	jobs, err := g.source.ExecutionJobs(ctx, executionID)
	if err != nil {
		return Outcome{}, Analysis{}, fmt.Errorf("failed to load jobs for report: %w", err)
	}

	outcome, analysis := Build(execution, jobs)

	g.logger.DebugContext(ctx, "Report generated",
		"execution_id", executionID,
		"success", outcome.Success,
		"failure", outcome.Failure,
		"gas_used", analysis.Stats.GasUsed,
	)

	return outcome, analysis, nil
}

// Build computes the report from an execution and all of its jobs.
func Build(execution *models.Execution, jobs []*models.Job) (Outcome, Analysis) {
	budget := execution.GasBudgetHint
	if budget <= 0 {
		budget = models.DefaultGasBudget
	}

	stats := Stats{
		Jobs:       len(jobs),
		GasBudget:  budget,
		Iterations: max(execution.LoopIteration, 1),
	}

	histogram := hdrhistogram.New(1, maxTrackableLatencyMs, latencySigFigs)

	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusDone:
			stats.Done++
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusCancelled:
			stats.Cancelled++
		default:
		}

		if job.StartedAt != nil && job.FinishedAt != nil {
			latency := min(max(job.FinishedAt.Sub(*job.StartedAt).Milliseconds(), 0), maxTrackableLatencyMs)
			_ = histogram.RecordValue(latency)
		}
	}

	stats.GasUsed = int64(stats.Done+stats.Failed) * gasPerJob

	if execution.FinishedAt != nil {
		stats.DurationMs = max(execution.FinishedAt.Sub(execution.CreatedAt).Milliseconds(), 0)
	}

	if histogram.TotalCount() > 0 {
		stats.LatencyMs = Latency{
			P50: histogram.ValueAtQuantile(50),
			P95: histogram.ValueAtQuantile(95),
			P99: histogram.ValueAtQuantile(99),
			Max: histogram.Max(),
		}
	}

	outcome := Outcome{
		Success:   stats.Done,
		Failure:   stats.Failed,
		Total:     stats.Done + stats.Failed,
		TotalCost: float64(stats.GasUsed),
	}

	if outcome.Total > 0 {
		outcome.SuccessRate = float64(outcome.Success) / float64(outcome.Total)
	}

	return outcome, Analysis{
		Stats: stats,
		Risks: risks(stats),
		Tags:  tags(stats),
	}
}

func risks(stats Stats) []string {
	found := []string{}

	if stats.Jobs == 0 {
		found = append(found, RiskNoData)
	}

	if stats.Failed > 0 {
		found = append(found, RiskFailures)
	}

	switch {
	case stats.GasUsed > stats.GasBudget:
		found = append(found, RiskBudgetExceeded)
	case stats.GasUsed*10 >= stats.GasBudget*8:
		found = append(found, RiskBudgetNearLimit)
	}

	return found
}

func tags(stats Stats) []string {
	found := []string{}

	if stats.Failed > 0 {
		found = append(found, TagFailed)
	} else {
		found = append(found, TagSucceeded)
	}

	if stats.Iterations > 1 {
		found = append(found, TagLooped)
	}

	if stats.Cancelled > 0 {
		found = append(found, TagCancelled)
	}

	return found
}
