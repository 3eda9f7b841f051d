package events

import (
	"encoding/json"
	"testing"

	"github.com/flowork/flowcore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCompleted_JSON(t *testing.T) {
	t.Parallel()

	event := JobCompleted{
		BaseEvent:   NewBaseEvent("evt-1", JobCompletedEvent, "wf-1"),
		ExecutionID: "exec-1",
		JobID:       "job-1",
		NodeID:      "node-1",
		UserID:      "user-1",
		Status:      models.JobStatusDone,
		Port:        "success",
		Downstream:  2,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "job.completed", raw["type"])
	assert.Equal(t, "wf-1", raw["workflow_id"])
	assert.Equal(t, "exec-1", raw["execution_id"])
	assert.Equal(t, "DONE", raw["status"])
	assert.InDelta(t, 2, raw["downstream"], 0)
	assert.Equal(t, "user-1", event.TargetUser())
	assert.Equal(t, JobCompletedEvent, event.GetType())
}

func TestWorkflowExecutionUpdate_OmitsEmptyReport(t *testing.T) {
	t.Parallel()

	event := WorkflowExecutionUpdate{
		BaseEvent:   NewBaseEvent("evt-2", WorkflowExecutionUpdateEvent, "wf-1"),
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusRunning,
		Iteration:   2,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "WORKFLOW_EXECUTION_UPDATE", raw["type"])
	assert.Equal(t, "RUNNING", raw["status"])
	assert.NotContains(t, raw, "outcome")
	assert.NotContains(t, raw, "finished_at")
}
