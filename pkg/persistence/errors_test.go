package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error constants are available", func(t *testing.T) {
		assert.NotNil(t, persistence.ErrNodeNotFound)
		assert.NotNil(t, persistence.ErrJobNotFound)
		assert.NotNil(t, persistence.ErrExecutionNotFound)
		assert.NotNil(t, persistence.ErrNoStartNode)
		assert.NotNil(t, persistence.ErrContentionExhausted)
	})

	t.Run("error checking functions work correctly", func(t *testing.T) {
		executionErr := persistence.NewExecutionError("GetExecution", "exec-123", persistence.ErrExecutionNotFound)
		jobErr := persistence.NewJobError("FinishJob", "job-456", persistence.ErrInvalidTransition)

		assert.True(t, persistence.IsExecutionNotFound(executionErr))
		assert.False(t, persistence.IsNodeNotFound(executionErr))

		assert.True(t, errors.Is(executionErr, persistence.ErrExecutionNotFound))
		assert.True(t, errors.Is(jobErr, persistence.ErrInvalidTransition))
	})

	t.Run("wrapped errors keep their identity", func(t *testing.T) {
		err := fmt.Errorf("dispatch: %w", persistence.NewExecutionError("Submit", "exec-1", persistence.ErrNoStartNode))

		assert.True(t, persistence.IsNoStartNode(err))
	})

	t.Run("job error contains context", func(t *testing.T) {
		err := persistence.NewJobError("FailJob", "job-123", persistence.ErrJobNotFound)

		assert.Contains(t, err.Error(), "FailJob")
		assert.Contains(t, err.Error(), "job-123")
		assert.Contains(t, err.Error(), "job not found")
	})

	t.Run("execution error mentions workflow when known", func(t *testing.T) {
		err := persistence.NewExecutionError("Submit", "exec-9", persistence.ErrNoStartNode)
		err.WorkflowID = "wf-1"

		assert.Contains(t, err.Error(), "exec-9")
		assert.Contains(t, err.Error(), "wf-1")
		assert.Contains(t, err.Error(), "no valid start node")
	})
}
