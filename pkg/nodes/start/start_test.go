package start

import (
	"context"
	"testing"

	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, config map[string]any, input models.Payload) protocol.Success {
	t.Helper()

	body, err := NewStartNodeFactory().Create(context.Background(), config)
	require.NoError(t, err)

	result, err := body.Execute(context.Background(), protocol.Request{Input: input})
	require.NoError(t, err)

	success, ok := result.(protocol.Success)
	require.True(t, ok)
	assert.Empty(t, success.Port)

	return success
}

func TestStartNode(t *testing.T) {
	t.Parallel()

	t.Run("forwards enveloped data", func(t *testing.T) {
		t.Parallel()

		success := execute(t, nil, models.Payload{"data": map[string]any{"x": 1.0}, "history": []any{}})
		assert.Equal(t, map[string]any{"x": 1.0}, success.Payload)
	})

	t.Run("forwards a raw payload without control keys", func(t *testing.T) {
		t.Parallel()

		success := execute(t, nil, models.Payload{"x": 1.0, "_runtime_loop_config": map[string]any{"iterations": 2.0}})
		assert.Equal(t, map[string]any{"x": 1.0}, success.Payload)
	})

	t.Run("falls back to configured payload", func(t *testing.T) {
		t.Parallel()

		success := execute(t, map[string]any{"payload": map[string]any{"seed": "a"}}, models.Payload{})
		assert.Equal(t, map[string]any{"seed": "a"}, success.Payload)
	})
}

func TestStartNodeFactory_ID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, models.StartNodeType, NewStartNodeFactory().ID())
	assert.True(t, models.IsStartLikeType(NewStartNodeFactory().ID()))
}
