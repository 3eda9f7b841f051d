package worker

import (
	"errors"
	"testing"

	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	plain := &models.Node{ID: "n1", Type: "log"}
	trigger := &models.Node{ID: "n2", Type: "Flowork.Core.Trigger.Webhook"}
	input := models.Payload{"data": "in", "history": []any{"h1"}}

	tests := []struct {
		name         string
		node         *models.Node
		result       protocol.Result
		expectedPort string
		expectedData any
	}{
		{
			name:         "default port",
			node:         plain,
			result:       protocol.Output("x"),
			expectedPort: "success",
			expectedData: "x",
		},
		{
			name:         "explicit port kept verbatim",
			node:         plain,
			result:       protocol.OnPort("True", "x"),
			expectedPort: "True",
			expectedData: "x",
		},
		{
			name:         "start-like node remaps default port",
			node:         trigger,
			result:       protocol.Output("x"),
			expectedPort: "output",
			expectedData: "x",
		},
		{
			name:         "start-like node remaps explicit success",
			node:         trigger,
			result:       protocol.OnPort("success", "x"),
			expectedPort: "output",
			expectedData: "x",
		},
		{
			name:         "start-like node keeps other ports",
			node:         trigger,
			result:       protocol.OnPort("error", "x"),
			expectedPort: "error",
			expectedData: "x",
		},
		{
			name:         "pointer success",
			node:         plain,
			result:       &protocol.Success{Payload: 1, Port: "main"},
			expectedPort: "main",
			expectedData: 1,
		},
		{
			name:         "failure goes to the error port",
			node:         plain,
			result:       protocol.Failure{Err: errors.New("boom")},
			expectedPort: "error",
			expectedData: map[string]any{"success": false, "error": "boom"},
		},
		{
			name:         "failure of a trigger is not remapped",
			node:         trigger,
			result:       &protocol.Failure{Err: errors.New("boom")},
			expectedPort: "error",
			expectedData: map[string]any{"success": false, "error": "boom"},
		},
		{
			name:         "nil result",
			node:         plain,
			result:       nil,
			expectedPort: "success",
			expectedData: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload, port := Normalize(tt.node, tt.result, input)

			assert.Equal(t, tt.expectedPort, port)
			assert.Equal(t, tt.expectedData, payload["data"])
			assert.Equal(t, []any{"h1"}, payload["history"])
		})
	}
}

func TestNormalize_OutputEnvelopeWins(t *testing.T) {
	t.Parallel()

	payload, _ := Normalize(&models.Node{Type: "transform"},
		protocol.Output(map[string]any{"data": "new", "history": []any{"a", "b"}}),
		models.Payload{"history": []any{"old"}},
	)

	assert.Equal(t, models.Payload{"data": "new", "history": []any{"a", "b"}}, payload)
}
