// Package start provides the designated start trigger node. It emits the initial payload of
// the execution, or its configured payload when the execution started without one.
package start

import (
	"context"

	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/protocol"
)

// StartNodeFactory creates start node bodies.
type StartNodeFactory struct{}

// NewStartNodeFactory creates a new factory instance.
func NewStartNodeFactory() protocol.NodeFactory {
	return &StartNodeFactory{}
}

func (f *StartNodeFactory) Create(_ context.Context, config map[string]any) (protocol.NodeBody, error) {
	payload, _ := config["payload"].(map[string]any)

	return &StartNode{payload: payload}, nil
}

func (f *StartNodeFactory) ID() string {
	return models.StartNodeType
}

func (f *StartNodeFactory) Name() string {
	return "Start"
}

func (f *StartNodeFactory) Description() string {
	return "Entry point of a workflow; forwards the initial payload"
}

func (f *StartNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"payload": map[string]any{
				"type":        "object",
				"description": "Data emitted when the execution carries no initial payload",
			},
		},
	}
}

// StartNode forwards its input data.
type StartNode struct {
	payload map[string]any
}

// Execute returns the input data on the default port, which the worker reports as "output".
func (n *StartNode) Execute(_ context.Context, request protocol.Request) (protocol.Result, error) {
	data, ok := request.Input[models.PayloadDataKey]
	if !ok || data == nil {
		data = n.fallback(request.Input)
	}

	return protocol.Output(data), nil
}

func (n *StartNode) fallback(input models.Payload) any {
	if n.payload != nil {
		return n.payload
	}

	raw := make(map[string]any, len(input))

	for key, value := range input {
		if key == models.PayloadHistoryKey || key == models.RuntimeLoopConfigKey {
			continue
		}

		raw[key] = value
	}

	return raw
}
