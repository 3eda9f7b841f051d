// Package conditional provides the conditional node, which routes its input to the "true" or "false" port.
package conditional

import (
	"context"

	"github.com/flowork/flowcore/pkg/protocol"
)

// TypeID is the node type served by this package.
const TypeID = "conditional"

// ConditionalNodeFactory creates ConditionalNode instances.
type ConditionalNodeFactory struct{}

// Create creates a new ConditionalNode instance.
func (f *ConditionalNodeFactory) Create(_ context.Context, config map[string]any) (protocol.NodeBody, error) {
	return NewConditionalNode(config)
}

// ID returns the factory ID.
func (f *ConditionalNodeFactory) ID() string {
	return TypeID
}

// Name returns the factory name.
func (f *ConditionalNodeFactory) Name() string {
	return "Conditional"
}

// Description returns the factory description.
func (f *ConditionalNodeFactory) Description() string {
	return "Evaluates a condition and routes execution to true or false paths."
}

// Schema returns the JSON schema for Conditional node configuration.
func (f *ConditionalNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"description": "Condition expression to evaluate against the job input.",
				"examples": []string{
					`{{eq .data.status "active"}}`,
					`{{gt .data.count 10.0}}`,
					`true`,
				},
			},
		},
		"required": []string{"condition"},
	}
}

// NewConditionalNodeFactory creates a new factory instance.
func NewConditionalNodeFactory() protocol.NodeFactory {
	return &ConditionalNodeFactory{}
}
