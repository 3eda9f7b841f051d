// Package switchnode provides the switch node, a multi-way branch that emits on the port of the matching case.
package switchnode

import (
	"context"

	"github.com/flowork/flowcore/pkg/protocol"
)

// TypeID is the node type served by this package.
const TypeID = "switch"

// SwitchNodeFactory creates SwitchNode instances.
type SwitchNodeFactory struct{}

// Create creates a new SwitchNode instance.
func (f *SwitchNodeFactory) Create(_ context.Context, config map[string]any) (protocol.NodeBody, error) {
	return NewSwitchNode(config)
}

// ID returns the factory ID.
func (f *SwitchNodeFactory) ID() string {
	return TypeID
}

// Name returns the factory name.
func (f *SwitchNodeFactory) Name() string {
	return "Switch"
}

// Description returns the factory description.
func (f *SwitchNodeFactory) Description() string {
	return "Multi-way branching node that routes execution to different paths based on a value match"
}

// Schema returns the JSON schema for Switch node configuration.
func (f *SwitchNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{
				"type":        "string",
				"description": "Expression to evaluate for switch routing. Supports templating.",
				"examples": []string{
					`{{.data.environment}}`,
					`{{.data.status}}`,
				},
			},
			"cases": map[string]any{
				"type":        "array",
				"description": "Array of case objects defining value-to-output-port mappings",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"value":       map[string]any{"type": "string"},
						"output_port": map[string]any{"type": "string", "minLength": 1},
					},
					"required": []string{"value", "output_port"},
				},
			},
		},
		"required": []string{"value"},
	}
}

// NewSwitchNodeFactory creates a new factory instance.
func NewSwitchNodeFactory() protocol.NodeFactory {
	return &SwitchNodeFactory{}
}
