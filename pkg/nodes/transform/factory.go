// Package transform provides the transform node, which reshapes its input with a template expression.
package transform

import (
	"context"

	"github.com/flowork/flowcore/pkg/protocol"
)

// TypeID is the node type served by this package.
const TypeID = "transform"

// TransformNodeFactory creates TransformNode instances.
type TransformNodeFactory struct{}

// Create creates a new TransformNode instance.
func (f *TransformNodeFactory) Create(_ context.Context, config map[string]any) (protocol.NodeBody, error) {
	return NewTransformNode(config)
}

// ID returns the factory ID.
func (f *TransformNodeFactory) ID() string {
	return TypeID
}

// Name returns the factory name.
func (f *TransformNodeFactory) Name() string {
	return "Transform"
}

// Description returns the factory description.
func (f *TransformNodeFactory) Description() string {
	return "Transforms the job input with a Go template expression; JSON output becomes structured data"
}

// Schema returns the JSON schema for Transform node configuration.
func (f *TransformNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template rendered against the job input.",
				"examples": []string{
					`{"full_name": "{{.data.first}} {{.data.last}}"}`,
					`{{len .history}}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}

// NewTransformNodeFactory creates a new factory instance.
func NewTransformNodeFactory() protocol.NodeFactory {
	return &TransformNodeFactory{}
}
