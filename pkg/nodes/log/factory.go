// Package log provides the log node: it writes a rendered message to the worker log and passes its input on.
package log

import (
	"context"

	"github.com/flowork/flowcore/pkg/protocol"
)

// TypeID is the node type served by this package.
const TypeID = "log"

// LogNodeFactory creates LogNode instances.
type LogNodeFactory struct{}

// Create creates a new LogNode instance.
func (f *LogNodeFactory) Create(_ context.Context, config map[string]any) (protocol.NodeBody, error) {
	return NewLogNode(config)
}

// ID returns the factory ID.
func (f *LogNodeFactory) ID() string {
	return TypeID
}

// Name returns the factory name.
func (f *LogNodeFactory) Name() string {
	return "Log"
}

// Description returns the factory description.
func (f *LogNodeFactory) Description() string {
	return "Logs messages at different levels (debug, info, warn, error) with template support for dynamic content"
}

// Schema returns the JSON schema for Log node configuration.
func (f *LogNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports templating with the job input.",
				"examples": []string{
					"Processing user: {{.data.user_name}}",
					"Execution {{.execution.id}} reached {{.execution.node_id}}",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"enum":        []string{"debug", "info", "warn", "error"},
				"default":     "info",
			},
		},
		"required": []string{"message"},
	}
}

// NewLogNodeFactory creates a new factory instance.
func NewLogNodeFactory() protocol.NodeFactory {
	return &LogNodeFactory{}
}
