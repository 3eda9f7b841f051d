package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowork/flowcore/pkg/protocol"
	"github.com/flowork/flowcore/pkg/template"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// LogNode logs a message and forwards its input data unchanged.
type LogNode struct {
	message string
	level   string
}

// NewLogNode creates a new logging node.
func NewLogNode(config map[string]any) (*LogNode, error) {
	message, ok := config["message"].(string)
	if !ok {
		return nil, errors.New("missing required field 'message'")
	}

	level := "info"
	if lvl, ok := config["level"].(string); ok {
		if _, known := levels[lvl]; !known {
			return nil, fmt.Errorf("invalid log level '%s'", lvl)
		}

		level = lvl
	}

	return &LogNode{
		message: message,
		level:   level,
	}, nil
}

// Execute performs the logging operation.
func (n *LogNode) Execute(ctx context.Context, request protocol.Request) (protocol.Result, error) {
	rendered, err := template.RenderWithScope(n.message, template.Scope{
		Input:       request.Input,
		NodeID:      request.NodeID,
		ExecutionID: request.ExecutionID,
		WorkflowID:  request.WorkflowID,
	})
	if err != nil {
		return protocol.Fail(fmt.Sprintf("failed to render log message template: %v", err)), nil
	}

	message := fmt.Sprintf("%v", rendered)

	logger := request.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.With("node_id", request.NodeID, "node_type", TypeID).Log(ctx, levels[n.level], message)

	return protocol.Output(map[string]any{
		"message": message,
		"level":   n.level,
		"logged":  true,
		"input":   request.Input["data"],
	}), nil
}
