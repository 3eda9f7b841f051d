package conditional

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/flowork/flowcore/pkg/protocol"
	"github.com/flowork/flowcore/pkg/template"
)

const (
	OutputPortTrue  = "true"
	OutputPortFalse = "false"
)

// ConditionalNode evaluates a template and emits on the true or false port.
type ConditionalNode struct {
	condition string
}

// NewConditionalNode creates a new conditional branching node.
func NewConditionalNode(config map[string]any) (*ConditionalNode, error) {
	condition, ok := config["condition"].(string)
	if !ok {
		return nil, errors.New("missing required field 'condition'")
	}

	return &ConditionalNode{condition: condition}, nil
}

// Execute evaluates the condition and routes to true/false output ports.
func (n *ConditionalNode) Execute(_ context.Context, request protocol.Request) (protocol.Result, error) {
	result, err := template.RenderWithScope(n.condition, template.Scope{
		Input:       request.Input,
		NodeID:      request.NodeID,
		ExecutionID: request.ExecutionID,
		WorkflowID:  request.WorkflowID,
	})
	if err != nil {
		return protocol.Fail(fmt.Sprintf("condition evaluation failed: %v", err)), nil
	}

	port := OutputPortFalse
	if truthy(result) {
		port = OutputPortTrue
	}

	return protocol.OnPort(port, map[string]any{
		"condition_result": port == OutputPortTrue,
		"evaluated_value":  result,
		"input":            request.Input["data"],
	}), nil
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}
