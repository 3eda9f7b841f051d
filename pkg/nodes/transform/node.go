package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowork/flowcore/pkg/protocol"
	"github.com/flowork/flowcore/pkg/template"
)

// TransformNode renders an expression and emits the result.
type TransformNode struct {
	expression string
}

// NewTransformNode creates a new data transformation node.
func NewTransformNode(config map[string]any) (*TransformNode, error) {
	expression, ok := config["expression"].(string)
	if !ok {
		return nil, errors.New("missing required field 'expression'")
	}

	return &TransformNode{expression: expression}, nil
}

// Execute performs data transformation using Go templates.
func (n *TransformNode) Execute(_ context.Context, request protocol.Request) (protocol.Result, error) {
	result, err := template.RenderWithScope(n.expression, template.Scope{
		Input:       request.Input,
		NodeID:      request.NodeID,
		ExecutionID: request.ExecutionID,
		WorkflowID:  request.WorkflowID,
	})
	if err != nil {
		return protocol.Fail(fmt.Sprintf("transformation failed: %v", err)), nil
	}

	return protocol.Output(result), nil
}
