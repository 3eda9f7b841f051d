package switchnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowork/flowcore/pkg/protocol"
	"github.com/flowork/flowcore/pkg/template"
)

// OutputPortOtherwise is used when no case matches. It is deliberately not a success-like
// port name, so unmatched input only reaches edges wired to it.
const OutputPortOtherwise = "otherwise"

// SwitchNode routes execution to the output port of the case matching the rendered value.
type SwitchNode struct {
	value string
	cases map[string]string // case value -> output port
}

// NewSwitchNode creates a new switch node.
func NewSwitchNode(config map[string]any) (*SwitchNode, error) {
	value, ok := config["value"].(string)
	if !ok {
		return nil, errors.New("missing required field 'value'")
	}

	cases := make(map[string]string)

	if casesConfig, ok := config["cases"].([]any); ok {
		for i, caseAny := range casesConfig {
			caseMap, ok := caseAny.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("case %d must be an object", i)
			}

			caseValue, ok := caseMap["value"].(string)
			if !ok {
				return nil, fmt.Errorf("case %d missing 'value'", i)
			}

			outputPort, ok := caseMap["output_port"].(string)
			if !ok || outputPort == "" {
				return nil, fmt.Errorf("case %d missing 'output_port'", i)
			}

			cases[caseValue] = outputPort
		}
	}

	return &SwitchNode{value: value, cases: cases}, nil
}

// Execute evaluates the value and routes to the matching output port.
func (n *SwitchNode) Execute(_ context.Context, request protocol.Request) (protocol.Result, error) {
	result, err := template.RenderWithScope(n.value, template.Scope{
		Input:       request.Input,
		NodeID:      request.NodeID,
		ExecutionID: request.ExecutionID,
		WorkflowID:  request.WorkflowID,
	})
	if err != nil {
		return protocol.Fail(fmt.Sprintf("value evaluation failed: %v", err)), nil
	}

	matched := fmt.Sprintf("%v", result)

	port, exists := n.cases[matched]
	if !exists {
		port = OutputPortOtherwise
	}

	return protocol.OnPort(port, map[string]any{
		"matched_value": matched,
		"output_port":   port,
		"no_match":      !exists,
		"input":         request.Input["data"],
	}), nil
}
