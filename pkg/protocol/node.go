// Package protocol defines the contract between the scheduler and pluggable node bodies.
package protocol

import (
	"context"
	"log/slog"

	"github.com/flowork/flowcore/pkg/models"
)

// Request carries one invocation of a node body.
type Request struct {
	NodeID      string
	NodeType    string
	JobID       string
	ExecutionID string
	WorkflowID  string
	UserID      string

	// Input is the decoded job input, normally a {data, history} envelope.
	Input  models.Payload
	Config map[string]any
	Logger *slog.Logger
}

// NodeBody is the executable behaviour of a node type. A returned error (or a panic) marks
// the job FAILED without routing; a Failure result is routed on the error port.
type NodeBody interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// NodeBodyFunc adapts a function to NodeBody.
type NodeBodyFunc func(ctx context.Context, request Request) (Result, error)

// Execute calls f.
func (f NodeBodyFunc) Execute(ctx context.Context, request Request) (Result, error) {
	return f(ctx, request)
}

// NodeFactory creates node bodies and provides metadata about the node type.
type NodeFactory interface {
	// Create creates a node body for the given configuration
	Create(ctx context.Context, config map[string]any) (NodeBody, error)

	// ID returns the node type identifier this factory serves
	ID() string

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any
}
