// Package testutil provides test data builders and a behavioural suite for job store implementations.
package testutil

import (
	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/google/uuid"
)

// CreateTestNode creates a test Node with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:     uuid.New().String(),
		Type:   "log",
		Config: map[string]any{"message": "test", "level": "info"},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node id.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// WithType sets the node type.
func WithType(nodeType string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = nodeType
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// Connect builds an edge. An empty handle leaves the source handle null.
func Connect(source, target, handle string) *models.Edge {
	edge := &models.Edge{SourceNodeID: source, TargetNodeID: target}
	if handle != "" {
		edge.SourceHandle = models.StringPtr(handle)
	}

	return edge
}

// NewSubmission builds a full dispatch submission for a fresh execution of the graph.
func NewSubmission(workflowID string, nodes []*models.Node, edges []*models.Edge) *persistence.Submission {
	return &persistence.Submission{
		Workflow:     &models.Workflow{ID: workflowID, Name: "test workflow " + workflowID},
		Nodes:        nodes,
		Edges:        edges,
		ReplaceEdges: true,
		Execution: &models.Execution{
			ID:         uuid.New().String(),
			WorkflowID: workflowID,
			UserID:     "user-1",
			Strategy:   "default",
			Status:     models.ExecutionStatusRunning,
		},
	}
}

// Chain builds a linear workflow a -> b -> c ... with null handles and returns its submission.
func Chain(workflowID string, nodeIDs ...string) *persistence.Submission {
	nodes := make([]*models.Node, 0, len(nodeIDs))
	edges := make([]*models.Edge, 0, len(nodeIDs))

	for i, id := range nodeIDs {
		nodes = append(nodes, CreateTestNode(WithID(id)))

		if i > 0 {
			edges = append(edges, Connect(nodeIDs[i-1], id, ""))
		}
	}

	return NewSubmission(workflowID, nodes, edges)
}
