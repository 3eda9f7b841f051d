// Package models defines the workflow graph, execution and job records shared by the scheduler components.
package models

import "strings"

// StartNodeType is the node type that, when present in a workflow, is always its entry point.
const StartNodeType = "flowork.core.trigger.start"

// Workflow represents a persisted graph definition.
type Workflow struct {
	ID   string `json:"workflow_id" validate:"required"`
	Name string `json:"name"`
}

// Node represents a node instance. Node ids are globally unique, not only within a workflow.
type Node struct {
	ID         string         `json:"node_id"     validate:"required"`
	WorkflowID string         `json:"workflow_id"`
	Type       string         `json:"node_type"   validate:"required"`
	Config     map[string]any `json:"config_json"`
}

// IsStartLike reports whether the node type identifies a start or trigger node.
func (n *Node) IsStartLike() bool {
	return IsStartLikeType(n.Type)
}

// IsStartLikeType reports whether a node type identifier contains "start" or "trigger".
func IsStartLikeType(nodeType string) bool {
	lower := strings.ToLower(nodeType)

	return strings.Contains(lower, "start") || strings.Contains(lower, "trigger")
}

// Edge connects the output port of a source node to a target node.
type Edge struct {
	ID           int64   `json:"edge_id"`
	WorkflowID   string  `json:"workflow_id"`
	SourceNodeID string  `json:"source_node_id"          validate:"required"`
	TargetNodeID string  `json:"target_node_id"          validate:"required"`
	SourceHandle *string `json:"source_handle,omitempty"`
	TargetHandle *string `json:"target_handle,omitempty"` // informational only
}

// Handle returns the source handle, or an empty string when the edge has none.
func (e *Edge) Handle() string {
	if e.SourceHandle == nil {
		return ""
	}

	return *e.SourceHandle
}

// StringPtr returns a pointer to s. Useful for building edges with handles.
func StringPtr(s string) *string {
	return &s
}
