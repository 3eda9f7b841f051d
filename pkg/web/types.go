// Package web provides HTTP request and response types for the scheduler API.
package web

import (
	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/protocol"
)

// DispatchResponse is returned when a workflow has been submitted.
type DispatchResponse struct {
	ExecutionID string   `json:"execution_id"`
	JobIDs      []string `json:"job_ids"`
}

// StandaloneResponse is returned when a single node has been submitted.
type StandaloneResponse struct {
	ExecutionID string `json:"execution_id"`
	JobID       string `json:"job_id"`
}

// ControlResponse reports the effect of a stop, pause or resume request.
type ControlResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	Jobs        int                    `json:"jobs"`
}

// NodeTypeResponse describes a registered node type.
type NodeTypeResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// TransformNodeTypes lists registered node factories in API form.
func TransformNodeTypes(factories []protocol.NodeFactory) []NodeTypeResponse {
	response := make([]NodeTypeResponse, 0, len(factories))
	for _, factory := range factories {
		response = append(response, NodeTypeResponse{
			ID:          factory.ID(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	return response
}
