// Package router decides which downstream nodes receive the output of a finished job.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/flowork/flowcore/pkg/models"
)

// SuccessLikePorts are the port names treated as the normal, non-error output of a node.
var SuccessLikePorts = []string{"success", "output", "default", "source", "out", "main", "result"}

// EdgeSource lists the outgoing edges of a node.
type EdgeSource interface {
	Edges(ctx context.Context, workflowID, sourceNodeID string) ([]*models.Edge, error)
}

type Router struct {
	edges  EdgeSource
	logger *slog.Logger
}

func NewRouter(edges EdgeSource, logger *slog.Logger) *Router {
	return &Router{
		edges:  edges,
		logger: logger.With("module", "router"),
	}
}

// Route returns the target node ids that receive output emitted on activePort, in edge order.
func (r *Router) Route(ctx context.Context, workflowID, sourceNodeID, activePort string) ([]string, error) {
	edges, err := r.edges.Edges(ctx, workflowID, sourceNodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges of node %s: %w", sourceNodeID, err)
	}

	targets := SelectTargets(edges, activePort)

	r.logger.DebugContext(ctx, "Routing result",
		"workflow_id", workflowID,
		"source_node_id", sourceNodeID,
		"port", activePort,
		"edges", len(edges),
		"targets", targets,
	)

	return targets, nil
}

// SelectTargets applies the routing rule to a list of edges.
//
// A success-like port follows every edge whose handle is empty, success-like, or does not
// mention "error" or "fail". Any other port follows only edges whose handle equals it exactly.
func SelectTargets(edges []*models.Edge, activePort string) []string {
	successLike := IsSuccessLike(activePort)
	targets := make([]string, 0, len(edges))

	for _, edge := range edges {
		handle := edge.Handle()

		var selected bool
		if successLike {
			selected = handle == "" || IsSuccessLike(handle) || !isErrorHandle(handle)
		} else {
			selected = handle == activePort
		}

		if selected && !slices.Contains(targets, edge.TargetNodeID) {
			targets = append(targets, edge.TargetNodeID)
		}
	}

	return targets
}

// IsSuccessLike reports whether port is one of SuccessLikePorts. Matching is case-sensitive.
func IsSuccessLike(port string) bool {
	return slices.Contains(SuccessLikePorts, port)
}

// isErrorHandle matches case-insensitively, like SQL LIKE on SQLite.
func isErrorHandle(handle string) bool {
	lower := strings.ToLower(handle)

	return strings.Contains(lower, "error") || strings.Contains(lower, "fail")
}
