package registry

import (
	"github.com/flowork/flowcore/pkg/nodes/conditional"
	"github.com/flowork/flowcore/pkg/nodes/log"
	"github.com/flowork/flowcore/pkg/nodes/start"
	switchnode "github.com/flowork/flowcore/pkg/nodes/switch"
	"github.com/flowork/flowcore/pkg/nodes/transform"
)

// RegisterDefaultNodes registers all built-in node factories with the registry.
func (r *Registry) RegisterDefaultNodes() {
	r.RegisterNode(start.NewStartNodeFactory())
	r.RegisterNode(log.NewLogNodeFactory())
	r.RegisterNode(transform.NewTransformNodeFactory())
	r.RegisterNode(conditional.NewConditionalNodeFactory())
	r.RegisterNode(switchnode.NewSwitchNodeFactory())
}
