// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/flowork/flowcore/pkg/registry"
)

// NewRegistry registers the built-in nodes, then the node plugins found under pluginsPath.
func NewRegistry(log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)
	reg.RegisterDefaultNodes()

	if pluginsPath == "" {
		return reg, nil
	}

	plugins, err := reg.LoadNodePlugins(pluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load node plugins: %w", err)
	}

	log.Info("Loaded node plugins", "count", len(plugins), "path", pluginsPath)

	return reg, nil
}
