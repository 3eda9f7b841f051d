// Package registry maps node type identifiers to node body factories.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"slices"
	"strings"
	"sync"

	"github.com/flowork/flowcore/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// PluginSymbol is the exported symbol a node plugin must provide, of type protocol.NodeFactory.
const PluginSymbol = "Node"

var (
	// ErrUnknownNodeType indicates no factory is registered for a node type.
	ErrUnknownNodeType = errors.New("node type not registered")

	// ErrInvalidConfig indicates a node configuration does not match its schema.
	ErrInvalidConfig = errors.New("invalid node configuration")
)

type Registry struct {
	logger        *slog.Logger
	mu            sync.RWMutex
	nodeFactories map[string]protocol.NodeFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:        log.With("module", "registry"),
		nodeFactories: make(map[string]protocol.NodeFactory),
	}
}

// RegisterNode registers a factory under its ID, replacing any previous one.
func (r *Registry) RegisterNode(factory protocol.NodeFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodeFactories[factory.ID()] = factory
}

// Resolve returns the factory for a node type.
func (r *Registry) Resolve(nodeType string) (protocol.NodeFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.nodeFactories[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownNodeType, nodeType)
	}

	return factory, nil
}

// CreateBody resolves the node type and builds a body for the given configuration.
func (r *Registry) CreateBody(ctx context.Context, nodeType string, config map[string]any) (protocol.NodeBody, error) {
	factory, err := r.Resolve(nodeType)
	if err != nil {
		return nil, err
	}

	if config == nil {
		config = map[string]any{}
	}

	body, err := factory.Create(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create node '%s': %w", nodeType, err)
	}

	return body, nil
}

// ValidateConfig checks a node configuration against the JSON schema of its type.
// Types without a registered factory are not checked; they may be served by other workers.
func (r *Registry) ValidateConfig(nodeType string, config map[string]any) error {
	factory, err := r.Resolve(nodeType)
	if err != nil {
		return nil //nolint:nilerr // unknown types are validated where they run
	}

	schema := factory.Schema()
	if len(schema) == 0 {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("failed to validate config of '%s': %w", nodeType, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		problems = append(problems, resultErr.String())
	}

	return fmt.Errorf("%w for '%s': %s", ErrInvalidConfig, nodeType, strings.Join(problems, "; "))
}

// GetAvailableNodes returns all registered factories ordered by ID.
func (r *Registry) GetAvailableNodes() []protocol.NodeFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.NodeFactory, 0, len(r.nodeFactories))
	for _, factory := range r.nodeFactories {
		factories = append(factories, factory)
	}

	slices.SortFunc(factories, func(a, b protocol.NodeFactory) int {
		return strings.Compare(a.ID(), b.ID())
	})

	return factories
}

// LoadNodePlugins loads every *.so under pluginsPath/nodes and registers its factory.
func (r *Registry) LoadNodePlugins(pluginsPath string) ([]protocol.NodeFactory, error) {
	factories, err := loadPlugin[protocol.NodeFactory](r.logger, pluginsPath, PluginSymbol)
	if err != nil {
		return nil, err
	}

	for _, factory := range factories {
		r.RegisterNode(factory)
	}

	return factories, nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := filepath.Join(pluginsPath, strings.ToLower(symbolName)+"s")

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins in %s: %w", rootPath, err)
	}

	l := logger.With(slog.String("path", rootPath), slog.String("symbol", symbolName))
	l.Info("Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no symbol %s: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			// Exported variables are looked up as pointers.
			ptr, isPtr := v.(*T)
			if !isPtr {
				return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
			}

			castV = *ptr
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded node plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
