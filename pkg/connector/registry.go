package connector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// Registry maps node types to connectors. It is populated at startup and
// read concurrently by every run.
type Registry struct {
	mu         sync.RWMutex
	connectors map[workflow.NodeType]Connector
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[workflow.NodeType]Connector),
	}
}

// Register binds a connector to a node type
func (r *Registry) Register(t workflow.NodeType, c Connector) error {
	if t.IsTrigger() {
		return fmt.Errorf("trigger type %s cannot have a connector", t)
	}
	if t == workflow.NodeTypeMemory {
		return fmt.Errorf("%s is configuration only and cannot have a connector", t)
	}
	if c == nil {
		return fmt.Errorf("connector for %s is nil", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[t]; exists {
		return fmt.Errorf("connector for %s is already registered", t)
	}
	r.connectors[t] = c
	return nil
}

// MustRegister is Register that panics on error
func (r *Registry) MustRegister(t workflow.NodeType, c Connector) {
	if err := r.Register(t, c); err != nil {
		panic(err)
	}
}

// Resolve returns the connector for a node type
func (r *Registry) Resolve(t workflow.NodeType) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectorNotFound, t)
	}
	return c, nil
}

// List returns the registered node types in sorted order
func (r *Registry) List() []workflow.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]workflow.NodeType, 0, len(r.connectors))
	for t := range r.connectors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// SourcePorts implements workflow.PortResolver. Triggers expose a single
// port and memory nodes none, without needing a connector.
func (r *Registry) SourcePorts(t workflow.NodeType) ([]string, bool) {
	if t.IsTrigger() {
		return []string{workflow.PortOut}, true
	}
	if t == workflow.NodeTypeMemory {
		return nil, true
	}
	c, err := r.Resolve(t)
	if err != nil {
		return nil, false
	}
	return c.Ports(), true
}
