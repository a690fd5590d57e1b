// Package catalog provides the workflow definitions the dispatcher starts runs from.
package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// ErrNotFound is returned when a workflow does not exist
var ErrNotFound = errors.New("workflow not found")

// Source loads workflow definitions
type Source interface {
	// Get returns a workflow by id
	Get(ctx context.Context, id string) (*workflow.Workflow, error)

	// List returns every workflow, ordered by id
	List(ctx context.Context) ([]*workflow.Workflow, error)
}

// Memory is a mutable in-process Source. Saved definitions are copied, so
// later edits by the caller never reach a running workflow.
type Memory struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
}

// NewMemory creates a catalog holding the given workflows
func NewMemory(workflows ...*workflow.Workflow) (*Memory, error) {
	m := &Memory{workflows: make(map[string]*workflow.Workflow)}
	for _, wf := range workflows {
		if err := m.Save(wf); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Save stores or replaces a workflow
func (m *Memory) Save(wf *workflow.Workflow) error {
	if wf == nil || wf.ID == "" {
		return errors.New("workflow id is required")
	}
	def, err := wf.Definition.Clone()
	if err != nil {
		return err
	}
	cp := *wf
	cp.Definition = *def
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	m.workflows[wf.ID] = &cp
	m.mu.Unlock()
	return nil
}

// Delete removes a workflow
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	delete(m.workflows, id)
	m.mu.Unlock()
}

// Get implements Source. The returned workflow is shared and must not be modified.
func (m *Memory) Get(_ context.Context, id string) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return wf, nil
}

// List implements Source
func (m *Memory) List(_ context.Context) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*workflow.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
