// Package runstore persists WorkflowRun records written by the engine.
package runstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

// Store is the persistence sink for runs. The engine passes a private copy
// on every call, so implementations may retain it.
type Store interface {
	// Append records a newly created run
	Append(ctx context.Context, run *workflow.Run) error

	// Update replaces the stored state of a run
	Update(ctx context.Context, run *workflow.Run) error

	// Get returns a run by id
	Get(ctx context.Context, id string) (*workflow.Run, error)
}

// Lister is implemented by stores that can enumerate runs of a workflow
type Lister interface {
	List(ctx context.Context, workflowID string, limit int) ([]*workflow.Run, error)
}

// Memory is an in-process Store
type Memory struct {
	mu   sync.RWMutex
	runs map[string]*workflow.Run
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*workflow.Run)}
}

// Append implements Store
func (m *Memory) Append(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run.Clone()
	return nil
}

// Update implements Store
func (m *Memory) Update(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrNotFound
	}
	m.runs[run.ID] = run.Clone()
	return nil
}

// Get implements Store
func (m *Memory) Get(_ context.Context, id string) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

// List implements Lister, newest first
func (m *Memory) List(_ context.Context, workflowID string, limit int) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Run
	for _, r := range m.runs {
		if workflowID == "" || r.WorkflowID == workflowID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
