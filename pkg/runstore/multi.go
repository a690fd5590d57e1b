package runstore

import (
	"context"
	"errors"

	"github.com/Ingenimax/workflow-engine/pkg/logging"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// Multi writes to a primary store and mirrors every write to secondaries.
// Only primary failures are returned; secondary failures are logged.
type Multi struct {
	primary     Store
	secondaries []Store
	logger      logging.Logger
}

// MultiOption configures a Multi store
type MultiOption func(*Multi)

// WithSecondary adds a mirror store
func WithSecondary(s Store) MultiOption {
	return func(m *Multi) {
		m.secondaries = append(m.secondaries, s)
	}
}

// WithLogger sets the logger used for secondary failures
func WithLogger(logger logging.Logger) MultiOption {
	return func(m *Multi) {
		m.logger = logger
	}
}

// NewMulti creates a fan-out store
func NewMulti(primary Store, opts ...MultiOption) *Multi {
	m := &Multi{primary: primary, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append implements Store
func (m *Multi) Append(ctx context.Context, run *workflow.Run) error {
	if err := m.primary.Append(ctx, run); err != nil {
		return err
	}
	for _, s := range m.secondaries {
		if err := s.Append(ctx, run.Clone()); err != nil {
			m.logger.Error(ctx, "Secondary run store append failed", map[string]interface{}{
				"run_id": run.ID,
				"error":  err.Error(),
			})
		}
	}
	return nil
}

// Update implements Store
func (m *Multi) Update(ctx context.Context, run *workflow.Run) error {
	if err := m.primary.Update(ctx, run); err != nil {
		return err
	}
	for _, s := range m.secondaries {
		if err := s.Update(ctx, run.Clone()); err != nil {
			m.logger.Error(ctx, "Secondary run store update failed", map[string]interface{}{
				"run_id": run.ID,
				"error":  err.Error(),
			})
		}
	}
	return nil
}

// Get implements Store, falling back to secondaries when the primary has no such run
func (m *Multi) Get(ctx context.Context, id string) (*workflow.Run, error) {
	run, err := m.primary.Get(ctx, id)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return run, err
	}
	for _, s := range m.secondaries {
		if run, err := s.Get(ctx, id); err == nil {
			return run, nil
		}
	}
	return nil, ErrNotFound
}

// List implements Lister when the primary does
func (m *Multi) List(ctx context.Context, workflowID string, limit int) ([]*workflow.Run, error) {
	lister, ok := m.primary.(Lister)
	if !ok {
		return nil, errors.New("primary run store cannot list runs")
	}
	return lister.List(ctx, workflowID, limit)
}
