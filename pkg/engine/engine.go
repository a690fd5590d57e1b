// Package engine interprets validated workflow graphs and exposes the trigger
// entry points that start runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/Ingenimax/workflow-engine/pkg/catalog"
	"github.com/Ingenimax/workflow-engine/pkg/connector"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
	"github.com/Ingenimax/workflow-engine/pkg/runstore"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

var (
	// ErrWorkflowNotFound is returned when the catalog has no such workflow
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrNoMatchingTrigger is returned when a workflow has no trigger for the invocation kind
	ErrNoMatchingTrigger = errors.New("workflow has no matching trigger")
	// ErrRunNotFound is returned for unknown run ids
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinished is returned when cancelling a run that already finished
	ErrRunFinished = errors.New("run already finished")
	// ErrEngineClosed is returned once Shutdown has been called
	ErrEngineClosed = errors.New("engine is shut down")
)

// DefaultWorkers is the default size of the connector worker pool
const DefaultWorkers = 16

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithWorkers bounds the number of connector calls in flight across all runs
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workerCount = n
		}
	}
}

// WithRetryPolicy sets the backoff policy for retryable results
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) {
		e.retry = p.normalized()
	}
}

// WithStrictBranches requires condition nodes to wire both ports
func WithStrictBranches(strict bool) Option {
	return func(e *Engine) {
		e.strictBranches = strict
	}
}

// WithRunStore sets the run persistence sink
func WithRunStore(store runstore.Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithTracerProvider sets the tracer provider used for run and node spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets the meter provider used for run and node metrics
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		e.meterProvider = mp
	}
}

// Engine runs workflows. Each run is driven by its own interpreter goroutine;
// connector calls from every run share one bounded worker pool.
type Engine struct {
	registry       *connector.Registry
	catalog        catalog.Source
	store          runstore.Store
	logger         logging.Logger
	tracer         trace.Tracer
	meterProvider  metric.MeterProvider
	metrics        *engineMetrics
	retry          RetryPolicy
	strictBranches bool
	workerCount    int
	workers        *semaphore.Weighted

	graphs *graphCache

	mu     sync.Mutex
	active map[string]*interpreter
	wg     sync.WaitGroup
	closed bool
}

// New creates an engine resolving connectors from registry and definitions from source
func New(registry *connector.Registry, source catalog.Source, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		catalog:     source,
		store:       runstore.NewMemory(),
		logger:      logging.NewNop(),
		tracer:      otel.Tracer(instrumentationName),
		retry:       DefaultRetryPolicy(),
		workerCount: DefaultWorkers,
		graphs:      newGraphCache(),
		active:      make(map[string]*interpreter),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.workers = semaphore.NewWeighted(int64(e.workerCount))
	e.metrics = newEngineMetrics(e.meterProvider)
	return e
}

// Registry returns the connector registry
func (e *Engine) Registry() *connector.Registry {
	return e.registry
}

// Validate validates a definition with the engine's port resolver and strictness
func (e *Engine) Validate(def *workflow.Definition) (*workflow.ValidatedGraph, error) {
	opts := []workflow.ValidateOption{workflow.WithPortResolver(e.registry)}
	if e.strictBranches {
		opts = append(opts, workflow.WithStrictBranches())
	}
	return workflow.Validate(def, opts...)
}

// Cancel requests cooperative cancellation of an active run. In-flight connector
// calls finish, but no further nodes are dispatched.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	it, ok := e.active[runID]
	e.mu.Unlock()
	if ok {
		it.cancel()
		return nil
	}

	run, err := e.store.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return ErrRunNotFound
		}
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return ErrRunFinished
	}
	return ErrRunNotFound
}

// GetRun returns the latest persisted state of a run
func (e *Engine) GetRun(ctx context.Context, runID string) (*workflow.Run, error) {
	run, err := e.store.Get(ctx, runID)
	if errors.Is(err, runstore.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// Wait blocks until the run reaches a terminal status and returns it
func (e *Engine) Wait(ctx context.Context, runID string) (*workflow.Run, error) {
	e.mu.Lock()
	it, ok := e.active[runID]
	e.mu.Unlock()

	if !ok {
		return e.GetRun(ctx, runID)
	}
	select {
	case <-it.done:
		return it.run.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveRuns returns the number of runs still being interpreted
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Shutdown stops accepting runs and waits for active ones. When ctx expires
// first, remaining runs are cancelled and ctx's error is returned once they stop.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	e.mu.Lock()
	for _, it := range e.active {
		it.cancel()
	}
	e.mu.Unlock()
	<-done
	return ctx.Err()
}

// track registers a run unless the engine is shutting down
func (e *Engine) track(it *interpreter) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.active[it.run.ID] = it
	e.wg.Add(1)
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) untrack(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
	e.wg.Done()
}
