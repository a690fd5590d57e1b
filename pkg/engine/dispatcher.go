package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ingenimax/workflow-engine/pkg/catalog"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// FireManual starts a run from the workflow's manual trigger
func (e *Engine) FireManual(ctx context.Context, workflowID string, payload interface{}) (string, error) {
	wf, graph, err := e.load(ctx, workflowID)
	if err != nil {
		return "", err
	}
	triggers := graph.Triggers(workflow.NodeTypeManualTrigger)
	if len(triggers) == 0 {
		return "", fmt.Errorf("%w: %s has no %s node", ErrNoMatchingTrigger, workflowID, workflow.NodeTypeManualTrigger)
	}
	return e.start(ctx, wf, graph, triggers[0], payload)
}

// FireScheduled starts a run from the workflow's first schedule trigger. The
// payload carries the tick time and the trigger's cron expression.
func (e *Engine) FireScheduled(ctx context.Context, workflowID string) (string, error) {
	wf, graph, err := e.load(ctx, workflowID)
	if err != nil {
		return "", err
	}
	triggers := graph.Triggers(workflow.NodeTypeScheduleTrigger)
	if len(triggers) == 0 {
		return "", fmt.Errorf("%w: %s has no %s node", ErrNoMatchingTrigger, workflowID, workflow.NodeTypeScheduleTrigger)
	}
	return e.start(ctx, wf, graph, triggers[0], schedulePayload(triggers[0], time.Now().UTC()))
}

// FireTrigger starts a run from a specific trigger node. Schedule triggers get
// the tick payload when payload is nil.
func (e *Engine) FireTrigger(ctx context.Context, workflowID, triggerID string, payload interface{}) (string, error) {
	wf, graph, err := e.load(ctx, workflowID)
	if err != nil {
		return "", err
	}
	node, ok := graph.Node(triggerID)
	if !ok || !node.Type.IsTrigger() {
		return "", fmt.Errorf("%w: %s has no trigger %q", ErrNoMatchingTrigger, workflowID, triggerID)
	}
	if payload == nil && node.Type == workflow.NodeTypeScheduleTrigger {
		payload = schedulePayload(node, time.Now().UTC())
	}
	return e.start(ctx, wf, graph, node, payload)
}

// FireEvent starts one run for every workflow with an event trigger named
// name. No match is not an error. Workflows that fail to validate are skipped
// and reported in the joined error alongside the runs that did start.
func (e *Engine) FireEvent(ctx context.Context, name string, payload interface{}) ([]string, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	workflows, err := e.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	var (
		runIDs []string
		errs   []error
	)
	for _, wf := range workflows {
		if !declaresEvent(&wf.Definition, name) {
			continue
		}
		graph, err := e.graph(wf)
		if err != nil {
			e.logger.Warn(ctx, "Skipping invalid workflow for event", map[string]interface{}{
				"workflow_id": wf.ID,
				"event":       name,
				"error":       err.Error(),
			})
			errs = append(errs, fmt.Errorf("workflow %s: %w", wf.ID, err))
			continue
		}
		trigger := eventTrigger(graph, name)
		if trigger == nil {
			continue
		}
		runID, err := e.start(ctx, wf, graph, trigger, payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", wf.ID, err))
			continue
		}
		runIDs = append(runIDs, runID)
	}
	return runIDs, errors.Join(errs...)
}

func declaresEvent(def *workflow.Definition, name string) bool {
	for _, n := range def.Triggers(workflow.NodeTypeEventTrigger) {
		if d, ok := n.Data.(*workflow.EventTrigger); ok && d.EventName == name {
			return true
		}
	}
	return false
}

func eventTrigger(graph *workflow.ValidatedGraph, name string) *workflow.Node {
	for _, n := range graph.Triggers(workflow.NodeTypeEventTrigger) {
		if d, ok := n.Data.(*workflow.EventTrigger); ok && d.EventName == name {
			return n
		}
	}
	return nil
}

func schedulePayload(node *workflow.Node, at time.Time) map[string]interface{} {
	payload := map[string]interface{}{"firedAt": at.Format(time.RFC3339)}
	if d, ok := node.Data.(*workflow.ScheduleTrigger); ok {
		payload["cron"] = d.Cron
		if d.Timezone != "" {
			payload["timezone"] = d.Timezone
		}
	}
	return payload
}

func triggerKind(t workflow.NodeType) workflow.TriggerKind {
	switch t {
	case workflow.NodeTypeScheduleTrigger:
		return workflow.TriggerKindSchedule
	case workflow.NodeTypeEventTrigger:
		return workflow.TriggerKindEvent
	default:
		return workflow.TriggerKindManual
	}
}

func (e *Engine) load(ctx context.Context, workflowID string) (*workflow.Workflow, *workflow.ValidatedGraph, error) {
	if e.isClosed() {
		return nil, nil, ErrEngineClosed
	}
	wf, err := e.catalog.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return nil, nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	graph, err := e.graph(wf)
	if err != nil {
		return nil, nil, err
	}
	return wf, graph, nil
}

// start creates the run record and hands it to a new interpreter. Nothing is
// persisted when the engine is closing.
func (e *Engine) start(ctx context.Context, wf *workflow.Workflow, graph *workflow.ValidatedGraph, trigger *workflow.Node, payload interface{}) (string, error) {
	kind := triggerKind(trigger.Type)
	run := &workflow.Run{
		ID:          uuid.NewString(),
		WorkflowID:  wf.ID,
		OrgID:       wf.OrgID,
		TriggerID:   trigger.ID,
		TriggerKind: kind,
		Payload:     payload,
		Status:      workflow.RunStatusPending,
		Logs:        []workflow.RunLog{},
		StartedAt:   time.Now().UTC(),
	}

	runCtx := logging.WithFields(context.WithoutCancel(ctx), map[string]interface{}{
		"run_id":      run.ID,
		"workflow_id": wf.ID,
	})
	runCtx, span := e.tracer.Start(runCtx, "workflow.run",
		trace.WithNewRoot(),
		trace.WithLinks(trace.LinkFromContext(ctx)),
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID),
			attribute.String("workflow.run_id", run.ID),
			attribute.String("workflow.trigger", string(kind)),
		))

	exec := workflow.NewExecutionContext(run.ID, wf.ID, wf.OrgID, trigger.ID, payload)
	exec.Bind(trigger.ID, payload)

	it := newInterpreter(e, runCtx, graph, exec, run)
	it.span = span
	if err := e.track(it); err != nil {
		it.stopAcquire()
		span.End()
		return "", err
	}

	if err := e.store.Append(ctx, run.Clone()); err != nil {
		it.stopAcquire()
		span.End()
		e.untrack(run.ID)
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	run.Status = workflow.RunStatusRunning
	exec.SetStatus(workflow.RunStatusRunning)
	it.persist()

	for _, target := range graph.Successors(trigger.ID, "") {
		it.enqueue(target, payload)
	}

	e.metrics.runStarted(runCtx, kind)
	e.logger.Info(runCtx, "Run started", map[string]interface{}{
		"trigger_id":   trigger.ID,
		"trigger_kind": string(kind),
	})

	go it.loop()
	return run.ID, nil
}

// graph returns the cached validated graph for wf, revalidating when the
// definition changed
func (e *Engine) graph(wf *workflow.Workflow) (*workflow.ValidatedGraph, error) {
	fp, err := wf.Definition.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint workflow %s: %w", wf.ID, err)
	}
	if g, ok := e.graphs.get(wf.ID, fp); ok {
		return g, nil
	}
	g, err := e.Validate(&wf.Definition)
	if err != nil {
		return nil, err
	}
	e.graphs.put(wf.ID, fp, g)
	return g, nil
}

type cachedGraph struct {
	fingerprint string
	graph       *workflow.ValidatedGraph
}

type graphCache struct {
	mu      sync.RWMutex
	entries map[string]cachedGraph
}

func newGraphCache() *graphCache {
	return &graphCache{entries: make(map[string]cachedGraph)}
}

func (c *graphCache) get(id, fingerprint string) (*workflow.ValidatedGraph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	if !ok || entry.fingerprint != fingerprint {
		return nil, false
	}
	return entry.graph, true
}

func (c *graphCache) put(id, fingerprint string, g *workflow.ValidatedGraph) {
	c.mu.Lock()
	c.entries[id] = cachedGraph{fingerprint: fingerprint, graph: g}
	c.mu.Unlock()
}
