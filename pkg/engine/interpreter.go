package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ingenimax/workflow-engine/pkg/connector"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// task is one pending node execution. logIdx is -1 until the attempt has a
// log entry; a resumed delay keeps the entry it was suspended with.
type task struct {
	nodeID  string
	input   interface{}
	attempt int
	resumed bool
	logIdx  int
}

type eventKind int

const (
	eventResult eventKind = iota
	eventTimer
)

type event struct {
	kind    eventKind
	task    task
	result  connector.Result
	elapsed time.Duration
	timerID int
}

type pendingTimer struct {
	timer *time.Timer
	task  task
}

// interpreter drives one run. All fields below events are owned by the loop
// goroutine; workers and timers talk to it only through events.
type interpreter struct {
	engine *Engine
	graph  *workflow.ValidatedGraph
	exec   *workflow.ExecutionContext
	run    *workflow.Run
	ctx    context.Context
	span   trace.Span

	events    chan event
	ready     []task
	inflight  int
	timers    map[int]*pendingTimer
	nextTimer int
	failed    bool
	drained   bool

	cancelOnce  sync.Once
	cancelCh    chan struct{}
	acquireCtx  context.Context
	stopAcquire context.CancelFunc
	done        chan struct{}
}

func newInterpreter(e *Engine, ctx context.Context, graph *workflow.ValidatedGraph, exec *workflow.ExecutionContext, run *workflow.Run) *interpreter {
	acquireCtx, stop := context.WithCancel(ctx)
	return &interpreter{
		engine:      e,
		graph:       graph,
		exec:        exec,
		run:         run,
		ctx:         ctx,
		events:      make(chan event, 16),
		timers:      make(map[int]*pendingTimer),
		cancelCh:    make(chan struct{}),
		acquireCtx:  acquireCtx,
		stopAcquire: stop,
		done:        make(chan struct{}),
	}
}

func (it *interpreter) cancel() {
	it.cancelOnce.Do(func() {
		it.exec.Cancel()
		it.stopAcquire()
		close(it.cancelCh)
	})
}

func (it *interpreter) enqueue(nodeID string, input interface{}) {
	if it.exec.Cancelled() {
		return
	}
	it.ready = append(it.ready, task{nodeID: nodeID, input: input, attempt: 1, logIdx: -1})
}

func (it *interpreter) loop() {
	defer it.finish()

	cancelCh := it.cancelCh
	for {
		for len(it.ready) > 0 && !it.exec.Cancelled() {
			t := it.ready[0]
			it.ready = it.ready[1:]
			if !it.dispatch(t) {
				break
			}
		}
		if it.exec.Cancelled() {
			it.drain()
		}
		if it.inflight == 0 && len(it.ready) == 0 {
			return
		}

		select {
		case ev := <-it.events:
			switch ev.kind {
			case eventResult:
				it.complete(ev)
			case eventTimer:
				it.fire(ev.timerID)
			}
		case <-cancelCh:
			cancelCh = nil
		}
	}
}

// dispatch starts t on a worker. It returns false when cancellation interrupted
// the wait for a worker slot.
func (it *interpreter) dispatch(t task) bool {
	node, ok := it.graph.Node(t.nodeID)
	if !ok {
		it.failed = true
		return true
	}

	if err := it.engine.workers.Acquire(it.acquireCtx, 1); err != nil {
		it.abandon(t)
		return false
	}

	now := time.Now().UTC()
	if t.logIdx < 0 {
		t.logIdx = len(it.run.Logs)
		it.run.Logs = append(it.run.Logs, workflow.RunLog{
			Seq:       t.logIdx + 1,
			NodeID:    node.ID,
			NodeType:  node.Type,
			Status:    workflow.NodeStatusRunning,
			Attempt:   t.attempt,
			Timestamp: now,
		})
	} else {
		it.run.Logs[t.logIdx].Status = workflow.NodeStatusRunning
	}
	it.persist()

	it.engine.logger.Debug(it.ctx, "Dispatching node", map[string]interface{}{
		"node_id":   node.ID,
		"node_type": string(node.Type),
		"attempt":   t.attempt,
		"seq":       t.logIdx + 1,
	})

	it.inflight++
	go it.work(t, node)
	return true
}

func (it *interpreter) work(t task, node *workflow.Node) {
	start := time.Now()
	res := it.execute(t, node)
	elapsed := time.Since(start)
	it.engine.workers.Release(1)
	it.events <- event{kind: eventResult, task: t, result: res, elapsed: elapsed}
}

func (it *interpreter) execute(t task, node *workflow.Node) (res connector.Result) {
	ctx, span := it.engine.tracer.Start(it.ctx, "workflow.node "+string(node.Type),
		trace.WithAttributes(
			attribute.String("workflow.node_id", node.ID),
			attribute.Int("workflow.attempt", t.attempt),
			attribute.Bool("workflow.resumed", t.resumed),
		))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			res = connector.Fatalf("connector panicked: %v", r)
		}
		span.SetAttributes(attribute.String("workflow.outcome", res.Outcome.String()))
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		if res.Outcome == connector.OutcomeFatal {
			span.SetStatus(codes.Error, outcomeError(res).Error())
		}
	}()

	conn, err := it.engine.registry.Resolve(node.Type)
	if err != nil {
		return connector.Fatal(err)
	}

	ctx = workflow.WithIdempotencyKey(ctx, it.exec.IdempotencyKey(node.ID))
	return conn.Execute(ctx, connector.Invocation{
		Node:    node,
		Input:   t.input,
		Exec:    it.exec,
		Attempt: t.attempt,
		Resumed: t.resumed,
	})
}

func (it *interpreter) complete(ev event) {
	it.inflight--

	t, res := ev.task, ev.result
	entry := &it.run.Logs[t.logIdx]
	now := time.Now().UTC()
	it.engine.metrics.nodeAttempted(it.ctx, entry.NodeType, res.Outcome.String(), ev.elapsed)

	switch res.Outcome {
	case connector.OutcomeSuccess:
		targets, err := it.successors(t.nodeID, res.Port)
		if err != nil {
			it.fail(entry, err, now)
			break
		}
		entry.Status = workflow.NodeStatusSuccess
		entry.Port = res.Port
		entry.Output = res.Output
		entry.FinishedAt = &now

		next := t.input
		if res.Output != nil {
			it.exec.Bind(t.nodeID, res.Output)
			next = res.Output
		}
		for _, target := range targets {
			it.enqueue(target, next)
		}
		it.engine.logger.Debug(it.ctx, "Node succeeded", map[string]interface{}{
			"node_id": t.nodeID,
			"port":    res.Port,
			"next":    len(targets),
		})

	case connector.OutcomeRetryable:
		err := outcomeError(res)
		if t.attempt >= it.engine.retry.MaxAttempts {
			it.fail(entry, fmt.Errorf("giving up after %d attempts: %w", t.attempt, err), now)
			break
		}
		entry.Status = workflow.NodeStatusFailed
		entry.Transient = true
		entry.Error = err.Error()
		entry.FinishedAt = &now

		delay := it.engine.retry.Backoff(t.attempt)
		it.schedule(task{nodeID: t.nodeID, input: t.input, attempt: t.attempt + 1, logIdx: -1}, delay)
		it.engine.logger.Info(it.ctx, "Retrying node", map[string]interface{}{
			"node_id": t.nodeID,
			"attempt": t.attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})

	case connector.OutcomeSuspend:
		entry.Status = workflow.NodeStatusPending
		it.schedule(task{nodeID: t.nodeID, input: t.input, attempt: t.attempt, resumed: true, logIdx: t.logIdx}, res.Delay)
		it.engine.logger.Info(it.ctx, "Suspending node", map[string]interface{}{
			"node_id": t.nodeID,
			"delay":   res.Delay.String(),
		})

	default:
		it.fail(entry, outcomeError(res), now)
	}

	it.persist()
}

// successors resolves the targets activated by port. An empty port activates
// every edge of a single-port node.
func (it *interpreter) successors(nodeID, port string) ([]string, error) {
	ports := it.graph.Ports(nodeID)
	if port == "" {
		if len(ports) > 1 {
			return nil, fmt.Errorf("node %s must select one of ports %v", nodeID, ports)
		}
		return it.graph.Successors(nodeID, ""), nil
	}
	for _, p := range ports {
		if p == port {
			return it.graph.Successors(nodeID, port), nil
		}
	}
	return nil, fmt.Errorf("node %s selected unknown port %q", nodeID, port)
}

func (it *interpreter) fail(entry *workflow.RunLog, err error, now time.Time) {
	entry.Status = workflow.NodeStatusFailed
	entry.Transient = false
	entry.Error = err.Error()
	entry.FinishedAt = &now

	it.failed = true
	if it.run.Error == "" {
		it.run.Error = fmt.Sprintf("node %s: %s", entry.NodeID, err.Error())
	}
	it.engine.logger.Warn(it.ctx, "Node failed", map[string]interface{}{
		"node_id": entry.NodeID,
		"attempt": entry.Attempt,
		"error":   err.Error(),
	})
}

// schedule re-enqueues t after d without holding a worker. A cancelled run
// arms no new timers.
func (it *interpreter) schedule(t task, d time.Duration) {
	if it.exec.Cancelled() {
		it.abandon(t)
		return
	}
	id := it.nextTimer
	it.nextTimer++
	it.inflight++

	pt := &pendingTimer{task: t}
	it.timers[id] = pt
	pt.timer = time.AfterFunc(d, func() {
		it.events <- event{kind: eventTimer, timerID: id}
	})
}

func (it *interpreter) fire(id int) {
	pt, ok := it.timers[id]
	if !ok {
		return
	}
	delete(it.timers, id)
	it.inflight--

	if it.exec.Cancelled() {
		it.abandon(pt.task)
		it.persist()
		return
	}
	it.ready = append(it.ready, pt.task)
}

// drain drops queued work on every pass after cancellation. Timers that
// already fired are settled when their event arrives.
func (it *interpreter) drain() {
	if len(it.ready) == 0 && len(it.timers) == 0 && it.drained {
		return
	}

	for _, t := range it.ready {
		it.abandon(t)
	}
	it.ready = nil

	for id, pt := range it.timers {
		if pt.timer.Stop() {
			delete(it.timers, id)
			it.inflight--
			it.abandon(pt.task)
		}
	}
	it.persist()
	if !it.drained {
		it.drained = true
		it.engine.logger.Info(it.ctx, "Run cancellation observed", map[string]interface{}{
			"in_flight": it.inflight,
		})
	}
}

// abandon closes the log entry of a suspended task that will never resume
func (it *interpreter) abandon(t task) {
	if t.logIdx < 0 {
		return
	}
	entry := &it.run.Logs[t.logIdx]
	if entry.Status == workflow.NodeStatusPending || entry.Status == workflow.NodeStatusRunning {
		now := time.Now().UTC()
		entry.Status = workflow.NodeStatusFailed
		entry.Error = "run cancelled"
		entry.FinishedAt = &now
	}
}

func (it *interpreter) finish() {
	status := workflow.RunStatusSuccess
	switch {
	case it.exec.Cancelled():
		status = workflow.RunStatusCancelled
	case it.failed:
		status = workflow.RunStatusFailed
	}

	now := time.Now().UTC()
	it.exec.SetStatus(status)
	it.run.Status = status
	it.run.FinishedAt = &now
	it.persist()

	elapsed := now.Sub(it.run.StartedAt)
	it.engine.metrics.runFinished(it.ctx, status, elapsed)
	it.span.SetAttributes(attribute.String("workflow.status", string(status)))
	if status == workflow.RunStatusFailed {
		it.span.SetStatus(codes.Error, it.run.Error)
	}
	it.span.End()

	it.engine.logger.Info(it.ctx, "Run finished", map[string]interface{}{
		"status":   string(status),
		"nodes":    len(it.run.Logs),
		"duration": elapsed.String(),
	})

	it.stopAcquire()
	close(it.done)
	it.engine.untrack(it.run.ID)
}

// persist writes a snapshot of the run. Store failures never affect the run.
func (it *interpreter) persist() {
	if err := it.engine.store.Update(it.ctx, it.run.Clone()); err != nil {
		it.engine.logger.Error(it.ctx, "Failed to persist run", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func outcomeError(res connector.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return errors.New("connector returned " + res.Outcome.String() + " without an error")
}
