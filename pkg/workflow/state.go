package workflow

import (
	"context"
	"sync"
	"sync/atomic"
)

// Binding is one node output bound into the execution context
type Binding struct {
	NodeID string      `json:"nodeId"`
	Value  interface{} `json:"value"`
}

// ExecutionContext is the mutable state of a single run. It is owned by the
// interpreter driving the run; Cancel is the only method meant for outside callers.
type ExecutionContext struct {
	RunID      string
	WorkflowID string
	OrgID      string
	TriggerID  string
	Payload    interface{}

	mu        sync.RWMutex
	bindings  []Binding
	index     map[string]int
	status    RunStatus
	scratch   map[string]interface{}
	cancelled atomic.Bool
}

// NewExecutionContext creates a context seeded with the trigger payload
func NewExecutionContext(runID, workflowID, orgID, triggerID string, payload interface{}) *ExecutionContext {
	return &ExecutionContext{
		RunID:      runID,
		WorkflowID: workflowID,
		OrgID:      orgID,
		TriggerID:  triggerID,
		Payload:    payload,
		index:      make(map[string]int),
		status:     RunStatusPending,
	}
}

// Bind records a node output. Rebinding a node replaces the value but keeps its position.
func (c *ExecutionContext) Bind(nodeID string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[nodeID]; ok {
		c.bindings[i].Value = value
		return
	}
	c.index[nodeID] = len(c.bindings)
	c.bindings = append(c.bindings, Binding{NodeID: nodeID, Value: value})
}

// Variable returns the output bound for a node
func (c *ExecutionContext) Variable(nodeID string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[nodeID]
	if !ok {
		return nil, false
	}
	return c.bindings[i].Value, true
}

// Variables returns the bindings in completion order
func (c *ExecutionContext) Variables() []Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Binding(nil), c.bindings...)
}

// VariablesMap returns the bindings keyed by node id
func (c *ExecutionContext) VariablesMap() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]interface{}, len(c.bindings))
	for _, b := range c.bindings {
		out[b.NodeID] = b.Value
	}
	return out
}

// SetScratch keeps connector state between attempts of a node. Scratch
// values are never bound as outputs and live only as long as the run.
func (c *ExecutionContext) SetScratch(nodeID string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scratch == nil {
		c.scratch = make(map[string]interface{})
	}
	c.scratch[nodeID] = v
}

// Scratch returns the value stored with SetScratch
func (c *ExecutionContext) Scratch(nodeID string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.scratch[nodeID]
	return v, ok
}

// ClearScratch drops the scratch value of a node
func (c *ExecutionContext) ClearScratch(nodeID string) {
	c.mu.Lock()
	delete(c.scratch, nodeID)
	c.mu.Unlock()
}

// Status returns the run status as seen by the interpreter
func (c *ExecutionContext) Status() RunStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus updates the run status
func (c *ExecutionContext) SetStatus(s RunStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Cancel requests cooperative cancellation
func (c *ExecutionContext) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested
func (c *ExecutionContext) Cancelled() bool {
	return c.cancelled.Load()
}

// IdempotencyKey is stable across retries of the same node in the same run
func (c *ExecutionContext) IdempotencyKey(nodeID string) string {
	return c.RunID + ":" + nodeID
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches an idempotency key to ctx
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKeyFromContext returns the key attached with WithIdempotencyKey
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)
	return key, ok && key != ""
}
