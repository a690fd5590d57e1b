// Package connector binds node types to executable behavior.
package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/Ingenimax/workflow-engine/pkg/expression"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// Connector executes one node type
type Connector interface {
	// Execute runs the node once. It must not block on timers; use Suspend instead.
	Execute(ctx context.Context, inv Invocation) Result

	// Ports returns the named source ports the node can select
	Ports() []string
}

// Invocation is a single execution attempt of a node
type Invocation struct {
	Node    *workflow.Node
	Input   interface{}
	Exec    *workflow.ExecutionContext
	Attempt int
	// Resumed is set when the node is re-invoked after a Suspend
	Resumed bool
}

// Scope builds the expression scope for the node: input, trigger, vars, run,
// plus every bound node output under its id
func (inv Invocation) Scope() expression.Scope {
	s := expression.Scope{"input": inv.Input}
	if inv.Exec == nil {
		return s
	}

	vars := inv.Exec.VariablesMap()
	for id, v := range vars {
		s[id] = v
	}
	s["input"] = inv.Input
	s["trigger"] = inv.Exec.Payload
	s["vars"] = vars
	s["run"] = map[string]interface{}{
		"id":         inv.Exec.RunID,
		"workflowId": inv.Exec.WorkflowID,
		"orgId":      inv.Exec.OrgID,
	}
	return s
}

// Interpolate renders a templated string field against the node scope
func (inv Invocation) Interpolate(tpl string) (string, error) {
	return expression.Interpolate(tpl, inv.Scope())
}

// Outcome classifies a connector result
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
	OutcomeSuspend
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	case OutcomeSuspend:
		return "suspend"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the value returned by Execute
type Result struct {
	Outcome Outcome
	Output  interface{}
	// Port selects the outgoing edges to activate; empty means all of them
	Port  string
	Err   error
	Delay time.Duration
}

// Success completes the node, binding output and activating port
func Success(output interface{}, port string) Result {
	return Result{Outcome: OutcomeSuccess, Output: output, Port: port}
}

// Retryable reports a transient failure
func Retryable(err error) Result {
	return Result{Outcome: OutcomeRetryable, Err: err}
}

// Fatal reports a failure that ends the node's branch
func Fatal(err error) Result {
	return Result{Outcome: OutcomeFatal, Err: err}
}

// Suspend asks the scheduler to re-invoke the node after d without holding a worker
func Suspend(d time.Duration) Result {
	return Result{Outcome: OutcomeSuspend, Delay: d}
}

// Fatalf is Fatal with a formatted error
func Fatalf(format string, args ...interface{}) Result {
	return Fatal(fmt.Errorf(format, args...))
}
