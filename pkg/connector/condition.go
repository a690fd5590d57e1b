package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ingenimax/workflow-engine/pkg/expression"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// IfConnector evaluates a condition and selects the true or false port.
// It never binds an output of its own.
type IfConnector struct {
	programs sync.Map // expression source -> *expression.Program
}

// NewIfConnector creates a condition connector
func NewIfConnector() *IfConnector {
	return &IfConnector{}
}

// Ports implements Connector
func (c *IfConnector) Ports() []string {
	return []string{workflow.PortTrue, workflow.PortFalse}
}

// Execute implements Connector
func (c *IfConnector) Execute(_ context.Context, inv Invocation) Result {
	data, ok := inv.Node.Data.(*workflow.IfCondition)
	if !ok {
		return Fatalf("unexpected data %T for %s", inv.Node.Data, inv.Node.Type)
	}

	prog, err := c.compile(data.Expression)
	if err != nil {
		return Fatal(err)
	}

	ok, err = prog.EvalBool(inv.Scope())
	if err != nil {
		return Fatal(err)
	}
	if ok {
		return Success(nil, workflow.PortTrue)
	}
	return Success(nil, workflow.PortFalse)
}

func (c *IfConnector) compile(src string) (*expression.Program, error) {
	if p, ok := c.programs.Load(src); ok {
		return p.(*expression.Program), nil
	}
	p, err := expression.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}
	c.programs.Store(src, p)
	return p, nil
}
