package connector

import (
	"context"
	"time"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// DelayConnector suspends the branch for durationMs and completes on resume
type DelayConnector struct{}

// Ports implements Connector
func (DelayConnector) Ports() []string { return []string{workflow.PortOut} }

// Execute implements Connector
func (DelayConnector) Execute(_ context.Context, inv Invocation) Result {
	data, ok := inv.Node.Data.(*workflow.DelayAction)
	if !ok {
		return Fatalf("unexpected data %T for %s", inv.Node.Data, inv.Node.Type)
	}
	if inv.Resumed || data.DurationMs <= 0 {
		return Success(nil, "")
	}
	return Suspend(time.Duration(data.DurationMs) * time.Millisecond)
}
