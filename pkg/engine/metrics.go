package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

const instrumentationName = "github.com/Ingenimax/workflow-engine/pkg/engine"

// engineMetrics holds the run and node instruments. Any instrument may be nil
// when the meter provider refuses to create it.
type engineMetrics struct {
	runsStarted  metric.Int64Counter
	runsFinished metric.Int64Counter
	runDuration  metric.Float64Histogram
	nodeAttempts metric.Int64Counter
	nodeDuration metric.Float64Histogram
	activeRuns   metric.Int64UpDownCounter
}

func newEngineMetrics(mp metric.MeterProvider) *engineMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	m := &engineMetrics{}

	if c, err := meter.Int64Counter("workflow_runs_started_total",
		metric.WithDescription("Runs accepted by the dispatcher")); err == nil {
		m.runsStarted = c
	}
	if c, err := meter.Int64Counter("workflow_runs_finished_total",
		metric.WithDescription("Runs that reached a terminal status")); err == nil {
		m.runsFinished = c
	}
	if h, err := meter.Float64Histogram("workflow_run_duration_seconds",
		metric.WithDescription("Wall time from run start to finish")); err == nil {
		m.runDuration = h
	}
	if c, err := meter.Int64Counter("workflow_node_attempts_total",
		metric.WithDescription("Node execution attempts by outcome")); err == nil {
		m.nodeAttempts = c
	}
	if h, err := meter.Float64Histogram("workflow_node_duration_seconds",
		metric.WithDescription("Connector execution time per attempt")); err == nil {
		m.nodeDuration = h
	}
	if c, err := meter.Int64UpDownCounter("workflow_runs_active",
		metric.WithDescription("Runs currently being interpreted")); err == nil {
		m.activeRuns = c
	}
	return m
}

func (m *engineMetrics) runStarted(ctx context.Context, kind workflow.TriggerKind) {
	attrs := metric.WithAttributes(attribute.String("trigger", string(kind)))
	if m.runsStarted != nil {
		m.runsStarted.Add(ctx, 1, attrs)
	}
	if m.activeRuns != nil {
		m.activeRuns.Add(ctx, 1)
	}
}

func (m *engineMetrics) runFinished(ctx context.Context, status workflow.RunStatus, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	if m.runsFinished != nil {
		m.runsFinished.Add(ctx, 1, attrs)
	}
	if m.runDuration != nil {
		m.runDuration.Record(ctx, d.Seconds(), attrs)
	}
	if m.activeRuns != nil {
		m.activeRuns.Add(ctx, -1)
	}
}

func (m *engineMetrics) nodeAttempted(ctx context.Context, t workflow.NodeType, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("node_type", string(t)),
		attribute.String("outcome", outcome),
	)
	if m.nodeAttempts != nil {
		m.nodeAttempts.Add(ctx, 1, attrs)
	}
	if m.nodeDuration != nil {
		m.nodeDuration.Record(ctx, d.Seconds(), attrs)
	}
}
