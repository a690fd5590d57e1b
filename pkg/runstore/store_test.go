package runstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ingenimax/workflow-engine/pkg/storage/local"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

func sampleRun(id, workflowID string, started time.Time) *workflow.Run {
	return &workflow.Run{
		ID:          id,
		WorkflowID:  workflowID,
		OrgID:       "org-1",
		TriggerID:   "start",
		TriggerKind: workflow.TriggerKindManual,
		Payload:     map[string]interface{}{"total": float64(1500)},
		Status:      workflow.RunStatusRunning,
		Logs:        []workflow.RunLog{},
		StartedAt:   started.UTC().Truncate(time.Millisecond),
	}
}

func finish(run *workflow.Run) {
	now := run.StartedAt.Add(time.Second)
	run.Logs = append(run.Logs, workflow.RunLog{
		Seq:        1,
		NodeID:     "check",
		NodeType:   workflow.NodeTypeIf,
		Status:     workflow.NodeStatusSuccess,
		Attempt:    1,
		Port:       workflow.PortTrue,
		Timestamp:  run.StartedAt,
		FinishedAt: &now,
	})
	run.Status = workflow.RunStatusSuccess
	run.FinishedAt = &now
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()

	run := sampleRun("r1", "wf", base)
	require.NoError(t, m.Append(ctx, run))

	// The store keeps its own copy.
	run.Logs = append(run.Logs, workflow.RunLog{Seq: 1, NodeID: "x"})
	got, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, got.Logs)

	finish(run)
	require.NoError(t, m.Update(ctx, run))
	got, err = m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusSuccess, got.Status)

	assert.ErrorIs(t, m.Update(ctx, sampleRun("missing", "wf", base)), ErrNotFound)
	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Append(ctx, sampleRun("r2", "wf", base.Add(time.Minute))))
	require.NoError(t, m.Append(ctx, sampleRun("r3", "other", base.Add(2*time.Minute))))

	runs, err := m.List(ctx, "wf", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)

	runs, err = m.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r3", runs[0].ID)
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	blobs, err := local.NewWithOptions(local.WithPath(t.TempDir()))
	require.NoError(t, err)
	a := NewArchive(blobs)

	run := sampleRun("r1", "wf", time.Now())
	require.NoError(t, a.Append(ctx, run))
	_, err = a.Get(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound, "running runs are not archived")

	finish(run)
	require.NoError(t, a.Update(ctx, run))

	got, err := a.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusSuccess, got.Status)
	assert.Equal(t, "wf", got.WorkflowID)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, workflow.PortTrue, got.Logs[0].Port)
}

type failingStore struct{}

func (failingStore) Append(context.Context, *workflow.Run) error { return errors.New("down") }
func (failingStore) Update(context.Context, *workflow.Run) error { return errors.New("down") }
func (failingStore) Get(context.Context, string) (*workflow.Run, error) {
	return nil, errors.New("down")
}

func TestMulti(t *testing.T) {
	ctx := context.Background()

	t.Run("secondary failures are not returned", func(t *testing.T) {
		primary := NewMemory()
		m := NewMulti(primary, WithSecondary(failingStore{}))

		run := sampleRun("r1", "wf", time.Now())
		require.NoError(t, m.Append(ctx, run))
		finish(run)
		require.NoError(t, m.Update(ctx, run))

		got, err := m.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, workflow.RunStatusSuccess, got.Status)
	})

	t.Run("primary failure is returned", func(t *testing.T) {
		m := NewMulti(failingStore{}, WithSecondary(NewMemory()))
		assert.Error(t, m.Append(ctx, sampleRun("r1", "wf", time.Now())))
	})

	t.Run("get falls back to archive", func(t *testing.T) {
		blobs, err := local.NewWithOptions(local.WithPath(t.TempDir()))
		require.NoError(t, err)
		archive := NewArchive(blobs)

		run := sampleRun("r1", "wf", time.Now())
		finish(run)
		require.NoError(t, archive.Update(ctx, run))

		m := NewMulti(NewMemory(), WithSecondary(archive))
		got, err := m.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "r1", got.ID)

		_, err = m.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list delegates to primary", func(t *testing.T) {
		primary := NewMemory()
		m := NewMulti(primary)
		require.NoError(t, m.Append(ctx, sampleRun("r1", "wf", time.Now())))
		runs, err := m.List(ctx, "wf", 10)
		require.NoError(t, err)
		assert.Len(t, runs, 1)

		_, err = NewMulti(failingStore{}).List(ctx, "wf", 10)
		assert.Error(t, err)
	})
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("WORKFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WORKFLOW_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	p := NewPostgres(db)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, p.Migrate(ctx))

	workflowID := "wf-" + uuid.NewString()
	run := sampleRun(uuid.NewString(), workflowID, time.Now())
	require.NoError(t, p.Append(ctx, run))
	assert.ErrorIs(t, p.Append(ctx, run), ErrDuplicateRun)

	finish(run)
	require.NoError(t, p.Update(ctx, run))
	// Upserting the same log again is idempotent.
	require.NoError(t, p.Update(ctx, run))

	got, err := p.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusSuccess, got.Status)
	assert.Equal(t, map[string]interface{}{"total": float64(1500)}, got.Payload)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, workflow.PortTrue, got.Logs[0].Port)
	require.NotNil(t, got.FinishedAt)

	runs, err := p.List(ctx, workflowID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	_, err = p.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, p.Update(ctx, sampleRun(uuid.NewString(), workflowID, time.Now())), ErrNotFound)
}
