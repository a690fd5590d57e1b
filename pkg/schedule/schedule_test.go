package schedule

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ingenimax/workflow-engine/pkg/catalog"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

type call struct {
	workflowID, triggerID string
	payload               interface{}
}

type recordingFirer struct {
	mu    sync.Mutex
	calls []call
}

func (f *recordingFirer) FireTrigger(_ context.Context, workflowID, triggerID string, payload interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{workflowID, triggerID, payload})
	return "run-1", nil
}

func scheduled(id, cronExpr, tz string) *workflow.Workflow {
	return &workflow.Workflow{
		ID: id,
		Definition: workflow.Definition{
			Version: 1,
			Nodes: []workflow.Node{
				{ID: "tick", Type: workflow.NodeTypeScheduleTrigger, Data: &workflow.ScheduleTrigger{Cron: cronExpr, Timezone: tz}},
				{ID: "start", Type: workflow.NodeTypeManualTrigger, Data: &workflow.ManualTrigger{}},
			},
		},
	}
}

func TestSpec(t *testing.T) {
	assert.Equal(t, "0 9 * * *", Spec(&workflow.ScheduleTrigger{Cron: "0 9 * * *"}))
	assert.Equal(t, "CRON_TZ=Europe/Berlin 0 9 * * *", Spec(&workflow.ScheduleTrigger{Cron: "0 9 * * *", Timezone: "Europe/Berlin"}))
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	source, err := catalog.NewMemory(
		scheduled("nightly", "0 2 * * *", ""),
		scheduled("berlin", "30 8 * * 1-5", "Europe/Berlin"),
	)
	require.NoError(t, err)

	firer := &recordingFirer{}
	s := New(source, firer)
	require.NoError(t, s.Sync(ctx))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "berlin", entries[0].WorkflowID)
	assert.Equal(t, "tick", entries[0].TriggerID)
	assert.Equal(t, "CRON_TZ=Europe/Berlin 30 8 * * 1-5", entries[0].Spec)

	t.Run("unchanged schedules keep their entry", func(t *testing.T) {
		before := s.entries[entryKey{workflowID: "nightly", triggerID: "tick"}].id
		require.NoError(t, s.Sync(ctx))
		assert.Equal(t, before, s.entries[entryKey{workflowID: "nightly", triggerID: "tick"}].id)
	})

	t.Run("changed and removed schedules are replaced", func(t *testing.T) {
		require.NoError(t, source.Save(scheduled("nightly", "0 3 * * *", "")))
		source.Delete("berlin")
		require.NoError(t, s.Sync(ctx))

		entries := s.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, "0 3 * * *", entries[0].Spec)
	})

	t.Run("invalid schedules are reported", func(t *testing.T) {
		require.NoError(t, source.Save(scheduled("broken", "not a cron", "")))
		require.NoError(t, source.Save(scheduled("lost", "0 1 * * *", "Mars/Olympus")))
		err := s.Sync(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
		assert.Contains(t, err.Error(), "lost")
		assert.Len(t, s.Entries(), 1)
	})

	t.Run("ticks fire the trigger", func(t *testing.T) {
		require.NoError(t, s.RunNow("nightly", "tick"))
		require.Len(t, firer.calls, 1)
		assert.Equal(t, call{workflowID: "nightly", triggerID: "tick"}, firer.calls[0])

		assert.Error(t, s.RunNow("nightly", "start"))
	})
}

func TestSlashesInIDs(t *testing.T) {
	wf := func(id, triggerID string) *workflow.Workflow {
		return &workflow.Workflow{
			ID: id,
			Definition: workflow.Definition{
				Version: 1,
				Nodes: []workflow.Node{
					{ID: triggerID, Type: workflow.NodeTypeScheduleTrigger, Data: &workflow.ScheduleTrigger{Cron: "0 6 * * *"}},
				},
			},
		}
	}
	source, err := catalog.NewMemory(wf("ops", "eu/daily"), wf("ops/eu", "daily"))
	require.NoError(t, err)

	firer := &recordingFirer{}
	s := New(source, firer)
	require.NoError(t, s.Sync(context.Background()))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "ops", entries[0].WorkflowID)
	assert.Equal(t, "eu/daily", entries[0].TriggerID)
	assert.Equal(t, "ops/eu", entries[1].WorkflowID)
	assert.Equal(t, "daily", entries[1].TriggerID)

	require.NoError(t, s.RunNow("ops", "eu/daily"))
	require.NoError(t, s.RunNow("ops/eu", "daily"))
	assert.Equal(t, []call{
		{workflowID: "ops", triggerID: "eu/daily"},
		{workflowID: "ops/eu", triggerID: "daily"},
	}, firer.calls)
}

func TestStartStop(t *testing.T) {
	source, err := catalog.NewMemory()
	require.NoError(t, err)
	s := New(source, &recordingFirer{})
	s.Start()
	<-s.Stop().Done()
}
