package orders

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ingenimax/workflow-engine/pkg/connector"
	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

type store interface {
	interfaces.OrderUpdater
	SetStatus(ctx context.Context, orderID, status string) error
	Status(ctx context.Context, orderID string) (string, error)
}

func exerciseStore(t *testing.T, s store, orderID string) {
	ctx := context.Background()
	require.NoError(t, s.SetStatus(ctx, orderID, workflow.OrderStatusPending))

	t.Run("reports the previous status", func(t *testing.T) {
		change, err := s.UpdateOrderStatus(ctx, orderID, workflow.OrderStatusShipped)
		require.NoError(t, err)
		assert.Equal(t, &interfaces.OrderStatusChange{
			OrderID:  orderID,
			Previous: workflow.OrderStatusPending,
			Status:   workflow.OrderStatusShipped,
		}, change)
	})

	t.Run("repeating an update is harmless", func(t *testing.T) {
		change, err := s.UpdateOrderStatus(ctx, orderID, workflow.OrderStatusShipped)
		require.NoError(t, err)
		assert.Equal(t, workflow.OrderStatusShipped, change.Previous)

		got, err := s.Status(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, workflow.OrderStatusShipped, got)
	})

	t.Run("unknown order is permanent", func(t *testing.T) {
		_, err := s.UpdateOrderStatus(ctx, "missing-"+uuid.NewString(), workflow.OrderStatusCancelled)
		assert.ErrorIs(t, err, ErrUnknownOrder)
		assert.True(t, connector.IsPermanent(err))
	})

	t.Run("concurrent updates settle on one status", func(t *testing.T) {
		statuses := []string{workflow.OrderStatusProcessing, workflow.OrderStatusDelivered, workflow.OrderStatusCancelled}
		var wg sync.WaitGroup
		for _, st := range statuses {
			wg.Add(1)
			go func(st string) {
				defer wg.Done()
				_, err := s.UpdateOrderStatus(ctx, orderID, st)
				assert.NoError(t, err)
			}(st)
		}
		wg.Wait()

		got, err := s.Status(ctx, orderID)
		require.NoError(t, err)
		assert.Contains(t, statuses, got)
	})
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory(nil), "1001")
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("WORKFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WORKFLOW_TEST_POSTGRES_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	p := NewPostgres(db)
	require.NoError(t, p.Migrate(context.Background()))
	exerciseStore(t, p, "order-"+uuid.NewString())
}
