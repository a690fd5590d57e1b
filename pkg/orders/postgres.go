package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

// Schema creates the order status table
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_orders (
	order_id   TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Postgres stores order statuses in a table keyed by order id
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the order table when missing
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate order table: %w", err)
	}
	return nil
}

// UpdateOrderStatus implements OrderUpdater. The previous status is read
// under a row lock in the same transaction as the update.
func (p *Postgres) UpdateOrderStatus(ctx context.Context, orderID, status string) (*interfaces.OrderStatusChange, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var prev string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM workflow_orders WHERE order_id = $1 FOR UPDATE`, orderID).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read order: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE workflow_orders SET status = $2, updated_at = now() WHERE order_id = $1`, orderID, status); err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order update: %w", err)
	}
	return &interfaces.OrderStatusChange{OrderID: orderID, Previous: prev, Status: status}, nil
}

// Status returns the status of an order
func (p *Postgres) Status(ctx context.Context, orderID string) (string, error) {
	var s string
	err := p.db.QueryRowContext(ctx, `SELECT status FROM workflow_orders WHERE order_id = $1`, orderID).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read order: %w", err)
	}
	return s, nil
}

// SetStatus upserts an order
func (p *Postgres) SetStatus(ctx context.Context, orderID, status string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO workflow_orders (order_id, status) VALUES ($1, $2)
		ON CONFLICT (order_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`, orderID, status)
	if err != nil {
		return fmt.Errorf("failed to set order status: %w", err)
	}
	return nil
}
