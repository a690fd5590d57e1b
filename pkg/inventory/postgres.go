package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// Schema creates the stock and adjustment ledger tables
const Schema = `
CREATE TABLE IF NOT EXISTS inventory_stock (
	sku        TEXT PRIMARY KEY,
	quantity   INTEGER NOT NULL CHECK (quantity >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS inventory_adjustments (
	idempotency_key TEXT PRIMARY KEY,
	sku             TEXT NOT NULL,
	delta           INTEGER NOT NULL,
	quantity        INTEGER,
	applied_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Postgres adjusts stock in one transaction per call. When the context
// carries an idempotency key the adjustment is recorded in a ledger, and a
// retry with the same key returns the recorded quantity without re-applying.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the inventory tables when missing
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate inventory tables: %w", err)
	}
	return nil
}

// Adjust implements InventoryAdjuster
func (p *Postgres) Adjust(ctx context.Context, sku string, delta int) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	key, hasKey := workflow.IdempotencyKeyFromContext(ctx)
	if hasKey {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_adjustments (idempotency_key, sku, delta)
			VALUES ($1, $2, $3) ON CONFLICT (idempotency_key) DO NOTHING`, key, sku, delta)
		if err != nil {
			return 0, fmt.Errorf("failed to record adjustment: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			_ = tx.Rollback()
			return p.applied(ctx, key)
		}
	}

	var qty int
	err = tx.QueryRowContext(ctx, `
		UPDATE inventory_stock SET quantity = quantity + $2, updated_at = now()
		WHERE sku = $1 AND quantity + $2 >= 0
		RETURNING quantity`, sku, delta).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, p.explain(ctx, tx, sku, delta)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update stock: %w", err)
	}

	if hasKey {
		if _, err := tx.ExecContext(ctx, `
			UPDATE inventory_adjustments SET quantity = $2 WHERE idempotency_key = $1`, key, qty); err != nil {
			return 0, fmt.Errorf("failed to record adjustment: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit adjustment: %w", err)
	}
	return qty, nil
}

// applied returns the quantity recorded for an earlier adjustment
func (p *Postgres) applied(ctx context.Context, key string) (int, error) {
	var qty sql.NullInt64
	err := p.db.QueryRowContext(ctx, `
		SELECT quantity FROM inventory_adjustments WHERE idempotency_key = $1`, key).Scan(&qty)
	if err != nil {
		return 0, fmt.Errorf("failed to read adjustment %s: %w", key, err)
	}
	if !qty.Valid {
		return 0, fmt.Errorf("adjustment %s has not completed", key)
	}
	return int(qty.Int64), nil
}

// explain tells a missing sku from insufficient stock after a failed update
func (p *Postgres) explain(ctx context.Context, tx *sql.Tx, sku string, delta int) error {
	var qty int
	err := tx.QueryRowContext(ctx, `SELECT quantity FROM inventory_stock WHERE sku = $1`, sku).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownSKU, sku)
	}
	if err != nil {
		return fmt.Errorf("failed to read stock: %w", err)
	}
	return fmt.Errorf("%w: %s has %d, delta %d", ErrInsufficientStock, sku, qty, delta)
}

// SetStock upserts the quantity of a sku
func (p *Postgres) SetStock(ctx context.Context, sku string, qty int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO inventory_stock (sku, quantity) VALUES ($1, $2)
		ON CONFLICT (sku) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()`, sku, qty)
	if err != nil {
		return fmt.Errorf("failed to set stock: %w", err)
	}
	return nil
}

// Stock returns the quantity of a sku
func (p *Postgres) Stock(ctx context.Context, sku string) (int, error) {
	var qty int
	err := p.db.QueryRowContext(ctx, `SELECT quantity FROM inventory_stock WHERE sku = $1`, sku).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSKU, sku)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stock: %w", err)
	}
	return qty, nil
}
