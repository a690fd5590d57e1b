package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// Schema creates the workflow definition table
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id         TEXT PRIMARY KEY,
	org_id     TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	definition JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Postgres serves workflows stored as JSONB definitions
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle using the lib/pq driver
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the workflows table when missing
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate workflows table: %w", err)
	}
	return nil
}

// Save inserts or replaces a workflow
func (p *Postgres) Save(ctx context.Context, wf *workflow.Workflow) error {
	if wf == nil || wf.ID == "" {
		return errors.New("workflow id is required")
	}
	def, err := json.Marshal(&wf.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", wf.ID, err)
	}
	updated := wf.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflows (id, org_id, name, definition, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			org_id = EXCLUDED.org_id, name = EXCLUDED.name,
			definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at`,
		wf.ID, wf.OrgID, wf.Name, def, updated)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// Delete removes a workflow
func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}
	return nil
}

// Get implements Source
func (p *Postgres) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	wfs, err := p.query(ctx, `SELECT id, org_id, name, definition, updated_at FROM workflows WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(wfs) == 0 {
		return nil, ErrNotFound
	}
	return wfs[0], nil
}

// List implements Source
func (p *Postgres) List(ctx context.Context) ([]*workflow.Workflow, error) {
	return p.query(ctx, `SELECT id, org_id, name, definition, updated_at FROM workflows ORDER BY id`)
}

func (p *Postgres) query(ctx context.Context, query string, args ...interface{}) ([]*workflow.Workflow, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		var (
			wf  workflow.Workflow
			def []byte
		)
		if err := rows.Scan(&wf.ID, &wf.OrgID, &wf.Name, &def, &wf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		parsed, err := workflow.ParseDefinition(def)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", wf.ID, err)
		}
		wf.Definition = *parsed
		wf.UpdatedAt = wf.UpdatedAt.UTC()
		out = append(out, &wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read workflows: %w", err)
	}
	return out, nil
}
