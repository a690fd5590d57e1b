package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// ErrDuplicateRun is returned by Append when the run id already exists
var ErrDuplicateRun = errors.New("run already exists")

// Schema creates the run tables used by Postgres
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id           TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL,
	org_id       TEXT NOT NULL DEFAULT '',
	trigger_id   TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload      JSONB,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS workflow_runs_workflow_idx ON workflow_runs (workflow_id, started_at DESC);
CREATE TABLE IF NOT EXISTS workflow_run_logs (
	run_id      TEXT NOT NULL REFERENCES workflow_runs (id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	node_id     TEXT NOT NULL,
	node_type   TEXT NOT NULL,
	status      TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	transient   BOOLEAN NOT NULL DEFAULT FALSE,
	port        TEXT NOT NULL DEFAULT '',
	output      JSONB,
	error       TEXT NOT NULL DEFAULT '',
	ts          TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	PRIMARY KEY (run_id, seq)
);`

const uniqueViolation = "23505"

// Postgres stores runs in two tables: one row per run and one per log entry
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres opens a database with the lib/pq driver and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewPostgres(db), nil
}

// Migrate creates the run tables when missing
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate run tables: %w", err)
	}
	return nil
}

// Close closes the database handle
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Append implements Store
func (p *Postgres) Append(ctx context.Context, run *workflow.Run) error {
	payload, err := jsonColumn(run.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, org_id, trigger_id, trigger_kind, status, payload, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.WorkflowID, run.OrgID, run.TriggerID, string(run.TriggerKind), string(run.Status),
		payload, run.Error, run.StartedAt, nullTime(run.FinishedAt))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.ID)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return p.upsertLogs(ctx, p.db, run)
}

// Update implements Store. Log rows are upserted by sequence number.
func (p *Postgres) Update(ctx context.Context, run *workflow.Run) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_runs SET status = $2, error = $3, finished_at = $4 WHERE id = $1`,
		run.ID, string(run.Status), run.Error, nullTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := p.upsertLogs(ctx, tx, run); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run update: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (p *Postgres) upsertLogs(ctx context.Context, db execer, run *workflow.Run) error {
	for _, l := range run.Logs {
		output, err := jsonColumn(l.Output)
		if err != nil {
			return fmt.Errorf("failed to encode output of %s: %w", l.NodeID, err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO workflow_run_logs (run_id, seq, node_id, node_type, status, attempt, transient, port, output, error, ts, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (run_id, seq) DO UPDATE SET
				status = EXCLUDED.status, transient = EXCLUDED.transient, port = EXCLUDED.port,
				output = EXCLUDED.output, error = EXCLUDED.error, finished_at = EXCLUDED.finished_at`,
			run.ID, l.Seq, l.NodeID, string(l.NodeType), string(l.Status), l.Attempt, l.Transient,
			l.Port, output, l.Error, l.Timestamp, nullTime(l.FinishedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert log %d: %w", l.Seq, err)
		}
	}
	return nil
}

// Get implements Store
func (p *Postgres) Get(ctx context.Context, id string) (*workflow.Run, error) {
	runs, err := p.query(ctx, `
		SELECT id, workflow_id, org_id, trigger_id, trigger_kind, status, payload, error, started_at, finished_at
		FROM workflow_runs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// List implements Lister, newest first
func (p *Postgres) List(ctx context.Context, workflowID string, limit int) ([]*workflow.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	return p.query(ctx, `
		SELECT id, workflow_id, org_id, trigger_id, trigger_kind, status, payload, error, started_at, finished_at
		FROM workflow_runs WHERE ($1 = '' OR workflow_id = $1)
		ORDER BY started_at DESC LIMIT $2`, workflowID, limit)
}

func (p *Postgres) query(ctx context.Context, query string, args ...interface{}) ([]*workflow.Run, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var (
		runs []*workflow.Run
		ids  []string
		byID = map[string]*workflow.Run{}
	)
	for rows.Next() {
		var (
			r        workflow.Run
			kind     string
			status   string
			payload  []byte
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.OrgID, &r.TriggerID, &kind, &status, &payload, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.TriggerKind = workflow.TriggerKind(kind)
		r.Status = workflow.RunStatus(status)
		r.Logs = []workflow.RunLog{}
		if finished.Valid {
			t := finished.Time.UTC()
			r.FinishedAt = &t
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &r.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode payload of %s: %w", r.ID, err)
			}
		}
		runs = append(runs, &r)
		ids = append(ids, r.ID)
		byID[r.ID] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	if len(ids) == 0 {
		return runs, nil
	}

	if err := p.loadLogs(ctx, ids, byID); err != nil {
		return nil, err
	}
	return runs, nil
}

func (p *Postgres) loadLogs(ctx context.Context, ids []string, byID map[string]*workflow.Run) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT run_id, seq, node_id, node_type, status, attempt, transient, port, output, error, ts, finished_at
		FROM workflow_run_logs WHERE run_id = ANY($1) ORDER BY run_id, seq`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query run logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			runID    string
			l        workflow.RunLog
			nodeType string
			status   string
			output   []byte
			finished sql.NullTime
		)
		if err := rows.Scan(&runID, &l.Seq, &l.NodeID, &nodeType, &status, &l.Attempt, &l.Transient, &l.Port, &output, &l.Error, &l.Timestamp, &finished); err != nil {
			return fmt.Errorf("failed to scan run log: %w", err)
		}
		l.NodeType = workflow.NodeType(nodeType)
		l.Status = workflow.NodeStatus(status)
		l.Timestamp = l.Timestamp.UTC()
		if finished.Valid {
			t := finished.Time.UTC()
			l.FinishedAt = &t
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &l.Output); err != nil {
				return fmt.Errorf("failed to decode output of %s: %w", l.NodeID, err)
			}
		}
		if r, ok := byID[runID]; ok {
			r.Logs = append(r.Logs, l)
		}
	}
	return rows.Err()
}

func jsonColumn(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
