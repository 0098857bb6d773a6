package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/membersync/internal/ir"
)

// WriteRun appends an audit entry. A run id written twice is ignored.
func (s *Store) WriteRun(ctx context.Context, run ir.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs
		(run_id, direction, run_trigger, entity_key, started_at, completed_at,
		 attempted, succeeded, failed, retried, skipped, error_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		run.RunID,
		string(run.Direction),
		run.Trigger,
		nullString(run.EntityKey),
		toMillis(run.StartedAt),
		toMillis(run.CompletedAt),
		run.Attempted,
		run.Succeeded,
		run.Failed,
		run.Retried,
		run.Skipped,
		nullString(run.ErrorSummary),
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent audit entries first. An empty direction
// matches both.
func (s *Store) ListRuns(ctx context.Context, direction ir.Direction, limit int) ([]ir.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, direction, run_trigger, entity_key, started_at, completed_at,
		       attempted, succeeded, failed, retried, skipped, error_summary
		FROM sync_runs
		WHERE ? = '' OR direction = ?
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`, string(direction), string(direction), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.AuditEntry{}
	for rows.Next() {
		var (
			run                ir.AuditEntry
			dir                string
			entity, summary    sql.NullString
			started, completed int64
		)
		if err := rows.Scan(&run.RunID, &dir, &run.Trigger, &entity, &started, &completed,
			&run.Attempted, &run.Succeeded, &run.Failed, &run.Retried, &run.Skipped, &summary); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		run.Direction = ir.Direction(dir)
		run.EntityKey = entity.String
		run.ErrorSummary = summary.String
		run.StartedAt = fromMillis(started)
		run.CompletedAt = fromMillis(completed)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: iterate: %w", err)
	}
	return runs, nil
}

// Watermark returns the stored cursor for a feed, or "" if none.
func (s *Store) Watermark(ctx context.Context, name string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM watermarks WHERE name = ?`, name).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("watermark %s: %w", name, err)
	}
	return cursor, nil
}

func setWatermark(ctx context.Context, tx Execer, name, cursor string, at int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO watermarks (name, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at
	`, name, cursor, at)
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", name, err)
	}
	return nil
}

// Receipt records that a target applied one idempotency key.
type Receipt struct {
	IdempotencyKey string
	EntityKey      string
	Action         ir.Action
	Outcome        ir.Outcome
}

// Querier is the read half of Execer.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Receipt looks up an apply receipt, in the caller's transaction when q is
// not nil.
func (s *Store) Receipt(ctx context.Context, q Querier, key string) (Receipt, bool, error) {
	if q == nil {
		q = s.db
	}
	r := Receipt{IdempotencyKey: key}
	var action, outcome string
	err := q.QueryRowContext(ctx, `
		SELECT entity_key, action, outcome FROM apply_receipts WHERE idempotency_key = ?
	`, key).Scan(&r.EntityKey, &action, &outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, fmt.Errorf("receipt: %w", err)
	}
	r.Action = ir.Action(action)
	r.Outcome = ir.Outcome(outcome)
	return r, true, nil
}

// PutReceipt stores a receipt, in the caller's transaction when the
// target write shares the ledger database. Reports whether it was new.
func (s *Store) PutReceipt(ctx context.Context, tx Execer, r Receipt) (bool, error) {
	if tx == nil {
		tx = s.db
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO apply_receipts (idempotency_key, entity_key, action, outcome, applied_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, r.IdempotencyKey, r.EntityKey, string(r.Action), string(r.Outcome), toMillis(s.now()))
	if err != nil {
		return false, fmt.Errorf("put receipt: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
