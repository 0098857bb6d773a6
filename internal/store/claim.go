package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/membersync/internal/ir"
)

// Every status write in the engine goes through the functions in this
// file. Claims are a single conditional UPDATE; marks are guarded by the
// claim token, so a worker that lost its claim can never overwrite the
// record.

// claimableHeads selects, per entity, the lowest-seq pending record of a
// side, provided it is due and the entity has nothing claimed. Parameters:
// side, now, side.
const claimableHeads = `
	SELECT h.seq FROM (
		SELECT entity_key, MIN(seq) AS seq
		FROM change_records
		WHERE side = ? AND status = 'pending'
		GROUP BY entity_key
	) h
	JOIN change_records r ON r.seq = h.seq
	WHERE r.next_attempt_at <= ?
	AND NOT EXISTS (
		SELECT 1 FROM change_records c
		WHERE c.side = ? AND c.entity_key = h.entity_key AND c.status = 'claimed'
	)`

// ClaimBatch atomically claims up to limit records of a side, at most one
// per entity, and returns them in seq order.
func (s *Store) ClaimBatch(ctx context.Context, side ir.Side, limit int) ([]ir.ChangeRecord, error) {
	if limit <= 0 {
		return []ir.ChangeRecord{}, nil
	}
	now := toMillis(s.now())
	token := s.newID()

	_, err := s.db.ExecContext(ctx, `
		UPDATE change_records
		SET status = 'claimed', claimed_at = ?, claim_token = ?
		WHERE status = 'pending' AND seq IN (`+claimableHeads+` ORDER BY h.seq LIMIT ?)
	`, now, token, string(side), now, string(side), limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM change_records
		WHERE claim_token = ? AND status = 'claimed'
		ORDER BY seq ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("claim batch: read: %w", err)
	}
	return collectRecords(rows)
}

// ClaimNext claims the head record of one entity. It returns ErrNotFound
// when the entity has no due pending record or already has a claimed one.
func (s *Store) ClaimNext(ctx context.Context, side ir.Side, entityKey string) (ir.ChangeRecord, error) {
	now := toMillis(s.now())
	token := s.newID()

	res, err := s.db.ExecContext(ctx, `
		UPDATE change_records
		SET status = 'claimed', claimed_at = ?, claim_token = ?
		WHERE status = 'pending' AND seq = (
			SELECT MIN(seq) FROM change_records
			WHERE side = ? AND entity_key = ? AND status = 'pending'
		)
		AND next_attempt_at <= ?
		AND NOT EXISTS (
			SELECT 1 FROM change_records c
			WHERE c.side = ? AND c.entity_key = ? AND c.status = 'claimed'
		)
	`, now, token, string(side), entityKey, now, string(side), entityKey)
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("claim next: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ir.ChangeRecord{}, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM change_records
		WHERE claim_token = ? AND status = 'claimed'
	`, token)
	rec, err := scanRecord(row)
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("claim next: read: %w", err)
	}
	return rec, nil
}

// MarkSynced resolves a claimed record as synced. outcome says how the
// target confirmed it.
func (s *Store) MarkSynced(ctx context.Context, rec ir.ChangeRecord, outcome ir.Outcome) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE change_records
		SET status = 'synced', outcome = ?, synced_at = ?, claim_token = NULL
		WHERE id = ? AND status = 'claimed' AND claim_token = ?
	`, string(outcome), toMillis(s.now()), rec.ID, rec.ClaimToken)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return guarded(res)
}

// MarkRetry records a transient failure. The retry count goes up by one;
// if it now exceeds maxRetries the record fails permanently with outcome
// exhausted, otherwise it returns to pending and becomes due after delay.
// Reports whether the record was exhausted.
func (s *Store) MarkRetry(ctx context.Context, rec ir.ChangeRecord, errMsg string, maxRetries int, delay time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE change_records
		SET retry_count = retry_count + 1,
		    last_error = ?,
		    status = CASE WHEN retry_count + 1 > ? THEN 'failed' ELSE 'pending' END,
		    outcome = CASE WHEN retry_count + 1 > ? THEN 'exhausted' ELSE outcome END,
		    next_attempt_at = ?,
		    claim_token = NULL
		WHERE id = ? AND status = 'claimed' AND claim_token = ?
	`, errMsg, maxRetries, maxRetries, toMillis(now.Add(delay)), rec.ID, rec.ClaimToken)
	if err != nil {
		return false, fmt.Errorf("mark retry: %w", err)
	}
	if err := guarded(res); err != nil {
		return false, err
	}
	return rec.RetryCount+1 > maxRetries, nil
}

// MarkFailed resolves a claimed record as permanently failed.
func (s *Store) MarkFailed(ctx context.Context, rec ir.ChangeRecord, outcome ir.Outcome, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE change_records
		SET status = 'failed', outcome = ?, last_error = ?, claim_token = NULL
		WHERE id = ? AND status = 'claimed' AND claim_token = ?
	`, string(outcome), errMsg, rec.ID, rec.ClaimToken)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return guarded(res)
}

// ReleaseStale returns records claimed longer than olderThan to pending.
// The retry count is left alone: an abandoned claim is not a failed
// attempt.
func (s *Store) ReleaseStale(ctx context.Context, side ir.Side, olderThan time.Duration) (int64, error) {
	cutoff := toMillis(s.now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx, `
		UPDATE change_records
		SET status = 'pending', claim_token = NULL
		WHERE side = ? AND status = 'claimed' AND claimed_at < ?
	`, string(side), cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReleaseStaleEntity is ReleaseStale limited to one entity, for the push
// path that claims a single entity's head.
func (s *Store) ReleaseStaleEntity(ctx context.Context, side ir.Side, entityKey string, olderThan time.Duration) (int64, error) {
	cutoff := toMillis(s.now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx, `
		UPDATE change_records
		SET status = 'pending', claim_token = NULL
		WHERE side = ? AND entity_key = ? AND status = 'claimed' AND claimed_at < ?
	`, string(side), entityKey, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale %s: %w", ir.MaskKey(entityKey), err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Requeue puts a failed record back to pending for one more attempt. The
// retry count is kept, so an exhausted record fails again after a single
// transient error.
func (s *Store) Requeue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE change_records
		SET status = 'pending', outcome = NULL, next_attempt_at = ?
		WHERE id = ? AND status = 'failed'
	`, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("requeue %s: %w", id, ErrNotFound)
	}
	return nil
}

// Acknowledge marks pending records as synced on behalf of a remote
// consumer that has applied them. Claimed records are left to their
// worker. Returns the number acknowledged.
func (s *Store) Acknowledge(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{toMillis(s.now())}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE change_records
		SET status = 'synced', outcome = 'acknowledged', synced_at = ?
		WHERE status = 'pending' AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("acknowledge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PendingAcks returns imported records that have synced but whose remote
// source has not been told yet.
func (s *Store) PendingAcks(ctx context.Context, limit int) ([]ir.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM change_records
		WHERE source_id IS NOT NULL AND status = 'synced' AND acked_at IS NULL
		ORDER BY seq ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending acks: %w", err)
	}
	return collectRecords(rows)
}

// MarkAcked stamps acked_at on records whose source acknowledged them.
func (s *Store) MarkAcked(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{toMillis(s.now())}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE change_records SET acked_at = ?
		WHERE acked_at IS NULL AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("mark acked: %w", err)
	}
	return nil
}

func guarded(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
