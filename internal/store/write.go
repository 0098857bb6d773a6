package store

import (
	"context"
	"fmt"

	"github.com/roach88/membersync/internal/ir"
)

// Append adds a pending record to a side's ledger and returns it with its
// id, seq, content hash and timestamps filled in.
func (s *Store) Append(ctx context.Context, rec ir.ChangeRecord) (ir.ChangeRecord, error) {
	return s.AppendTx(ctx, s.db, rec)
}

// AppendTx is Append inside the caller's transaction. Capture adapters use
// it so the ledger entry commits or rolls back with the mutation itself.
func (s *Store) AppendTx(ctx context.Context, tx Execer, rec ir.ChangeRecord) (ir.ChangeRecord, error) {
	rec, err := s.prepare(rec)
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("append: %w", err)
	}
	fields, err := marshalFields(rec.ChangedFields)
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("append: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO change_records
		(id, side, entity_key, action, changed_fields, content_hash, status, created_at, next_attempt_at, source_id)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?)
	`,
		rec.ID,
		string(rec.Side),
		rec.EntityKey,
		string(rec.Action),
		fields,
		rec.ContentHash,
		toMillis(rec.CreatedAt),
		toMillis(rec.NextAttemptAt),
		nullString(rec.SourceID),
	)
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("append: %w", err)
	}
	if rec.Seq, err = res.LastInsertId(); err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("append: seq: %w", err)
	}
	return rec, nil
}

// prepare validates rec and fills the fields the ledger owns.
func (s *Store) prepare(rec ir.ChangeRecord) (ir.ChangeRecord, error) {
	if rec.Side != ir.SideRegistry && rec.Side != ir.SidePortal {
		return rec, fmt.Errorf("invalid side %q", rec.Side)
	}
	if !rec.Action.Valid() {
		return rec, fmt.Errorf("invalid action %q", rec.Action)
	}
	if rec.EntityKey == "" {
		return rec, fmt.Errorf("entity key is required")
	}
	if rec.Action == ir.ActionDelete {
		rec.ChangedFields = nil
	} else if rec.ChangedFields == nil {
		rec.ChangedFields = ir.Object{}
	}

	hash, err := ir.ContentHash(rec.ChangedFields)
	if err != nil {
		return rec, err
	}
	rec.ContentHash = hash

	if rec.ID == "" {
		rec.ID = s.newID()
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.NextAttemptAt = now
	rec.Status = ir.StatusPending
	rec.Outcome = ""
	rec.RetryCount = 0
	return rec, nil
}

// Import appends records pulled from a remote change feed and advances the
// feed's watermark in the same transaction. Records whose SourceID is
// already in the ledger are skipped. Returns how many were new.
func (s *Store) Import(ctx context.Context, watermark, cursor string, recs []ir.ChangeRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import: begin tx: %w", err)
	}
	defer tx.Rollback()

	imported := 0
	for _, rec := range recs {
		if rec.SourceID == "" {
			return 0, fmt.Errorf("import: record for %s has no source id", ir.MaskKey(rec.EntityKey))
		}
		rec, err := s.prepare(rec)
		if err != nil {
			return 0, fmt.Errorf("import: %w", err)
		}
		fields, err := marshalFields(rec.ChangedFields)
		if err != nil {
			return 0, fmt.Errorf("import: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO change_records
			(id, side, entity_key, action, changed_fields, content_hash, status, created_at, next_attempt_at, source_id)
			VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?)
			ON CONFLICT(source_id) DO NOTHING
		`,
			rec.ID, string(rec.Side), rec.EntityKey, string(rec.Action), fields, rec.ContentHash,
			toMillis(rec.CreatedAt), toMillis(rec.NextAttemptAt), rec.SourceID,
		)
		if err != nil {
			return 0, fmt.Errorf("import: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}

	if err := setWatermark(ctx, tx, watermark, cursor, toMillis(s.now())); err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import: commit: %w", err)
	}
	return imported, nil
}
