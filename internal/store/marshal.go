package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/membersync/internal/ir"
)

// marshalFields converts changed_fields to canonical JSON TEXT. A nil set
// (delete) is stored as NULL.
func marshalFields(fields ir.Object) (sql.NullString, error) {
	if fields == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(fields)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal changed_fields: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalFields parses stored changed_fields. Uses ir.Object.UnmarshalJSON,
// which decodes numbers via json.Number so large codes keep full precision.
func unmarshalFields(data sql.NullString) (ir.Object, error) {
	if !data.Valid {
		return nil, nil
	}
	var obj ir.Object
	if err := json.Unmarshal([]byte(data.String), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal changed_fields: %w", err)
	}
	if obj == nil {
		obj = ir.Object{}
	}
	return obj, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// recordColumns is the column list scanRecord expects.
const recordColumns = `
	seq, id, side, entity_key, action, changed_fields, content_hash, status,
	outcome, created_at, claimed_at, claim_token, synced_at, next_attempt_at,
	retry_count, last_error, source_id, acked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ir.ChangeRecord, error) {
	var (
		rec                                 ir.ChangeRecord
		side, action, status                string
		fields, outcome, token, lastErr, sr sql.NullString
		createdAt, nextAttempt              int64
		claimedAt, syncedAt, ackedAt        sql.NullInt64
	)
	err := row.Scan(
		&rec.Seq, &rec.ID, &side, &rec.EntityKey, &action, &fields, &rec.ContentHash, &status,
		&outcome, &createdAt, &claimedAt, &token, &syncedAt, &nextAttempt,
		&rec.RetryCount, &lastErr, &sr, &ackedAt,
	)
	if err != nil {
		return ir.ChangeRecord{}, err
	}

	rec.Side = ir.Side(side)
	rec.Action = ir.Action(action)
	rec.Status = ir.Status(status)
	rec.Outcome = ir.Outcome(outcome.String)
	rec.CreatedAt = fromMillis(createdAt)
	rec.ClaimedAt = nullMillis(claimedAt)
	rec.ClaimToken = token.String
	rec.SyncedAt = nullMillis(syncedAt)
	rec.NextAttemptAt = fromMillis(nextAttempt)
	rec.LastError = lastErr.String
	rec.SourceID = sr.String
	rec.AckedAt = nullMillis(ackedAt)

	rec.ChangedFields, err = unmarshalFields(fields)
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]ir.ChangeRecord, error) {
	defer rows.Close()

	records := []ir.ChangeRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
