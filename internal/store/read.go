package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/membersync/internal/ir"
)

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id string) (ir.ChangeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM change_records WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ChangeRecord{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Side      ir.Side
	Status    ir.Status
	EntityKey string
	Limit     int
}

// List returns records in seq order.
func (s *Store) List(ctx context.Context, f Filter) ([]ir.ChangeRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Side != "" {
		where = append(where, "side = ?")
		args = append(args, string(f.Side))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.EntityKey != "" {
		where = append(where, "entity_key = ?")
		args = append(args, f.EntityKey)
	}

	query := `SELECT ` + recordColumns + ` FROM change_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return collectRecords(rows)
}

// Page is one page of a change feed.
type Page struct {
	Changes    []ir.ChangeRecord
	NextCursor int64
	HasMore    bool
}

// ListChanges pages through the pending records of a side captured at or
// after since, starting after cursor (a seq). It backs the change feed a
// remote consumer pulls from.
func (s *Store) ListChanges(ctx context.Context, side ir.Side, since time.Time, cursor int64, limit int) (Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM change_records
		WHERE side = ? AND status = 'pending' AND seq > ? AND created_at >= ?
		ORDER BY seq ASC
		LIMIT ?
	`, string(side), cursor, toMillis(since), limit+1)
	if err != nil {
		return Page{}, fmt.Errorf("list changes: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return Page{}, fmt.Errorf("list changes: %w", err)
	}

	page := Page{Changes: recs, NextCursor: cursor}
	if len(recs) > limit {
		page.Changes = recs[:limit]
		page.HasMore = true
	}
	if n := len(page.Changes); n > 0 {
		page.NextCursor = page.Changes[n-1].Seq
	}
	return page, nil
}

// SideStats is the queue health of one ledger.
type SideStats struct {
	Side          ir.Side           `json:"side"`
	Counts        map[ir.Status]int `json:"counts"`
	OldestPending *time.Time        `json:"oldest_pending,omitempty"`
}

// Total returns the number of records in the ledger.
func (st SideStats) Total() int {
	n := 0
	for _, c := range st.Counts {
		n += c
	}
	return n
}

// Stats returns record counts by status and the oldest pending capture
// time for both sides.
func (s *Store) Stats(ctx context.Context) ([]SideStats, error) {
	stats := map[ir.Side]*SideStats{}
	sides := []ir.Side{ir.SideRegistry, ir.SidePortal}
	for _, side := range sides {
		stats[side] = &SideStats{Side: side, Counts: map[ir.Status]int{
			ir.StatusPending: 0,
			ir.StatusClaimed: 0,
			ir.StatusSynced:  0,
			ir.StatusFailed:  0,
		}}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT side, status, COUNT(*), MIN(created_at)
		FROM change_records
		GROUP BY side, status
	`)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			side, status string
			count        int
			oldest       int64
		)
		if err := rows.Scan(&side, &status, &count, &oldest); err != nil {
			return nil, fmt.Errorf("stats: scan: %w", err)
		}
		st, ok := stats[ir.Side(side)]
		if !ok {
			continue
		}
		st.Counts[ir.Status(status)] = count
		if ir.Status(status) == ir.StatusPending {
			t := fromMillis(oldest)
			st.OldestPending = &t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: iterate: %w", err)
	}

	out := make([]SideStats, 0, len(sides))
	for _, side := range sides {
		out = append(out, *stats[side])
	}
	return out, nil
}
