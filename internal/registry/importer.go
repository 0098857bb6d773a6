package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

// WatermarkName is the watermark the Importer advances.
const WatermarkName = "registry.changes"

// Importer pulls a remote Registry's pending changes into the local
// registry ledger, so the orchestrator drains them like locally captured
// ones. The remote cursor is stored as a watermark in the same
// transaction as each imported page; a remote change id is imported at
// most once.
type Importer struct {
	client   *Client
	store    *store.Store
	pageSize int
	logger   *slog.Logger
}

// NewImporter creates an importer. pageSize is capped at MaxPageSize.
func NewImporter(c *Client, s *store.Store, pageSize int, logger *slog.Logger) *Importer {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{client: c, store: s, pageSize: pageSize, logger: logger}
}

// Import fetches every page after the stored cursor and returns how many
// new records were added to the ledger.
func (im *Importer) Import(ctx context.Context) (int, error) {
	wm, err := im.store.Watermark(ctx, WatermarkName)
	if err != nil {
		return 0, err
	}
	var cursor int64
	if wm != "" {
		if cursor, err = strconv.ParseInt(wm, 10, 64); err != nil {
			return 0, fmt.Errorf("import: bad watermark %q: %w", wm, err)
		}
	}

	total := 0
	for {
		page, err := im.client.Changes(ctx, time.Time{}, cursor, im.pageSize)
		if err != nil {
			return total, fmt.Errorf("import: %w", err)
		}

		recs := make([]ir.ChangeRecord, 0, len(page.Changes))
		for _, ch := range page.Changes {
			key, err := ir.NormalizeKey(ch.EntityKey)
			if err != nil {
				// One bad remote row must not wedge the cursor.
				im.logger.Error("skipping remote change with bad entity key", "source_id", ch.ID, "error", err)
				continue
			}
			recs = append(recs, ir.ChangeRecord{
				Side:          ir.SideRegistry,
				EntityKey:     key,
				Action:        ch.Action,
				ChangedFields: ch.ChangedFields,
				SourceID:      ch.ID,
			})
		}

		next := page.NextCursor
		if next < cursor {
			next = cursor
		}
		n, err := im.store.Import(ctx, WatermarkName, strconv.FormatInt(next, 10), recs)
		if err != nil {
			return total, err
		}
		total += n
		cursor = next

		if !page.HasMore || len(page.Changes) == 0 {
			break
		}
	}
	if total > 0 {
		im.logger.Info("imported remote registry changes", "count", total, "cursor", cursor)
	}
	return total, nil
}

// AckSynced tells the remote Registry which imported records have synced,
// then marks them acknowledged locally. It returns how many were acked.
func (im *Importer) AckSynced(ctx context.Context) (int, error) {
	recs, err := im.store.PendingAcks(ctx, MaxPageSize)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	remote := make([]string, len(recs))
	local := make([]string, len(recs))
	for i, rec := range recs {
		remote[i] = rec.SourceID
		local[i] = rec.ID
	}
	if _, err := im.client.MarkSynced(ctx, remote); err != nil {
		return 0, fmt.Errorf("ack synced: %w", err)
	}
	if err := im.store.MarkAcked(ctx, local); err != nil {
		return 0, err
	}
	return len(recs), nil
}
