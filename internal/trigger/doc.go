// Package trigger decides when the orchestrator runs.
//
// Scheduler runs both directions on a fixed interval. Push runs a single
// entity as soon as a change for it is captured or announced, through a
// coalescing queue. Both drive the same orchestrator over the same ledger,
// so they can run side by side during a cutover; the scheduled run is the
// backstop for anything a push misses.
package trigger

import (
	"context"

	"github.com/roach88/membersync/internal/ir"
)

// Runner is the orchestrator surface the triggers drive.
type Runner interface {
	RunSync(ctx context.Context, d ir.Direction) (ir.AuditEntry, error)
	RunEntity(ctx context.Context, d ir.Direction, entityKey string) (ir.AuditEntry, error)
}
