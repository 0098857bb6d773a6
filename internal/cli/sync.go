package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Direction string
	Entity    string
}

// SyncResult is the JSON payload of the sync command.
type SyncResult struct {
	Imported int             `json:"imported,omitempty"`
	Acked    int             `json:"acked,omitempty"`
	Runs     []ir.AuditEntry `json:"runs"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the orchestrator once",
		Long: `Drain the ledgers once and exit. Without --direction both directions
run, registry_to_portal first. With --entity only that member's records
are processed.

Exit codes:
  0 - Every attempted record synced (or will be retried)
  1 - At least one record failed permanently
  2 - Command error (bad config, unreachable store, etc.)

Examples:
  membersync sync
  membersync sync --direction p2r
  membersync sync --direction r2p --entity 0101302989`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Direction, "direction", "d", "", "registry_to_portal|portal_to_registry (r2p|p2r); both when empty")
	cmd.Flags().StringVarP(&opts.Entity, "entity", "e", "", "only sync this entity key (requires --direction)")
	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	out := newOutput(cmd, opts.RootOptions)

	directions := ir.Directions
	if opts.Direction != "" {
		d, ok := ir.ParseDirection(opts.Direction)
		if !ok {
			return out.Fail(ExitCommandError, CodeValidation, fmt.Sprintf("unknown direction %q", opts.Direction), nil)
		}
		directions = []ir.Direction{d}
	}
	var entity string
	if opts.Entity != "" {
		if opts.Direction == "" {
			return out.Fail(ExitCommandError, CodeValidation, "--entity requires --direction", nil)
		}
		key, err := ir.NormalizeKey(opts.Entity)
		if err != nil {
			return out.Fail(ExitCommandError, CodeValidation, "invalid entity key", err)
		}
		entity = key
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	ctx := engine.WithTrigger(cmd.Context(), ir.TriggerManual)

	a, err := openApp(ctx, cfg, opts.logger())
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open stores", err)
	}
	defer a.Close()

	var result SyncResult
	if a.importer != nil {
		n, err := a.importer.Import(ctx)
		if err != nil {
			return out.Fail(ExitFailure, CodeSync, "import from remote registry failed", err)
		}
		result.Imported = n
		out.VerboseLog("imported %d remote change(s)", n)
	}

	failed := 0
	for _, d := range directions {
		var (
			run    ir.AuditEntry
			runErr error
		)
		if entity != "" {
			run, runErr = a.runner.RunEntity(ctx, d, entity)
		} else {
			run, runErr = a.runner.RunSync(ctx, d)
		}
		result.Runs = append(result.Runs, run)
		if runErr != nil {
			return out.Fail(ExitFailure, CodeSync, fmt.Sprintf("%s run failed", d), runErr)
		}
		failed += run.Failed
	}

	if a.importer != nil {
		n, err := a.importer.AckSynced(ctx)
		if err != nil {
			a.logger.Warn("acknowledging remote changes failed", "error", err)
		}
		result.Acked = n
	}

	if err := out.Success(result, func(w io.Writer) { printRuns(w, result.Runs) }); err != nil {
		return err
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) failed", failed))
	}
	return nil
}

// printRuns writes one line per run.
func printRuns(w io.Writer, runs []ir.AuditEntry) {
	for _, r := range runs {
		fmt.Fprintf(w, "%-20s attempted=%d synced=%d failed=%d retried=%d skipped=%d",
			r.Direction, r.Attempted, r.Succeeded, r.Failed, r.Retried, r.Skipped)
		if r.EntityKey != "" {
			fmt.Fprintf(w, " entity=%s", ir.MaskKey(r.EntityKey))
		}
		fmt.Fprintln(w)
		if r.ErrorSummary != "" {
			fmt.Fprintf(w, "  errors: %s\n", r.ErrorSummary)
		}
	}
}
