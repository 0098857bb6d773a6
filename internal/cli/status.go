package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/server"
	"github.com/roach88/membersync/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Runs int
}

// StatusResult is the JSON payload of the status command.
type StatusResult struct {
	Health server.HealthReport `json:"health"`
	Runs   []ir.AuditEntry     `json:"runs"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger health and recent runs",
		Long: `Show pending, claimed, synced and failed counts for both ledgers,
the age of the oldest pending record, and the most recent runs.

Exits 1 when either ledger holds failed records.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Runs, "runs", 5, "number of recent runs to show")
	return cmd
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	out := newOutput(cmd, opts.RootOptions)

	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	s, err := store.Open(cfg.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open ledger", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	report, err := server.Health(ctx, s)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read ledger stats", err)
	}
	runs, err := s.ListRuns(ctx, "", opts.Runs)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read runs", err)
	}

	result := StatusResult{Health: report, Runs: runs}
	if err := out.Success(result, func(w io.Writer) { printStatus(w, result) }); err != nil {
		return err
	}
	if !report.Healthy {
		return NewExitError(ExitFailure, "ledger has failed records")
	}
	return nil
}

func printStatus(w io.Writer, r StatusResult) {
	ok := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	if r.Health.Healthy {
		fmt.Fprintf(w, "%s ledgers healthy\n\n", ok("✓"))
	} else {
		fmt.Fprintf(w, "%s failed records need attention\n\n", bad("✗"))
	}

	for _, side := range r.Health.Sides {
		failed := fmt.Sprint(side.Counts[ir.StatusFailed])
		if side.Counts[ir.StatusFailed] > 0 {
			failed = bad(failed)
		}
		fmt.Fprintf(w, "%-9s pending=%d claimed=%d synced=%d failed=%s",
			side.Side,
			side.Counts[ir.StatusPending],
			side.Counts[ir.StatusClaimed],
			side.Counts[ir.StatusSynced],
			failed,
		)
		if side.OldestPending != nil {
			fmt.Fprintf(w, " oldest_pending=%s", warn(fmt.Sprintf("%.0fs", side.OldestPendingAge)))
		}
		fmt.Fprintln(w)
	}

	if len(r.Runs) == 0 {
		fmt.Fprintln(w, "\nno runs yet")
		return
	}
	fmt.Fprintln(w, "\nrecent runs:")
	for _, run := range r.Runs {
		mark := ok("✓")
		if run.Failed > 0 {
			mark = bad("✗")
		}
		fmt.Fprintf(w, "  %s %s %-18s %-9s attempted=%d synced=%d failed=%d retried=%d\n",
			mark,
			run.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
			run.Direction,
			run.Trigger,
			run.Attempted, run.Succeeded, run.Failed, run.Retried,
		)
	}
}
