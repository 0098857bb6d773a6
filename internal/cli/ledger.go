package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

// LedgerListOptions holds flags for ledger list.
type LedgerListOptions struct {
	*RootOptions
	Side   string
	Status string
	Entity string
	Limit  int
}

// RetryResult is the JSON payload of ledger retry.
type RetryResult struct {
	Requeued []string `json:"requeued"`
}

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect change records and requeue failures",
	}
	cmd.AddCommand(newLedgerListCommand(rootOpts))
	cmd.AddCommand(newLedgerRetryCommand(rootOpts))
	return cmd
}

func newLedgerListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List change records",
		Long: `List change records in seq order, optionally filtered.

Examples:
  membersync ledger list --status failed
  membersync ledger list --side portal --entity 0101302989 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Side, "side", "", "registry|portal")
	cmd.Flags().StringVar(&opts.Status, "status", "", "pending|claimed|synced|failed")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity key")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum records (0 for all)")
	return cmd
}

func runLedgerList(cmd *cobra.Command, opts *LedgerListOptions) error {
	out := newOutput(cmd, opts.RootOptions)

	f := store.Filter{Limit: opts.Limit}
	switch side := ir.Side(opts.Side); side {
	case "", ir.SideRegistry, ir.SidePortal:
		f.Side = side
	default:
		return out.Fail(ExitCommandError, CodeValidation, fmt.Sprintf("unknown side %q", opts.Side), nil)
	}
	switch status := ir.Status(opts.Status); status {
	case "", ir.StatusPending, ir.StatusClaimed, ir.StatusSynced, ir.StatusFailed:
		f.Status = status
	default:
		return out.Fail(ExitCommandError, CodeValidation, fmt.Sprintf("unknown status %q", opts.Status), nil)
	}
	if opts.Entity != "" {
		key, err := ir.NormalizeKey(opts.Entity)
		if err != nil {
			return out.Fail(ExitCommandError, CodeValidation, "invalid entity key", err)
		}
		f.EntityKey = key
	}

	s, err := openLedger(opts.RootOptions)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open ledger", err)
	}
	defer s.Close()

	recs, err := s.List(cmd.Context(), f)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to list records", err)
	}
	return out.Success(recs, func(w io.Writer) { printRecords(w, recs) })
}

func newLedgerRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>...",
		Short: "Requeue failed records",
		Long: `Return failed records to pending so the next run delivers them again.
The retry count is kept; only failed records can be requeued.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			s, err := openLedger(opts)
			if err != nil {
				return out.Fail(ExitCommandError, CodeStore, "failed to open ledger", err)
			}
			defer s.Close()

			result := RetryResult{Requeued: []string{}}
			for _, id := range args {
				err := s.Requeue(cmd.Context(), id)
				if errors.Is(err, store.ErrNotFound) {
					return out.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("no failed record %s", id), err)
				}
				if err != nil {
					return out.Fail(ExitCommandError, CodeStore, "failed to requeue", err)
				}
				result.Requeued = append(result.Requeued, id)
			}
			return out.Success(result, func(w io.Writer) {
				for _, id := range result.Requeued {
					fmt.Fprintf(w, "requeued %s\n", id)
				}
			})
		},
	}
}

// openLedger opens the configured ledger without building the stores.
func openLedger(opts *RootOptions) (*store.Store, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Database)
}

func printRecords(w io.Writer, recs []ir.ChangeRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no records")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%5d %-12s %-8s %-10s %-6s %-7s retries=%d",
			r.Seq, r.ID, r.Side, ir.MaskKey(r.EntityKey), r.Action, r.Status, r.RetryCount)
		if r.Outcome != "" {
			fmt.Fprintf(w, " outcome=%s", r.Outcome)
		}
		fmt.Fprintln(w)
		if r.LastError != "" {
			fmt.Fprintf(w, "      last_error: %s\n", r.LastError)
		}
	}
}
