package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/membersync/internal/config"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
	"github.com/roach88/membersync/internal/transform"
)

// MemberOptions holds flags shared by the member subcommands.
type MemberOptions struct {
	*RootOptions
	Side   string
	Fields string
}

// NewMemberCommand creates the member command group. It mutates either
// store through the same capture path as the applications, so every
// write lands in the ledger.
func NewMemberCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MemberOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "member",
		Short: "Read and write members on either side",
		Long: `Read and write members through the capture path, so every write is
recorded in that side's ledger and synced by the next run.

Registry fields use registry codes (gender is an integer); portal fields
use portal tokens (gender is "female"). Writes need a store that outlives
the command: a local registry, or the surrealdb portal backend.

Examples:
  membersync member put 0101302989 --side registry --fields '{"name":"Anna","gender":2}'
  membersync member put 0101302989 --side portal --fields '{"email":"anna@example.is"}'
  membersync member get 0101302989 --side portal
  membersync member delete 0101302989 --side registry`,
	}
	cmd.PersistentFlags().StringVar(&opts.Side, "side", string(ir.SideRegistry), "registry|portal")

	put := &cobra.Command{
		Use:           "put <entity-key>",
		Short:         "Create or update a member",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemberWrite(cmd, opts, args[0], false)
		},
	}
	put.Flags().StringVar(&opts.Fields, "fields", "", "logical fields as a JSON object")
	_ = put.MarkFlagRequired("fields")

	del := &cobra.Command{
		Use:           "delete <entity-key>",
		Short:         "Delete a member",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemberWrite(cmd, opts, args[0], true)
		},
	}

	get := &cobra.Command{
		Use:           "get <entity-key>",
		Short:         "Show a member's logical fields",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemberGet(cmd, opts, args[0])
		},
	}

	cmd.AddCommand(put, del, get)
	return cmd
}

// memberSide is the one operation set both stores offer the CLI.
type memberSide interface {
	Put(ctx context.Context, key string, fields ir.Object) (ir.ChangeRecord, error)
	Delete(ctx context.Context, key string) (ir.ChangeRecord, error)
	Snapshot(ctx context.Context, key string) (ir.Object, error)
}

// openMemberSide checks the side can be written from a one-shot command
// and opens it.
func openMemberSide(cmd *cobra.Command, opts *MemberOptions, out *OutputFormatter) (*app, memberSide, error) {
	side := ir.Side(opts.Side)
	if side != ir.SideRegistry && side != ir.SidePortal {
		return nil, nil, out.Fail(ExitCommandError, CodeValidation, fmt.Sprintf("unknown side %q", opts.Side), nil)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	if side == ir.SideRegistry && cfg.Registry.Mode == config.RegistryRemote {
		return nil, nil, out.Fail(ExitCommandError, CodeConfig, "registry is remote; write members in the registry itself", nil)
	}
	if side == ir.SidePortal && cfg.Portal.Backend == config.BackendMemory {
		return nil, nil, out.Fail(ExitCommandError, CodeConfig, "the memory portal backend does not outlive this command; use the serve API (PUT /api/portal/members/:key)", nil)
	}

	a, err := openApp(cmd.Context(), cfg, opts.logger())
	if err != nil {
		return nil, nil, out.Fail(ExitCommandError, CodeStore, "failed to open stores", err)
	}
	if side == ir.SidePortal {
		return a, a.portal, nil
	}
	return a, a.registry, nil
}

func runMemberWrite(cmd *cobra.Command, opts *MemberOptions, key string, del bool) error {
	out := newOutput(cmd, opts.RootOptions)

	var fields ir.Object
	if !del {
		if err := json.Unmarshal([]byte(opts.Fields), &fields); err != nil {
			return out.Fail(ExitCommandError, CodeValidation, "--fields must be a JSON object of strings, integers, booleans and nulls", err)
		}
		if len(fields) == 0 {
			return out.Fail(ExitCommandError, CodeValidation, "--fields is empty", nil)
		}
	}

	a, side, err := openMemberSide(cmd, opts, out)
	if err != nil {
		return err
	}
	defer a.Close()

	var rec ir.ChangeRecord
	if del {
		rec, err = side.Delete(cmd.Context(), key)
	} else {
		rec, err = side.Put(cmd.Context(), key, fields)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return out.Fail(ExitFailure, CodeNotFound, "no such member", err)
	case transform.IsValidation(err):
		return out.Fail(ExitFailure, CodeValidation, "rejected", err)
	case err != nil:
		return out.Fail(ExitCommandError, CodeStore, "write failed", err)
	}

	return out.Success(rec, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s %s captured as %s (seq %d)\n", rec.Side, rec.Action, ir.MaskKey(rec.EntityKey), rec.ID, rec.Seq)
	})
}

func runMemberGet(cmd *cobra.Command, opts *MemberOptions, raw string) error {
	out := newOutput(cmd, opts.RootOptions)
	key, err := ir.NormalizeKey(raw)
	if err != nil {
		return out.Fail(ExitCommandError, CodeValidation, "invalid entity key", err)
	}

	a, side, err := openMemberSide(cmd, opts, out)
	if err != nil {
		return err
	}
	defer a.Close()

	fields, err := side.Snapshot(cmd.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		return out.Fail(ExitFailure, CodeNotFound, "no such member", err)
	}
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "read failed", err)
	}
	return out.Success(fields, func(w io.Writer) {
		for _, name := range fields.SortedKeys() {
			data, _ := ir.MarshalValue(fields[name])
			fmt.Fprintf(w, "%-18s %s\n", name, data)
		}
	})
}
