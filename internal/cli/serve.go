package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/membersync/internal/server"
	"github.com/roach88/membersync/internal/trigger"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the configured triggers",
		Long: `Run the sync API, the push webhook, the audit endpoints and /metrics,
together with the scheduled and/or push triggers selected by trigger.mode.

In "both" mode the scheduled trigger keeps running as a safety net while
push delivery is rolled out; switch to "push" once it has proven itself.
Push-only mode still sweeps both ledgers every trigger.retry_interval so
retries and released claims are delivered.

Example:
  membersync serve --config membersync.yaml
  MEMBERSYNC_SERVER_TOKEN=s3cret membersync serve --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	logger := opts.logger()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Error("error closing stores", "error", cerr)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	var push *trigger.Push
	if cfg.PushEnabled() {
		push = trigger.NewPush(a.runner,
			trigger.WithQueueSize(cfg.Trigger.PushQueue),
			trigger.WithWorkers(cfg.Sync.Workers),
			trigger.WithPushLogger(logger),
		)
		if a.registry != nil {
			a.registry.SetNotifier(push)
		}
		a.portal.SetNotifier(push)
		g.Go(func() error {
			return push.Run(ctx)
		})
	}

	interval, name := cfg.Sweep()
	sched := trigger.NewScheduler(a.runner, interval,
		trigger.WithTriggerName(name),
		trigger.WithBefore(a.importRemote),
		trigger.WithAfter(a.ackRemote),
		trigger.WithSchedulerLogger(logger),
	)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	srv := server.New(server.Deps{
		Store:    a.store,
		Registry: a.registry,
		Portal:   a.portal,
		Push:     push,
		Gatherer: a.metrics,
		Token:    cfg.Server.Token,
		Logger:   logger,
	})
	g.Go(func() error {
		return srv.Run(ctx, cfg.Server.Addr)
	})

	logger.Info("membersync serving",
		"addr", cfg.Server.Addr,
		"trigger", cfg.Trigger.Mode,
		"registry", cfg.Registry.Mode,
		"portal", cfg.Portal.Backend,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "membersync listening on %s (trigger: %s). Press Ctrl-C to stop.\n", cfg.Server.Addr, cfg.Trigger.Mode)

	err = g.Wait()
	if push != nil {
		push.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("membersync stopped gracefully")
	return nil
}
