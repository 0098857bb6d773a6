package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roach88/membersync/internal/alert"
	"github.com/roach88/membersync/internal/config"
	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/mapping"
	"github.com/roach88/membersync/internal/portal"
	"github.com/roach88/membersync/internal/registry"
	"github.com/roach88/membersync/internal/store"
	"github.com/roach88/membersync/internal/transform"
	"github.com/roach88/membersync/internal/trigger"
)

// app is every component built from one Config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store *store.Store
	tr    *transform.Transformer

	// registry is set in local mode; importer in remote mode.
	registry *registry.Registry
	importer *registry.Importer

	portal *portal.Portal

	metrics  *prometheus.Registry
	alerts   *alert.Dispatcher
	orch     *engine.Orchestrator
	runner   trigger.Runner
	teardown []func() error
}

// openApp wires the ledger, both stores and the orchestrator.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store, err = store.Open(cfg.Database); err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", cfg.Database, err)
	}
	a.teardown = append(a.teardown, a.store.Close)

	if a.tr, err = loadTransformer(cfg.Mapping); err != nil {
		return nil, err
	}

	var registryEnd engine.Endpoint
	switch cfg.Registry.Mode {
	case config.RegistryRemote:
		client := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.Token, registry.WithClientLogger(logger))
		a.importer = registry.NewImporter(client, a.store, cfg.Registry.PageSize, logger)
		registryEnd = engine.Endpoint{Applier: client, Source: client}
	default:
		if a.registry, err = registry.Open(a.store, a.tr, registry.WithLogger(logger)); err != nil {
			return nil, err
		}
		registryEnd = engine.Endpoint{Applier: a.registry.Applier(), Source: a.registry}
	}

	var docs portal.DocumentStore
	switch cfg.Portal.Backend {
	case config.BackendSurrealDB:
		sdb, err := portal.OpenSurreal(ctx, cfg.Surreal())
		if err != nil {
			return nil, err
		}
		docs = sdb
	default:
		docs = portal.NewMemoryStore()
	}
	a.teardown = append(a.teardown, docs.Close)
	a.portal = portal.New(docs, a.store, a.tr,
		portal.WithWriteTimeout(time.Duration(cfg.Sync.ApplyTimeout)),
		portal.WithLogger(logger),
	)

	a.metrics = prometheus.NewRegistry()
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []engine.Option{
		engine.WithConfig(cfg.Engine()),
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(a.metrics)),
	}
	a.alerts = alert.NewDispatcher(cfg.Alerts,
		alert.WithFailureRate(cfg.Sync.FailureRateThreshold, cfg.Sync.MinAttemptsForRate),
		alert.WithLogger(logger),
	)
	if a.alerts != nil {
		opts = append(opts, engine.WithAlerts(a.alerts))
	}
	a.orch = engine.New(a.store, a.tr, registryEnd,
		engine.Endpoint{Applier: a.portal.Applier(), Source: a.portal},
		opts...,
	)

	a.runner = a.orch
	if a.importer != nil {
		a.runner = &importingRunner{Runner: a.orch, importer: a.importer, logger: logger}
	}
	return a, nil
}

// Close waits for in-flight alerts and releases the stores.
func (a *app) Close() error {
	if a.alerts != nil {
		a.alerts.Wait()
	}
	var errs []error
	for i := len(a.teardown) - 1; i >= 0; i-- {
		errs = append(errs, a.teardown[i]())
	}
	a.teardown = nil
	return errors.Join(errs...)
}

// importRemote pulls the remote Registry's pending changes. It is a no-op
// in local mode.
func (a *app) importRemote(ctx context.Context) error {
	if a.importer == nil {
		return nil
	}
	_, err := a.importer.Import(ctx)
	return err
}

// ackRemote reports synced imports back to the remote Registry.
func (a *app) ackRemote(ctx context.Context) error {
	if a.importer == nil {
		return nil
	}
	_, err := a.importer.AckSynced(ctx)
	return err
}

func loadTransformer(path string) (*transform.Transformer, error) {
	var (
		table *mapping.Table
		err   error
	)
	if path == "" {
		table, err = mapping.Default()
	} else {
		table, err = mapping.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load mapping: %w", err)
	}
	return transform.New(table)
}

// importingRunner imports remote changes before a registry-sourced push
// run, so the entity's records are in the local ledger when it is
// claimed.
type importingRunner struct {
	trigger.Runner
	importer *registry.Importer
	logger   *slog.Logger
}

func (r *importingRunner) RunEntity(ctx context.Context, d ir.Direction, key string) (ir.AuditEntry, error) {
	if d == ir.RegistryToPortal {
		if _, err := r.importer.Import(ctx); err != nil {
			r.logger.Warn("import before push run failed", "entity", ir.MaskKey(key), "error", err)
		}
	}
	return r.Runner.RunEntity(ctx, d, key)
}
