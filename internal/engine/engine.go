package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
	"github.com/roach88/membersync/internal/transform"
)

// Applier delivers one change to a target store. It returns the outcome
// the target confirmed: applied, already_applied for a redelivered
// idempotency key, or absent_noop for a delete of a missing entity.
//
// Implementations must be idempotent per req.IdempotencyKey.
type Applier interface {
	Apply(ctx context.Context, req ir.ApplyRequest) (ir.Outcome, error)
}

// EntitySource returns the full logical representation of an entity, in
// the source store's shape. It returns store.ErrNotFound when the entity
// does not exist.
type EntitySource interface {
	Snapshot(ctx context.Context, entityKey string) (ir.Object, error)
}

// Endpoint is one store as the orchestrator sees it: where changes to it
// are applied, and where full snapshots of its entities come from.
type Endpoint struct {
	Applier Applier
	Source  EntitySource
}

// AlertSink is told about permanent failures and finished runs. The
// dispatcher behind it decides what is worth paging about.
type AlertSink interface {
	RecordFailed(ctx context.Context, d ir.Direction, rec ir.ChangeRecord, reason string)
	RunCompleted(ctx context.Context, entry ir.AuditEntry)
}

// Config bounds one orchestrator.
type Config struct {
	BatchSize         int
	Workers           int
	MaxRetries        int
	Backoff           Backoff
	ApplyTimeout      time.Duration
	StaleClaimTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         100,
		Workers:           4,
		MaxRetries:        5,
		Backoff:           Backoff{Base: 30 * time.Second, Cap: time.Hour},
		ApplyTimeout:      10 * time.Second,
		StaleClaimTimeout: 5 * time.Minute,
	}
}

// Orchestrator drains one side's ledger into the opposite store.
//
// Thread-safety model:
//   - RunSync and RunEntity are safe to call concurrently, and several
//     orchestrators may share one ledger database
//   - exclusivity comes from the ledger claim, never from in-process locks
//
// INVARIANTS:
//   - at most one record per entity is in flight at a time
//   - records of one entity are applied in seq order
//   - one audit entry is written per run, even when nothing was attempted
type Orchestrator struct {
	store       *store.Store
	transformer *transform.Transformer
	registry    Endpoint
	portal      Endpoint
	cfg         Config

	logger  *slog.Logger
	clock   Clock
	runIDs  RunIDGenerator
	metrics *Metrics
	alerts  AlertSink
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock sets the clock used for audit timestamps.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithRunIDGenerator sets the generator for audit run ids.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(o *Orchestrator) {
		o.runIDs = g
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithAlerts routes permanent failures and run summaries to a sink.
func WithAlerts(a AlertSink) Option {
	return func(o *Orchestrator) {
		o.alerts = a
	}
}

// New creates an Orchestrator. registry and portal describe the two stores;
// a direction applies to the target's Applier and snapshots from the
// source's EntitySource.
func New(s *store.Store, t *transform.Transformer, registry, portal Endpoint, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       s,
		transformer: t,
		registry:    registry,
		portal:      portal,
		cfg:         DefaultConfig(),
		logger:      slog.Default(),
		clock:       SystemClock{},
		runIDs:      UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.Workers < 1 {
		o.cfg.Workers = 1
	}
	return o
}

type triggerKey struct{}

// WithTrigger marks runs started under ctx with a trigger name for the
// audit log. RunSync defaults to scheduled and RunEntity to push.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFrom returns the trigger set by WithTrigger, or fallback.
func TriggerFrom(ctx context.Context, fallback string) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return fallback
}

// RunSync releases stale claims, claims a batch of due records for the
// direction's source side, and processes them with one worker per entity.
//
// The audit entry is returned and persisted even when the run fails part
// way; the error reports ledger failures only. Delivery failures are
// resolved on the records and summarised in the entry.
func (o *Orchestrator) RunSync(ctx context.Context, d ir.Direction) (ir.AuditEntry, error) {
	if !d.Valid() {
		return ir.AuditEntry{}, fmt.Errorf("run sync: invalid direction %q", d)
	}
	run := o.startRun(ctx, d, ir.TriggerScheduled, "")
	side := d.Source()

	released, err := o.store.ReleaseStale(ctx, side, o.cfg.StaleClaimTimeout)
	if err != nil {
		return o.finishRun(ctx, run, fmt.Errorf("release stale claims: %w", err))
	}
	if released > 0 {
		o.logger.Warn("released stale claims", "direction", d, "count", released)
	}

	batch, err := o.store.ClaimBatch(ctx, side, o.cfg.BatchSize)
	if err != nil {
		return o.finishRun(ctx, run, err)
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for _, rec := range batch {
		g.Go(func() error {
			return o.processEntity(ctx, d, rec, run)
		})
	}
	return o.finishRun(ctx, run, g.Wait())
}

// RunEntity is the push path: it releases the entity's stale claim, then
// processes only entityKey's records, in seq order, through the same
// per-entity loop as RunSync. A run that finds nothing due is still
// audited.
func (o *Orchestrator) RunEntity(ctx context.Context, d ir.Direction, entityKey string) (ir.AuditEntry, error) {
	if !d.Valid() {
		return ir.AuditEntry{}, fmt.Errorf("run entity: invalid direction %q", d)
	}
	run := o.startRun(ctx, d, ir.TriggerPush, entityKey)
	side := d.Source()

	released, err := o.store.ReleaseStaleEntity(ctx, side, entityKey, o.cfg.StaleClaimTimeout)
	if err != nil {
		return o.finishRun(ctx, run, fmt.Errorf("release stale claim: %w", err))
	}
	if released > 0 {
		o.logger.Warn("released stale claim", "direction", d, "entity", ir.MaskKey(entityKey))
	}

	rec, err := o.store.ClaimNext(ctx, side, entityKey)
	if errors.Is(err, store.ErrNotFound) {
		return o.finishRun(ctx, run, nil)
	}
	if err != nil {
		return o.finishRun(ctx, run, err)
	}
	return o.finishRun(ctx, run, o.processEntity(ctx, d, rec, run))
}

// processEntity resolves rec and then keeps claiming the entity's next
// head until nothing is due. A transient failure or a lost claim ends the
// loop; the retrying record stays at the head, so order is preserved.
func (o *Orchestrator) processEntity(ctx context.Context, d ir.Direction, rec ir.ChangeRecord, run *runState) error {
	side := d.Source()
	for {
		cont, err := o.processRecord(ctx, d, rec, run)
		if err != nil || !cont {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		next, err := o.store.ClaimNext(ctx, side, rec.EntityKey)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim next for %s: %w", ir.MaskKey(rec.EntityKey), err)
		}
		rec = next
	}
}

// processRecord delivers one claimed record and writes its resolution.
// It reports whether the entity's next record may be processed.
func (o *Orchestrator) processRecord(ctx context.Context, d ir.Direction, rec ir.ChangeRecord, run *runState) (bool, error) {
	log := o.logger.With(
		"direction", d,
		"change_id", rec.ID,
		"seq", rec.Seq,
		"entity", ir.MaskKey(rec.EntityKey),
		"action", rec.Action,
	)

	outcome, applyErr := o.deliver(ctx, d, rec)
	if applyErr != nil && ctx.Err() != nil {
		// Left claimed; ReleaseStale returns it once the claim goes stale.
		return false, ctx.Err()
	}

	if applyErr == nil {
		err := o.store.MarkSynced(ctx, rec, outcome)
		if errors.Is(err, store.ErrClaimLost) {
			log.Warn("claim lost before mark synced")
			run.count(resultSkipped, o.metrics, d)
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("mark synced %s: %w", rec.ID, err)
		}
		log.Debug("record synced", "outcome", outcome)
		run.count(resultSynced, o.metrics, d)
		return true, nil
	}

	class := Classify(applyErr)
	switch {
	case class.Permanent():
		err := o.store.MarkFailed(ctx, rec, ir.OutcomeRejected, applyErr.Error())
		if errors.Is(err, store.ErrClaimLost) {
			run.count(resultSkipped, o.metrics, d)
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("mark failed %s: %w", rec.ID, err)
		}
		log.Error("record failed", "class", class, "error", applyErr)
		o.recordFailure(ctx, d, rec, applyErr, run)
		return true, nil

	default:
		delay := o.cfg.Backoff.Delay(rec.RetryCount)
		exhausted, err := o.store.MarkRetry(ctx, rec, applyErr.Error(), o.cfg.MaxRetries, delay)
		if errors.Is(err, store.ErrClaimLost) {
			run.count(resultSkipped, o.metrics, d)
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("mark retry %s: %w", rec.ID, err)
		}
		if exhausted {
			log.Error("record exhausted retries", "retry_count", rec.RetryCount+1, "error", applyErr)
			o.recordFailure(ctx, d, rec, applyErr, run)
			return true, nil
		}
		log.Warn("transient failure, will retry", "retry_count", rec.RetryCount+1, "delay", delay, "error", applyErr)
		run.count(resultRetried, o.metrics, d)
		return false, nil
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, d ir.Direction, rec ir.ChangeRecord, err error, run *runState) {
	run.count(resultFailed, o.metrics, d)
	run.addError(fmt.Sprintf("%s %s: %v", ir.MaskKey(rec.EntityKey), rec.Action, err))
	if o.alerts != nil {
		o.alerts.RecordFailed(ctx, d, rec, err.Error())
	}
}

// deliver builds the apply request for rec and calls the target.
func (o *Orchestrator) deliver(ctx context.Context, d ir.Direction, rec ir.ChangeRecord) (ir.Outcome, error) {
	target, source := o.portal, o.registry
	if d == ir.PortalToRegistry {
		target, source = o.registry, o.portal
	}

	key, err := ir.IdempotencyKey(rec.ID, rec.EntityKey, rec.Action, rec.ContentHash)
	if err != nil {
		return "", NewPermanent(err, nil)
	}
	req := ir.ApplyRequest{EntityKey: rec.EntityKey, Action: rec.Action, IdempotencyKey: key}

	if rec.Action != ir.ActionDelete {
		fields := rec.ChangedFields
		if rec.Action == ir.ActionCreate && len(fields) == 0 && source.Source != nil {
			fields, err = source.Source.Snapshot(ctx, rec.EntityKey)
			if errors.Is(err, store.ErrNotFound) {
				return "", &SyncError{Class: ClassValidation, Message: "create snapshot: entity no longer exists in source", ChangeID: rec.ID, Err: err}
			}
			if err != nil {
				return "", fmt.Errorf("create snapshot: %w", err)
			}
		}
		if d == ir.RegistryToPortal {
			req.Fields, err = o.transformer.ToPortalShape(fields)
		} else {
			req.Fields, err = o.transformer.ToRegistryShape(fields)
		}
		if err != nil {
			return "", err
		}
	}

	applyCtx := ctx
	if o.cfg.ApplyTimeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, o.cfg.ApplyTimeout)
		defer cancel()
	}

	start := time.Now()
	outcome, err := target.Applier.Apply(applyCtx, req)
	o.metrics.observeApply(d, time.Since(start))
	if err != nil {
		return "", err
	}
	if outcome == "" {
		outcome = ir.OutcomeApplied
	}
	return outcome, nil
}

// runState accumulates one run's counters across workers.
type runState struct {
	mu    sync.Mutex
	entry ir.AuditEntry
	errs  []string
}

func (r *runState) count(result string, m *Metrics, d ir.Direction) {
	m.observeRecord(d, result)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry.Attempted++
	switch result {
	case resultSynced:
		r.entry.Succeeded++
	case resultFailed:
		r.entry.Failed++
	case resultRetried:
		r.entry.Retried++
	case resultSkipped:
		r.entry.Skipped++
	}
}

func (r *runState) addError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, msg)
}

// maxSummaryErrors bounds error_summary; the full list is in the log.
const maxSummaryErrors = 3

func (r *runState) summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return ""
	}
	errs := append([]string(nil), r.errs...)
	sort.Strings(errs)
	if len(errs) <= maxSummaryErrors {
		return strings.Join(errs, "; ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(errs[:maxSummaryErrors], "; "), len(errs)-maxSummaryErrors)
}

func (o *Orchestrator) startRun(ctx context.Context, d ir.Direction, fallback, entityKey string) *runState {
	return &runState{entry: ir.AuditEntry{
		RunID:     o.runIDs.Generate(),
		Direction: d,
		Trigger:   TriggerFrom(ctx, fallback),
		EntityKey: entityKey,
		StartedAt: o.clock.Now(),
	}}
}

// finishRun stamps, persists and reports the audit entry. runErr is a
// ledger failure that cut the run short; it is returned wrapped alongside
// the entry.
func (o *Orchestrator) finishRun(ctx context.Context, run *runState, runErr error) (ir.AuditEntry, error) {
	entry := run.entry
	entry.CompletedAt = o.clock.Now()
	entry.ErrorSummary = run.summary()
	if runErr != nil {
		if entry.ErrorSummary != "" {
			entry.ErrorSummary += "; "
		}
		entry.ErrorSummary += "run aborted: " + runErr.Error()
	}

	// The audit row is written even when ctx was cancelled mid-run.
	if err := o.store.WriteRun(context.WithoutCancel(ctx), entry); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("write audit entry: %w", err))
	}
	o.metrics.observeRun(entry)
	if o.alerts != nil {
		o.alerts.RunCompleted(ctx, entry)
	}

	o.logger.Info("sync run complete",
		"run_id", entry.RunID,
		"direction", entry.Direction,
		"trigger", entry.Trigger,
		"attempted", entry.Attempted,
		"succeeded", entry.Succeeded,
		"failed", entry.Failed,
		"retried", entry.Retried,
		"skipped", entry.Skipped,
	)

	if runErr != nil {
		return entry, fmt.Errorf("sync run %s: %w", entry.RunID, runErr)
	}
	return entry, nil
}
