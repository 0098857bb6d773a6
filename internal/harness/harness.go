package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/mapping"
	"github.com/roach88/membersync/internal/portal"
	"github.com/roach88/membersync/internal/registry"
	"github.com/roach88/membersync/internal/store"
	"github.com/roach88/membersync/internal/testutil"
	"github.com/roach88/membersync/internal/transform"
)

// Epoch is where every scenario's clock starts.
var Epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// world is one scenario's components over a private in-memory ledger.
type world struct {
	store    *store.Store
	clock    *testutil.FakeClock
	registry *registry.Registry
	portal   *portal.Portal
	orch     *engine.Orchestrator

	faults map[string]*faultyApplier
}

// Run executes a scenario in a fresh world and evaluates its assertions.
// The error reports a harness failure; scenario failures are in the
// result.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	w, err := newWorld(s)
	if err != nil {
		return nil, err
	}
	defer w.store.Close()

	result := NewResult()
	for i, step := range s.Steps {
		ev, err := w.execute(ctx, step)
		ev.Step = i + 1
		if err != nil {
			result.AddError(fmt.Sprintf("step %d (%s): %v", ev.Step, ev.Op, err))
			return result, nil
		}
		result.Trace = append(result.Trace, ev)
		if step.Expect != nil {
			for _, msg := range step.Expect.mismatches(ev.Run) {
				result.AddError(fmt.Sprintf("step %d (sync): %s", ev.Step, msg))
			}
		}
	}

	recs, err := w.store.List(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		result.Ledger = append(result.Ledger, rowOf(rec))
	}

	for _, msg := range evaluateAssertions(ctx, w, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newWorld(s *Scenario) (*world, error) {
	table, err := loadTable(s.Mapping)
	if err != nil {
		return nil, err
	}
	tr, err := transform.New(table)
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}

	clock := testutil.NewFakeClock(Epoch)
	st, err := store.Open(":memory:",
		store.WithClock(clock.Now),
		store.WithIDGenerator(testutil.NewSequenceIDs("chg").Next),
	)
	if err != nil {
		return nil, fmt.Errorf("open in-memory ledger: %w", err)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.Open(st, tr, registry.WithLogger(quiet))
	if err != nil {
		st.Close()
		return nil, err
	}
	p := portal.New(portal.NewMemoryStore(), st, tr, portal.WithLogger(quiet))

	faults := map[string]*faultyApplier{
		TargetRegistry: {inner: reg.Applier()},
		TargetPortal:   {inner: p.Applier()},
	}

	cfg := engine.DefaultConfig()
	cfg.Workers = 1
	if s.MaxRetries != nil {
		cfg.MaxRetries = *s.MaxRetries
	}
	orch := engine.New(st, tr,
		engine.Endpoint{Applier: faults[TargetRegistry], Source: reg},
		engine.Endpoint{Applier: faults[TargetPortal], Source: p},
		engine.WithConfig(cfg),
		engine.WithClock(clock),
		engine.WithRunIDGenerator(testutil.NewSequenceIDs("run")),
		engine.WithLogger(quiet),
	)

	return &world{
		store:    st,
		clock:    clock,
		registry: reg,
		portal:   p,
		orch:     orch,
		faults:   faults,
	}, nil
}

func loadTable(path string) (*mapping.Table, error) {
	if path == "" {
		return mapping.Default()
	}
	return mapping.Load(path)
}

func (w *world) execute(ctx context.Context, st Step) (TraceEvent, error) {
	switch {
	case st.RegistryPut != nil:
		ev := TraceEvent{Op: OpRegistryPut}
		fields, err := toObject(st.RegistryPut.Fields)
		if err != nil {
			return ev, err
		}
		rec, err := w.registry.Put(ctx, st.RegistryPut.Key, fields)
		return captured(ev, rec), err

	case st.RegistryDelete != nil:
		rec, err := w.registry.Delete(ctx, st.RegistryDelete.Key)
		return captured(TraceEvent{Op: OpRegistryDelete}, rec), err

	case st.PortalPut != nil:
		ev := TraceEvent{Op: OpPortalPut}
		fields, err := toObject(st.PortalPut.Fields)
		if err != nil {
			return ev, err
		}
		rec, err := w.portal.Put(ctx, st.PortalPut.Key, fields)
		return captured(ev, rec), err

	case st.PortalDelete != nil:
		rec, err := w.portal.Delete(ctx, st.PortalDelete.Key)
		return captured(TraceEvent{Op: OpPortalDelete}, rec), err

	case st.Fail != nil:
		w.faults[st.Fail.Target].inject(st.Fail.Class, st.Fail.Times)
		return TraceEvent{
			Op:     OpFail,
			Detail: fmt.Sprintf("%s %s x%d", st.Fail.Target, st.Fail.Class, st.Fail.Times),
		}, nil

	case st.Advance != "":
		d, err := time.ParseDuration(st.Advance)
		if err != nil {
			return TraceEvent{Op: OpAdvance}, err
		}
		w.clock.Advance(d)
		return TraceEvent{Op: OpAdvance, Detail: d.String()}, nil

	case st.Sync != nil:
		d, _ := ir.ParseDirection(st.Sync.Direction)
		ev := TraceEvent{Op: OpSync, Direction: string(d)}
		var (
			entry ir.AuditEntry
			err   error
		)
		if st.Sync.Entity != "" {
			key, kerr := ir.NormalizeKey(st.Sync.Entity)
			if kerr != nil {
				return ev, kerr
			}
			ev.EntityKey = key
			entry, err = w.orch.RunEntity(engine.WithTrigger(ctx, ir.TriggerPush), d, key)
		} else {
			entry, err = w.orch.RunSync(engine.WithTrigger(ctx, ir.TriggerScheduled), d)
		}
		ev.Run = countsOf(entry)
		return ev, err
	}
	return TraceEvent{}, fmt.Errorf("step has no operation")
}

func captured(ev TraceEvent, rec ir.ChangeRecord) TraceEvent {
	ev.EntityKey = rec.EntityKey
	ev.ChangeID = rec.ID
	ev.Action = string(rec.Action)
	return ev
}

func toObject(fields map[string]any) (ir.Object, error) {
	v, err := ir.FromAny(fields)
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	return v.(ir.Object), nil
}

func (e *RunExpect) mismatches(got *RunCounts) []string {
	if got == nil {
		return []string{"no audit entry"}
	}
	var out []string
	check := func(name string, want *int, have int) {
		if want != nil && *want != have {
			out = append(out, fmt.Sprintf("%s: expected %d, got %d", name, *want, have))
		}
	}
	check("attempted", e.Attempted, got.Attempted)
	check("succeeded", e.Succeeded, got.Succeeded)
	check("failed", e.Failed, got.Failed)
	check("retried", e.Retried, got.Retried)
	check("skipped", e.Skipped, got.Skipped)
	return out
}
