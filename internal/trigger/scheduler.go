package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
)

// Hook runs around each scheduled tick, e.g. importing from a remote
// Registry before the runs and acknowledging after them.
type Hook func(ctx context.Context) error

// Scheduler runs RunSync for both directions on every tick. An empty run
// is a cheap no-op, and a tick missed while a run is in progress only
// means a bigger batch next time.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	trigger  string
	before   []Hook
	after    []Hook
	logger   *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithBefore adds a hook that runs before each tick's sync runs.
func WithBefore(h Hook) SchedulerOption {
	return func(s *Scheduler) {
		s.before = append(s.before, h)
	}
}

// WithAfter adds a hook that runs after each tick's sync runs.
func WithAfter(h Hook) SchedulerOption {
	return func(s *Scheduler) {
		s.after = append(s.after, h)
	}
}

// WithTriggerName sets the trigger recorded on each tick's audit entries.
// Default: ir.TriggerScheduled.
func WithTriggerName(name string) SchedulerOption {
	return func(s *Scheduler) {
		s.trigger = name
	}
}

// WithSchedulerLogger sets the logger. Default: slog.Default().
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates a scheduler firing every interval.
func NewScheduler(r Runner, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner:   r,
		interval: interval,
		trigger:  ir.TriggerScheduled,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is done. The first tick fires after one interval.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs the before hooks, one RunSync per direction, then the after
// hooks. Failures are logged; one direction failing does not skip the
// other. It returns the audit entries of the runs that completed.
func (s *Scheduler) Tick(ctx context.Context) []ir.AuditEntry {
	ctx = engine.WithTrigger(ctx, s.trigger)

	for _, h := range s.before {
		if err := h(ctx); err != nil {
			s.logger.Error("scheduled hook failed", "stage", "before", "error", err)
		}
	}

	var entries []ir.AuditEntry
	for _, d := range ir.Directions {
		if ctx.Err() != nil {
			break
		}
		entry, err := s.runner.RunSync(ctx, d)
		if entry.RunID != "" {
			entries = append(entries, entry)
		}
		if err != nil {
			s.logger.Error("scheduled run failed", "direction", d, "error", err)
			continue
		}
		s.logger.Info("scheduled run complete", "run_id", entry.RunID, "direction", d,
			"attempted", entry.Attempted, "succeeded", entry.Succeeded, "failed", entry.Failed)
	}

	for _, h := range s.after {
		if err := h(ctx); err != nil {
			s.logger.Error("scheduled hook failed", "stage", "after", "error", err)
		}
	}
	return entries
}
