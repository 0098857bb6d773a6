package alert

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/roach88/membersync/internal/ir"
)

// Dispatcher fans sync alerts out to matching webhooks. It implements
// engine.AlertSink: every permanently failed record is an alert, and a
// run is an alert when its failure rate exceeds the threshold over at
// least MinAttempts records.
//
// Sends run in background goroutines and never block the orchestrator.
type Dispatcher struct {
	configs     []Config
	threshold   float64
	minAttempts int
	client      *http.Client
	retryDelay  time.Duration
	now         func() time.Time
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFailureRate sets the run failure-rate threshold and the minimum
// attempts before the rate is judged. Defaults: 0.5 over 4 attempts.
func WithFailureRate(threshold float64, minAttempts int) Option {
	return func(d *Dispatcher) {
		d.threshold = threshold
		d.minAttempts = minAttempts
	}
}

// WithHTTPClient replaces the default client (5s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = c
	}
}

// WithRetryDelay sets the base delay between send attempts. Default: 1s.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		d.retryDelay = delay
	}
}

// WithClock sets the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []Config, opts ...Option) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	d := &Dispatcher{
		configs:     configs,
		threshold:   0.5,
		minAttempts: 4,
		client:      &http.Client{Timeout: requestTimeout},
		retryDelay:  time.Second,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RecordFailed alerts on one permanently failed record.
func (d *Dispatcher) RecordFailed(ctx context.Context, dir ir.Direction, rec ir.ChangeRecord, reason string) {
	d.Dispatch(ctx, Event{
		Type:      EventRecordFailed,
		Direction: string(dir),
		EntityKey: ir.MaskKey(rec.EntityKey),
		ChangeID:  rec.ID,
		Reason:    reason,
	})
}

// RunCompleted alerts when the run's failure rate crosses the threshold.
func (d *Dispatcher) RunCompleted(ctx context.Context, entry ir.AuditEntry) {
	if entry.Attempted < d.minAttempts {
		return
	}
	rate := entry.FailureRate()
	if rate <= d.threshold {
		return
	}
	d.Dispatch(ctx, Event{
		Type:        EventFailureRate,
		Direction:   string(entry.Direction),
		RunID:       entry.RunID,
		Reason:      entry.ErrorSummary,
		Attempted:   entry.Attempted,
		Failed:      entry.Failed,
		FailureRate: rate,
	})
}

// Dispatch sends event to every webhook subscribed to its type. It does
// not block; use Wait to let in-flight sends finish.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	if event.Timestamp == "" {
		event.Timestamp = d.now().UTC().Format(time.RFC3339)
	}
	// Sends outlive the run that raised them.
	ctx = context.WithoutCancel(ctx)

	for _, cfg := range d.configs {
		if !slices.Contains(cfg.Events, event.Type) {
			continue
		}
		d.wg.Add(1)
		go func(cfg Config) {
			defer d.wg.Done()
			if err := Send(ctx, d.client, cfg, event, d.retryDelay); err != nil {
				d.logger.Warn("alert delivery failed", "type", event.Type, "url", cfg.URL, "error", err)
			}
		}(cfg)
	}
}

// Wait blocks until every dispatched send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
