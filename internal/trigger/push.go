package trigger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
)

// DefaultQueueSize bounds the push queue when no size is configured.
const DefaultQueueSize = 1024

// Push runs RunEntity for each queued job. It is the capture adapters'
// Notifier and the target of the sync webhook. Delivery is best-effort:
// a job dropped because the queue is full is still picked up by the next
// scheduled run.
type Push struct {
	runner  Runner
	queue   *jobQueue
	workers int
	logger  *slog.Logger
}

// PushOption configures a Push.
type PushOption func(*Push)

// WithQueueSize bounds the number of waiting jobs.
func WithQueueSize(n int) PushOption {
	return func(p *Push) {
		p.queue = newJobQueue(n)
	}
}

// WithWorkers sets how many jobs run at once. Default: 1.
func WithWorkers(n int) PushOption {
	return func(p *Push) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithPushLogger sets the logger. Default: slog.Default().
func WithPushLogger(l *slog.Logger) PushOption {
	return func(p *Push) {
		p.logger = l
	}
}

// NewPush creates a push trigger. Call Run to start draining.
func NewPush(r Runner, opts ...PushOption) *Push {
	p := &Push{
		runner:  r,
		queue:   newJobQueue(DefaultQueueSize),
		workers: 1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Notify queues the entity of a captured change for the direction that
// drains its side.
func (p *Push) Notify(rec ir.ChangeRecord) {
	p.Enqueue(rec.Side.Outbound(), rec.EntityKey)
}

// Enqueue asks for entityKey to be synced in direction d. It reports
// whether the job is queued.
func (p *Push) Enqueue(d ir.Direction, entityKey string) bool {
	if !p.queue.Enqueue(Job{Direction: d, EntityKey: entityKey}) {
		p.logger.Warn("push queue full or closed, leaving change to the scheduled run",
			"direction", d, "entity", ir.MaskKey(entityKey))
		return false
	}
	return true
}

// Pending returns the number of waiting jobs.
func (p *Push) Pending() int {
	return p.queue.Len()
}

// Run drains the queue until ctx is done or Close is called, then waits
// for in-flight jobs.
func (p *Push) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close stops accepting jobs and ends Run once the queue is drained.
func (p *Push) Close() {
	p.queue.Close()
}

func (p *Push) work(ctx context.Context) {
	ctx = engine.WithTrigger(ctx, ir.TriggerPush)
	for {
		for {
			if ctx.Err() != nil {
				return
			}
			j, ok := p.queue.TryDequeue()
			if !ok {
				break
			}
			p.run(ctx, j)
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-p.queue.Wait():
			if !ok && p.queue.Len() == 0 {
				return
			}
		}
	}
}

func (p *Push) run(ctx context.Context, j Job) {
	entry, err := p.runner.RunEntity(ctx, j.Direction, j.EntityKey)
	if err != nil {
		// Log and continue: the records stay in the ledger.
		p.logger.Error("push run failed", "direction", j.Direction, "entity", ir.MaskKey(j.EntityKey), "error", err)
		return
	}
	p.logger.Debug("push run complete", "run_id", entry.RunID, "direction", j.Direction,
		"entity", ir.MaskKey(j.EntityKey), "attempted", entry.Attempted, "failed", entry.Failed)
}
