package portal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
	"github.com/roach88/membersync/internal/transform"
)

// Notifier is told about each captured change after it commits.
type Notifier interface {
	Notify(rec ir.ChangeRecord)
}

// DefaultWriteTimeout matches the ledger's busy_timeout.
const DefaultWriteTimeout = 5 * time.Second

// Portal is the Portal application's write path over a DocumentStore.
// Put and Delete capture into the portal-side ledger: the ledger append is
// staged in an open ledger transaction, the document write runs, and the
// ledger commits only if the document write succeeded.
//
// The ledger write lock is held for the whole document write, so every
// other ledger writer waits on it. The write is bounded by the write
// timeout; a write that runs out of time rolls the capture back.
type Portal struct {
	docs         DocumentStore
	store        *store.Store
	tr           *transform.Transformer
	notifier     Notifier
	logger       *slog.Logger
	writeTimeout time.Duration
}

// Option configures a Portal.
type Option func(*Portal)

// WithNotifier sets the post-commit capture hook.
func WithNotifier(n Notifier) Option {
	return func(p *Portal) {
		p.notifier = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Portal) {
		p.logger = l
	}
}

// WithWriteTimeout bounds each captured document write. Zero disables the
// bound. Default: DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Portal) {
		p.writeTimeout = d
	}
}

// New creates a Portal over docs, capturing into s.
func New(docs DocumentStore, s *store.Store, tr *transform.Transformer, opts ...Option) *Portal {
	p := &Portal{
		docs:         docs,
		store:        s,
		tr:           tr,
		logger:       slog.Default(),
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetNotifier replaces the capture hook.
func (p *Portal) SetNotifier(n Notifier) {
	p.notifier = n
}

// Documents returns the underlying document store.
func (p *Portal) Documents() DocumentStore {
	return p.docs
}

// Put writes Portal-shaped logical fields into the member's document,
// creating it if needed, and captures the change.
func (p *Portal) Put(ctx context.Context, rawKey string, fields ir.Object) (ir.ChangeRecord, error) {
	key, err := ir.NormalizeKey(rawKey)
	if err != nil {
		return ir.ChangeRecord{}, &transform.ValidationError{Field: "entity_key", Message: err.Error()}
	}
	fragment, err := p.tr.PortalDocument(fields)
	if err != nil {
		return ir.ChangeRecord{}, err
	}

	action := ir.ActionUpdate
	if _, err := p.docs.Get(ctx, key); errors.Is(err, store.ErrNotFound) {
		action = ir.ActionCreate
	} else if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("put member %s: %w", ir.MaskKey(key), err)
	}

	rec := ir.ChangeRecord{
		Side:          ir.SidePortal,
		EntityKey:     key,
		Action:        action,
		ChangedFields: p.tr.ExtractPortal(fragment),
	}
	rec, err = p.capture(ctx, rec, func(ctx context.Context) error {
		if action == ir.ActionCreate {
			return p.docs.Put(ctx, key, fragment)
		}
		return p.docs.Merge(ctx, key, fragment)
	})
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("put member %s: %w", ir.MaskKey(key), err)
	}
	return rec, nil
}

// Delete removes the member's document and captures the delete. It
// returns store.ErrNotFound when there is no such document.
func (p *Portal) Delete(ctx context.Context, rawKey string) (ir.ChangeRecord, error) {
	key, err := ir.NormalizeKey(rawKey)
	if err != nil {
		return ir.ChangeRecord{}, &transform.ValidationError{Field: "entity_key", Message: err.Error()}
	}
	if _, err := p.docs.Get(ctx, key); err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("delete member %s: %w", ir.MaskKey(key), err)
	}

	rec, err := p.capture(ctx, ir.ChangeRecord{
		Side:      ir.SidePortal,
		EntityKey: key,
		Action:    ir.ActionDelete,
	}, func(ctx context.Context) error {
		return p.docs.Delete(ctx, key)
	})
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("delete member %s: %w", ir.MaskKey(key), err)
	}
	return rec, nil
}

// Document returns the member's document.
func (p *Portal) Document(ctx context.Context, key string) (ir.Object, error) {
	return p.docs.Get(ctx, key)
}

// Snapshot implements engine.EntitySource: the document's mapped fields
// as Portal-shaped logical fields.
func (p *Portal) Snapshot(ctx context.Context, key string) (ir.Object, error) {
	doc, err := p.docs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return p.tr.ExtractPortal(doc), nil
}

// capture stages rec in a ledger transaction around write. The ledger
// commits only if write succeeds within the write timeout.
func (p *Portal) capture(ctx context.Context, rec ir.ChangeRecord, write func(context.Context) error) (ir.ChangeRecord, error) {
	tx, err := p.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("capture: begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			p.logger.Error("capture rollback failed", "error", err)
		}
	}()

	rec, err = p.store.AppendTx(ctx, tx, rec)
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("capture: %w", err)
	}
	writeCtx := ctx
	if p.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
	}
	if err := write(writeCtx); err != nil {
		return ir.ChangeRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		// The document write already happened. The next capture for this
		// entity carries the state forward.
		return ir.ChangeRecord{}, fmt.Errorf("capture: commit: %w", err)
	}

	if p.notifier != nil {
		p.notifier.Notify(rec)
	}
	p.logger.Debug("portal change captured", "change_id", rec.ID, "entity", ir.MaskKey(rec.EntityKey), "action", rec.Action)
	return rec, nil
}

// timestamp formats metadata times.
func timestamp(t time.Time) ir.String {
	return ir.String(t.UTC().Format(time.RFC3339))
}
