package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
	"github.com/roach88/membersync/internal/transform"
)

// Origin says who issued a mutation.
type Origin int

const (
	// OriginLocal mutations are captured into the registry ledger.
	OriginLocal Origin = iota

	// OriginSync mutations were applied by the sync engine and are not
	// captured, so a portal change is never echoed back to the portal.
	OriginSync
)

type originKey struct{}

// WithOrigin marks mutations made under ctx.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

func originFrom(ctx context.Context) Origin {
	o, _ := ctx.Value(originKey{}).(Origin)
	return o
}

// Notifier is told about each captured change after it commits.
type Notifier interface {
	Notify(rec ir.ChangeRecord)
}

// Registry is the reference relational Registry: a gorm member table that
// lives in the ledger's SQLite database, so every mutation and its ledger
// record commit in one transaction.
type Registry struct {
	db       *gorm.DB
	store    *store.Store
	tr       *transform.Transformer
	notifier Notifier
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithNotifier sets the post-commit capture hook.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) {
		r.notifier = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// Open binds gorm to the ledger's database handle and migrates the
// members table.
func Open(s *store.Store, tr *transform.Transformer, opts ...Option) (*Registry, error) {
	db, err := gorm.Open(sqlite.Dialector{Conn: s.DB()}, &gorm.Config{
		Logger:  logger.Discard,
		NowFunc: s.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if err := db.AutoMigrate(&Member{}); err != nil {
		return nil, fmt.Errorf("migrate registry: %w", err)
	}

	r := &Registry{
		db:     db,
		store:  s,
		tr:     tr,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SetNotifier replaces the capture hook. The push trigger is built after
// the Registry, so it is wired here.
func (r *Registry) SetNotifier(n Notifier) {
	r.notifier = n
}

// Put creates or updates a member from Registry-shaped logical fields and
// captures the change. Only the columns the fields name are written.
func (r *Registry) Put(ctx context.Context, rawKey string, fields ir.Object) (ir.ChangeRecord, error) {
	key, err := ir.NormalizeKey(rawKey)
	if err != nil {
		return ir.ChangeRecord{}, &transform.ValidationError{Field: "entity_key", Message: err.Error()}
	}
	cols, err := r.tr.RegistryColumns(fields)
	if err != nil {
		return ir.ChangeRecord{}, err
	}

	var rec ir.ChangeRecord
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, action, err := upsertMember(tx, key, cols, true)
		if err != nil {
			return err
		}
		rec, err = r.capture(ctx, tx, key, action, r.tr.ExtractRegistry(m.Columns(true), cols.SortedKeys()))
		return err
	})
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("put member %s: %w", ir.MaskKey(key), err)
	}
	r.notify(rec)
	return rec, nil
}

// Delete removes a member and captures the delete. The entity key is
// recorded before the row disappears. It returns store.ErrNotFound when
// there is no such member.
func (r *Registry) Delete(ctx context.Context, rawKey string) (ir.ChangeRecord, error) {
	key, err := ir.NormalizeKey(rawKey)
	if err != nil {
		return ir.ChangeRecord{}, &transform.ValidationError{Field: "entity_key", Message: err.Error()}
	}

	var rec ir.ChangeRecord
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteMember(tx, key); err != nil {
			return err
		}
		var err error
		rec, err = r.capture(ctx, tx, key, ir.ActionDelete, nil)
		return err
	})
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("delete member %s: %w", ir.MaskKey(key), err)
	}
	r.notify(rec)
	return rec, nil
}

// Member loads one member row.
func (r *Registry) Member(ctx context.Context, key string) (Member, error) {
	var m Member
	err := r.db.WithContext(ctx).Where("kennitala = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Member{}, store.ErrNotFound
	}
	if err != nil {
		return Member{}, fmt.Errorf("load member: %w", err)
	}
	return m, nil
}

// Snapshot implements engine.EntitySource: the member's set columns as
// Registry-shaped logical fields.
func (r *Registry) Snapshot(ctx context.Context, key string) (ir.Object, error) {
	m, err := r.Member(ctx, key)
	if err != nil {
		return nil, err
	}
	return r.tr.ExtractRegistry(m.Columns(false), nil), nil
}

// Count returns the number of members.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Member{}).Count(&n).Error
	return n, err
}

// capture appends the ledger record inside tx unless the mutation came
// from the sync engine. A zero record means nothing was captured.
func (r *Registry) capture(ctx context.Context, tx *gorm.DB, key string, action ir.Action, fields ir.Object) (ir.ChangeRecord, error) {
	if originFrom(ctx) == OriginSync {
		return ir.ChangeRecord{}, nil
	}
	rec, err := r.store.AppendTx(ctx, tx.Statement.ConnPool, ir.ChangeRecord{
		Side:          ir.SideRegistry,
		EntityKey:     key,
		Action:        action,
		ChangedFields: fields,
	})
	if err != nil {
		return ir.ChangeRecord{}, fmt.Errorf("capture: %w", err)
	}
	return rec, nil
}

func (r *Registry) notify(rec ir.ChangeRecord) {
	if r.notifier == nil || rec.ID == "" {
		return
	}
	r.notifier.Notify(rec)
	r.logger.Debug("registry change captured", "change_id", rec.ID, "entity", ir.MaskKey(rec.EntityKey), "action", rec.Action)
}

// upsertMember writes cols onto the member, creating it when allowed. It
// reports whether the write was a create or an update.
func upsertMember(tx *gorm.DB, key string, cols ir.Object, allowCreate bool) (Member, ir.Action, error) {
	var m Member
	err := tx.Where("kennitala = ?", key).Take(&m).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Member{}, "", fmt.Errorf("load member: %w", err)
	}
	if !found && !allowCreate {
		return Member{}, "", store.ErrNotFound
	}

	if !found {
		m = Member{Kennitala: key}
	}
	if err := m.SetAll(cols); err != nil {
		return Member{}, "", err
	}

	if !found {
		if err := tx.Create(&m).Error; err != nil {
			return Member{}, "", fmt.Errorf("create member: %w", err)
		}
		return m, ir.ActionCreate, nil
	}
	if err := tx.Save(&m).Error; err != nil {
		return Member{}, "", fmt.Errorf("save member: %w", err)
	}
	return m, ir.ActionUpdate, nil
}

func deleteMember(tx *gorm.DB, key string) error {
	res := tx.Where("kennitala = ?", key).Delete(&Member{})
	if res.Error != nil {
		return fmt.Errorf("delete member: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
