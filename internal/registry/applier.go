package registry

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

// Applier applies portal-originated changes to the Registry. Request
// fields are flat registry columns, and applied writes bypass capture.
// The receipt for the idempotency key is checked and written in the same
// transaction as the member write, so a redelivered change is confirmed
// without touching the row.
type Applier struct {
	r *Registry
}

// Applier returns the Registry's engine.Applier.
func (r *Registry) Applier() *Applier {
	return &Applier{r: r}
}

// Apply implements engine.Applier.
//
//   - create upserts the member
//   - update of a missing member is engine.ErrTargetAbsent
//   - delete of a missing member confirms as absent_noop
func (a *Applier) Apply(ctx context.Context, req ir.ApplyRequest) (ir.Outcome, error) {
	var outcome ir.Outcome
	err := a.r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool := tx.Statement.ConnPool
		if _, seen, err := a.r.store.Receipt(ctx, pool, req.IdempotencyKey); err != nil {
			return err
		} else if seen {
			outcome = ir.OutcomeAlreadyApplied
			return nil
		}

		var err error
		outcome, err = applyTx(tx, req)
		if err != nil {
			return err
		}
		_, err = a.r.store.PutReceipt(ctx, pool, store.Receipt{
			IdempotencyKey: req.IdempotencyKey,
			EntityKey:      req.EntityKey,
			Action:         req.Action,
			Outcome:        outcome,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("registry apply %s: %w", ir.MaskKey(req.EntityKey), err)
	}
	return outcome, nil
}

func applyTx(tx *gorm.DB, req ir.ApplyRequest) (ir.Outcome, error) {
	switch req.Action {
	case ir.ActionCreate, ir.ActionUpdate:
		_, _, err := upsertMember(tx, req.EntityKey, req.Fields, req.Action == ir.ActionCreate)
		if errors.Is(err, store.ErrNotFound) {
			return "", engine.ErrTargetAbsent
		}
		if err != nil {
			return "", err
		}
		return ir.OutcomeApplied, nil
	case ir.ActionDelete:
		err := deleteMember(tx, req.EntityKey)
		if errors.Is(err, store.ErrNotFound) {
			return ir.OutcomeAbsentNoop, nil
		}
		if err != nil {
			return "", err
		}
		return ir.OutcomeApplied, nil
	default:
		return "", engine.NewPermanent(fmt.Errorf("unknown action %q", req.Action), nil)
	}
}
