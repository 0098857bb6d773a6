package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

// SourceRegistry is written to metadata.source on every applied change.
const SourceRegistry = "registry"

// Membership statuses the Applier writes.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Applier applies registry-originated changes to the Portal documents.
// Request fields are nested Portal fragments. Applied writes go straight
// to the DocumentStore and are never captured.
//
// The document store cannot join the ledger transaction, so the receipt
// is written after the document. The applied key is also stamped into
// metadata.sync_key; a redelivery that finds its own key there is
// confirmed without a second write.
type Applier struct {
	p *Portal
}

// Applier returns the Portal's engine.Applier.
func (p *Portal) Applier() *Applier {
	return &Applier{p: p}
}

// Apply implements engine.Applier.
//
//   - create writes a fresh document, or merges into a live one; the
//     member is active unless the change says otherwise
//   - update merges into an existing document; a missing one is engine.ErrTargetAbsent
//   - delete soft-deletes; a missing document confirms as absent_noop
func (a *Applier) Apply(ctx context.Context, req ir.ApplyRequest) (ir.Outcome, error) {
	outcome, err := a.apply(ctx, req)
	if err != nil {
		return "", fmt.Errorf("portal apply %s: %w", ir.MaskKey(req.EntityKey), err)
	}
	return outcome, nil
}

func (a *Applier) apply(ctx context.Context, req ir.ApplyRequest) (ir.Outcome, error) {
	s := a.p.store
	if _, seen, err := s.Receipt(ctx, nil, req.IdempotencyKey); err != nil {
		return "", err
	} else if seen {
		return ir.OutcomeAlreadyApplied, nil
	}

	doc, err := a.p.docs.Get(ctx, req.EntityKey)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if exists && doc.Lookup("metadata.sync_key") == ir.String(req.IdempotencyKey) {
		return a.confirm(ctx, req, ir.OutcomeAlreadyApplied)
	}

	now := s.Now()
	meta := ir.Object{
		"last_sync": timestamp(now),
		"source":    ir.String(SourceRegistry),
		"sync_key":  ir.String(req.IdempotencyKey),
	}

	switch req.Action {
	case ir.ActionCreate:
		frag := req.Fields.Clone()
		if frag == nil {
			frag = ir.Object{}
		}
		if ir.IsAbsent(frag.Lookup("membership.status")) {
			frag.Set("membership.status", ir.String(StatusActive))
		}
		meta["deleted_at"] = ir.Null{}
		frag.Merge(ir.Object{"metadata": meta})

		// A soft-deleted member is re-created from scratch; nothing of the
		// old document survives.
		live := exists && isLive(doc)
		if live {
			err = a.p.docs.Merge(ctx, req.EntityKey, frag)
		}
		if !live || errors.Is(err, store.ErrNotFound) {
			err = a.p.docs.Put(ctx, req.EntityKey, frag)
		}
		if err != nil {
			return "", err
		}

	case ir.ActionUpdate:
		if !exists {
			return "", engine.ErrTargetAbsent
		}
		frag := req.Fields.Clone()
		if frag == nil {
			frag = ir.Object{}
		}
		frag.Merge(ir.Object{"metadata": meta})
		if err := a.p.docs.Merge(ctx, req.EntityKey, frag); errors.Is(err, store.ErrNotFound) {
			return "", engine.ErrTargetAbsent
		} else if err != nil {
			return "", err
		}

	case ir.ActionDelete:
		if !exists {
			a.p.logger.Warn("delete of absent portal document", "entity", ir.MaskKey(req.EntityKey))
			return a.confirm(ctx, req, ir.OutcomeAbsentNoop)
		}
		meta["deleted_at"] = timestamp(now)
		frag := ir.Object{
			"membership": ir.Object{"status": ir.String(StatusInactive)},
			"metadata":   meta,
		}
		if err := a.p.docs.Merge(ctx, req.EntityKey, frag); errors.Is(err, store.ErrNotFound) {
			return a.confirm(ctx, req, ir.OutcomeAbsentNoop)
		} else if err != nil {
			return "", err
		}

	default:
		return "", engine.NewPermanent(fmt.Errorf("unknown action %q", req.Action), nil)
	}

	return a.confirm(ctx, req, ir.OutcomeApplied)
}

// isLive reports whether doc has not been soft-deleted.
func isLive(doc ir.Object) bool {
	switch doc.Lookup("metadata.deleted_at").(type) {
	case ir.Absent, ir.Null:
		return true
	}
	return false
}

func (a *Applier) confirm(ctx context.Context, req ir.ApplyRequest, outcome ir.Outcome) (ir.Outcome, error) {
	_, err := a.p.store.PutReceipt(ctx, nil, store.Receipt{
		IdempotencyKey: req.IdempotencyKey,
		EntityKey:      req.EntityKey,
		Action:         req.Action,
		Outcome:        outcome,
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}
