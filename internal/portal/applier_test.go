package portal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

func applyReq(key string, action ir.Action, fields ir.Object, idem string) ir.ApplyRequest {
	return ir.ApplyRequest{EntityKey: key, Action: action, Fields: fields, IdempotencyKey: idem}
}

func TestApply_CreateStampsMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.portal.Applier()

	outcome, err := a.Apply(ctx, applyReq(testKey, ir.ActionCreate,
		ir.Object{"profile": ir.Object{"gender": ir.String("female")}}, "k1"))
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeApplied, outcome)

	doc, err := f.docs.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, ir.String("female"), doc.Lookup("profile.gender"))
	assert.Equal(t, ir.String("registry"), doc.Lookup("metadata.source"))
	assert.Equal(t, ir.String("k1"), doc.Lookup("metadata.sync_key"))
	assert.Equal(t, ir.String("2025-03-01T12:00:00Z"), doc.Lookup("metadata.last_sync"))

	assert.Empty(t, f.ledger(t), "applied writes are not captured")
}

func TestApply_RedeliveryIsAlreadyApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.portal.Applier()
	req := applyReq(testKey, ir.ActionCreate, ir.Object{"profile": ir.Object{"name": ir.String("Jon")}}, "k1")

	_, err := a.Apply(ctx, req)
	require.NoError(t, err)

	// A later local edit must survive the redelivery untouched.
	require.NoError(t, f.docs.Merge(ctx, testKey, ir.Object{"profile": ir.Object{"name": ir.String("Jón")}}))

	outcome, err := a.Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeAlreadyApplied, outcome)

	doc, err := f.docs.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, ir.String("Jón"), doc.Lookup("profile.name"))
}

func TestApply_SyncKeyWithoutReceiptConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Document written, receipt lost.
	require.NoError(t, f.docs.Put(ctx, testKey, ir.Object{
		"profile":  ir.Object{"name": ir.String("Jon")},
		"metadata": ir.Object{"sync_key": ir.String("k1")},
	}))

	outcome, err := f.portal.Applier().Apply(ctx, applyReq(testKey, ir.ActionUpdate,
		ir.Object{"profile": ir.Object{"name": ir.String("Jon")}}, "k1"))
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeAlreadyApplied, outcome)

	_, seen, err := f.store.Receipt(ctx, nil, "k1")
	require.NoError(t, err)
	assert.True(t, seen, "confirmation writes the missing receipt")
}

func TestApply_UpdateOfMissingDocumentIsTargetAbsent(t *testing.T) {
	f := newFixture(t)

	_, err := f.portal.Applier().Apply(context.Background(), applyReq(testKey, ir.ActionUpdate,
		ir.Object{"profile": ir.Object{"name": ir.String("Jon")}}, "k1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrTargetAbsent)
	assert.Equal(t, engine.ClassTargetAbsent, engine.Classify(err))

	_, err = f.docs.Get(context.Background(), testKey)
	assert.ErrorIs(t, err, store.ErrNotFound, "update never creates")
}

func TestApply_DeleteSoftDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.portal.Applier()

	_, err := a.Apply(ctx, applyReq(testKey, ir.ActionCreate,
		ir.Object{"membership": ir.Object{"status": ir.String("active")}}, "k1"))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	outcome, err := a.Apply(ctx, applyReq(testKey, ir.ActionDelete, nil, "k2"))
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeApplied, outcome)

	doc, err := f.docs.Get(ctx, testKey)
	require.NoError(t, err, "documents are kept")
	assert.Equal(t, ir.String("inactive"), doc.Lookup("membership.status"))
	assert.Equal(t, ir.String("2025-03-01T13:00:00Z"), doc.Lookup("metadata.deleted_at"))
}

func TestApply_CreateAfterDeleteStartsFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.portal.Applier()

	_, err := a.Apply(ctx, applyReq(testKey, ir.ActionCreate, ir.Object{"profile": ir.Object{
		"name":  ir.String("Jon"),
		"phone": ir.String("555"),
	}}, "k1"))
	require.NoError(t, err)
	_, err = a.Apply(ctx, applyReq(testKey, ir.ActionDelete, nil, "k2"))
	require.NoError(t, err)

	_, err = a.Apply(ctx, applyReq(testKey, ir.ActionCreate, ir.Object{"profile": ir.Object{
		"name": ir.String("Jon"),
	}}, "k3"))
	require.NoError(t, err)

	doc, err := f.docs.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, ir.String("active"), doc.Lookup("membership.status"))
	assert.Equal(t, ir.Null{}, doc.Lookup("metadata.deleted_at"))
	assert.Equal(t, ir.String("Jon"), doc.Lookup("profile.name"))
	assert.True(t, ir.IsAbsent(doc.Lookup("profile.phone")), "old fields do not survive a re-create")
}

func TestApply_CreateMergesIntoLiveDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.docs.Put(ctx, testKey, ir.Object{
		"profile":    ir.Object{"email": ir.String("jon@example.is")},
		"membership": ir.Object{"status": ir.String("suspended")},
	}))

	_, err := f.portal.Applier().Apply(ctx, applyReq(testKey, ir.ActionCreate, ir.Object{
		"profile":    ir.Object{"name": ir.String("Jon")},
		"membership": ir.Object{"status": ir.String("suspended")},
	}, "k1"))
	require.NoError(t, err)

	doc, err := f.docs.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, ir.String("jon@example.is"), doc.Lookup("profile.email"))
	assert.Equal(t, ir.String("Jon"), doc.Lookup("profile.name"))
	assert.Equal(t, ir.String("suspended"), doc.Lookup("membership.status"), "a supplied status wins")
}

func TestApply_DeleteOfMissingDocumentIsAbsentNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.portal.Applier().Apply(ctx, applyReq(testKey, ir.ActionDelete, nil, "k1"))
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeAbsentNoop, outcome)

	r, seen, err := f.store.Receipt(ctx, nil, "k1")
	require.NoError(t, err)
	require.True(t, seen)
	assert.Equal(t, ir.OutcomeAbsentNoop, r.Outcome)
}

func TestApply_UnknownActionIsPermanent(t *testing.T) {
	f := newFixture(t)

	_, err := f.portal.Applier().Apply(context.Background(), applyReq(testKey, "rename", nil, "k1"))
	require.Error(t, err)
	assert.True(t, engine.IsPermanent(err))
}
