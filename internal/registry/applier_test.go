package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/transform"
)

func TestApplier_CreateIsIdempotent(t *testing.T) {
	r, s, n := newTestRegistry(t)
	ctx := context.Background()
	a := r.Applier()

	req := ir.ApplyRequest{
		EntityKey:      testKey,
		Action:         ir.ActionCreate,
		Fields:         ir.Object{"name": ir.String("Jon"), "gender": ir.Int(1)},
		IdempotencyKey: "key-1",
	}
	outcome, err := a.Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeApplied, outcome)

	// A local edit after the apply must survive a redelivery.
	_, err = r.Put(ctx, testKey, ir.Object{"name": ir.String("Jon Jonsson")})
	require.NoError(t, err)

	outcome, err = a.Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeAlreadyApplied, outcome)

	m, err := r.Member(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "Jon Jonsson", *m.Name)

	// Only the local Put was captured.
	assert.Len(t, ledger(t, s), 1)
	assert.Len(t, n.recs, 1)
}

func TestApplier_UpdateOfMissingMember(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Applier().Apply(context.Background(), ir.ApplyRequest{
		EntityKey:      testKey,
		Action:         ir.ActionUpdate,
		Fields:         ir.Object{"name": ir.String("Jon")},
		IdempotencyKey: "key-1",
	})
	assert.ErrorIs(t, err, engine.ErrTargetAbsent)
	assert.True(t, engine.IsPermanent(err))
}

func TestApplier_DeleteOfMissingMember(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	a := r.Applier()

	outcome, err := a.Apply(ctx, ir.ApplyRequest{EntityKey: testKey, Action: ir.ActionDelete, IdempotencyKey: "d-1"})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeAbsentNoop, outcome)

	_, err = r.Put(ctx, testKey, ir.Object{"name": ir.String("Jon")})
	require.NoError(t, err)
	outcome, err = a.Apply(ctx, ir.ApplyRequest{EntityKey: testKey, Action: ir.ActionDelete, IdempotencyKey: "d-2"})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeApplied, outcome)

	count, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestApplier_BadColumnIsValidation(t *testing.T) {
	r, s, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Applier().Apply(ctx, ir.ApplyRequest{
		EntityKey:      testKey,
		Action:         ir.ActionCreate,
		Fields:         ir.Object{"shoe_size": ir.Int(44)},
		IdempotencyKey: "key-1",
	})
	assert.True(t, transform.IsValidation(err))

	_, seen, err := s.Receipt(ctx, nil, "key-1")
	require.NoError(t, err)
	assert.False(t, seen, "failed apply must not leave a receipt")
}
