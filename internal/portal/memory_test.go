package portal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/membersync/internal/ir"
)

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Put(ctx, "k", ir.Object{"profile": ir.Object{"name": ir.String("Jon")}}))

	doc, err := m.Get(ctx, "k")
	require.NoError(t, err)
	doc.Set("profile.name", ir.String("changed"))

	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, ir.String("Jon"), again.Lookup("profile.name"))
}
