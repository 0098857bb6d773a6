package portal

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/roach88/membersync/internal/ir"
)

func TestDecodeDocument(t *testing.T) {
	row := map[string]any{
		"id": models.RecordID{Table: "member", ID: "0101701234"},
		"profile": map[string]any{
			"name":   "Jon",
			"gender": uint64(1),
			"phone":  nil,
			"address": map[string]any{
				"postcode": uint64(101),
				"offset":   int64(-3),
			},
		},
		"privacy": map[string]any{"reachable": false},
		"counts": map[string]any{
			"i8":  int8(-8),
			"i32": int32(32),
			"u16": uint16(16),
			"u32": uint32(32),
		},
	}

	doc, err := decodeDocument(row)
	require.NoError(t, err)

	assert.Equal(t, ir.Object{
		"profile": ir.Object{
			"name":   ir.String("Jon"),
			"gender": ir.Int(1),
			"phone":  ir.Null{},
			"address": ir.Object{
				"postcode": ir.Int(101),
				"offset":   ir.Int(-3),
			},
		},
		"privacy": ir.Object{"reachable": ir.Bool(false)},
		"counts": ir.Object{
			"i8":  ir.Int(-8),
			"i32": ir.Int(32),
			"u16": ir.Int(16),
			"u32": ir.Int(32),
		},
	}, doc)
}

func TestDecodeDocument_Rejects(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]any
	}{
		{"fraction", map[string]any{"score": 0.5}},
		{"array", map[string]any{"tags": []any{"a"}}},
		{"uint overflow", map[string]any{"n": uint64(1 << 63)}},
		{"unknown type", map[string]any{"at": time.Time{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeDocument(tt.row)
			assert.Error(t, err)
		})
	}
}

// openTestSurreal connects to the SurrealDB named by MEMBERSYNC_SURREAL_URL,
// using a table of its own. The test is skipped when the variable is unset.
func openTestSurreal(t *testing.T) DocumentStore {
	t.Helper()
	url := os.Getenv("MEMBERSYNC_SURREAL_URL")
	if url == "" {
		t.Skip("MEMBERSYNC_SURREAL_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := OpenSurreal(ctx, SurrealConfig{
		URL:       url,
		Namespace: envOr("MEMBERSYNC_SURREAL_NS", "membersync_test"),
		Database:  envOr("MEMBERSYNC_SURREAL_DB", "portal_test"),
		Username:  os.Getenv("MEMBERSYNC_SURREAL_USER"),
		Password:  os.Getenv("MEMBERSYNC_SURREAL_PASS"),
		Table:     fmt.Sprintf("member_%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func TestSurrealStore_Contract(t *testing.T) {
	testDocumentStore(t, openTestSurreal)
}
