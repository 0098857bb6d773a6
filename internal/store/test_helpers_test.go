package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roach88/membersync/internal/ir"
)

// testClock is a settable clock for ledger tests.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// createTestStore creates a store in a temp dir with a fixed clock and
// sequential ids.
func createTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	var n atomic.Int64
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithClock(clock.Now),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%04d", n.Add(1)) }),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// appendTestRecord appends an update for key on side.
func appendTestRecord(t *testing.T, s *Store, side ir.Side, key string, fields ir.Object) ir.ChangeRecord {
	t.Helper()
	rec, err := s.Append(context.Background(), ir.ChangeRecord{
		Side:          side,
		EntityKey:     key,
		Action:        ir.ActionUpdate,
		ChangedFields: fields,
	})
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	return rec
}
