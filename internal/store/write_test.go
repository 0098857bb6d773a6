package store

import (
	"context"
	"testing"

	"github.com/roach88/membersync/internal/ir"
)

func TestAppend_FillsLedgerFields(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	fields := ir.Object{"gender": ir.Int(2)}
	rec := appendTestRecord(t, s, ir.SideRegistry, "0101701234", fields)

	if rec.ID != "id-0001" {
		t.Errorf("ID = %q, want id-0001", rec.ID)
	}
	if rec.Seq != 1 {
		t.Errorf("Seq = %d, want 1", rec.Seq)
	}
	if rec.Status != ir.StatusPending {
		t.Errorf("Status = %q, want pending", rec.Status)
	}
	if want := ir.MustContentHash(fields); rec.ContentHash != want {
		t.Errorf("ContentHash = %q, want %q", rec.ContentHash, want)
	}
	if !rec.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, clock.Now())
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ChangedFields["gender"] != ir.Int(2) {
		t.Errorf("changed_fields = %v", got.ChangedFields)
	}
	if got.RetryCount != 0 || got.ClaimedAt != nil || got.SyncedAt != nil {
		t.Errorf("fresh record has claim state: %+v", got)
	}
}

func TestAppend_DeleteHasNoFields(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	rec, err := s.Append(ctx, ir.ChangeRecord{
		Side:          ir.SidePortal,
		EntityKey:     "0101701234",
		Action:        ir.ActionDelete,
		ChangedFields: ir.Object{"ignored": ir.String("x")},
	})
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ChangedFields != nil {
		t.Errorf("delete changed_fields = %v, want nil", got.ChangedFields)
	}
}

func TestAppend_Rejects(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  ir.ChangeRecord
	}{
		{"bad side", ir.ChangeRecord{Side: "ldap", EntityKey: "k", Action: ir.ActionCreate}},
		{"bad action", ir.ChangeRecord{Side: ir.SidePortal, EntityKey: "k", Action: "merge"}},
		{"no key", ir.ChangeRecord{Side: ir.SidePortal, Action: ir.ActionCreate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Append(ctx, tt.rec); err == nil {
				t.Error("Append() succeeded, want error")
			}
		})
	}
}

func TestAppendTx_RollsBackWithCaller(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() failed: %v", err)
	}
	_, err = s.AppendTx(ctx, tx, ir.ChangeRecord{
		Side: ir.SideRegistry, EntityKey: "0101701234", Action: ir.ActionCreate,
	})
	if err != nil {
		t.Fatalf("AppendTx() failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}

	recs, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("records after rollback = %d, want 0", len(recs))
	}
}

func TestImport_DedupesAndAdvancesWatermark(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	batch := []ir.ChangeRecord{
		{Side: ir.SideRegistry, EntityKey: "0101701234", Action: ir.ActionUpdate,
			ChangedFields: ir.Object{"name": ir.String("A")}, SourceID: "remote-1"},
		{Side: ir.SideRegistry, EntityKey: "0202802345", Action: ir.ActionDelete, SourceID: "remote-2"},
	}

	n, err := s.Import(ctx, "registry", "2", batch)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("imported = %d, want 2", n)
	}

	n, err = s.Import(ctx, "registry", "3", batch[:1])
	if err != nil {
		t.Fatalf("second Import() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("re-imported = %d, want 0", n)
	}

	wm, err := s.Watermark(ctx, "registry")
	if err != nil {
		t.Fatalf("Watermark() failed: %v", err)
	}
	if wm != "3" {
		t.Errorf("watermark = %q, want 3", wm)
	}

	recs, _ := s.List(ctx, Filter{Side: ir.SideRegistry})
	if len(recs) != 2 {
		t.Errorf("records = %d, want 2", len(recs))
	}
}

func TestImport_RequiresSourceID(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.Import(ctx, "registry", "1", []ir.ChangeRecord{
		{Side: ir.SideRegistry, EntityKey: "0101701234", Action: ir.ActionDelete},
	})
	if err == nil {
		t.Fatal("Import() without source id succeeded")
	}

	wm, _ := s.Watermark(ctx, "registry")
	if wm != "" {
		t.Errorf("watermark advanced to %q on failed import", wm)
	}
}
