package store

import (
	"context"
	"testing"
	"time"

	"github.com/roach88/membersync/internal/ir"
)

func TestWriteRun_ListRuns(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	base := clock.Now()
	runs := []ir.AuditEntry{
		{RunID: "run-1", Direction: ir.RegistryToPortal, Trigger: ir.TriggerScheduled,
			StartedAt: base, CompletedAt: base.Add(time.Second), Attempted: 3, Succeeded: 2, Failed: 1,
			ErrorSummary: "1 failed"},
		{RunID: "run-2", Direction: ir.PortalToRegistry, Trigger: ir.TriggerPush, EntityKey: "0101701234",
			StartedAt: base.Add(time.Minute), CompletedAt: base.Add(time.Minute)},
	}
	for _, run := range runs {
		if err := s.WriteRun(ctx, run); err != nil {
			t.Fatalf("WriteRun() failed: %v", err)
		}
	}
	if err := s.WriteRun(ctx, runs[0]); err != nil {
		t.Fatalf("duplicate WriteRun() failed: %v", err)
	}

	all, err := s.ListRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(all) != 2 || all[0].RunID != "run-2" {
		t.Fatalf("runs = %+v", all)
	}
	if all[0].EntityKey != "0101701234" || all[0].Trigger != ir.TriggerPush {
		t.Errorf("run-2 = %+v", all[0])
	}

	r2p, err := s.ListRuns(ctx, ir.RegistryToPortal, 10)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(r2p) != 1 || r2p[0].Failed != 1 || r2p[0].ErrorSummary != "1 failed" {
		t.Errorf("r2p runs = %+v", r2p)
	}
	if !r2p[0].CompletedAt.Equal(base.Add(time.Second)) {
		t.Errorf("completed_at = %v", r2p[0].CompletedAt)
	}
}

func TestWatermark_Missing(t *testing.T) {
	s, _ := createTestStore(t)
	wm, err := s.Watermark(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Watermark() failed: %v", err)
	}
	if wm != "" {
		t.Errorf("watermark = %q, want empty", wm)
	}
}

func TestReceipts(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	r := Receipt{IdempotencyKey: "k1", EntityKey: "A", Action: ir.ActionUpdate, Outcome: ir.OutcomeApplied}
	fresh, err := s.PutReceipt(ctx, nil, r)
	if err != nil {
		t.Fatalf("PutReceipt() failed: %v", err)
	}
	if !fresh {
		t.Error("first PutReceipt() not fresh")
	}
	fresh, err = s.PutReceipt(ctx, nil, r)
	if err != nil {
		t.Fatalf("PutReceipt() failed: %v", err)
	}
	if fresh {
		t.Error("second PutReceipt() reported fresh")
	}

	got, ok, err := s.Receipt(ctx, nil, "k1")
	if err != nil || !ok {
		t.Fatalf("Receipt() = %v, %v", ok, err)
	}
	if got != r {
		t.Errorf("receipt = %+v, want %+v", got, r)
	}

	_, ok, err = s.Receipt(ctx, nil, "k2")
	if err != nil || ok {
		t.Errorf("missing receipt = %v, %v", ok, err)
	}
}
