package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roach88/membersync/internal/ir"
)

type captured struct {
	mu     sync.Mutex
	bodies [][]byte
	header http.Header
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.header = r.Header.Clone()
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestNewDispatcherNilWithoutConfigs(t *testing.T) {
	if d := NewDispatcher(nil); d != nil {
		t.Fatal("expected nil dispatcher for empty configs")
	}
}

func TestRecordFailedSendsMaskedEvent(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	d := NewDispatcher([]Config{
		{URL: srv.URL, Events: []string{EventRecordFailed}, Headers: map[string]string{"X-Token": "abc"}},
	}, WithClock(fixedNow))

	d.RecordFailed(context.Background(), ir.RegistryToPortal, ir.ChangeRecord{ID: "c1", EntityKey: "0101701234"}, "validation: gender: unmapped code 9")
	d.Wait()

	if len(c.bodies) != 1 {
		t.Fatalf("expected 1 call, got %d", len(c.bodies))
	}
	var got Event
	if err := json.Unmarshal(c.bodies[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Event{
		Timestamp: "2025-03-01T12:00:00Z",
		Type:      EventRecordFailed,
		Direction: "registry_to_portal",
		EntityKey: ir.MaskKey("0101701234"),
		ChangeID:  "c1",
		Reason:    "validation: gender: unmapped code 9",
	}
	if got != want {
		t.Errorf("event = %+v, want %+v", got, want)
	}
	if c.header.Get("X-Token") != "abc" {
		t.Errorf("custom header not sent")
	}
}

func TestRunCompletedThreshold(t *testing.T) {
	tests := []struct {
		name      string
		attempted int
		failed    int
		wantCalls int32
	}{
		{"below min attempts", 3, 3, 0},
		{"at threshold", 4, 2, 0},
		{"above threshold", 4, 3, 1},
		{"clean run", 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called.Add(1)
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			d := NewDispatcher([]Config{
				{URL: srv.URL, Events: []string{EventFailureRate}},
			}, WithFailureRate(0.5, 4))

			d.RunCompleted(context.Background(), ir.AuditEntry{
				RunID:     "run-1",
				Direction: ir.PortalToRegistry,
				Attempted: tt.attempted,
				Failed:    tt.failed,
			})
			d.Wait()

			if called.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", called.Load(), tt.wantCalls)
			}
		})
	}
}

func TestDispatchSkipsUnsubscribed(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]Config{
		{URL: srv.URL, Events: []string{EventFailureRate}},
	})
	d.RecordFailed(context.Background(), ir.RegistryToPortal, ir.ChangeRecord{ID: "c1"}, "boom")
	d.Wait()

	if called.Load() != 0 {
		t.Errorf("expected 0 calls, got %d", called.Load())
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Send(context.Background(), srv.Client(), Config{URL: srv.URL}, Event{Type: EventRecordFailed}, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", called.Load())
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := Send(context.Background(), srv.Client(), Config{URL: srv.URL}, Event{}, time.Millisecond)
	if err == nil {
		t.Fatal("expected error")
	}
	if called.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", called.Load())
	}
}

func TestFormatSlack(t *testing.T) {
	body, err := FormatPayload("slack", Event{
		Type:        EventFailureRate,
		Direction:   "registry_to_portal",
		RunID:       "run-1",
		Attempted:   4,
		Failed:      3,
		FailureRate: 0.75,
	})
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	var payload struct {
		Blocks []struct {
			Type   string                  `json:"type"`
			Text   struct{ Text string }   `json:"text"`
			Fields []struct{ Text string } `json:"fields"`
		} `json:"blocks"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(payload.Blocks))
	}
	if got := payload.Blocks[0].Text.Text; got != "membersync: failure_rate" {
		t.Errorf("header = %q", got)
	}
	fields := payload.Blocks[1].Fields
	if len(fields) != 3 || fields[2].Text != "*Failed:* 3 of 4 (75%)" {
		t.Errorf("fields = %+v", fields)
	}
}
