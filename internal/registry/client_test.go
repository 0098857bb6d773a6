package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

func TestClient_ApplySendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/sync/apply", r.URL.Path)

		var batch ApplyBatch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		require.Len(t, batch.Changes, 1)
		assert.Equal(t, ir.Int(2), batch.Changes[0].Fields["gender"])

		json.NewEncoder(w).Encode(ApplyResponse{Results: []ApplyResult{
			NewApplyResult(batch.Changes[0].EntityKey, ir.OutcomeApplied, nil),
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "s3cret")
	outcome, err := c.Apply(context.Background(), ir.ApplyRequest{
		EntityKey: testKey, Action: ir.ActionUpdate,
		Fields: ir.Object{"gender": ir.Int(2)}, IdempotencyKey: "k",
	})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeApplied, outcome)
}

func TestClient_ApplyFailedResultKeepsClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ApplyResponse{Results: []ApplyResult{
			NewApplyResult(testKey, "", engine.ErrTargetAbsent),
		}})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Apply(context.Background(), ir.ApplyRequest{EntityKey: testKey, Action: ir.ActionUpdate})
	assert.ErrorIs(t, err, engine.ErrTargetAbsent)
	assert.Equal(t, engine.ClassTargetAbsent, engine.Classify(err))
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"5xx transient", http.StatusBadGateway, func(t *testing.T, err error) {
			assert.True(t, engine.IsTransient(err))
		}},
		{"429 transient", http.StatusTooManyRequests, func(t *testing.T, err error) {
			assert.True(t, engine.IsTransient(err))
		}},
		{"4xx permanent", http.StatusBadRequest, func(t *testing.T, err error) {
			assert.True(t, engine.IsPermanent(err))
		}},
		{"404 not found", http.StatusNotFound, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, store.ErrNotFound)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "").Snapshot(context.Background(), testKey)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_BreakerOpensOnRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ctx := context.Background()
	for i := 0; i < breakerFailures; i++ {
		_, err := c.Changes(ctx, time.Time{}, 0, 10)
		require.Error(t, err)
	}

	_, err := c.Changes(ctx, time.Time{}, 0, 10)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.True(t, engine.IsTransient(err))
	assert.Equal(t, int32(breakerFailures), hits.Load(), "open breaker must not reach the server")
}

func TestClient_PermanentErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	for i := 0; i < breakerFailures*2; i++ {
		_, err := c.MarkSynced(context.Background(), []string{"x"})
		require.Error(t, err)
		assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}
}
