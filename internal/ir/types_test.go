package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFieldNaming(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := ChangeRecord{
		Seq:           7,
		ID:            "chg-1",
		Side:          SideRegistry,
		EntityKey:     "0101701234",
		Action:        ActionUpdate,
		ChangedFields: Object{"name": String("Jon")},
		ContentHash:   "abc",
		Status:        StatusPending,
		CreatedAt:     now,
		NextAttemptAt: now,
		ClaimToken:    "secret-token",
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	for _, key := range []string{`"entity_key"`, `"changed_fields"`, `"content_hash"`, `"next_attempt_at"`, `"retry_count"`} {
		assert.Contains(t, string(data), key)
	}
	assert.NotContains(t, string(data), `"entityKey"`)
	assert.NotContains(t, string(data), "secret-token", "claim tokens never leave the ledger")
}

func TestChangeRecordRoundTrip(t *testing.T) {
	synced := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	rec := ChangeRecord{
		Seq:       3,
		ID:        "chg-3",
		Side:      SidePortal,
		EntityKey: "0101701234",
		Action:    ActionCreate,
		ChangedFields: Object{
			"gender":    String("female"),
			"reachable": Bool(true),
			"phone":     Null{},
		},
		Status:     StatusSynced,
		Outcome:    OutcomeAlreadyApplied,
		CreatedAt:  synced.Add(-time.Minute),
		SyncedAt:   &synced,
		RetryCount: 2,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var got ChangeRecord
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, rec.ChangedFields, got.ChangedFields)
	assert.Equal(t, OutcomeAlreadyApplied, got.Outcome)
	require.NotNil(t, got.SyncedAt)
	assert.True(t, synced.Equal(*got.SyncedAt))
}

func TestApplyRequest_DeleteOmitsChanges(t *testing.T) {
	data, err := json.Marshal(ApplyRequest{EntityKey: "0101701234", Action: ActionDelete, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "changes")

	data, err = json.Marshal(ApplyRequest{EntityKey: "0101701234", Action: ActionUpdate, Fields: Object{"email": String("a@b.is")}, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"changes":{"email":"a@b.is"}`)
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
		ok   bool
	}{
		{"registry_to_portal", RegistryToPortal, true},
		{"r2p", RegistryToPortal, true},
		{"portal_to_registry", PortalToRegistry, true},
		{"p2r", PortalToRegistry, true},
		{"both", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDirection(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDirectionSides(t *testing.T) {
	assert.Equal(t, SideRegistry, RegistryToPortal.Source())
	assert.Equal(t, SidePortal, PortalToRegistry.Source())
	assert.Equal(t, RegistryToPortal, SideRegistry.Outbound())
	assert.Equal(t, PortalToRegistry, SidePortal.Outbound())
	assert.False(t, Direction("sideways").Valid())
	assert.Equal(t, []Direction{RegistryToPortal, PortalToRegistry}, Directions)
}

func TestAuditEntry_FailureRate(t *testing.T) {
	assert.Zero(t, AuditEntry{}.FailureRate())
	assert.InDelta(t, 0.25, AuditEntry{Attempted: 8, Failed: 2}.FailureRate(), 1e-9)
}
