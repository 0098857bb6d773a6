package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

// decodeData unmarshals the data of a JSON CLIResponse into T.
func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v), out)
	return v
}

// failedRecord writes one failed portal record straight into the ledger
// and returns its id.
func failedRecord(t *testing.T, dbPath string) string {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Append(ctx, ir.ChangeRecord{
		Side:          ir.SidePortal,
		EntityKey:     "0101701234",
		Action:        ir.ActionUpdate,
		ChangedFields: ir.Object{"email": ir.String("jon@example.is")},
	})
	require.NoError(t, err)
	batch, err := s.ClaimBatch(ctx, ir.SidePortal, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, s.MarkFailed(ctx, batch[0], ir.OutcomeRejected, "rejected by registry"))
	return rec.ID
}

func TestMappingCommands(t *testing.T) {
	out, err := execute(t, "mapping", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "built-in default valid")

	out, err = execute(t, "--format", "json", "mapping", "show")
	require.NoError(t, err)
	table := decodeData[MappingResult](t, out)
	assert.True(t, table.Valid)

	byName := map[string]MappingField{}
	for _, f := range table.Fields {
		byName[f.Name] = f
	}
	assert.Equal(t, "profile.gender", byName["gender"].PortalPath)
	assert.Equal(t, "gender", byName["gender"].Enum)
	assert.Equal(t, "registry_to_portal", byName["membership_status"].Direction)
	assert.NotEmpty(t, byName["address"].Parts)

	bad := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte("fields: {\n\tname: 12\n}\n"), 0o644))
	_, err = execute(t, "mapping", "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestMemberSyncLedgerFlow(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, "--config", cfg, "--format", "json",
		"member", "put", "010170-1234", "--side", "registry", "--fields", `{"name":"Jon Jonsson","gender":1}`)
	require.NoError(t, err)
	rec := decodeData[ir.ChangeRecord](t, out)
	assert.Equal(t, ir.ActionCreate, rec.Action)
	assert.Equal(t, "0101701234", rec.EntityKey)

	out, err = execute(t, "--config", cfg, "--format", "json", "member", "get", "0101701234")
	require.NoError(t, err)
	fields := decodeData[map[string]any](t, out)
	assert.Equal(t, "Jon Jonsson", fields["name"])

	out, err = execute(t, "--config", cfg, "--format", "json", "ledger", "list", "--side", "registry", "--status", "pending")
	require.NoError(t, err)
	assert.Len(t, decodeData[[]ir.ChangeRecord](t, out), 1)

	out, err = execute(t, "--config", cfg, "--format", "json", "sync", "--direction", "r2p")
	require.NoError(t, err)
	result := decodeData[SyncResult](t, out)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, ir.TriggerManual, result.Runs[0].Trigger)
	assert.Equal(t, 1, result.Runs[0].Succeeded)

	out, err = execute(t, "--config", cfg, "--format", "json", "ledger", "list", "--status", "synced")
	require.NoError(t, err)
	assert.Len(t, decodeData[[]ir.ChangeRecord](t, out), 1)

	out, err = execute(t, "--config", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ledgers healthy")
	assert.Contains(t, out, "registry_to_portal")

	_, err = execute(t, "--config", cfg, "member", "delete", "0101701234")
	require.NoError(t, err)
	_, err = execute(t, "--config", cfg, "member", "delete", "0101701234")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestMemberPut_Rejects(t *testing.T) {
	cfg := writeConfig(t, "")

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"float field", []string{"put", "0101701234", "--fields", `{"gender":1.5}`}, ExitCommandError},
		{"empty fields", []string{"put", "0101701234", "--fields", `{}`}, ExitCommandError},
		{"unknown side", []string{"put", "0101701234", "--side", "crm", "--fields", `{"name":"x"}`}, ExitCommandError},
		{"memory portal", []string{"put", "0101701234", "--side", "portal", "--fields", `{"name":"x"}`}, ExitCommandError},
		{"enum token on registry side", []string{"put", "0101701234", "--fields", `{"gender":"female"}`}, ExitFailure},
		{"unmapped field", []string{"put", "0101701234", "--fields", `{"shoe_size":"42"}`}, ExitFailure},
		{"bad key", []string{"put", "12", "--fields", `{"name":"x"}`}, ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfg, "member"}, tt.args...)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
		})
	}
}

func TestSync_Flags(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, "--config", cfg, "sync", "--direction", "sideways")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "--config", cfg, "sync", "--entity", "0101701234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--entity requires --direction")

	out, err := execute(t, "--config", cfg, "--format", "json", "sync")
	require.NoError(t, err)
	result := decodeData[SyncResult](t, out)
	require.Len(t, result.Runs, 2)
	assert.Equal(t, ir.RegistryToPortal, result.Runs[0].Direction)
	assert.Equal(t, ir.PortalToRegistry, result.Runs[1].Direction)
}

func TestStatusAndRetry(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "ledger.db")
	cfg := filepath.Join(dir, "membersync.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("database: "+db+"\n"), 0o644))
	id := failedRecord(t, db)

	out, err := execute(t, "--config", cfg, "--format", "json", "status")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	status := decodeData[StatusResult](t, out)
	assert.False(t, status.Health.Healthy)

	out, err = execute(t, "--config", cfg, "--format", "json", "ledger", "list", "--status", "failed")
	require.NoError(t, err)
	failed := decodeData[[]ir.ChangeRecord](t, out)
	require.Len(t, failed, 1)
	assert.Equal(t, "rejected by registry", failed[0].LastError)

	_, err = execute(t, "--config", cfg, "ledger", "retry", id)
	require.NoError(t, err)

	_, err = execute(t, "--config", cfg, "ledger", "retry", id)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute(t, "--config", cfg, "status")
	require.NoError(t, err)
}

func TestTestCommand(t *testing.T) {
	src := filepath.Join("..", "harness", "testdata")
	dir := t.TempDir()
	copyFile(t, filepath.Join(src, "scenarios", "registry-create-reaches-portal.yaml"), filepath.Join(dir, "registry-create-reaches-portal.yaml"))
	copyFile(t, filepath.Join(src, "scenarios", "transient-retry-then-success.yaml"), filepath.Join(dir, "transient-retry-then-success.yaml"))
	copyFile(t, filepath.Join(src, "golden", "registry-create-reaches-portal.golden"), filepath.Join(dir, "golden", "registry-create-reaches-portal.golden"))

	out, err := execute(t, "--format", "json", "test", dir)
	require.NoError(t, err)
	result := decodeData[TestResult](t, out)
	require.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, "match", result.Scenarios[0].Golden)
	assert.Equal(t, "none", result.Scenarios[1].Golden)

	out, err = execute(t, "test", dir, "--filter", "transient-*", "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")
	assert.FileExists(t, filepath.Join(dir, "golden", "transient-retry-then-success.golden"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "registry-create-reaches-portal.golden"), []byte("{}\n"), 0o644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "does not match golden file")

	_, err = execute(t, "test", filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func copyFile(t *testing.T, from, to string) {
	t.Helper()
	data, err := os.ReadFile(from)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(to), 0o755))
	require.NoError(t, os.WriteFile(to, data, 0o644))
}
