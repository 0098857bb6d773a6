package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/membersync/internal/alert"
	"github.com/roach88/membersync/internal/ir"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "membersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_FileOverridesOnlyNamedFields(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/membersync.db
sync:
  workers: 8
  backoff_base: 1m
trigger:
  mode: both
  interval: 1h
alerts:
  - url: https://hooks.example/alert
    format: slack
    events: [record_failed, failure_rate]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/membersync.db", cfg.Database)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, 100, cfg.Sync.BatchSize, "unnamed fields keep defaults")
	assert.Equal(t, Duration(time.Minute), cfg.Sync.BackoffBase)
	assert.Equal(t, Duration(time.Hour), cfg.Sync.BackoffCap)
	assert.True(t, cfg.PushEnabled())
	assert.True(t, cfg.ScheduleEnabled())
	require.Len(t, cfg.Alerts, 1)
	assert.Equal(t, "slack", cfg.Alerts[0].Format)

	ec := cfg.Engine()
	assert.Equal(t, 8, ec.Workers)
	assert.Equal(t, time.Minute, ec.Backoff.Base)
	assert.Equal(t, 10*time.Second, ec.ApplyTimeout)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "sync:\n  apply_timeout: 10\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero workers", func(c *Config) { c.Sync.Workers = 0 }, "Workers"},
		{"unknown trigger mode", func(c *Config) { c.Trigger.Mode = "cron" }, "Mode"},
		{"cap below base", func(c *Config) { c.Sync.BackoffCap = Duration(time.Second) }, "BackoffCap"},
		{"remote without url", func(c *Config) { c.Registry.Mode = RegistryRemote }, "BaseURL"},
		{"page size over limit", func(c *Config) { c.Registry.PageSize = 501 }, "PageSize"},
		{"rate over one", func(c *Config) { c.Sync.FailureRateThreshold = 1.5 }, "FailureRateThreshold"},
		{"alert without events", func(c *Config) {
			c.Alerts = append(c.Alerts, alertConfig("https://hooks.example/a"))
		}, "Events"},
		{"surrealdb without namespace", func(c *Config) {
			c.Portal.Backend = BackendSurrealDB
			c.Portal.SurrealDB.Namespace = ""
		}, "namespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MEMBERSYNC_SERVER_TOKEN":      "s3cret",
		"MEMBERSYNC_SYNC_WORKERS":      "2",
		"MEMBERSYNC_TRIGGER_INTERVAL":  "15m",
		"MEMBERSYNC_REGISTRY_BASE_URL": "https://registry.example",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "s3cret", cfg.Server.Token)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.Equal(t, Duration(15*time.Minute), cfg.Trigger.Interval)
	assert.Equal(t, "https://registry.example", cfg.Registry.BaseURL)

	cfg = Default()
	require.NoError(t, cfg.ApplyEnv(noEnv))
	assert.Equal(t, Default(), cfg)

	env["MEMBERSYNC_SYNC_WORKERS"] = "many"
	require.Error(t, Default().ApplyEnv(lookup))
}

func TestSweep(t *testing.T) {
	tests := []struct {
		mode     string
		interval time.Duration
		trigger  string
	}{
		{ModeScheduled, 24 * time.Hour, ir.TriggerScheduled},
		{ModeBoth, 24 * time.Hour, ir.TriggerScheduled},
		{ModePush, time.Minute, ir.TriggerRetry},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := Default()
			cfg.Trigger.Mode = tt.mode
			interval, name := cfg.Sweep()
			assert.Equal(t, tt.interval, interval)
			assert.Equal(t, tt.trigger, name)
		})
	}

	cfg := Default()
	cfg.Trigger.Mode = ModePush
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		return "30s", k == "MEMBERSYNC_TRIGGER_RETRY_INTERVAL"
	}))
	interval, _ := cfg.Sweep()
	assert.Equal(t, 30*time.Second, interval)
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "d: 1m30s\n", string(out))
}

func alertConfig(url string) alert.Config {
	return alert.Config{URL: url}
}
