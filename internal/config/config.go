// Package config loads membersync.yaml: defaults first, then the file,
// then MEMBERSYNC_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/membersync/internal/alert"
	"github.com/roach88/membersync/internal/engine"
	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/portal"
)

// Trigger modes.
const (
	ModeScheduled = "scheduled"
	ModePush      = "push"
	ModeBoth      = "both"
)

// Registry modes.
const (
	RegistryLocal  = "local"
	RegistryRemote = "remote"
)

// Portal backends.
const (
	BackendMemory    = "memory"
	BackendSurrealDB = "surrealdb"
)

// Config is the whole of membersync.yaml.
type Config struct {
	Database string         `yaml:"database" validate:"required"`
	Mapping  string         `yaml:"mapping"`
	Sync     SyncConfig     `yaml:"sync"`
	Trigger  TriggerConfig  `yaml:"trigger"`
	Registry RegistryConfig `yaml:"registry"`
	Portal   PortalConfig   `yaml:"portal"`
	Server   ServerConfig   `yaml:"server"`
	Alerts   []alert.Config `yaml:"alerts" validate:"dive"`
}

// SyncConfig bounds the orchestrator and the alert thresholds.
type SyncConfig struct {
	BatchSize            int      `yaml:"batch_size" validate:"min=1,max=10000"`
	Workers              int      `yaml:"workers" validate:"min=1,max=256"`
	MaxRetries           int      `yaml:"max_retries" validate:"min=0"`
	BackoffBase          Duration `yaml:"backoff_base" validate:"gte=0"`
	BackoffCap           Duration `yaml:"backoff_cap" validate:"gtefield=BackoffBase"`
	ApplyTimeout         Duration `yaml:"apply_timeout" validate:"gt=0"`
	StaleClaimTimeout    Duration `yaml:"stale_claim_timeout" validate:"gt=0"`
	FailureRateThreshold float64  `yaml:"failure_rate_threshold" validate:"min=0,max=1"`
	MinAttemptsForRate   int      `yaml:"min_attempts_for_rate" validate:"min=1"`
}

type TriggerConfig struct {
	Mode          string   `yaml:"mode" validate:"oneof=scheduled push both"`
	Interval      Duration `yaml:"interval" validate:"gt=0"`
	RetryInterval Duration `yaml:"retry_interval" validate:"gt=0"`
	PushQueue     int      `yaml:"push_queue" validate:"min=1"`
}

type RegistryConfig struct {
	Mode     string `yaml:"mode" validate:"oneof=local remote"`
	BaseURL  string `yaml:"base_url" validate:"required_if=Mode remote,omitempty,url"`
	Token    string `yaml:"token"`
	PageSize int    `yaml:"page_size" validate:"min=1,max=500"`
}

type PortalConfig struct {
	Backend   string          `yaml:"backend" validate:"oneof=memory surrealdb"`
	SurrealDB SurrealDBConfig `yaml:"surrealdb"`
}

type SurrealDBConfig struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type ServerConfig struct {
	Addr  string `yaml:"addr" validate:"required"`
	Token string `yaml:"token"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: "./membersync.db",
		Sync: SyncConfig{
			BatchSize:            100,
			Workers:              4,
			MaxRetries:           5,
			BackoffBase:          Duration(30 * time.Second),
			BackoffCap:           Duration(time.Hour),
			ApplyTimeout:         Duration(10 * time.Second),
			StaleClaimTimeout:    Duration(5 * time.Minute),
			FailureRateThreshold: 0.5,
			MinAttemptsForRate:   4,
		},
		Trigger: TriggerConfig{
			Mode:          ModeScheduled,
			Interval:      Duration(24 * time.Hour),
			RetryInterval: Duration(time.Minute),
			PushQueue:     1024,
		},
		Registry: RegistryConfig{
			Mode:     RegistryLocal,
			PageSize: 200,
		},
		Portal: PortalConfig{
			Backend: BackendMemory,
			SurrealDB: SurrealDBConfig{
				URL:       "ws://localhost:8000/rpc",
				Namespace: "membersync",
				Database:  "portal",
			},
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path means defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// YAML overwrites only the fields it names.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEMBERSYNC_"

// ApplyEnv overrides fields from the environment. Secrets are usually set
// this way rather than in the file.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DATABASE":           &c.Database,
		"MAPPING":            &c.Mapping,
		"TRIGGER_MODE":       &c.Trigger.Mode,
		"REGISTRY_MODE":      &c.Registry.Mode,
		"REGISTRY_BASE_URL":  &c.Registry.BaseURL,
		"REGISTRY_TOKEN":     &c.Registry.Token,
		"PORTAL_BACKEND":     &c.Portal.Backend,
		"SURREALDB_URL":      &c.Portal.SurrealDB.URL,
		"SURREALDB_USERNAME": &c.Portal.SurrealDB.Username,
		"SURREALDB_PASSWORD": &c.Portal.SurrealDB.Password,
		"SERVER_ADDR":        &c.Server.Addr,
		"SERVER_TOKEN":       &c.Server.Token,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SYNC_BATCH_SIZE":  &c.Sync.BatchSize,
		"SYNC_WORKERS":     &c.Sync.Workers,
		"SYNC_MAX_RETRIES": &c.Sync.MaxRetries,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"TRIGGER_INTERVAL":       &c.Trigger.Interval,
		"TRIGGER_RETRY_INTERVAL": &c.Trigger.RetryInterval,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = Duration(d)
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks struct tags plus the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &Error{Problems: describe(verrs)}
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Portal.Backend == BackendSurrealDB {
		var problems []string
		sdb := c.Portal.SurrealDB
		if sdb.URL == "" {
			problems = append(problems, "portal.surrealdb.url is required for the surrealdb backend")
		}
		if sdb.Namespace == "" || sdb.Database == "" {
			problems = append(problems, "portal.surrealdb.namespace and database are required for the surrealdb backend")
		}
		if len(problems) > 0 {
			return &Error{Problems: problems}
		}
	}
	return nil
}

// Error lists every validation problem found.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid config: %d problems: %v", len(e.Problems), e.Problems)
}

func describe(verrs validator.ValidationErrors) []string {
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		out = append(out, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return out
}

// Engine returns the orchestrator settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		BatchSize:  c.Sync.BatchSize,
		Workers:    c.Sync.Workers,
		MaxRetries: c.Sync.MaxRetries,
		Backoff: engine.Backoff{
			Base: time.Duration(c.Sync.BackoffBase),
			Cap:  time.Duration(c.Sync.BackoffCap),
		},
		ApplyTimeout:      time.Duration(c.Sync.ApplyTimeout),
		StaleClaimTimeout: time.Duration(c.Sync.StaleClaimTimeout),
	}
}

// Surreal returns the Portal's SurrealDB connection settings.
func (c *Config) Surreal() portal.SurrealConfig {
	s := c.Portal.SurrealDB
	return portal.SurrealConfig{
		URL:       s.URL,
		Namespace: s.Namespace,
		Database:  s.Database,
		Username:  s.Username,
		Password:  s.Password,
	}
}

// PushEnabled reports whether the push trigger runs.
func (c *Config) PushEnabled() bool {
	return c.Trigger.Mode == ModePush || c.Trigger.Mode == ModeBoth
}

// ScheduleEnabled reports whether the scheduled trigger runs.
func (c *Config) ScheduleEnabled() bool {
	return c.Trigger.Mode == ModeScheduled || c.Trigger.Mode == ModeBoth
}

// Sweep returns how often serve drains both ledgers and the trigger name
// its runs are audited under. Push-only mode still needs a sweep: records
// waiting out a retry backoff, or freed from a stale claim, get no capture
// of their own to push them.
func (c *Config) Sweep() (time.Duration, string) {
	if c.ScheduleEnabled() {
		return time.Duration(c.Trigger.Interval), ir.TriggerScheduled
	}
	return time.Duration(c.Trigger.RetryInterval), ir.TriggerRetry
}
