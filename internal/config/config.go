// Package config loads the platform's runtime configuration the way the
// teacher's pkg/config does: env-tag driven structs decoded with envdecode,
// an optional .env file for local development, and an optional YAML
// overlay for file-based deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig controls the manifest store's Postgres connection.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifeSecs int    `yaml:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME_SECONDS"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// LifecycleConfig controls compaction/retention defaults (C4).
type LifecycleConfig struct {
	TargetPartitionBytes   int64 `yaml:"target_partition_bytes" env:"LIFECYCLE_TARGET_PARTITION_BYTES"`
	SmallPartitionBytes    int64 `yaml:"small_partition_bytes" env:"LIFECYCLE_SMALL_PARTITION_BYTES"`
	MaxPartitionsPerGroup  int   `yaml:"max_partitions_per_group" env:"LIFECYCLE_MAX_PARTITIONS_PER_GROUP"`
	ChunkPartitionLimit    int   `yaml:"chunk_partition_limit" env:"LIFECYCLE_CHUNK_PARTITION_LIMIT"`
	AuditRetentionHours    int   `yaml:"audit_retention_hours" env:"LIFECYCLE_AUDIT_RETENTION_HOURS"`
	AuditPruneBatchSize    int   `yaml:"audit_prune_batch_size" env:"LIFECYCLE_AUDIT_PRUNE_BATCH_SIZE"`
	ChunkHistoryCapacity   int   `yaml:"chunk_history_capacity" env:"LIFECYCLE_CHUNK_HISTORY_CAPACITY"`
}

// TriggerConfig controls defaults for the event & schedule engine (C7).
type TriggerConfig struct {
	DefaultThrottleWindowMs int64 `yaml:"default_throttle_window_ms" env:"TRIGGER_DEFAULT_THROTTLE_WINDOW_MS"`
	DefaultThrottleCount    int   `yaml:"default_throttle_count" env:"TRIGGER_DEFAULT_THROTTLE_COUNT"`
	PauseFailureThreshold   int   `yaml:"pause_failure_threshold" env:"TRIGGER_PAUSE_FAILURE_THRESHOLD"`
	PauseBackoffSeconds     int   `yaml:"pause_backoff_seconds" env:"TRIGGER_PAUSE_BACKOFF_SECONDS"`
}

// SchedulerConfig controls cron schedule materialization (C7).
type SchedulerConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds" env:"SCHEDULER_TICK_INTERVAL_SECONDS"`
	MaxCatchUpFires     int `yaml:"max_catch_up_fires" env:"SCHEDULER_MAX_CATCH_UP_FIRES"`
}

// ServiceClientConfig controls the executor's external service-step calls.
type ServiceClientConfig struct {
	TimeoutMs            int  `yaml:"timeout_ms" env:"SERVICE_CLIENT_TIMEOUT_MS"`
	DisableLoopbackRewrite bool `yaml:"disable_loopback_rewrite" env:"SERVICE_CLIENT_DISABLE_LOOPBACK_REWRITE"`
	LoopbackHostOverride  string `yaml:"loopback_host_override" env:"SERVICE_CLIENT_LOOPBACK_HOST_OVERRIDE"`
}

// Config is the top-level configuration structure.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Lifecycle     LifecycleConfig     `yaml:"lifecycle"`
	Trigger       TriggerConfig       `yaml:"trigger"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	ServiceClient ServiceClientConfig `yaml:"service_client"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifeSecs: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Lifecycle: LifecycleConfig{
			TargetPartitionBytes:  256 * 1024 * 1024,
			SmallPartitionBytes:   64 * 1024 * 1024,
			MaxPartitionsPerGroup: 64,
			ChunkPartitionLimit:   8,
			AuditRetentionHours:   24 * 90,
			AuditPruneBatchSize:   1000,
			ChunkHistoryCapacity:  50,
		},
		Trigger: TriggerConfig{
			DefaultThrottleWindowMs: 60_000,
			DefaultThrottleCount:    10,
			PauseFailureThreshold:   5,
			PauseBackoffSeconds:     300,
		},
		Scheduler: SchedulerConfig{
			TickIntervalSeconds: 15,
			MaxCatchUpFires:     100,
		},
		ServiceClient: ServiceClientConfig{
			TimeoutMs: 60_000,
		},
	}
}

// Timeout converts TimeoutMs to a time.Duration.
func (c ServiceClientConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Load builds a Config from defaults, an optional YAML file, a .env file,
// and environment variables, in that order of increasing precedence.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absent .env is not an error

	cfg := New()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read yaml: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("config: decode env: %w", err)
	}

	return cfg, nil
}
