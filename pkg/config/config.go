package config

import (
	"time"

	"penserai/acteon/pkg/provider"
)

// Config is the root configuration for the gateway process.
type Config struct {
	// Logging configures the process-wide structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// State selects and configures the coordination backend.
	State StateConfig `yaml:"state"`

	// Rules locates the rule files and controls hot reload.
	Rules RulesConfig `yaml:"rules"`

	// Dispatch tunes the pipeline: locking, dedup, batching, quota
	// caching.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Executor tunes provider execution and retry.
	Executor ExecutorConfig `yaml:"executor"`

	// Audit configures the audit store and retention.
	Audit AuditConfig `yaml:"audit"`

	// Providers lists the webhook providers to register at startup.
	Providers []provider.WebhookConfig `yaml:"providers"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default info.
	Level string `yaml:"level" env:"ACTEON_LOG_LEVEL"`

	// Format is json or text. Default json.
	Format string `yaml:"format" env:"ACTEON_LOG_FORMAT"`
}

// StateConfig selects the coordination backend.
type StateConfig struct {
	// Backend is memory or bolt. Default memory.
	Backend string `yaml:"backend" env:"ACTEON_STATE_BACKEND"`

	// Path is the database file for the bolt backend.
	Path string `yaml:"path" env:"ACTEON_STATE_PATH"`

	// CleanupInterval is the expired-entry sweep interval of the
	// memory backend.
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"ACTEON_STATE_CLEANUP_INTERVAL"`
}

// RulesConfig locates rule files.
type RulesConfig struct {
	// Dir holds the *.yaml rule files.
	Dir string `yaml:"dir" env:"ACTEON_RULES_DIR"`

	// Watch reloads the rule set when files change.
	Watch bool `yaml:"watch" env:"ACTEON_RULES_WATCH"`

	// Timezone is the default zone for time-based conditions.
	Timezone string `yaml:"timezone" env:"ACTEON_RULES_TIMEZONE"`
}

// DispatchConfig tunes the pipeline.
type DispatchConfig struct {
	// LockTTL bounds a crashed dispatcher's lock hold. Default 30s.
	LockTTL time.Duration `yaml:"lock_ttl" env:"ACTEON_DISPATCH_LOCK_TTL"`

	// LockTimeout bounds the wait for the per-action lock. Default 10s.
	LockTimeout time.Duration `yaml:"lock_timeout" env:"ACTEON_DISPATCH_LOCK_TIMEOUT"`

	// DedupTTL is the default dedup marker lifetime. Default 5m.
	DedupTTL time.Duration `yaml:"dedup_ttl" env:"ACTEON_DISPATCH_DEDUP_TTL"`

	// BatchWorkers bounds batch dispatch concurrency. Default 32.
	BatchWorkers int `yaml:"batch_workers" env:"ACTEON_DISPATCH_BATCH_WORKERS"`

	// QuotaCacheTTL bounds quota policy staleness. Default 60s.
	QuotaCacheTTL time.Duration `yaml:"quota_cache_ttl" env:"ACTEON_DISPATCH_QUOTA_CACHE_TTL"`
}

// ExecutorConfig tunes provider execution.
type ExecutorConfig struct {
	// MaxConcurrent bounds simultaneous executions. Default 16.
	MaxConcurrent int `yaml:"max_concurrent" env:"ACTEON_EXECUTOR_MAX_CONCURRENT"`

	// MaxRetries is the retry count after the first attempt. Default 3.
	MaxRetries int `yaml:"max_retries" env:"ACTEON_EXECUTOR_MAX_RETRIES"`

	// Timeout bounds each attempt. Default 30s.
	Timeout time.Duration `yaml:"timeout" env:"ACTEON_EXECUTOR_TIMEOUT"`
}

// AuditConfig configures the audit store.
type AuditConfig struct {
	// Backend is memory or sqlite. Default sqlite.
	Backend string `yaml:"backend" env:"ACTEON_AUDIT_BACKEND"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path" env:"ACTEON_AUDIT_PATH"`

	// Async writes audit records off the dispatch path.
	Async bool `yaml:"async" env:"ACTEON_AUDIT_ASYNC"`

	// RetentionDays expires records after this many days; zero keeps
	// them forever.
	RetentionDays int `yaml:"retention_days" env:"ACTEON_AUDIT_RETENTION_DAYS"`

	// RetentionSchedule is the cron expression for pruning.
	RetentionSchedule string `yaml:"retention_schedule" env:"ACTEON_AUDIT_RETENTION_SCHEDULE"`
}
