package config

import "time"

// Default values applied before validation.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultStateBackend         = "memory"
	DefaultStateCleanupInterval = time.Minute

	DefaultRulesDir = "./rules"

	DefaultLockTTL       = 30 * time.Second
	DefaultLockTimeout   = 10 * time.Second
	DefaultDedupTTL      = 5 * time.Minute
	DefaultBatchWorkers  = 32
	DefaultQuotaCacheTTL = time.Minute

	DefaultExecutorMaxConcurrent = 16
	DefaultExecutorMaxRetries    = 3
	DefaultExecutorTimeout       = 30 * time.Second

	DefaultAuditBackend           = "sqlite"
	DefaultAuditPath              = "data/audit.db"
	DefaultAuditRetentionDays     = 90
	DefaultAuditRetentionSchedule = "0 3 * * *"
)

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = DefaultStateBackend
	}
	if cfg.State.CleanupInterval <= 0 {
		cfg.State.CleanupInterval = DefaultStateCleanupInterval
	}

	if cfg.Rules.Dir == "" {
		cfg.Rules.Dir = DefaultRulesDir
	}

	if cfg.Dispatch.LockTTL <= 0 {
		cfg.Dispatch.LockTTL = DefaultLockTTL
	}
	if cfg.Dispatch.LockTimeout <= 0 {
		cfg.Dispatch.LockTimeout = DefaultLockTimeout
	}
	if cfg.Dispatch.DedupTTL <= 0 {
		cfg.Dispatch.DedupTTL = DefaultDedupTTL
	}
	if cfg.Dispatch.BatchWorkers <= 0 {
		cfg.Dispatch.BatchWorkers = DefaultBatchWorkers
	}
	if cfg.Dispatch.QuotaCacheTTL <= 0 {
		cfg.Dispatch.QuotaCacheTTL = DefaultQuotaCacheTTL
	}

	if cfg.Executor.MaxConcurrent <= 0 {
		cfg.Executor.MaxConcurrent = DefaultExecutorMaxConcurrent
	}
	if cfg.Executor.MaxRetries < 0 {
		cfg.Executor.MaxRetries = DefaultExecutorMaxRetries
	}
	if cfg.Executor.Timeout <= 0 {
		cfg.Executor.Timeout = DefaultExecutorTimeout
	}

	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	if cfg.Audit.Backend == "sqlite" && cfg.Audit.Path == "" {
		cfg.Audit.Path = DefaultAuditPath
	}
	if cfg.Audit.RetentionSchedule == "" {
		cfg.Audit.RetentionSchedule = DefaultAuditRetentionSchedule
	}
}
