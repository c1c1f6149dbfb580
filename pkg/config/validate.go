package config

import (
	"fmt"
	"strings"
)

// FieldError is a validation failure on one configuration field.
type FieldError struct {
	// Field is the dotted path, e.g. "state.backend".
	Field string

	// Message describes the failure.
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates every field failure in one configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "configuration validation failed"
	case 1:
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks the configuration, collecting all failures.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		add("logging.format", "must be json or text, got %q", cfg.Logging.Format)
	}

	switch cfg.State.Backend {
	case "memory":
	case "bolt":
		if cfg.State.Path == "" {
			add("state.path", "required for the bolt backend")
		}
	default:
		add("state.backend", "must be memory or bolt, got %q", cfg.State.Backend)
	}

	if cfg.Rules.Dir == "" {
		add("rules.dir", "must not be empty")
	}
	if cfg.Rules.Timezone != "" {
		if err := checkTimezone(cfg.Rules.Timezone); err != nil {
			add("rules.timezone", "unknown timezone %q", cfg.Rules.Timezone)
		}
	}

	switch cfg.Audit.Backend {
	case "memory":
	case "sqlite":
		if cfg.Audit.Path == "" {
			add("audit.path", "required for the sqlite backend")
		}
	default:
		add("audit.backend", "must be memory or sqlite, got %q", cfg.Audit.Backend)
	}
	if cfg.Audit.RetentionDays < 0 {
		add("audit.retention_days", "must not be negative, got %d", cfg.Audit.RetentionDays)
	}

	for i := range cfg.Providers {
		if err := cfg.Providers[i].Validate(); err != nil {
			add(fmt.Sprintf("providers[%d]", i), "%v", err)
		}
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
