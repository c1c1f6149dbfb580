// Package config loads the gateway configuration: a YAML file
// overridden by ACTEON_* environment variables, with defaults applied
// before validation. Validation collects every failing field rather
// than stopping at the first.
package config
