package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure. The kind determines both the
// error code surfaced in Failed outcomes and whether the executor may
// retry.
type ErrorKind string

const (
	// KindConnection covers network-level failures. Retryable.
	KindConnection ErrorKind = "CONNECTION"
	// KindTimeout covers deadline expiry. Retryable.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindRateLimited covers provider-side throttling. Retryable.
	KindRateLimited ErrorKind = "RATE_LIMITED"
	// KindSerialization covers malformed payloads. Not retryable.
	KindSerialization ErrorKind = "SERIALIZATION"
	// KindConfiguration covers provider misconfiguration. Not retryable.
	KindConfiguration ErrorKind = "CONFIGURATION"
	// KindExecutionFailed covers definitive provider rejection. Not
	// retryable.
	KindExecutionFailed ErrorKind = "EXECUTION_FAILED"
	// KindNotFound covers an unknown provider name. Not retryable.
	KindNotFound ErrorKind = "PROVIDER_NOT_FOUND"
)

// Error is the typed provider failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("provider: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure class is transient.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConnection, KindTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}

// Errorf builds a typed provider error.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a typed provider error around a cause.
func Wrap(kind ErrorKind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Classify extracts the *Error from err, wrapping unknown errors as
// ExecutionFailed.
func Classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindExecutionFailed, Message: err.Error(), Err: err}
}
