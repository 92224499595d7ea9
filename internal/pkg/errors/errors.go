// Package errors provides the structured error taxonomy for Loom.
//
// Every failure the dispatch pipeline can produce falls into one of five
// kinds. Schema, business-rule, and routing errors are terminal for the
// request and are converted into a fail result at the dispatch boundary.
// Concurrency conflicts and internal errors propagate to the process host,
// which owns retry policy.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a DomainError for propagation decisions.
type Kind string

const (
	// KindSchemaValidation marks a malformed command payload. Rejected
	// before any state change, never retryable.
	KindSchemaValidation Kind = "schema_validation"

	// KindBusinessRule marks a domain-level rejection. The rule that
	// raised it decides whether resubmission can succeed (Retryable).
	KindBusinessRule Kind = "business_rule"

	// KindConcurrencyConflict marks an event-store version mismatch.
	// The caller must reload and retry, never drop the write silently.
	KindConcurrencyConflict Kind = "concurrency_conflict"

	// KindRouting marks a command/event with no handler, no aggregate
	// mapping, and no matching saga. Fatal for the request.
	KindRouting Kind = "routing"

	// KindInternal marks everything else: bugs or transient
	// infrastructure failure, handed to the host's retry policy.
	KindInternal Kind = "internal"
)

// DomainError is the structured error carried through the dispatch pipeline.
type DomainError struct {
	// Kind classifies the failure for propagation decisions.
	Kind Kind `json:"kind"`

	// Code is a machine-readable error code (e.g. "ORDER_NOT_CONFIRMABLE").
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Retryable reports whether resubmitting the same command can
	// succeed. Only meaningful for business-rule violations.
	Retryable bool `json:"retryable"`

	// Details carries machine-readable context for the caller.
	Details map[string]any `json:"details,omitempty"`

	// Err is the wrapped underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetails attaches machine-readable context to the error.
func (e *DomainError) WithDetails(details map[string]any) *DomainError {
	if e == nil || len(details) == 0 {
		return e
	}
	e.Details = details
	return e
}

// SchemaValidation creates a non-retryable payload validation error.
func SchemaValidation(code, message string) *DomainError {
	return &DomainError{Kind: KindSchemaValidation, Code: code, Message: message}
}

// BusinessRule creates a domain-rule violation with an explicit retryable flag.
func BusinessRule(code, message string, retryable bool) *DomainError {
	return &DomainError{Kind: KindBusinessRule, Code: code, Message: message, Retryable: retryable}
}

// ConcurrencyConflict creates a version-mismatch error.
func ConcurrencyConflict(code, message string) *DomainError {
	return &DomainError{Kind: KindConcurrencyConflict, Code: code, Message: message, Retryable: true}
}

// Routing creates a no-route error.
func Routing(code, message string) *DomainError {
	return &DomainError{Kind: KindRouting, Code: code, Message: message}
}

// Internal wraps an unexpected error.
func Internal(code, message string, err error) *DomainError {
	return &DomainError{Kind: KindInternal, Code: code, Message: message, Err: err}
}

// AsDomainError extracts a DomainError from an error chain.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the Kind of err, mapping unknown errors to KindInternal.
func KindOf(err error) Kind {
	if de, ok := AsDomainError(err); ok {
		return de.Kind
	}
	return KindInternal
}

// IsTerminal reports whether err should be turned into a fail result at the
// dispatch boundary rather than propagated to the host's retry policy.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindSchemaValidation, KindBusinessRule, KindRouting:
		return true
	}
	return false
}

// IsConflict reports whether err is a concurrency conflict.
func IsConflict(err error) bool {
	return KindOf(err) == KindConcurrencyConflict
}
