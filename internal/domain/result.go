package domain

import apperrors "loomworks.io/loom/internal/pkg/errors"

// DispatchStatus is the outcome of one dispatch.
type DispatchStatus string

const (
	DispatchSuccess DispatchStatus = "success"
	DispatchFail    DispatchStatus = "fail"
)

// DispatchResult is what the router returns to the caller: either the
// appended events or a structured error the caller can act on.
type DispatchResult struct {
	Status DispatchStatus         `json:"status"`
	Events []Event                `json:"events,omitempty"`
	Error  *apperrors.DomainError `json:"error,omitempty"`
}

// Success wraps appended events in a success result.
func Success(events []Event) DispatchResult {
	return DispatchResult{Status: DispatchSuccess, Events: events}
}

// Fail wraps err in a fail result, coercing non-domain errors to internal.
func Fail(err error) DispatchResult {
	if de, ok := apperrors.AsDomainError(err); ok {
		return DispatchResult{Status: DispatchFail, Error: de}
	}
	return DispatchResult{
		Status: DispatchFail,
		Error:  apperrors.Internal("INTERNAL", "unexpected dispatch failure", err),
	}
}
