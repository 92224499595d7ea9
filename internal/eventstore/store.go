// Package eventstore implements the durable, tenant-scoped, append-only
// event log with optimistic concurrency and optional snapshots.
//
// All operations are scoped by (tenant, aggregate type, aggregate id). The
// stored head version counts appended events, so the event at position N
// carries Version == N and a stream of N events has head version N. That
// head is the expectedVersion token: an append succeeds only when the head
// still equals the version the writer loaded.
package eventstore

import (
	"context"

	"github.com/google/uuid"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
)

// StreamRef addresses one aggregate's history.
type StreamRef struct {
	TenantID      uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
}

// LoadResult is the outcome of a Load: the events strictly after the
// requested position and the resulting head version.
type LoadResult struct {
	Events  []domain.Event
	Version int64
}

// Store is the event store contract. Conflicts are never retried inside the
// store; the aggregate process decides whether to reload and retry.
type Store interface {
	// Append atomically verifies the stored head equals expectedVersion,
	// assigns consecutive versions starting there, persists the events,
	// and persists snapshot in the same transaction when non-nil. On a
	// version mismatch it appends nothing and returns a
	// concurrency-conflict error.
	Append(ctx context.Context, ref StreamRef, events []domain.Event, expectedVersion int64, snapshot *domain.Snapshot) error

	// Load returns events with version >= fromVersion plus the resulting
	// head version. Returns nil when the aggregate has no history and no
	// snapshot at all.
	Load(ctx context.Context, ref StreamRef, fromVersion int64) (*LoadResult, error)

	// LoadSnapshot returns the latest snapshot or nil.
	LoadSnapshot(ctx context.Context, ref StreamRef) (*domain.Snapshot, error)
}

// conflictErr builds the store's version-mismatch error.
func conflictErr(ref StreamRef, expected, actual int64) error {
	return apperrors.ConcurrencyConflict(apperrors.CodeVersionConflict,
		"stored version does not match expected version").
		WithDetails(map[string]any{
			"aggregateType": ref.AggregateType,
			"aggregateId":   ref.AggregateID.String(),
			"expected":      expected,
			"actual":        actual,
		})
}
