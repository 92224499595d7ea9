package domain

import (
	"fmt"

	"github.com/google/uuid"

	apperrors "loomworks.io/loom/internal/pkg/errors"
)

// Aggregate is the state-machine contract every aggregate type implements.
//
// Version counts applied events: a fresh instance is at version 0; after
// replaying N events from scratch the version is N. The stored head version
// in the event store follows the same counting, so version is also the
// expectedVersion token for the next append.
type Aggregate interface {
	// AggregateID returns the entity id.
	AggregateID() uuid.UUID

	// AggregateType returns the registered type name (e.g. "order").
	AggregateType() string

	// Version returns the number of events reflected in current state.
	Version() int64

	// Handle validates cmd against current state and returns the events
	// that would result. Pure: no I/O, no mutation. Business-rule
	// violations and unknown commands come back as DomainErrors.
	Handle(cmd Command) ([]Event, error)

	// Apply mutates state for one event. When isNew is true the version
	// is incremented by one; when replaying history it adopts the
	// event's own position instead, which keeps replay idempotent across
	// snapshot gaps.
	Apply(ev Event, isNew bool) error

	// SnapshotState serializes current state together with its schema
	// version for later restoration.
	SnapshotState() (state []byte, schemaVersion int, err error)

	// RestoreSnapshot rebuilds state from a snapshot taken at the given
	// aggregate version. Upcasting older schema shapes is the
	// aggregate's own responsibility.
	RestoreSnapshot(state []byte, schemaVersion int, version int64) error
}

// AggregateFactory builds an empty aggregate instance for an entity id.
type AggregateFactory func(tenantID, aggregateID uuid.UUID) Aggregate

// AggregateBase carries the id/version bookkeeping shared by all aggregate
// implementations. Embed it and call Applied from Apply.
type AggregateBase struct {
	ID     uuid.UUID
	Tenant uuid.UUID
	Type   string
	Ver    int64
}

// AggregateID returns the entity id.
func (b *AggregateBase) AggregateID() uuid.UUID { return b.ID }

// AggregateType returns the registered type name.
func (b *AggregateBase) AggregateType() string { return b.Type }

// Version returns the number of events reflected in current state.
func (b *AggregateBase) Version() int64 { return b.Ver }

// Applied advances the version for one applied event. New events increment;
// replayed events adopt the event's position so snapshot-skipped ranges
// cannot drift the count.
func (b *AggregateBase) Applied(ev Event, isNew bool) {
	if isNew {
		b.Ver++
		return
	}
	b.Ver = ev.Version + 1
}

// SetVersion force-sets the version, used when restoring from a snapshot.
func (b *AggregateBase) SetVersion(v int64) { b.Ver = v }

// Rehydrate replays a non-empty ordered event list into agg. Replaying an
// empty list is a fatal error: rehydration requires history.
func Rehydrate(agg Aggregate, events []Event) error {
	if len(events) == 0 {
		return apperrors.Internal(apperrors.CodeEmptyRehydration,
			"rehydration requires a non-empty event history", nil)
	}
	for _, ev := range events {
		if err := agg.Apply(ev, false); err != nil {
			return fmt.Errorf("apply event %s at version %d: %w", ev.Type, ev.Version, err)
		}
	}
	return nil
}
