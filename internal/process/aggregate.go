package process

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loomworks.io/loom/internal/commandbus"
	"loomworks.io/loom/internal/domain"
	"loomworks.io/loom/internal/eventstore"
	apperrors "loomworks.io/loom/internal/pkg/errors"
	"loomworks.io/loom/internal/pkg/logger"
	"loomworks.io/loom/internal/registry"
)

// AggregateRunner drives one aggregate instance per process: load snapshot
// and history, let the command bus produce events, append them with the
// optimistic-concurrency check, and snapshot at the configured cadence.
type AggregateRunner struct {
	registry *registry.Registry
	store    eventstore.Store
	bus      *commandbus.Bus

	// snapshotEvery takes a snapshot whenever the head crosses a
	// multiple of this value. 0 disables snapshots.
	snapshotEvery int

	// appendRetries bounds reload-and-retry on version conflicts. The
	// per-address mailbox already serializes commands, so a conflict
	// here means another writer raced us outside this host.
	appendRetries int
}

// NewAggregateRunner wires the aggregate process runner.
func NewAggregateRunner(reg *registry.Registry, store eventstore.Store, bus *commandbus.Bus, snapshotEvery, appendRetries int) *AggregateRunner {
	if appendRetries < 1 {
		appendRetries = 1
	}
	return &AggregateRunner{
		registry:      reg,
		store:         store,
		bus:           bus,
		snapshotEvery: snapshotEvery,
		appendRetries: appendRetries,
	}
}

// Kind implements Runner.
func (r *AggregateRunner) Kind() string { return "aggregate" }

// HandleSignal implements Runner.
func (r *AggregateRunner) HandleSignal(ctx context.Context, addr Address, sig Signal) domain.DispatchResult {
	switch {
	case sig.Command != nil:
		return r.processCommand(ctx, addr, *sig.Command)
	case sig.Event != nil:
		return r.processEvent(ctx, addr, *sig.Event)
	default:
		return domain.Fail(apperrors.Internal(apperrors.CodeSignalDropped, "empty signal", nil))
	}
}

func (r *AggregateRunner) processCommand(ctx context.Context, addr Address, cmd domain.Command) domain.DispatchResult {
	var lastErr error
	for attempt := 0; attempt < r.appendRetries; attempt++ {
		agg, head, err := r.load(ctx, addr)
		if err != nil {
			return domain.Fail(err)
		}

		events, err := r.bus.DispatchWithAggregate(ctx, cmd, agg)
		if err != nil {
			return domain.Fail(err)
		}

		appended, snap, err := r.applyAndStamp(agg, events, head)
		if err != nil {
			return domain.Fail(err)
		}

		err = r.store.Append(ctx, r.ref(addr), appended, head, snap)
		if err == nil {
			return domain.Success(appended)
		}
		if !apperrors.IsConflict(err) {
			return domain.Fail(err)
		}
		lastErr = err
		logger.Warn("append conflict, reloading aggregate",
			zap.String("address", addr.String()),
			zap.String("command_type", cmd.Type),
			zap.Int("attempt", attempt+1),
		)
	}
	return domain.Fail(lastErr)
}

// processEvent persists an externally delivered event into the aggregate's
// stream and folds it into state.
func (r *AggregateRunner) processEvent(ctx context.Context, addr Address, ev domain.Event) domain.DispatchResult {
	var lastErr error
	for attempt := 0; attempt < r.appendRetries; attempt++ {
		agg, head, err := r.load(ctx, addr)
		if err != nil {
			return domain.Fail(err)
		}

		appended, snap, err := r.applyAndStamp(agg, []domain.Event{ev}, head)
		if err != nil {
			return domain.Fail(err)
		}

		err = r.store.Append(ctx, r.ref(addr), appended, head, snap)
		if err == nil {
			return domain.Success(appended)
		}
		if !apperrors.IsConflict(err) {
			return domain.Fail(err)
		}
		lastErr = err
	}
	return domain.Fail(lastErr)
}

// applyAndStamp folds the new events into the aggregate, assigns their
// stream positions, and decides whether this append crosses a snapshot
// boundary.
func (r *AggregateRunner) applyAndStamp(agg domain.Aggregate, events []domain.Event, head int64) ([]domain.Event, *domain.Snapshot, error) {
	appended := make([]domain.Event, len(events))
	for i, ev := range events {
		ev.Version = head + int64(i)
		if err := agg.Apply(ev, true); err != nil {
			return nil, nil, apperrors.Internal(apperrors.CodeStorage,
				fmt.Sprintf("apply new event %s", ev.Type), err)
		}
		appended[i] = ev
	}

	newHead := head + int64(len(events))
	if r.snapshotEvery <= 0 || len(events) == 0 {
		return appended, nil, nil
	}
	if head/int64(r.snapshotEvery) == newHead/int64(r.snapshotEvery) {
		return appended, nil, nil
	}

	state, schemaVersion, err := agg.SnapshotState()
	if err != nil {
		// A lost snapshot is a latency cost, not a correctness one.
		logger.Warn("snapshot extraction failed, continuing without",
			zap.String("aggregate_type", agg.AggregateType()),
			zap.Error(err),
		)
		return appended, nil, nil
	}
	return appended, &domain.Snapshot{
		AggregateID:   agg.AggregateID(),
		AggregateType: agg.AggregateType(),
		State:         state,
		SchemaVersion: schemaVersion,
		Version:       newHead,
	}, nil
}

// load materializes the aggregate at addr: snapshot first, then every event
// at or past the snapshot's version. A stream with no history and no
// snapshot yields a fresh instance at version 0.
func (r *AggregateRunner) load(ctx context.Context, addr Address) (domain.Aggregate, int64, error) {
	factory, ok := r.registry.AggregateFactory(addr.Scope)
	if !ok {
		return nil, 0, apperrors.Routing(apperrors.CodeAggregateMissing,
			fmt.Sprintf("aggregate type %q is not registered", addr.Scope))
	}
	aggID, err := uuid.Parse(addr.Key)
	if err != nil {
		return nil, 0, apperrors.Routing(apperrors.CodeAggregateMissing,
			fmt.Sprintf("process key %q is not an aggregate id", addr.Key))
	}

	agg := factory(addr.TenantID, aggID)
	ref := r.ref(addr)

	snap, err := r.store.LoadSnapshot(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	from := int64(0)
	if snap != nil {
		if err := agg.RestoreSnapshot(snap.State, snap.SchemaVersion, snap.Version); err != nil {
			// Regenerate from history instead: snapshots are a cache.
			logger.Warn("snapshot restore failed, replaying full history",
				zap.String("address", addr.String()),
				zap.Error(err),
			)
			agg = factory(addr.TenantID, aggID)
		} else {
			from = snap.Version
		}
	}

	loaded, err := r.store.Load(ctx, ref, from)
	if err != nil {
		return nil, 0, err
	}
	if loaded == nil {
		if snap != nil {
			return agg, snap.Version, nil
		}
		return agg, 0, nil
	}
	if len(loaded.Events) > 0 {
		if err := domain.Rehydrate(agg, loaded.Events); err != nil {
			return nil, 0, err
		}
	}
	return agg, loaded.Version, nil
}

func (r *AggregateRunner) ref(addr Address) eventstore.StreamRef {
	aggID, _ := uuid.Parse(addr.Key)
	return eventstore.StreamRef{
		TenantID:      addr.TenantID,
		AggregateType: addr.Scope,
		AggregateID:   aggID,
	}
}
