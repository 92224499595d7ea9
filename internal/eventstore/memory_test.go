package eventstore

import (
	"testing"

	"github.com/google/uuid"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
)

func newRef(t *testing.T) StreamRef {
	t.Helper()
	return StreamRef{TenantID: uuid.New(), AggregateType: "order", AggregateID: uuid.New()}
}

func newEvents(t *testing.T, n int) []domain.Event {
	t.Helper()
	out := make([]domain.Event, n)
	for i := range out {
		id, err := uuid.NewV7()
		if err != nil {
			t.Fatalf("uuid: %v", err)
		}
		out[i] = domain.Event{ID: id, Type: "order.created", Payload: domain.Payload{"n": i}}
	}
	return out
}

func TestMemoryAppendAssignsContiguousVersions(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ref := newRef(t)
	ctx := t.Context()

	if err := store.Append(ctx, ref, newEvents(t, 2), 0, nil); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := store.Append(ctx, ref, newEvents(t, 3), 2, nil); err != nil {
		t.Fatalf("second append: %v", err)
	}

	loaded, err := store.Load(ctx, ref, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Version != 5 {
		t.Fatalf("head version = %d, want 5", loaded.Version)
	}
	for i, ev := range loaded.Events {
		if ev.Version != int64(i) {
			t.Fatalf("event %d has version %d; versions must be contiguous from 0", i, ev.Version)
		}
		if ev.TenantID != ref.TenantID || ev.AggregateID != ref.AggregateID {
			t.Fatalf("event %d lost stream identity", i)
		}
	}
}

func TestMemoryAppendConflict(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ref := newRef(t)
	ctx := t.Context()

	if err := store.Append(ctx, ref, newEvents(t, 1), 0, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Stale expected version: the write must be rejected, not dropped.
	err := store.Append(ctx, ref, newEvents(t, 1), 0, nil)
	de, ok := apperrors.AsDomainError(err)
	if !ok || de.Kind != apperrors.KindConcurrencyConflict {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if de.Details["expected"] == nil || de.Details["actual"] == nil {
		t.Fatal("conflict must carry version details")
	}

	loaded, err := store.Load(ctx, ref, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Events) != 1 {
		t.Fatalf("conflicting append must not change the stream, have %d events", len(loaded.Events))
	}
}

func TestMemoryLoadFromVersion(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ref := newRef(t)
	ctx := t.Context()

	if err := store.Append(ctx, ref, newEvents(t, 4), 0, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	loaded, err := store.Load(ctx, ref, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Events) != 2 {
		t.Fatalf("expected events at versions 2..3, got %d events", len(loaded.Events))
	}
	if loaded.Events[0].Version != 2 {
		t.Fatalf("first loaded version = %d, want 2", loaded.Events[0].Version)
	}
	if loaded.Version != 4 {
		t.Fatalf("head version = %d, want 4", loaded.Version)
	}
}

func TestMemoryLoadUnknownStream(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	loaded, err := store.Load(t.Context(), newRef(t), 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != nil {
		t.Fatalf("unknown stream must load as nil, got %+v", loaded)
	}
}

func TestMemoryTenantIsolation(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := t.Context()

	aggID := uuid.New()
	refA := StreamRef{TenantID: uuid.New(), AggregateType: "order", AggregateID: aggID}
	refB := StreamRef{TenantID: uuid.New(), AggregateType: "order", AggregateID: aggID}

	if err := store.Append(ctx, refA, newEvents(t, 2), 0, nil); err != nil {
		t.Fatalf("append tenant A: %v", err)
	}
	// Same aggregate id under another tenant is an independent stream.
	if err := store.Append(ctx, refB, newEvents(t, 1), 0, nil); err != nil {
		t.Fatalf("append tenant B: %v", err)
	}

	loadedB, err := store.Load(ctx, refB, 0)
	if err != nil {
		t.Fatalf("load tenant B: %v", err)
	}
	if len(loadedB.Events) != 1 || loadedB.Version != 1 {
		t.Fatalf("tenant B sees %d events at head %d, want 1 at 1", len(loadedB.Events), loadedB.Version)
	}
}

func TestMemorySnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ref := newRef(t)
	ctx := t.Context()

	snap := &domain.Snapshot{
		AggregateID:   ref.AggregateID,
		AggregateType: ref.AggregateType,
		TenantID:      ref.TenantID,
		State:         []byte(`{"status":"OPEN"}`),
		SchemaVersion: 2,
		Version:       1,
	}
	if err := store.Append(ctx, ref, newEvents(t, 1), 0, snap); err != nil {
		t.Fatalf("append with snapshot: %v", err)
	}

	got, err := store.LoadSnapshot(ctx, ref)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if got == nil || got.Version != 1 || got.SchemaVersion != 2 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	if got, err := store.LoadSnapshot(ctx, newRef(t)); err != nil || got != nil {
		t.Fatalf("unknown stream snapshot = %+v, %v; want nil, nil", got, err)
	}
}
