package commandstore

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
)

func pendingCommand(t *testing.T, cmdType string) domain.Command {
	t.Helper()
	cmd, err := domain.NewCommand(uuid.New(), cmdType, domain.Payload{"k": "v"}, domain.Metadata{Source: "test"})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	return cmd
}

func TestMemoryUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := t.Context()
	cmd := pendingCommand(t, "order.create")

	if err := store.Upsert(ctx, cmd); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Resubmitting a pending command may refresh payload/metadata but
	// must not spawn a second record.
	enriched := cmd
	enriched.Payload = cmd.Payload.Clone()
	enriched.Payload["aggregateType"] = "order"
	if err := store.Upsert(ctx, enriched); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	rec, err := store.GetByID(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Command.Status != domain.CommandStatusPending {
		t.Fatalf("status = %s, want PENDING", rec.Command.Status)
	}
	if _, ok := rec.Command.Payload.String("aggregateType"); !ok {
		t.Fatal("re-upsert did not refresh payload of a pending command")
	}

	all, err := store.Query(ctx, Filter{TenantID: cmd.TenantID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert created %d records, want 1", len(all))
	}
}

func TestMemoryUpsertDoesNotTouchTerminalCommand(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := t.Context()
	cmd := pendingCommand(t, "order.create")

	if err := store.Upsert(ctx, cmd); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	res := domain.Success(nil)
	if err := store.MarkStatus(ctx, cmd.ID, domain.CommandStatusConsumed, &res); err != nil {
		t.Fatalf("mark: %v", err)
	}

	replay := cmd
	replay.Payload = domain.Payload{"tampered": true}
	if err := store.Upsert(ctx, replay); err != nil {
		t.Fatalf("replay upsert: %v", err)
	}

	rec, err := store.GetByID(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Command.Status != domain.CommandStatusConsumed {
		t.Fatalf("status = %s, want CONSUMED", rec.Command.Status)
	}
	if _, ok := rec.Command.Payload["tampered"]; ok {
		t.Fatal("upsert rewrote a terminal command's payload")
	}
}

func TestMemoryMarkStatusIsOneWay(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := t.Context()
	cmd := pendingCommand(t, "order.confirm")

	if err := store.Upsert(ctx, cmd); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	res := domain.Success(nil)
	if err := store.MarkStatus(ctx, cmd.ID, domain.CommandStatusConsumed, &res); err != nil {
		t.Fatalf("first mark: %v", err)
	}

	// Second transition must be rejected: terminal states never flip.
	err := store.MarkStatus(ctx, cmd.ID, domain.CommandStatusFailed, nil)
	if err == nil {
		t.Fatal("second MarkStatus succeeded on a terminal command")
	}
	if de, ok := apperrors.AsDomainError(err); !ok || de.Code != apperrors.CodeCommandNotFound {
		t.Fatalf("second mark returned %v, want %s", err, apperrors.CodeCommandNotFound)
	}

	rec, err := store.GetByID(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Command.Status != domain.CommandStatusConsumed {
		t.Fatalf("status flipped to %s", rec.Command.Status)
	}
	if rec.Result == nil || rec.Result.Status != domain.DispatchSuccess {
		t.Fatalf("result not retained: %+v", rec.Result)
	}
}

func TestMemoryMarkStatusUnknownCommand(t *testing.T) {
	t.Parallel()
	store := NewMemory()

	err := store.MarkStatus(t.Context(), uuid.New(), domain.CommandStatusFailed, nil)
	if de, ok := apperrors.AsDomainError(err); !ok || de.Code != apperrors.CodeCommandNotFound {
		t.Fatalf("got %v, want %s", err, apperrors.CodeCommandNotFound)
	}
}

func TestMemoryQueryFilters(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := t.Context()

	tenant := uuid.New()
	mk := func(cmdType string, tenantID uuid.UUID) domain.Command {
		cmd, err := domain.NewCommand(tenantID, cmdType, nil, domain.Metadata{})
		if err != nil {
			t.Fatalf("new command: %v", err)
		}
		if err := store.Upsert(ctx, cmd); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		return cmd
	}

	create := mk("order.create", tenant)
	mk("order.confirm", tenant)
	mk("order.create", uuid.New())

	byTenant, err := store.Query(ctx, Filter{TenantID: tenant})
	if err != nil {
		t.Fatalf("query tenant: %v", err)
	}
	if len(byTenant) != 2 {
		t.Fatalf("tenant filter returned %d, want 2", len(byTenant))
	}

	byType, err := store.Query(ctx, Filter{TenantID: tenant, Type: "order.create"})
	if err != nil {
		t.Fatalf("query type: %v", err)
	}
	if len(byType) != 1 || byType[0].Command.ID != create.ID {
		t.Fatalf("type filter returned %d records", len(byType))
	}

	res := domain.Success(nil)
	if err := store.MarkStatus(ctx, create.ID, domain.CommandStatusConsumed, &res); err != nil {
		t.Fatalf("mark: %v", err)
	}
	pending, err := store.Query(ctx, Filter{TenantID: tenant, Status: domain.CommandStatusPending})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("status filter returned %d, want 1", len(pending))
	}

	limited, err := store.Query(ctx, Filter{TenantID: tenant, Limit: 1})
	if err != nil {
		t.Fatalf("query limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored: got %d", len(limited))
	}
}

func TestMemoryQueryUpdatedBefore(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := t.Context()
	cmd := pendingCommand(t, "order.create")

	if err := store.Upsert(ctx, cmd); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stale, err := store.Query(ctx, Filter{Status: domain.CommandStatusPending, UpdatedBefore: time.Now().Add(time.Minute)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("future cutoff returned %d, want 1", len(stale))
	}

	fresh, err := store.Query(ctx, Filter{Status: domain.CommandStatusPending, UpdatedBefore: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("past cutoff returned %d, want 0", len(fresh))
	}
}

func TestMemoryDeleteTerminalBefore(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := t.Context()

	done := pendingCommand(t, "order.create")
	open := pendingCommand(t, "order.confirm")
	if err := store.Upsert(ctx, done); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Upsert(ctx, open); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.MarkStatus(ctx, done.ID, domain.CommandStatusFailed, nil); err != nil {
		t.Fatalf("mark: %v", err)
	}

	n, err := store.DeleteTerminalBefore(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}

	// Pending work survives retention regardless of age.
	if _, err := store.GetByID(ctx, open.ID); err != nil {
		t.Fatalf("pending command was deleted: %v", err)
	}
	if _, err := store.GetByID(ctx, done.ID); err == nil {
		t.Fatal("terminal command survived retention")
	}
}
