package commandbus

import (
	"context"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
	"loomworks.io/loom/internal/registry"
)

type echoAggregate struct{ domain.AggregateBase }

func (a *echoAggregate) Handle(cmd domain.Command) ([]domain.Event, error) {
	ev, err := domain.NewEvent(cmd, "echo.handled", domain.Payload{})
	if err != nil {
		return nil, err
	}
	return []domain.Event{ev}, nil
}
func (a *echoAggregate) Apply(ev domain.Event, isNew bool) error  { a.Applied(ev, isNew); return nil }
func (a *echoAggregate) SnapshotState() ([]byte, int, error)      { return []byte("{}"), 1, nil }
func (a *echoAggregate) RestoreSnapshot([]byte, int, int64) error { return nil }

func newTestBus(t *testing.T) (*Bus, *registry.Registry) {
	t.Helper()
	reg := registry.New()

	schema := openapi3.NewObjectSchema().
		WithProperty("name", openapi3.NewStringSchema().WithMinLength(1)).
		WithRequired([]string{"name"})

	if err := reg.RegisterCommandType(registry.CommandTypeMeta{
		Type: "echo.run", Domain: "echo", PayloadSchema: schema,
	}); err != nil {
		t.Fatalf("register command type: %v", err)
	}
	if err := reg.RegisterCommandType(registry.CommandTypeMeta{
		Type: "echo.orphan", Domain: "echo",
	}); err != nil {
		t.Fatalf("register orphan type: %v", err)
	}
	if err := reg.RegisterCommandHandler(registry.CommandHandler{
		Name:            "echo-handler",
		SupportsCommand: func(cmdType string) bool { return cmdType == "echo.run" },
		Handle: func(_ context.Context, cmd domain.Command, agg domain.Aggregate) ([]domain.Event, error) {
			return agg.Handle(cmd)
		},
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	reg.Freeze()
	return New(reg), reg
}

func newEchoCommand(t *testing.T, tenantID uuid.UUID, payload domain.Payload) domain.Command {
	t.Helper()
	cmd, err := domain.NewCommand(tenantID, "echo.run", payload, domain.Metadata{})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	return cmd
}

func TestDispatchValid(t *testing.T) {
	t.Parallel()
	bus, _ := newTestBus(t)
	tenantID := uuid.New()
	agg := &echoAggregate{}

	events, err := bus.DispatchWithAggregate(t.Context(),
		newEchoCommand(t, tenantID, domain.Payload{"name": "a"}), agg)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(events) != 1 || events[0].Type != "echo.handled" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestDispatchSchemaValidationRunsFirst(t *testing.T) {
	t.Parallel()
	bus, _ := newTestBus(t)
	tenantID := uuid.New()

	// Invalid payload AND mismatched tenant: schema validation wins.
	cmd := newEchoCommand(t, tenantID, domain.Payload{
		domain.PayloadKeyTenantID: uuid.New().String(),
	})
	_, err := bus.DispatchWithAggregate(t.Context(), cmd, &echoAggregate{})
	de, ok := apperrors.AsDomainError(err)
	if !ok || de.Kind != apperrors.KindSchemaValidation || de.Code != apperrors.CodeSchemaInvalid {
		t.Fatalf("expected schema-validation error first, got %v", err)
	}
	if de.Details["reason"] == nil {
		t.Fatal("schema error must carry a reason detail")
	}
}

func TestDispatchTenantMismatch(t *testing.T) {
	t.Parallel()
	bus, _ := newTestBus(t)
	tenantID := uuid.New()

	cmd := newEchoCommand(t, tenantID, domain.Payload{
		"name":                    "a",
		domain.PayloadKeyTenantID: uuid.New().String(),
	})
	_, err := bus.DispatchWithAggregate(t.Context(), cmd, &echoAggregate{})
	de, ok := apperrors.AsDomainError(err)
	if !ok || de.Code != apperrors.CodeTenantMismatch {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
}

func TestDispatchMalformedPayloadTenantRejected(t *testing.T) {
	t.Parallel()
	bus, _ := newTestBus(t)
	tenantID := uuid.New()

	// A declared tenant that does not parse is a rejection, not a skip.
	cmd := newEchoCommand(t, tenantID, domain.Payload{
		"name":                    "a",
		domain.PayloadKeyTenantID: "not-a-uuid",
	})
	_, err := bus.DispatchWithAggregate(t.Context(), cmd, &echoAggregate{})
	de, ok := apperrors.AsDomainError(err)
	if !ok || de.Kind != apperrors.KindSchemaValidation || de.Code != apperrors.CodeTenantMismatch {
		t.Fatalf("expected tenant rejection for malformed payload tenant, got %v", err)
	}
	if de.Details["payloadTenant"] != "not-a-uuid" {
		t.Fatalf("details = %+v, want the offending value echoed back", de.Details)
	}
}

func TestDispatchNoHandler(t *testing.T) {
	t.Parallel()
	bus, _ := newTestBus(t)
	cmd, err := domain.NewCommand(uuid.New(), "echo.orphan", domain.Payload{}, domain.Metadata{})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	_, err = bus.DispatchWithAggregate(t.Context(), cmd, &echoAggregate{})
	de, ok := apperrors.AsDomainError(err)
	if !ok || de.Kind != apperrors.KindRouting || de.Code != apperrors.CodeNoHandler {
		t.Fatalf("expected no-handler routing error, got %v", err)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	t.Parallel()
	bus, _ := newTestBus(t)
	cmd, err := domain.NewCommand(uuid.New(), "echo.unknown", domain.Payload{}, domain.Metadata{})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	_, err = bus.DispatchWithAggregate(t.Context(), cmd, &echoAggregate{})
	de, ok := apperrors.AsDomainError(err)
	if !ok || de.Code != apperrors.CodeUnknownType {
		t.Fatalf("expected unknown-type error, got %v", err)
	}
}
