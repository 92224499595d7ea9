package ordering

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
)

func testCommand(t *testing.T, tenantID, orderID uuid.UUID, cmdType string, payload domain.Payload, role string) domain.Command {
	t.Helper()
	if payload == nil {
		payload = domain.Payload{}
	}
	payload[domain.PayloadKeyAggregateType] = AggregateType
	payload[domain.PayloadKeyAggregateID] = orderID.String()
	cmd, err := domain.NewCommand(tenantID, cmdType, payload, domain.Metadata{Role: role})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	return cmd
}

// drive runs cmd through the aggregate and folds the resulting events.
func drive(t *testing.T, o *Order, cmd domain.Command) []domain.Event {
	t.Helper()
	events, err := o.Handle(cmd)
	if err != nil {
		t.Fatalf("handle %s: %v", cmd.Type, err)
	}
	for i, ev := range events {
		ev.Version = o.Version() + int64(i)
		if err := o.Apply(ev, true); err != nil {
			t.Fatalf("apply %s: %v", ev.Type, err)
		}
	}
	return events
}

func buildConfirmedOrder(t *testing.T, tenantID, orderID uuid.UUID) (*Order, []domain.Event) {
	t.Helper()
	o := NewOrder(tenantID, orderID).(*Order)
	var history []domain.Event
	history = append(history, drive(t, o, testCommand(t, tenantID, orderID, CmdCreate,
		domain.Payload{"customerId": "c-1", "currency": "EUR"}, RoleBuyer))...)
	history = append(history, drive(t, o, testCommand(t, tenantID, orderID, CmdAddItem,
		domain.Payload{"sku": "widget", "quantity": 2, "price": 9.5}, RoleBuyer))...)
	history = append(history, drive(t, o, testCommand(t, tenantID, orderID, CmdConfirm, nil, RoleBuyer))...)
	// Stamp versions the way the store would.
	for i := range history {
		history[i].Version = int64(i)
	}
	return o, history
}

func TestOrderLifecycle(t *testing.T) {
	t.Parallel()
	tenantID := uuid.New()
	orderID := uuid.New()

	o, history := buildConfirmedOrder(t, tenantID, orderID)

	require.Equal(t, StatusConfirmed, o.Status)
	require.Equal(t, int64(3), o.Version())
	require.Equal(t, "EUR", o.Currency)
	require.Len(t, o.Items, 1)
	require.Equal(t, 2, o.Items[0].Quantity)
	require.Len(t, history, 3)

	drive(t, o, testCommand(t, tenantID, orderID, CmdShip, nil, RoleBuyer))
	require.Equal(t, StatusShipped, o.Status)
	require.Equal(t, int64(4), o.Version())
}

func TestOrderReplayDeterminism(t *testing.T) {
	t.Parallel()
	tenantID := uuid.New()
	orderID := uuid.New()

	original, history := buildConfirmedOrder(t, tenantID, orderID)

	replayed := NewOrder(tenantID, orderID).(*Order)
	if err := domain.Rehydrate(replayed, history); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	require.Equal(t, original.Status, replayed.Status)
	require.Equal(t, original.Items, replayed.Items)
	require.Equal(t, original.Currency, replayed.Currency)
	require.Equal(t, original.Version(), replayed.Version())
}

func TestOrderSnapshotEquivalence(t *testing.T) {
	t.Parallel()
	tenantID := uuid.New()
	orderID := uuid.New()

	original, _ := buildConfirmedOrder(t, tenantID, orderID)
	state, schemaVersion, err := original.SnapshotState()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	require.Equal(t, 2, schemaVersion)

	restored := NewOrder(tenantID, orderID).(*Order)
	if err := restored.RestoreSnapshot(state, schemaVersion, original.Version()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	require.Equal(t, original.Status, restored.Status)
	require.Equal(t, original.Items, restored.Items)
	require.Equal(t, original.Currency, restored.Currency)
	require.Equal(t, original.Version(), restored.Version())

	// Both must produce the same next event.
	evA := drive(t, original, testCommand(t, tenantID, orderID, CmdShip, nil, RoleBuyer))
	evB := drive(t, restored, testCommand(t, tenantID, orderID, CmdShip, nil, RoleBuyer))
	require.Equal(t, evA[0].Type, evB[0].Type)
	require.Equal(t, original.Status, restored.Status)
}

func TestOrderSnapshotUpcastFillsCurrency(t *testing.T) {
	t.Parallel()
	o := NewOrder(uuid.New(), uuid.New()).(*Order)

	// Schema version 1 predates the currency field.
	v1 := []byte(`{"status":"OPEN","customerId":"c-2","items":[{"sku":"a","quantity":1,"price":3}]}`)
	if err := o.RestoreSnapshot(v1, 1, 1); err != nil {
		t.Fatalf("restore v1: %v", err)
	}
	require.Equal(t, DefaultCurrency, o.Currency)
	require.Equal(t, int64(1), o.Version())

	if err := o.RestoreSnapshot(v1, 3, 1); err == nil {
		t.Fatal("expected error for unknown schema version")
	}
}

func TestOrderConfirmRequiresBuyerRole(t *testing.T) {
	t.Parallel()
	tenantID := uuid.New()
	orderID := uuid.New()

	o := NewOrder(tenantID, orderID).(*Order)
	drive(t, o, testCommand(t, tenantID, orderID, CmdCreate, nil, "operator"))
	drive(t, o, testCommand(t, tenantID, orderID, CmdAddItem, domain.Payload{"sku": "x"}, "operator"))

	_, err := o.Handle(testCommand(t, tenantID, orderID, CmdConfirm, nil, "operator"))
	de, ok := apperrors.AsDomainError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindBusinessRule, de.Kind)
	require.Equal(t, "ORDER_CONFIRM_FORBIDDEN", de.Code)
	require.False(t, de.Retryable)
	require.Equal(t, StatusOpen, o.Status, "denied confirm must not change state")
}

func TestOrderBusinessRules(t *testing.T) {
	t.Parallel()
	tenantID := uuid.New()
	orderID := uuid.New()

	o := NewOrder(tenantID, orderID).(*Order)

	_, err := o.Handle(testCommand(t, tenantID, orderID, CmdAddItem, domain.Payload{"sku": "x"}, RoleBuyer))
	de, _ := apperrors.AsDomainError(err)
	require.Equal(t, "ORDER_NOT_OPEN", de.Code)

	drive(t, o, testCommand(t, tenantID, orderID, CmdCreate, nil, RoleBuyer))

	_, err = o.Handle(testCommand(t, tenantID, orderID, CmdConfirm, nil, RoleBuyer))
	de, _ = apperrors.AsDomainError(err)
	require.Equal(t, "ORDER_EMPTY", de.Code)
	require.True(t, de.Retryable, "empty order can be retried after adding items")

	_, err = o.Handle(testCommand(t, tenantID, orderID, CmdCreate, nil, RoleBuyer))
	de, _ = apperrors.AsDomainError(err)
	require.Equal(t, "ORDER_ALREADY_EXISTS", de.Code)

	_, err = o.Handle(testCommand(t, tenantID, orderID, CmdShip, nil, RoleBuyer))
	de, _ = apperrors.AsDomainError(err)
	require.Equal(t, "ORDER_NOT_SHIPPABLE", de.Code)
}

func TestOrderSimulateFailureCarriesRetryableFlag(t *testing.T) {
	t.Parallel()
	tenantID := uuid.New()
	orderID := uuid.New()
	o := NewOrder(tenantID, orderID).(*Order)
	drive(t, o, testCommand(t, tenantID, orderID, CmdCreate, nil, RoleBuyer))

	for _, retryable := range []bool{true, false} {
		_, err := o.Handle(testCommand(t, tenantID, orderID, CmdSimulateFailure,
			domain.Payload{"retryable": retryable}, RoleBuyer))
		de, ok := apperrors.AsDomainError(err)
		require.True(t, ok)
		require.Equal(t, apperrors.KindBusinessRule, de.Kind)
		require.Equal(t, retryable, de.Retryable)
	}
	require.Equal(t, int64(1), o.Version(), "simulated failures append nothing")
}

func TestFulfillmentSagaPlansDelayedShip(t *testing.T) {
	t.Parallel()
	def := FulfillmentSaga(0)
	tenantID := uuid.New()
	orderID := uuid.New()

	ev := domain.Event{
		ID:            uuid.New(),
		TenantID:      tenantID,
		AggregateID:   orderID,
		AggregateType: AggregateType,
		Type:          EvtConfirmed,
		Metadata:      domain.Metadata{CorrelationID: "corr-1"},
	}

	key, ok := def.IDFor(domain.SagaInput{Event: &ev})
	require.True(t, ok)
	require.Equal(t, orderID.String(), key)

	plan, err := def.Plan(domain.SagaInput{Event: &ev}, fixedIDs(t))
	require.NoError(t, err)
	require.Empty(t, plan.Commands)
	require.Len(t, plan.Delays, 1)

	d := plan.Delays[0]
	require.Equal(t, DefaultShipDelay, d.Delay)
	require.Equal(t, CmdShip, d.Command.Type)
	require.Equal(t, tenantID, d.Command.TenantID)
	require.Equal(t, "corr-1", d.Command.Metadata.CorrelationID)
	require.Equal(t, ev.ID.String(), d.Command.Metadata.CausationID)

	aggType, aggID, bound := d.Command.AggregateBinding()
	require.True(t, bound)
	require.Equal(t, AggregateType, aggType)
	require.Equal(t, orderID, aggID)

	// The ship command itself correlates back to the same saga process.
	shipKey, ok := def.IDFor(domain.SagaInput{Command: &d.Command})
	require.True(t, ok)
	require.Equal(t, key, shipKey)

	// Unrelated events do not match.
	other := ev
	other.Type = EvtCreated
	_, ok = def.IDFor(domain.SagaInput{Event: &other})
	require.False(t, ok)
}

type stubIDs struct{ t *testing.T }

func (s stubIDs) NextID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		s.t.Fatalf("next id: %v", err)
	}
	return id
}

func fixedIDs(t *testing.T) domain.SagaContext { return stubIDs{t: t} }

func TestMemorySummaryProjection(t *testing.T) {
	t.Parallel()
	p := NewMemorySummaryProjection()
	tenantID := uuid.New()
	orderID := uuid.New()

	fold := func(evType string, payload domain.Payload) {
		ev := domain.Event{
			TenantID:      tenantID,
			AggregateID:   orderID,
			AggregateType: AggregateType,
			Type:          evType,
			Payload:       payload,
		}
		require.True(t, p.SupportsEvent(ev))
		require.NoError(t, p.On(t.Context(), ev))
	}

	fold(EvtCreated, domain.Payload{"currency": "EUR"})
	fold(EvtItemAdded, domain.Payload{"sku": "a", "quantity": 2, "price": 3.0})
	fold(EvtConfirmed, nil)

	row, ok := p.GetSummary(tenantID, orderID)
	require.True(t, ok)
	require.Equal(t, StatusConfirmed, row.Status)
	require.Equal(t, 2, row.ItemCount)
	require.InDelta(t, 6.0, row.Total, 1e-9)
	require.Equal(t, "EUR", row.Currency)

	_, ok = p.GetSummary(uuid.New(), orderID)
	require.False(t, ok, "other tenants do not see the row")
}
