// Package ordering is the reference domain shipped with the orchestration
// core: an Order aggregate, a fulfillment saga, and an order-summary read
// model. It doubles as the template for writing new domains — everything a
// domain needs lives here and is wired through Register.
package ordering

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
)

// AggregateType is the registered aggregate type name.
const AggregateType = "order"

// Command types owned by this domain.
const (
	CmdCreate          = "order.create"
	CmdAddItem         = "order.add_item"
	CmdConfirm         = "order.confirm"
	CmdCancel          = "order.cancel"
	CmdShip            = "order.ship"
	CmdSimulateFailure = "order.simulate_failure"
)

// Event types owned by this domain.
const (
	EvtCreated   = "order.created"
	EvtItemAdded = "order.item_added"
	EvtConfirmed = "order.confirmed"
	EvtCancelled = "order.cancelled"
	EvtShipped   = "order.shipped"
)

// Order lifecycle states.
const (
	StatusNone      = ""
	StatusOpen      = "OPEN"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusShipped   = "SHIPPED"
)

// RoleBuyer is required to confirm an order.
const RoleBuyer = "buyer"

// DefaultCurrency fills snapshots taken before currency existed.
const DefaultCurrency = "USD"

// snapshotSchemaVersion is the current snapshot shape. Version 1 predates
// the currency field.
const snapshotSchemaVersion = 2

// Item is one order line.
type Item struct {
	SKU      string  `json:"sku"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is the aggregate: state is fully derived from its event history.
type Order struct {
	domain.AggregateBase

	Status     string
	CustomerID string
	Currency   string
	Items      []Item
}

// NewOrder is the aggregate factory registered for AggregateType.
func NewOrder(tenantID, aggregateID uuid.UUID) domain.Aggregate {
	return &Order{
		AggregateBase: domain.AggregateBase{
			ID:     aggregateID,
			Tenant: tenantID,
			Type:   AggregateType,
		},
	}
}

// Handle validates cmd against current state and returns the resulting
// events. Pure: no I/O, no mutation.
func (o *Order) Handle(cmd domain.Command) ([]domain.Event, error) {
	switch cmd.Type {
	case CmdCreate:
		return o.handleCreate(cmd)
	case CmdAddItem:
		return o.handleAddItem(cmd)
	case CmdConfirm:
		return o.handleConfirm(cmd)
	case CmdCancel:
		return o.handleCancel(cmd)
	case CmdShip:
		return o.handleShip(cmd)
	case CmdSimulateFailure:
		retryable, _ := cmd.Payload["retryable"].(bool)
		return nil, apperrors.BusinessRule("ORDER_SIMULATED_FAILURE",
			"simulated business-rule violation", retryable).
			WithDetails(map[string]any{"orderId": o.ID.String()})
	default:
		return nil, apperrors.Routing(apperrors.CodeUnknownCommand,
			fmt.Sprintf("order aggregate does not handle %q", cmd.Type))
	}
}

func (o *Order) handleCreate(cmd domain.Command) ([]domain.Event, error) {
	if o.Status != StatusNone {
		return nil, apperrors.BusinessRule("ORDER_ALREADY_EXISTS",
			fmt.Sprintf("order %s already exists", o.ID), false)
	}
	currency, ok := cmd.Payload.String("currency")
	if !ok || currency == "" {
		currency = DefaultCurrency
	}
	customer, _ := cmd.Payload.String("customerId")
	ev, err := domain.NewEvent(cmd, EvtCreated, domain.Payload{
		"customerId": customer,
		"currency":   currency,
	})
	if err != nil {
		return nil, err
	}
	return []domain.Event{ev}, nil
}

func (o *Order) handleAddItem(cmd domain.Command) ([]domain.Event, error) {
	if o.Status != StatusOpen {
		return nil, apperrors.BusinessRule("ORDER_NOT_OPEN",
			fmt.Sprintf("order %s is %s, items can only be added while open", o.ID, o.Status), false).
			WithDetails(map[string]any{"status": o.Status})
	}
	sku, ok := cmd.Payload.String("sku")
	if !ok || sku == "" {
		return nil, apperrors.BusinessRule("ORDER_ITEM_INVALID", "item sku is required", false)
	}
	qty := intFromPayload(cmd.Payload, "quantity", 1)
	if qty <= 0 {
		return nil, apperrors.BusinessRule("ORDER_ITEM_INVALID", "item quantity must be positive", false)
	}
	price, _ := floatFromPayload(cmd.Payload, "price")
	ev, err := domain.NewEvent(cmd, EvtItemAdded, domain.Payload{
		"sku":      sku,
		"quantity": qty,
		"price":    price,
	})
	if err != nil {
		return nil, err
	}
	return []domain.Event{ev}, nil
}

func (o *Order) handleConfirm(cmd domain.Command) ([]domain.Event, error) {
	if cmd.Metadata.Role != RoleBuyer {
		return nil, apperrors.BusinessRule("ORDER_CONFIRM_FORBIDDEN",
			fmt.Sprintf("role %q may not confirm orders", cmd.Metadata.Role), false).
			WithDetails(map[string]any{"requiredRole": RoleBuyer})
	}
	if o.Status != StatusOpen {
		return nil, apperrors.BusinessRule("ORDER_NOT_CONFIRMABLE",
			fmt.Sprintf("order %s is %s", o.ID, o.Status), false).
			WithDetails(map[string]any{"status": o.Status})
	}
	if len(o.Items) == 0 {
		return nil, apperrors.BusinessRule("ORDER_EMPTY",
			"an order needs at least one item before confirmation", true)
	}
	ev, err := domain.NewEvent(cmd, EvtConfirmed, domain.Payload{
		"itemCount": len(o.Items),
		"total":     o.total(),
	})
	if err != nil {
		return nil, err
	}
	return []domain.Event{ev}, nil
}

func (o *Order) handleCancel(cmd domain.Command) ([]domain.Event, error) {
	switch o.Status {
	case StatusOpen, StatusConfirmed:
	default:
		return nil, apperrors.BusinessRule("ORDER_NOT_CANCELLABLE",
			fmt.Sprintf("order %s is %s", o.ID, o.Status), false).
			WithDetails(map[string]any{"status": o.Status})
	}
	reason, _ := cmd.Payload.String("reason")
	ev, err := domain.NewEvent(cmd, EvtCancelled, domain.Payload{"reason": reason})
	if err != nil {
		return nil, err
	}
	return []domain.Event{ev}, nil
}

func (o *Order) handleShip(cmd domain.Command) ([]domain.Event, error) {
	if o.Status != StatusConfirmed {
		return nil, apperrors.BusinessRule("ORDER_NOT_SHIPPABLE",
			fmt.Sprintf("order %s is %s, only confirmed orders ship", o.ID, o.Status), false).
			WithDetails(map[string]any{"status": o.Status})
	}
	ev, err := domain.NewEvent(cmd, EvtShipped, domain.Payload{})
	if err != nil {
		return nil, err
	}
	return []domain.Event{ev}, nil
}

// Apply folds one event into state.
func (o *Order) Apply(ev domain.Event, isNew bool) error {
	switch ev.Type {
	case EvtCreated:
		o.Status = StatusOpen
		o.CustomerID, _ = ev.Payload.String("customerId")
		o.Currency, _ = ev.Payload.String("currency")
		if o.Currency == "" {
			o.Currency = DefaultCurrency
		}
	case EvtItemAdded:
		o.Items = append(o.Items, Item{
			SKU:      mustString(ev.Payload, "sku"),
			Quantity: intFromPayload(ev.Payload, "quantity", 1),
			Price:    firstFloat(ev.Payload, "price"),
		})
	case EvtConfirmed:
		o.Status = StatusConfirmed
	case EvtCancelled:
		o.Status = StatusCancelled
	case EvtShipped:
		o.Status = StatusShipped
	default:
		return apperrors.Internal(apperrors.CodeUnknownType,
			fmt.Sprintf("order aggregate cannot apply event %q", ev.Type), nil)
	}
	o.Applied(ev, isNew)
	return nil
}

// orderState is the snapshot wire shape.
type orderState struct {
	Status     string `json:"status"`
	CustomerID string `json:"customerId"`
	Currency   string `json:"currency,omitempty"`
	Items      []Item `json:"items,omitempty"`
}

// SnapshotState serializes current state at the current schema version.
func (o *Order) SnapshotState() ([]byte, int, error) {
	state, err := json.Marshal(orderState{
		Status:     o.Status,
		CustomerID: o.CustomerID,
		Currency:   o.Currency,
		Items:      o.Items,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal order snapshot: %w", err)
	}
	return state, snapshotSchemaVersion, nil
}

// RestoreSnapshot rebuilds state from a snapshot, upcasting older schema
// shapes. Schema version 1 had no currency field; the upcast fills the
// default so downstream code never sees an empty currency.
func (o *Order) RestoreSnapshot(state []byte, schemaVersion int, version int64) error {
	if schemaVersion < 1 || schemaVersion > snapshotSchemaVersion {
		return fmt.Errorf("unsupported order snapshot schema version %d", schemaVersion)
	}
	var s orderState
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("unmarshal order snapshot: %w", err)
	}
	if schemaVersion < 2 && s.Currency == "" {
		s.Currency = DefaultCurrency
	}
	o.Status = s.Status
	o.CustomerID = s.CustomerID
	o.Currency = s.Currency
	o.Items = s.Items
	o.SetVersion(version)
	return nil
}

func (o *Order) total() float64 {
	var t float64
	for _, it := range o.Items {
		t += it.Price * float64(it.Quantity)
	}
	return t
}

// JSON numbers decode as float64; commands built in-process may carry ints.
func intFromPayload(p domain.Payload, key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func floatFromPayload(p domain.Payload, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func firstFloat(p domain.Payload, key string) float64 {
	v, _ := floatFromPayload(p, key)
	return v
}

func mustString(p domain.Payload, key string) string {
	s, _ := p.String(key)
	return s
}
