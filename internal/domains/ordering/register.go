package ordering

import (
	"context"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"loomworks.io/loom/internal/domain"
	"loomworks.io/loom/internal/registry"
)

// DomainName registers the ordering domain in the catalog.
const DomainName = "ordering"

// Options tune the domain's registration.
type Options struct {
	// ShipDelay is the fulfillment lag; zero means DefaultShipDelay.
	ShipDelay time.Duration

	// Projection receives order events. nil registers no read model.
	Projection domain.Projection
}

// Register is the ordering domain's self-registration entry point. It runs
// once during the startup registration phase, before the registry freezes.
func Register(reg *registry.Registry, opts Options) error {
	if err := reg.RegisterDomain(registry.DomainInfo{
		Name:        DomainName,
		Description: "order lifecycle with fulfillment saga and summary read model",
	}); err != nil {
		return err
	}
	if err := reg.RegisterAggregate(AggregateType, NewOrder); err != nil {
		return err
	}
	if err := reg.RegisterRoles(DomainName, []string{RoleBuyer, "operator"}); err != nil {
		return err
	}

	if err := reg.RegisterCommandHandler(registry.CommandHandler{
		Name: "order-handler",
		SupportsCommand: func(cmdType string) bool {
			return strings.HasPrefix(cmdType, "order.")
		},
		Handle: func(_ context.Context, cmd domain.Command, agg domain.Aggregate) ([]domain.Event, error) {
			return agg.Handle(cmd)
		},
	}); err != nil {
		return err
	}

	routing := &registry.AggregateRouting{
		AggregateType: AggregateType,
		ExtractID: func(p domain.Payload) (uuid.UUID, bool) {
			return p.UUID("orderId")
		},
	}
	for _, meta := range commandTypes(routing) {
		if err := reg.RegisterCommandType(meta); err != nil {
			return err
		}
	}
	for _, meta := range eventTypes() {
		if err := reg.RegisterEventType(meta); err != nil {
			return err
		}
	}

	if err := reg.RegisterSaga(FulfillmentSaga(opts.ShipDelay)); err != nil {
		return err
	}
	if opts.Projection != nil {
		if err := reg.RegisterProjection(opts.Projection); err != nil {
			return err
		}
	}
	return nil
}

func commandTypes(routing *registry.AggregateRouting) []registry.CommandTypeMeta {
	orderRef := openapi3.NewUUIDSchema()
	return []registry.CommandTypeMeta{
		{
			Type:        CmdCreate,
			Domain:      DomainName,
			Description: "open a new order",
			PayloadSchema: openapi3.NewObjectSchema().
				WithProperty("orderId", orderRef).
				WithProperty("customerId", openapi3.NewStringSchema()).
				WithProperty("currency", openapi3.NewStringSchema().WithMinLength(3).WithMaxLength(3)).
				WithRequired([]string{"orderId"}),
			Routing: routing,
		},
		{
			Type:        CmdAddItem,
			Domain:      DomainName,
			Description: "add a line item to an open order",
			PayloadSchema: openapi3.NewObjectSchema().
				WithProperty("orderId", orderRef).
				WithProperty("sku", openapi3.NewStringSchema().WithMinLength(1)).
				WithProperty("quantity", openapi3.NewIntegerSchema().WithMin(1)).
				WithProperty("price", openapi3.NewFloat64Schema().WithMin(0)).
				WithRequired([]string{"orderId", "sku"}),
			Routing: routing,
		},
		{
			Type:        CmdConfirm,
			Domain:      DomainName,
			Description: "confirm an open order (buyer role required)",
			PayloadSchema: openapi3.NewObjectSchema().
				WithProperty("orderId", orderRef).
				WithRequired([]string{"orderId"}),
			Routing: routing,
		},
		{
			Type:        CmdCancel,
			Domain:      DomainName,
			Description: "cancel an open or confirmed order",
			PayloadSchema: openapi3.NewObjectSchema().
				WithProperty("orderId", orderRef).
				WithProperty("reason", openapi3.NewStringSchema()).
				WithRequired([]string{"orderId"}),
			Routing: routing,
		},
		{
			Type:        CmdShip,
			Domain:      DomainName,
			Description: "ship a confirmed order",
			PayloadSchema: openapi3.NewObjectSchema().
				WithProperty("orderId", orderRef).
				WithRequired([]string{"orderId"}),
			Routing: routing,
		},
		{
			Type:        CmdSimulateFailure,
			Domain:      DomainName,
			Description: "force a business-rule violation, for pipeline verification",
			PayloadSchema: openapi3.NewObjectSchema().
				WithProperty("orderId", orderRef).
				WithProperty("retryable", openapi3.NewBoolSchema()).
				WithRequired([]string{"orderId"}),
			Routing: routing,
		},
	}
}

func eventTypes() []registry.EventTypeMeta {
	types := []struct{ t, d string }{
		{EvtCreated, "an order was opened"},
		{EvtItemAdded, "a line item was added"},
		{EvtConfirmed, "the order was confirmed by its buyer"},
		{EvtCancelled, "the order was cancelled"},
		{EvtShipped, "the order left fulfillment"},
	}
	out := make([]registry.EventTypeMeta, 0, len(types))
	for _, t := range types {
		out = append(out, registry.EventTypeMeta{Type: t.t, Domain: DomainName, Description: t.d})
	}
	return out
}
