package ordering

import (
	"time"

	"loomworks.io/loom/internal/domain"
)

// SagaScope is the fulfillment saga's address space; together with the
// order id it forms the deterministic process identity, so every signal
// about one order converges on one process.
const SagaScope = "order-fulfillment"

// DefaultShipDelay is the fulfillment lag between confirmation and the
// shipping command.
const DefaultShipDelay = 3 * time.Second

// FulfillmentSaga reacts to order confirmation by scheduling the shipping
// command after shipDelay. It also correlates on the shipping command
// itself, so shipments initiated outside the saga still flow through the
// same process identity.
func FulfillmentSaga(shipDelay time.Duration) domain.SagaDefinition {
	if shipDelay <= 0 {
		shipDelay = DefaultShipDelay
	}
	return domain.SagaDefinition{
		Scope: SagaScope,
		IDFor: fulfillmentID,
		Plan: func(in domain.SagaInput, ctx domain.SagaContext) (domain.ProcessPlan, error) {
			if in.Event == nil || in.Event.Type != EvtConfirmed {
				return domain.ProcessPlan{}, nil
			}
			ship := domain.Command{
				ID:       ctx.NextID(),
				TenantID: in.Event.TenantID,
				Type:     CmdShip,
				Payload: domain.Payload{
					"orderId":                      in.Event.AggregateID.String(),
					domain.PayloadKeyTenantID:      in.Event.TenantID.String(),
					domain.PayloadKeyAggregateType: AggregateType,
					domain.PayloadKeyAggregateID:   in.Event.AggregateID.String(),
				},
				Metadata: in.Metadata().Child(in.CauseID()),
				Status:   domain.CommandStatusPending,
			}
			return domain.ProcessPlan{
				Delays: []domain.DelayedCommand{{Command: ship, Delay: shipDelay}},
			}, nil
		},
	}
}

// fulfillmentID correlates order.confirmed events and order.ship commands
// by order id.
func fulfillmentID(in domain.SagaInput) (string, bool) {
	if in.Event != nil && in.Event.Type == EvtConfirmed {
		return in.Event.AggregateID.String(), true
	}
	if in.Command != nil && in.Command.Type == CmdShip {
		if id, ok := in.Command.Payload.UUID(domain.PayloadKeyAggregateID); ok {
			return id.String(), true
		}
	}
	return "", false
}
