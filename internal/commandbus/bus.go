// Package commandbus routes a command to the one registered handler that can
// apply it to an already-loaded aggregate.
//
// The bus performs no I/O: it is pure orchestration over in-memory state,
// which is what makes it safe to call from inside a process step without
// breaking replay determinism.
package commandbus

import (
	"context"
	"fmt"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
	"loomworks.io/loom/internal/registry"
)

// Bus validates and dispatches commands against a loaded aggregate.
type Bus struct {
	registry *registry.Registry
}

// New creates a command bus over the frozen registry.
func New(reg *registry.Registry) *Bus {
	return &Bus{registry: reg}
}

// DispatchWithAggregate runs the four dispatch steps in order: payload
// schema validation, handler lookup, tenant-consistency check, delegation.
// The first failing step wins; later steps never run.
func (b *Bus) DispatchWithAggregate(ctx context.Context, cmd domain.Command, agg domain.Aggregate) ([]domain.Event, error) {
	meta, ok := b.registry.CommandType(cmd.Type)
	if !ok {
		return nil, apperrors.Routing(apperrors.CodeUnknownType,
			fmt.Sprintf("command type %q is not registered", cmd.Type))
	}

	if meta.PayloadSchema != nil {
		if err := meta.PayloadSchema.VisitJSON(map[string]any(cmd.Payload)); err != nil {
			return nil, apperrors.SchemaValidation(apperrors.CodeSchemaInvalid,
				fmt.Sprintf("payload of %q failed schema validation", cmd.Type)).
				WithDetails(map[string]any{"reason": err.Error()})
		}
	}

	handler, ok := b.registry.HandlerFor(cmd.Type)
	if !ok {
		return nil, apperrors.Routing(apperrors.CodeNoHandler,
			fmt.Sprintf("no handler registered for command type %q", cmd.Type))
	}

	if raw, declared := cmd.Payload[domain.PayloadKeyTenantID]; declared {
		payloadTenant, valid := cmd.Payload.UUID(domain.PayloadKeyTenantID)
		if !valid {
			return nil, apperrors.SchemaValidation(apperrors.CodeTenantMismatch,
				"payload tenant is not a valid UUID").
				WithDetails(map[string]any{
					"commandTenant": cmd.TenantID.String(),
					"payloadTenant": fmt.Sprintf("%v", raw),
				})
		}
		if payloadTenant != cmd.TenantID {
			return nil, apperrors.SchemaValidation(apperrors.CodeTenantMismatch,
				"payload tenant does not match command tenant").
				WithDetails(map[string]any{
					"commandTenant": cmd.TenantID.String(),
					"payloadTenant": payloadTenant.String(),
				})
		}
	}

	return handler.Handle(ctx, cmd, agg)
}
