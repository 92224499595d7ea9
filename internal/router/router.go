// Package router is the orchestration entry point: it decides whether a
// command or event is aggregate-bound, saga-bound, or both, and drives
// execution through the per-entity process host.
package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"loomworks.io/loom/internal/commandstore"
	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
	"loomworks.io/loom/internal/pkg/logger"
	"loomworks.io/loom/internal/process"
	"loomworks.io/loom/internal/registry"
)

// Router routes commands and events to aggregate and saga processes.
type Router struct {
	registry   *registry.Registry
	commands   commandstore.Store
	aggregates *process.Host
	sagas      *process.Host
}

// New creates the workflow router. It implements process.Dispatcher, so the
// saga runner and the delayed-dispatch job feed commands back through it.
func New(reg *registry.Registry, commands commandstore.Store, aggregates, sagas *process.Host) *Router {
	return &Router{
		registry:   reg,
		commands:   commands,
		aggregates: aggregates,
		sagas:      sagas,
	}
}

// DispatchCommand runs one command through the pipeline: persist it as
// pending, backfill aggregate routing from its type metadata, drive the
// aggregate process and wait for its result, then — with the result known —
// signal every matching saga. A command may legitimately be both
// aggregate-bound and saga-bound; both paths fire.
func (r *Router) DispatchCommand(ctx context.Context, cmd domain.Command) domain.DispatchResult {
	if cmd.Status == "" {
		cmd.Status = domain.CommandStatusPending
	}
	if err := r.commands.Upsert(ctx, cmd); err != nil {
		return domain.Fail(err)
	}

	meta, ok := r.registry.CommandType(cmd.Type)
	if !ok {
		return r.finish(ctx, cmd, domain.Fail(apperrors.Routing(apperrors.CodeUnknownType,
			fmt.Sprintf("command type %q is not registered", cmd.Type))))
	}
	cmd = r.backfillRouting(ctx, cmd, meta)

	var result domain.DispatchResult
	aggType, aggID, aggregateBound := cmd.AggregateBinding()
	if aggregateBound {
		addr := process.Address{TenantID: cmd.TenantID, Scope: aggType, Key: aggID.String()}
		result = r.aggregates.Signal(ctx, addr, process.Signal{Command: &cmd})
	}

	sagaBound := r.signalSagas(ctx, domain.SagaInput{Command: &cmd})

	if !aggregateBound && !sagaBound {
		return r.finish(ctx, cmd, domain.Fail(apperrors.Routing(apperrors.CodeUnroutable,
			fmt.Sprintf("command type %q has no aggregate route and matches no saga", cmd.Type))))
	}
	if !aggregateBound {
		result = domain.Success(nil)
	}

	result = r.finish(ctx, cmd, result)
	for _, ev := range result.Events {
		r.fanOut(ctx, ev)
	}
	return result
}

// PublishEvent signals the owning aggregate's process to fold and persist
// the event, then fans the persisted copy out to event handlers,
// projections, and every matching saga.
func (r *Router) PublishEvent(ctx context.Context, ev domain.Event) error {
	if ev.AggregateType == "" {
		return apperrors.Routing(apperrors.CodeUnroutable,
			fmt.Sprintf("event type %q carries no aggregate type", ev.Type))
	}
	addr := process.Address{TenantID: ev.TenantID, Scope: ev.AggregateType, Key: ev.AggregateID.String()}
	res := r.aggregates.Signal(ctx, addr, process.Signal{Event: &ev})
	if res.Status == domain.DispatchFail {
		return res.Error
	}
	for _, appended := range res.Events {
		r.fanOut(ctx, appended)
	}
	return nil
}

// backfillRouting fills the payload's aggregate type/id from the command
// type's routing rule when the caller did not set them.
func (r *Router) backfillRouting(ctx context.Context, cmd domain.Command, meta registry.CommandTypeMeta) domain.Command {
	if meta.Routing == nil {
		return cmd
	}
	payload := cmd.Payload.Clone()
	changed := false
	if _, ok := payload.String(domain.PayloadKeyAggregateType); !ok {
		payload[domain.PayloadKeyAggregateType] = meta.Routing.AggregateType
		changed = true
	}
	if _, ok := payload.UUID(domain.PayloadKeyAggregateID); !ok && meta.Routing.ExtractID != nil {
		if id, ok := meta.Routing.ExtractID(payload); ok {
			payload[domain.PayloadKeyAggregateID] = id.String()
			changed = true
		}
	}
	if !changed {
		return cmd
	}
	cmd.Payload = payload
	if err := r.commands.Upsert(ctx, cmd); err != nil {
		logger.Warn("failed to persist backfilled routing",
			zap.String("command_id", cmd.ID.String()),
			zap.Error(err),
		)
	}
	return cmd
}

// signalSagas signals every saga whose IDFor matches in. Returns whether at
// least one matched.
func (r *Router) signalSagas(ctx context.Context, in domain.SagaInput) bool {
	matched := false
	for _, def := range r.registry.AllSagas() {
		key, ok := def.IDFor(in)
		if !ok || key == "" {
			continue
		}
		matched = true
		addr := process.Address{TenantID: in.TenantID(), Scope: def.Scope, Key: key}
		if err := r.sagas.Notify(ctx, addr, process.Signal{Command: in.Command, Event: in.Event}); err != nil {
			logger.Error("saga signal failed",
				zap.String("saga", def.Scope),
				zap.String("address", addr.String()),
				zap.Error(err),
			)
		}
	}
	return matched
}

// fanOut delivers one persisted event to event handlers, projections, and
// matching sagas. Consumer failures are logged, never propagated: the
// append that produced the event has already committed.
func (r *Router) fanOut(ctx context.Context, ev domain.Event) {
	for _, h := range r.registry.AllEventHandlers() {
		if h.SupportsEvent == nil || !h.SupportsEvent(ev) {
			continue
		}
		if err := h.Handle(ctx, ev); err != nil {
			logger.Error("event handler failed",
				zap.String("handler", h.Name),
				zap.String("event_type", ev.Type),
				zap.Error(err),
			)
		}
	}
	for _, p := range r.registry.AllProjections() {
		if !p.SupportsEvent(ev) {
			continue
		}
		if err := p.On(ctx, ev); err != nil {
			logger.Error("projection failed",
				zap.String("projection", p.Name()),
				zap.String("event_type", ev.Type),
				zap.Error(err),
			)
		}
	}
	r.signalSagas(ctx, domain.SagaInput{Event: &ev})
}

// finish records the command's terminal status. Internal failures stay
// pending so the redelivery sweep can retry them; everything else flips
// exactly once to consumed or failed.
func (r *Router) finish(ctx context.Context, cmd domain.Command, result domain.DispatchResult) domain.DispatchResult {
	if result.Status == domain.DispatchSuccess {
		r.mark(ctx, cmd, domain.CommandStatusConsumed, &result)
		return result
	}
	if result.Error != nil && result.Error.Kind == apperrors.KindInternal {
		// Leave pending: the substrate's retry policy owns this one.
		return result
	}
	r.mark(ctx, cmd, domain.CommandStatusFailed, &result)
	return result
}

func (r *Router) mark(ctx context.Context, cmd domain.Command, status domain.CommandStatus, result *domain.DispatchResult) {
	if err := r.commands.MarkStatus(ctx, cmd.ID, status, result); err != nil {
		logger.Warn("failed to mark command status",
			zap.String("command_id", cmd.ID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
