package process

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loomworks.io/loom/internal/commandstore"
	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
	"loomworks.io/loom/internal/pkg/logger"
	"loomworks.io/loom/internal/registry"
)

// DelayScheduler persists a durable timer for a delayed command. The River
// implementation schedules a claim-check job slightly after the in-process
// timer fires; the job re-dispatches only if the command is still pending,
// so the two paths cannot double-apply.
type DelayScheduler interface {
	Schedule(ctx context.Context, cmd domain.Command, delay time.Duration) error
}

// SagaRunner executes one saga instance per process. A signal produces a
// plan; the plan's immediate commands are dispatched in order, then each
// delayed command is waited out and dispatched in list order before the
// next signal is taken — the mailbox holds later signals meanwhile.
type SagaRunner struct {
	registry  *registry.Registry
	commands  commandstore.Store
	scheduler DelayScheduler

	// dispatcher is bound after construction to break the router cycle.
	dispatcher Dispatcher
}

// NewSagaRunner wires the saga process runner. scheduler may be nil, in
// which case delayed dispatch relies on the in-process timer alone.
func NewSagaRunner(reg *registry.Registry, commands commandstore.Store, scheduler DelayScheduler) *SagaRunner {
	return &SagaRunner{registry: reg, commands: commands, scheduler: scheduler}
}

// BindDispatcher injects the routing entry point. Must be called before the
// first signal.
func (r *SagaRunner) BindDispatcher(d Dispatcher) { r.dispatcher = d }

// Kind implements Runner.
func (r *SagaRunner) Kind() string { return "saga" }

// HandleSignal implements Runner.
func (r *SagaRunner) HandleSignal(ctx context.Context, addr Address, sig Signal) domain.DispatchResult {
	def, ok := r.registry.Saga(addr.Scope)
	if !ok {
		return domain.Fail(apperrors.Routing(apperrors.CodeUnknownSaga,
			fmt.Sprintf("saga scope %q is not registered", addr.Scope)))
	}

	input := domain.SagaInput{Command: sig.Command, Event: sig.Event}
	plan, err := def.Plan(input, newSagaContext())
	if err != nil {
		return domain.Fail(err)
	}
	if plan.Empty() {
		return domain.Success(nil)
	}

	// Persist every planned command, including its minted id, before any
	// dispatch. Re-delivery of the same signal after a crash replans,
	// but nothing half-dispatched can lose its identity.
	for _, cmd := range plan.Commands {
		if err := r.commands.Upsert(ctx, cmd); err != nil {
			return domain.Fail(err)
		}
	}
	for _, d := range plan.Delays {
		if err := r.commands.Upsert(ctx, d.Command); err != nil {
			return domain.Fail(err)
		}
		if r.scheduler != nil {
			if err := r.scheduler.Schedule(ctx, d.Command, d.Delay); err != nil {
				return domain.Fail(err)
			}
		}
	}

	for _, cmd := range plan.Commands {
		res := r.dispatcher.DispatchCommand(ctx, cmd)
		if res.Status == domain.DispatchFail {
			logger.Warn("saga follow-up command failed",
				zap.String("saga", addr.Scope),
				zap.String("command_type", cmd.Type),
				zap.String("code", res.Error.Code),
			)
		}
	}

	for _, d := range plan.Delays {
		timer := time.NewTimer(d.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			// The durable timer takes over after restart.
			return domain.Success(nil)
		}
		res := r.dispatcher.DispatchCommand(ctx, d.Command)
		if res.Status == domain.DispatchFail {
			logger.Warn("saga delayed command failed",
				zap.String("saga", addr.Scope),
				zap.String("command_type", d.Command.Type),
				zap.String("code", res.Error.Code),
			)
		}
	}

	return domain.Success(nil)
}

// sagaContext mints identifiers for a plan. Time-ordered v7 ids; each id is
// persisted with its command before dispatch, which is what makes NextID an
// effectively durable step.
type sagaContext struct{}

func newSagaContext() domain.SagaContext { return sagaContext{} }

// NextID implements domain.SagaContext.
func (sagaContext) NextID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does.
		return uuid.New()
	}
	return id
}

// TimerScheduler is the in-memory DelayScheduler used when no durable queue
// is attached (tests, single-node in-process mode). It is a no-op: the saga
// runner's own in-process timer performs the dispatch.
type TimerScheduler struct{}

// Schedule implements DelayScheduler.
func (TimerScheduler) Schedule(ctx context.Context, cmd domain.Command, delay time.Duration) error {
	return nil
}
