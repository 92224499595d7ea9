// Package jobs defines the River job types backing the orchestration core:
// durable delayed-command timers, the stuck-pending redelivery sweep, and
// command retention cleanup. Jobs follow the claim-check pattern and carry
// only a command id; the payload lives in the command store.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"loomworks.io/loom/internal/commandstore"
	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
	"loomworks.io/loom/internal/pkg/logger"
	"loomworks.io/loom/internal/process"
)

// delayedDispatchGrace is added to every durable timer so the in-process
// dispatch path normally wins; the job then finds the command terminal and
// does nothing.
const delayedDispatchGrace = 2 * time.Second

// DelayedCommandArgs is the durable backstop for a saga-planned delayed
// command. It fires slightly after the in-process timer would have.
type DelayedCommandArgs struct {
	CommandID uuid.UUID `json:"command_id"`
}

// Kind returns the job kind identifier for delayed command dispatch.
func (DelayedCommandArgs) Kind() string { return "delayed_command_dispatch" }

// InsertOpts deduplicates on the command id: one durable timer per command.
func (DelayedCommandArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 5,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
		},
	}
}

// DelayedCommandWorker re-dispatches a delayed command that is still
// pending. Already-terminal commands are the common case and a no-op: the
// saga process dispatched them in time.
type DelayedCommandWorker struct {
	river.WorkerDefaults[DelayedCommandArgs]
	commands   commandstore.Store
	dispatcher process.Dispatcher
}

// NewDelayedCommandWorker creates the durable dispatch worker.
func NewDelayedCommandWorker(commands commandstore.Store, dispatcher process.Dispatcher) *DelayedCommandWorker {
	return &DelayedCommandWorker{commands: commands, dispatcher: dispatcher}
}

// Work dispatches the stored command if it never reached a terminal state.
func (w *DelayedCommandWorker) Work(ctx context.Context, job *river.Job[DelayedCommandArgs]) error {
	if w == nil || w.commands == nil || w.dispatcher == nil {
		return fmt.Errorf("delayed command worker is not initialized")
	}

	rec, err := w.commands.GetByID(ctx, job.Args.CommandID)
	if err != nil {
		if de, ok := apperrors.AsDomainError(err); ok && de.Code == apperrors.CodeCommandNotFound {
			// Retention cleanup can outrun a long timer.
			return river.JobCancel(fmt.Errorf("command %s no longer exists", job.Args.CommandID))
		}
		return fmt.Errorf("load command %s: %w", job.Args.CommandID, err)
	}
	if rec.Command.Status != domain.CommandStatusPending {
		logger.Debug("delayed command already terminal, skipping",
			zap.String("command_id", rec.Command.ID.String()),
			zap.String("status", string(rec.Command.Status)),
		)
		return nil
	}

	res := w.dispatcher.DispatchCommand(ctx, rec.Command)
	if res.Status == domain.DispatchFail {
		if res.Error != nil && !res.Error.Retryable && res.Error.Kind != apperrors.KindInternal {
			// Terminal domain outcome; the command store already records it.
			return river.JobCancel(res.Error)
		}
		return fmt.Errorf("dispatch delayed command %s: %w", rec.Command.ID, res.Error)
	}

	logger.Info("delayed command dispatched by durable timer",
		zap.String("command_id", rec.Command.ID.String()),
		zap.String("command_type", rec.Command.Type),
	)
	return nil
}
