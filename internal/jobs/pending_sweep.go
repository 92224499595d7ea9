package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"loomworks.io/loom/internal/commandstore"
	"loomworks.io/loom/internal/domain"
	"loomworks.io/loom/internal/pkg/logger"
	"loomworks.io/loom/internal/process"
)

const (
	// DefaultPendingRedeliverAfter is how long a command may sit pending
	// before the sweep re-dispatches it.
	DefaultPendingRedeliverAfter = 5 * time.Minute

	// pendingSweepBatch bounds one sweep pass.
	pendingSweepBatch = 100
)

// PendingSweepArgs is the periodic redelivery sweep: any command still
// pending well past its dispatch attempt is re-driven through the router.
// This is the at-least-once half of the delivery contract; handlers absorb
// the resulting duplicates through idempotent event application.
type PendingSweepArgs struct{}

// Kind returns the job kind identifier for the pending-command sweep.
func (PendingSweepArgs) Kind() string { return "pending_command_sweep" }

// InsertOpts keeps a single sweep in flight per period.
func (PendingSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// PendingSweepWorker re-dispatches stuck pending commands.
type PendingSweepWorker struct {
	river.WorkerDefaults[PendingSweepArgs]
	commands       commandstore.Store
	dispatcher     process.Dispatcher
	redeliverAfter time.Duration
}

// NewPendingSweepWorker creates the sweep worker. Non-positive
// redeliverAfter falls back to the default.
func NewPendingSweepWorker(commands commandstore.Store, dispatcher process.Dispatcher, redeliverAfter time.Duration) *PendingSweepWorker {
	if redeliverAfter <= 0 {
		redeliverAfter = DefaultPendingRedeliverAfter
	}
	return &PendingSweepWorker{
		commands:       commands,
		dispatcher:     dispatcher,
		redeliverAfter: redeliverAfter,
	}
}

// Work finds pending commands untouched past the redelivery window and
// drives each through the router again. Per-command failures are logged
// and do not abort the sweep.
func (w *PendingSweepWorker) Work(ctx context.Context, _ *river.Job[PendingSweepArgs]) error {
	if w == nil || w.commands == nil || w.dispatcher == nil {
		return fmt.Errorf("pending sweep worker is not initialized")
	}

	cutoff := time.Now().UTC().Add(-w.redeliverAfter)
	stuck, err := w.commands.Query(ctx, commandstore.Filter{
		Status:        domain.CommandStatusPending,
		UpdatedBefore: cutoff,
		Limit:         pendingSweepBatch,
	})
	if err != nil {
		return fmt.Errorf("query stuck pending commands: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	redelivered := 0
	for _, rec := range stuck {
		res := w.dispatcher.DispatchCommand(ctx, rec.Command)
		if res.Status == domain.DispatchFail {
			logger.Warn("redelivered command failed",
				zap.String("command_id", rec.Command.ID.String()),
				zap.String("command_type", rec.Command.Type),
				zap.String("code", res.Error.Code),
			)
			continue
		}
		redelivered++
	}

	logger.Info("pending command sweep completed",
		zap.Int("stuck", len(stuck)),
		zap.Int("redelivered", redelivered),
		zap.String("cutoff", cutoff.Format(time.RFC3339)),
	)
	return nil
}
