package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"loomworks.io/loom/internal/commandstore"
	"loomworks.io/loom/internal/pkg/logger"
)

// DefaultCommandRetention is the retention baseline for terminal commands.
const DefaultCommandRetention = 30 * 24 * time.Hour

// CommandCleanupArgs is a periodic maintenance job that removes consumed and
// failed commands past the retention window. Pending commands are never
// touched; the sweep owns those.
type CommandCleanupArgs struct{}

// Kind returns the job kind identifier for periodic command cleanup.
func (CommandCleanupArgs) Kind() string { return "command_cleanup" }

// InsertOpts ensures at most one cleanup job is enqueued within the same day.
func (CommandCleanupArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// CommandCleanupWorker deletes terminal commands older than the configured
// retention duration.
type CommandCleanupWorker struct {
	river.WorkerDefaults[CommandCleanupArgs]
	commands  commandstore.Store
	retention time.Duration
}

// NewCommandCleanupWorker creates a cleanup worker. Non-positive retention
// falls back to the 30-day default.
func NewCommandCleanupWorker(commands commandstore.Store, retention time.Duration) *CommandCleanupWorker {
	if retention <= 0 {
		retention = DefaultCommandRetention
	}
	return &CommandCleanupWorker{commands: commands, retention: retention}
}

// Work removes expired terminal command rows.
func (w *CommandCleanupWorker) Work(ctx context.Context, _ *river.Job[CommandCleanupArgs]) error {
	if w == nil || w.commands == nil {
		return fmt.Errorf("command cleanup worker is not initialized")
	}

	cutoff := time.Now().UTC().Add(-w.retention)
	deleted, err := w.commands.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete terminal commands before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	logger.Info("command cleanup completed",
		zap.Int64("deleted_rows", deleted),
		zap.String("cutoff", cutoff.Format(time.RFC3339)),
		zap.Duration("retention", w.retention),
	)
	return nil
}
