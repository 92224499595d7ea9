package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"loomworks.io/loom/internal/domain"
	"loomworks.io/loom/internal/pkg/logger"
)

// RiverScheduler persists saga delay timers as scheduled River jobs. The job
// fires a grace interval after the in-process timer, so under normal
// operation it finds the command already terminal; after a crash or restart
// it is the path that actually dispatches.
type RiverScheduler struct {
	client *river.Client[pgx.Tx]
}

// NewRiverScheduler creates an unbound scheduler. The client is bound once
// River is initialized; the saga runner is constructed before that because
// its workers need the router.
func NewRiverScheduler() *RiverScheduler {
	return &RiverScheduler{}
}

// Bind attaches the shared River client. Must happen before the first saga
// plans a delay.
func (s *RiverScheduler) Bind(client *river.Client[pgx.Tx]) { s.client = client }

// Schedule implements process.DelayScheduler.
func (s *RiverScheduler) Schedule(ctx context.Context, cmd domain.Command, delay time.Duration) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("river scheduler is not initialized")
	}
	if delay < 0 {
		delay = 0
	}
	at := time.Now().UTC().Add(delay + delayedDispatchGrace)
	res, err := s.client.Insert(ctx, DelayedCommandArgs{CommandID: cmd.ID}, &river.InsertOpts{
		ScheduledAt: at,
	})
	if err != nil {
		return fmt.Errorf("schedule delayed command %s: %w", cmd.ID, err)
	}
	logger.Debug("durable timer scheduled",
		zap.String("command_id", cmd.ID.String()),
		zap.String("command_type", cmd.Type),
		zap.Time("scheduled_at", at),
		zap.Bool("unique_skipped", res.UniqueSkippedAsDuplicate),
	)
	return nil
}
