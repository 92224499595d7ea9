package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"loomworks.io/loom/internal/pkg/logger"
)

// Start starts all background services (River workers).
func (a *Application) Start(ctx context.Context) error {
	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, jobs will now be consumed")
	}
	return nil
}

// Shutdown gracefully shuts down all application components: stop taking
// new work, drain the process hosts, then release the pools.
func (a *Application) Shutdown(ctx context.Context) {
	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Stop(ctx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		} else {
			logger.Info("River client stopped")
		}
	}

	if a.Sagas != nil {
		if err := a.Sagas.Shutdown(ctx); err != nil {
			logger.Warn("saga host shutdown returned error", zap.Error(err))
		}
	}
	if a.Aggregates != nil {
		if err := a.Aggregates.Shutdown(ctx); err != nil {
			logger.Warn("aggregate host shutdown returned error", zap.Error(err))
		}
	}

	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(ctx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
