// Package main seeds a demo tenant with a complete order lifecycle by
// driving commands through the full orchestration pipeline. Intended for
// local development and smoke-testing a fresh database; safe to re-run.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loomworks.io/loom/internal/app"
	"loomworks.io/loom/internal/config"
	"loomworks.io/loom/internal/domain"
	"loomworks.io/loom/internal/domains/ordering"
	"loomworks.io/loom/internal/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	application, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		application.Shutdown(shutdownCtx)
	}()

	logger.Info("Seeding demo order lifecycle...")

	tenantID := uuid.New()
	orderID := uuid.New()
	meta := domain.Metadata{
		UserID: "seed",
		Role:   ordering.RoleBuyer,
		Source: "seed",
	}

	steps := []struct {
		cmdType string
		payload domain.Payload
	}{
		{ordering.CmdCreate, domain.Payload{
			"orderId":    orderID.String(),
			"customerId": uuid.NewString(),
			"currency":   ordering.DefaultCurrency,
		}},
		{ordering.CmdAddItem, domain.Payload{
			"orderId":  orderID.String(),
			"sku":      "DEMO-WIDGET",
			"quantity": float64(2),
			"price":    19.99,
		}},
		{ordering.CmdAddItem, domain.Payload{
			"orderId":  orderID.String(),
			"sku":      "DEMO-GADGET",
			"quantity": float64(1),
			"price":    49.50,
		}},
		{ordering.CmdConfirm, domain.Payload{
			"orderId": orderID.String(),
		}},
	}

	for _, step := range steps {
		cmd, err := domain.NewCommand(tenantID, step.cmdType, step.payload, meta)
		if err != nil {
			return fmt.Errorf("build %s: %w", step.cmdType, err)
		}
		res := application.Workflow.DispatchCommand(ctx, cmd)
		if res.Status == domain.DispatchFail {
			return fmt.Errorf("dispatch %s: %s", step.cmdType, res.Error.Error())
		}
		for _, ev := range res.Events {
			logger.Info("event recorded",
				zap.String("event_type", ev.Type),
				zap.Int64("version", ev.Version),
			)
		}
	}

	// Give the fulfillment saga time to ship the confirmed order before
	// tearing the process hosts down.
	wait := cfg.Ordering.ShipDelay + 2*time.Second
	logger.Info("Waiting for fulfillment saga to ship the order...",
		zap.Duration("wait", wait),
	)
	time.Sleep(wait)

	logger.Info("Demo seeding completed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("order_id", orderID.String()),
	)
	return nil
}
