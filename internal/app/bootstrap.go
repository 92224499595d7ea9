// Package app is the composition root: bootstrap wires infrastructure,
// registry, stores, processes, router, jobs, and the HTTP surface, and
// stays orchestration-only.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"loomworks.io/loom/internal/api/handlers"
	"loomworks.io/loom/internal/app/modules"
	"loomworks.io/loom/internal/commandbus"
	"loomworks.io/loom/internal/commandstore"
	"loomworks.io/loom/internal/config"
	"loomworks.io/loom/internal/eventstore"
	"loomworks.io/loom/internal/infrastructure"
	"loomworks.io/loom/internal/jobs"
	"loomworks.io/loom/internal/pkg/worker"
	"loomworks.io/loom/internal/process"
	"loomworks.io/loom/internal/registry"
	"loomworks.io/loom/internal/router"
)

// Application holds the composed application dependencies.
type Application struct {
	Config     *config.Config
	HTTPRouter *gin.Engine
	DB         *infrastructure.DatabaseClients
	Pools      *worker.Pools
	Registry   *registry.Registry
	Workflow   *router.Router
	Aggregates *process.Host
	Sagas      *process.Host
	Modules    []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		ProcessPoolSize: cfg.Worker.ProcessPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	// Registration phase: every domain contributes once, then the
	// catalog freezes for the process lifetime.
	reg := registry.New()
	mods := []modules.Module{
		modules.NewOrderingModule(db.Pool, cfg.Ordering.ShipDelay),
	}
	for _, mod := range mods {
		if err := mod.RegisterDomain(reg); err != nil {
			pools.Shutdown()
			db.Close()
			return nil, fmt.Errorf("register domain %s: %w", mod.Name(), err)
		}
	}
	reg.Freeze()

	events := eventstore.NewPostgres(db.Pool)
	commands := commandstore.NewPostgres(db.Pool)
	bus := commandbus.New(reg)

	aggRunner := process.NewAggregateRunner(reg, events, bus,
		cfg.EventStore.SnapshotEvery, cfg.EventStore.AppendRetries)
	scheduler := jobs.NewRiverScheduler()
	sagaRunner := process.NewSagaRunner(reg, commands, scheduler)

	hostCfg := process.HostConfig{IdleTTL: cfg.Saga.IdleTTL}
	aggregates := process.NewHost("aggregate", aggRunner, pools.Process, pools.General, hostCfg)
	sagas := process.NewHost("saga", sagaRunner, pools.Process, pools.General, hostCfg)

	workflow := router.New(reg, commands, aggregates, sagas)
	sagaRunner.BindDispatcher(workflow)

	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewDelayedCommandWorker(commands, workflow))
	river.AddWorker(workers, jobs.NewPendingSweepWorker(commands, workflow, cfg.Saga.PendingRedeliverAfter))
	river.AddWorker(workers, jobs.NewCommandCleanupWorker(commands, cfg.Saga.CommandRetention))
	for _, mod := range mods {
		mod.RegisterWorkers(workers)
	}

	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(time.Minute),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.PendingSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.CommandCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
	if err := db.InitRiverClient(workers, periodic, cfg.River); err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("init river client: %w", err)
	}
	scheduler.Bind(db.RiverClient)

	server := handlers.NewServer(workflow, commands, reg, func(ctx context.Context) error {
		return db.Pool.Ping(ctx)
	})

	return &Application{
		Config:     cfg,
		HTTPRouter: newHTTPRouter(cfg, server),
		DB:         db,
		Pools:      pools,
		Registry:   reg,
		Workflow:   workflow,
		Aggregates: aggregates,
		Sagas:      sagas,
		Modules:    mods,
	}, nil
}
