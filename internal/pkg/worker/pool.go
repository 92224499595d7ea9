// Package worker provides goroutine pool management.
//
// Naked goroutines are forbidden in this codebase; all concurrency goes
// through a Pool with context propagation so panics are recovered in one
// place and shutdown can drain in-flight work.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"loomworks.io/loom/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	// General runs short-lived background tasks.
	General *Pool

	// Process runs the long-lived per-entity process loops. Sized for
	// the number of concurrently live aggregate/saga processes.
	Process *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool sizing.
type PoolConfig struct {
	GeneralPoolSize int
	ProcessPoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize: 100,
		ProcessPoolSize: 512,
	}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	generalAnts, err := ants.NewPool(cfg.GeneralPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	processAnts, err := ants.NewPool(cfg.ProcessPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		// Process loops live until their idle TTL; purge lazily.
		ants.WithExpiryDuration(time.Minute),
	)
	if err != nil {
		generalAnts.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		General:       &Pool{pool: generalAnts, name: "general"},
		Process:       &Pool{pool: processAnts, name: "process"},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task. The task receives the caller's
// context and should check ctx.Done() at blocking points. If the context is
// already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.pool.Submit(func() {
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Detach submits a task bound to the service lifecycle context instead of a
// request context. Used for work that outlives the request that spawned it.
func (ps *Pools) Detach(task Task) error {
	return ps.General.Submit(ps.serviceCtx, task)
}

// ServiceContext returns the lifecycle context shared by detached tasks.
func (ps *Pools) ServiceContext() context.Context {
	return ps.serviceCtx
}

// Running returns the number of currently running workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Shutdown releases all pools, waiting briefly for running tasks.
func (ps *Pools) Shutdown() {
	ps.serviceCancel()
	if err := ps.General.pool.ReleaseTimeout(5 * time.Second); err != nil {
		logger.Warn("general pool release timed out", zap.Error(err))
	}
	if err := ps.Process.pool.ReleaseTimeout(10 * time.Second); err != nil {
		logger.Warn("process pool release timed out", zap.Error(err))
	}
}
