// Package process implements the long-lived per-entity execution model: one
// logically single-threaded process per aggregate instance and per saga
// instance, multiplexed over a worker pool.
//
// A process is addressed deterministically by (tenant, scope, key), so
// repeated signals for the same logical entity always converge on one
// process, giving at-most-one-concurrent-owner semantics for that entity
// without an explicit lock. Processes tear down after an idle TTL; a later
// signal transparently starts a fresh process at the same address, so
// teardown is invisible to correctness.
//
// Durability is layered on externally: inbound commands are persisted
// pending before processing and re-delivered by a sweep job if a process
// dies, and delayed saga commands are backed by a scheduled River job.
package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
	"loomworks.io/loom/internal/pkg/logger"
	"loomworks.io/loom/internal/pkg/worker"
)

// Address identifies one process deterministically.
type Address struct {
	TenantID uuid.UUID

	// Scope is the aggregate type or saga scope.
	Scope string

	// Key is the aggregate id or saga correlation key.
	Key string
}

// String renders the canonical process address.
func (a Address) String() string {
	return fmt.Sprintf("%s_%s-%s", a.TenantID, a.Scope, a.Key)
}

// Signal is one unit of work delivered to a process: exactly one of Command
// or Event is set.
type Signal struct {
	Command *domain.Command
	Event   *domain.Event
}

// Runner executes signals for one kind of process.
type Runner interface {
	// Kind names the runner for logs.
	Kind() string

	// HandleSignal processes one signal to completion. It is called from
	// the process's single goroutine, so per-address execution is
	// serialized by construction.
	HandleSignal(ctx context.Context, addr Address, sig Signal) domain.DispatchResult
}

// Dispatcher feeds commands back into the routing entry point. The workflow
// router implements it; runners and jobs depend only on this interface.
type Dispatcher interface {
	DispatchCommand(ctx context.Context, cmd domain.Command) domain.DispatchResult
}

// Host multiplexes processes of one kind over a worker pool.
type Host struct {
	kind    string
	runner  Runner
	pool    *worker.Pool
	async   *worker.Pool
	idleTTL time.Duration

	mu     sync.Mutex
	procs  map[string]*proc
	notify map[string]*notifyQueue
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type envelope struct {
	sig   Signal
	reply chan domain.DispatchResult // nil for fire-and-forget
}

type proc struct {
	addr Address

	// mailbox is unbuffered: a send completes only when the process loop
	// is receiving, which is what makes idle teardown race-free.
	mailbox chan envelope

	// done is closed when the loop exits; blocked senders retry against
	// a fresh process.
	done chan struct{}
}

// notifyQueue holds fire-and-forget signals for one address. Appends are
// FIFO and at most one drainer task delivers them, so two notifies issued
// back-to-back can never swap places on the pool scheduler.
type notifyQueue struct {
	mu       sync.Mutex
	pending  []envelope
	draining bool
}

// HostConfig tunes one host.
type HostConfig struct {
	// IdleTTL tears a process down after this long without a signal.
	IdleTTL time.Duration
}

// NewHost creates a host for one process kind. pool runs the process loops;
// asyncPool runs non-blocking signal handoffs.
func NewHost(kind string, runner Runner, pool, asyncPool *worker.Pool, cfg HostConfig) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Host{
		kind:    kind,
		runner:  runner,
		pool:    pool,
		async:   asyncPool,
		idleTTL: ttl,
		procs:   make(map[string]*proc),
		notify:  make(map[string]*notifyQueue),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Signal delivers sig to the process at addr and waits for its result,
// starting the process if none is live. Signals for one address are handled
// strictly one at a time, in arrival order.
func (h *Host) Signal(ctx context.Context, addr Address, sig Signal) domain.DispatchResult {
	reply := make(chan domain.DispatchResult, 1)
	if err := h.enqueue(ctx, addr, envelope{sig: sig, reply: reply}); err != nil {
		return domain.Fail(err)
	}
	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return domain.Fail(apperrors.Internal(apperrors.CodeSignalDropped,
			fmt.Sprintf("context cancelled awaiting %s process %s", h.kind, addr), ctx.Err()))
	}
}

// Notify delivers sig without waiting for the result. Signals to one
// address are delivered in the order Notify was called: each address has a
// FIFO queue drained by a single task on the async pool. Running the
// handoff off-caller also lets a process signal its own address without
// deadlocking on its unbuffered mailbox.
func (h *Host) Notify(ctx context.Context, addr Address, sig Signal) error {
	q := h.queueFor(addr)
	q.mu.Lock()
	q.pending = append(q.pending, envelope{sig: sig})
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()

	if err := h.async.Submit(ctx, func(taskCtx context.Context) {
		h.drainNotify(taskCtx, addr, q)
	}); err != nil {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
		return err
	}
	return nil
}

func (h *Host) queueFor(addr Address) *notifyQueue {
	key := addr.String()
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.notify[key]
	if !ok {
		q = &notifyQueue{}
		h.notify[key] = q
	}
	return q
}

// drainNotify delivers queued signals for one address in order, then
// retires the queue once empty so one-shot addresses do not pin memory.
func (h *Host) drainNotify(ctx context.Context, addr Address, q *notifyQueue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			h.dropEmptyQueue(addr, q)
			return
		}
		env := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := h.enqueue(ctx, addr, env); err != nil {
			logger.Warn("async signal dropped",
				zap.String("kind", h.kind),
				zap.String("address", addr.String()),
				zap.Error(err),
			)
		}
	}
}

func (h *Host) dropEmptyQueue(addr Address, q *notifyQueue) {
	key := addr.String()
	h.mu.Lock()
	defer h.mu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()
	if h.notify[key] == q && len(q.pending) == 0 && !q.draining {
		delete(h.notify, key)
	}
}

// enqueue hands env to the live process at addr, spawning one as needed.
// When the target tears down mid-handoff the send is retried against a
// fresh process, so signal delivery is never lost to an idle TTL race.
func (h *Host) enqueue(ctx context.Context, addr Address, env envelope) error {
	for {
		p, err := h.liveProc(addr)
		if err != nil {
			return err
		}
		select {
		case p.mailbox <- env:
			return nil
		case <-p.done:
			continue
		case <-ctx.Done():
			return apperrors.Internal(apperrors.CodeSignalDropped,
				fmt.Sprintf("context cancelled signalling %s process %s", h.kind, addr), ctx.Err())
		case <-h.ctx.Done():
			return apperrors.Internal(apperrors.CodeHostClosed,
				fmt.Sprintf("%s host is shut down", h.kind), nil)
		}
	}
}

func (h *Host) liveProc(addr Address) (*proc, error) {
	key := addr.String()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, apperrors.Internal(apperrors.CodeHostClosed,
			fmt.Sprintf("%s host is shut down", h.kind), nil)
	}
	if p, ok := h.procs[key]; ok {
		h.mu.Unlock()
		return p, nil
	}

	p := &proc{
		addr:    addr,
		mailbox: make(chan envelope),
		done:    make(chan struct{}),
	}
	h.procs[key] = p
	h.wg.Add(1)
	h.mu.Unlock()

	// Submit outside the lock: the pool blocks when saturated, and retire
	// needs the lock to tear an idle process down and free a worker. A
	// submit that blocked while holding it would wedge the whole host.
	if err := h.pool.Submit(h.ctx, func(ctx context.Context) {
		defer h.wg.Done()
		h.runLoop(ctx, p)
	}); err != nil {
		h.mu.Lock()
		if h.procs[key] == p {
			delete(h.procs, key)
		}
		h.mu.Unlock()
		close(p.done)
		h.wg.Done()
		return nil, apperrors.Internal(apperrors.CodeHostClosed,
			fmt.Sprintf("submit %s process %s", h.kind, addr), err)
	}

	logger.Debug("process started",
		zap.String("kind", h.kind),
		zap.String("address", key),
	)
	return p, nil
}

// runLoop is the single-threaded life of one process.
func (h *Host) runLoop(ctx context.Context, p *proc) {
	idle := time.NewTimer(h.idleTTL)
	defer idle.Stop()

	for {
		select {
		case env := <-p.mailbox:
			res := h.runner.HandleSignal(ctx, p.addr, env.sig)
			if env.reply != nil {
				env.reply <- res
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(h.idleTTL)

		case <-idle.C:
			h.retire(p)
			logger.Debug("process idle, torn down",
				zap.String("kind", h.kind),
				zap.String("address", p.addr.String()),
			)
			return

		case <-ctx.Done():
			h.retire(p)
			return
		}
	}
}

// retire removes p from the live set and closes its done channel. The
// mailbox is unbuffered, so no signal can be stranded inside it; senders
// that already hold a reference observe done and retry against a fresh
// process.
func (h *Host) retire(p *proc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.procs[p.addr.String()] == p {
		delete(h.procs, p.addr.String())
	}
	close(p.done)
}

// Live returns the number of currently live processes.
func (h *Host) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.procs)
}

// Shutdown stops accepting signals and waits for process loops to exit.
func (h *Host) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() { defer close(done); h.wg.Wait() }() //nolint:naked-goroutine // shutdown waiter only
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
