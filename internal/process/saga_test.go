package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"loomworks.io/loom/internal/commandstore"
	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
	"loomworks.io/loom/internal/registry"
)

// recordingDispatcher notes each dispatch and whether the command was
// already persisted at that moment.
type recordingDispatcher struct {
	store commandstore.Store

	mu         sync.Mutex
	dispatched []dispatchRecord
}

type dispatchRecord struct {
	id        uuid.UUID
	cmdType   string
	at        time.Time
	persisted bool
}

func (d *recordingDispatcher) DispatchCommand(ctx context.Context, cmd domain.Command) domain.DispatchResult {
	_, err := d.store.GetByID(ctx, cmd.ID)
	d.mu.Lock()
	d.dispatched = append(d.dispatched, dispatchRecord{
		id:        cmd.ID,
		cmdType:   cmd.Type,
		at:        time.Now(),
		persisted: err == nil,
	})
	d.mu.Unlock()
	return domain.Success(nil)
}

func (d *recordingDispatcher) records() []dispatchRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dispatchRecord, len(d.dispatched))
	copy(out, d.dispatched)
	return out
}

// recordingScheduler captures durable-timer registrations.
type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []scheduledRecord
}

type scheduledRecord struct {
	id    uuid.UUID
	delay time.Duration
}

func (s *recordingScheduler) Schedule(ctx context.Context, cmd domain.Command, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, scheduledRecord{id: cmd.ID, delay: delay})
	return nil
}

func (s *recordingScheduler) records() []scheduledRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scheduledRecord, len(s.scheduled))
	copy(out, s.scheduled)
	return out
}

// shipOnConfirm plans one immediate notice and one delayed ship command for
// every confirmed event.
func shipOnConfirm(delay time.Duration) domain.SagaDefinition {
	return domain.SagaDefinition{
		Scope: "shipping",
		IDFor: func(in domain.SagaInput) (string, bool) {
			if in.Event == nil || in.Event.Type != "order.confirmed" {
				return "", false
			}
			return in.Event.AggregateID.String(), true
		},
		Plan: func(in domain.SagaInput, sc domain.SagaContext) (domain.ProcessPlan, error) {
			if in.Event == nil || in.Event.Type != "order.confirmed" {
				return domain.ProcessPlan{}, nil
			}
			notice := domain.Command{
				ID:       sc.NextID(),
				TenantID: in.TenantID(),
				Type:     "shipping.notify",
				Payload:  domain.Payload{"orderId": in.Event.AggregateID.String()},
				Metadata: in.Metadata().Child(in.CauseID()),
				Status:   domain.CommandStatusPending,
			}
			ship := domain.Command{
				ID:       sc.NextID(),
				TenantID: in.TenantID(),
				Type:     "order.ship",
				Payload:  domain.Payload{"orderId": in.Event.AggregateID.String()},
				Metadata: in.Metadata().Child(in.CauseID()),
				Status:   domain.CommandStatusPending,
			}
			return domain.ProcessPlan{
				Commands: []domain.Command{notice},
				Delays:   []domain.DelayedCommand{{Command: ship, Delay: delay}},
			}, nil
		},
	}
}

func newSagaTestRunner(t *testing.T, delay time.Duration) (*SagaRunner, *recordingDispatcher, *recordingScheduler) {
	t.Helper()
	reg := registry.New()
	if err := reg.RegisterSaga(shipOnConfirm(delay)); err != nil {
		t.Fatalf("register saga: %v", err)
	}
	reg.Freeze()

	store := commandstore.NewMemory()
	dispatcher := &recordingDispatcher{store: store}
	scheduler := &recordingScheduler{}
	runner := NewSagaRunner(reg, store, scheduler)
	runner.BindDispatcher(dispatcher)
	return runner, dispatcher, scheduler
}

func confirmedEvent(t *testing.T) domain.Event {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	return domain.Event{
		ID:            id,
		TenantID:      uuid.New(),
		AggregateID:   uuid.New(),
		AggregateType: "order",
		Type:          "order.confirmed",
		Metadata:      domain.Metadata{CorrelationID: uuid.NewString(), Source: "test"},
	}
}

func TestSagaRunnerPersistsPlanBeforeDispatch(t *testing.T) {
	t.Parallel()
	runner, dispatcher, scheduler := newSagaTestRunner(t, 20*time.Millisecond)
	ev := confirmedEvent(t)
	addr := Address{TenantID: ev.TenantID, Scope: "shipping", Key: ev.AggregateID.String()}

	res := runner.HandleSignal(t.Context(), addr, Signal{Event: &ev})
	if res.Status != domain.DispatchSuccess {
		t.Fatalf("signal failed: %+v", res.Error)
	}

	recs := dispatcher.records()
	if len(recs) != 2 {
		t.Fatalf("dispatched %d commands, want 2", len(recs))
	}
	for _, rec := range recs {
		if !rec.persisted {
			t.Fatalf("%s dispatched before it was persisted", rec.cmdType)
		}
	}
	if recs[0].cmdType != "shipping.notify" || recs[1].cmdType != "order.ship" {
		t.Fatalf("dispatch order = [%s, %s]", recs[0].cmdType, recs[1].cmdType)
	}

	sched := scheduler.records()
	if len(sched) != 1 || sched[0].id != recs[1].id {
		t.Fatalf("durable timer records = %+v", sched)
	}
	if sched[0].delay != 20*time.Millisecond {
		t.Fatalf("scheduled delay = %v", sched[0].delay)
	}
}

func TestSagaRunnerDelayedDispatchIsNotEarly(t *testing.T) {
	t.Parallel()
	const delay = 120 * time.Millisecond
	runner, dispatcher, _ := newSagaTestRunner(t, delay)
	ev := confirmedEvent(t)
	addr := Address{TenantID: ev.TenantID, Scope: "shipping", Key: ev.AggregateID.String()}

	start := time.Now()
	if res := runner.HandleSignal(t.Context(), addr, Signal{Event: &ev}); res.Status != domain.DispatchSuccess {
		t.Fatalf("signal failed: %+v", res.Error)
	}

	recs := dispatcher.records()
	if len(recs) != 2 {
		t.Fatalf("dispatched %d commands, want 2", len(recs))
	}
	if elapsed := recs[1].at.Sub(start); elapsed < delay {
		t.Fatalf("delayed command dispatched after %v, want >= %v", elapsed, delay)
	}
}

func TestSagaRunnerCancelledDelayDefersToDurableTimer(t *testing.T) {
	t.Parallel()
	runner, dispatcher, scheduler := newSagaTestRunner(t, time.Minute)
	ev := confirmedEvent(t)
	addr := Address{TenantID: ev.TenantID, Scope: "shipping", Key: ev.AggregateID.String()}

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := runner.HandleSignal(ctx, addr, Signal{Event: &ev})
	if res.Status != domain.DispatchSuccess {
		t.Fatalf("cancelled delay must not fail the signal: %+v", res.Error)
	}

	// Only the immediate command made it out; the delayed one stays with
	// its persisted row and durable timer.
	recs := dispatcher.records()
	if len(recs) != 1 || recs[0].cmdType != "shipping.notify" {
		t.Fatalf("dispatched = %+v", recs)
	}
	if len(scheduler.records()) != 1 {
		t.Fatal("delayed command lost its durable timer")
	}
}

func TestSagaRunnerUnknownScope(t *testing.T) {
	t.Parallel()
	runner, _, _ := newSagaTestRunner(t, time.Millisecond)
	ev := confirmedEvent(t)
	addr := Address{TenantID: ev.TenantID, Scope: "no-such-saga", Key: "x"}

	res := runner.HandleSignal(t.Context(), addr, Signal{Event: &ev})
	if res.Status != domain.DispatchFail {
		t.Fatal("unknown scope must fail")
	}
	if res.Error.Code != apperrors.CodeUnknownSaga {
		t.Fatalf("code = %s, want %s", res.Error.Code, apperrors.CodeUnknownSaga)
	}
}

func TestSagaRunnerEmptyPlan(t *testing.T) {
	t.Parallel()
	runner, dispatcher, scheduler := newSagaTestRunner(t, time.Millisecond)
	ev := confirmedEvent(t)
	ev.Type = "order.created"
	addr := Address{TenantID: ev.TenantID, Scope: "shipping", Key: ev.AggregateID.String()}

	res := runner.HandleSignal(t.Context(), addr, Signal{Event: &ev})
	if res.Status != domain.DispatchSuccess {
		t.Fatalf("empty plan must succeed: %+v", res.Error)
	}
	if len(dispatcher.records()) != 0 || len(scheduler.records()) != 0 {
		t.Fatal("empty plan produced work")
	}
}
