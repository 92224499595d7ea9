package domain

import (
	"time"

	"github.com/google/uuid"
)

// SagaInput is the one signal shape a saga reacts to: exactly one of Command
// or Event is set.
type SagaInput struct {
	Command *Command
	Event   *Event
}

// TenantID returns the tenant the signal belongs to.
func (in SagaInput) TenantID() uuid.UUID {
	if in.Command != nil {
		return in.Command.TenantID
	}
	if in.Event != nil {
		return in.Event.TenantID
	}
	return uuid.Nil
}

// Metadata returns the carried metadata of the signal.
func (in SagaInput) Metadata() Metadata {
	if in.Command != nil {
		return in.Command.Metadata
	}
	if in.Event != nil {
		return in.Event.Metadata
	}
	return Metadata{}
}

// CauseID returns the id of the message that produced this input.
func (in SagaInput) CauseID() uuid.UUID {
	if in.Command != nil {
		return in.Command.ID
	}
	if in.Event != nil {
		return in.Event.ID
	}
	return uuid.Nil
}

// SagaContext is what a saga definition may use while computing a plan.
// NextID is a durable step: the generated id is persisted with the plan's
// commands before any dispatch, so re-delivery of the same signal cannot
// mint divergent identities mid-flight.
type SagaContext interface {
	NextID() uuid.UUID
}

// DelayedCommand is a plan entry dispatched no earlier than Delay after the
// plan was produced.
type DelayedCommand struct {
	Command Command
	Delay   time.Duration
}

// ProcessPlan is the immutable output of one saga reaction. Commands are
// dispatched immediately in order; Delays follow in list order, each after
// its own timer, never interleaved with a later signal's plan.
type ProcessPlan struct {
	Commands []Command
	Delays   []DelayedCommand
}

// Empty reports whether the plan carries no work.
func (p ProcessPlan) Empty() bool {
	return len(p.Commands) == 0 && len(p.Delays) == 0
}

// SagaDefinition maps signals to a stable process identity and computes
// follow-up work. IDFor must be a pure function of tenant plus correlating
// id: its determinism is what makes independent signals converge on one
// process.
type SagaDefinition struct {
	// Scope names the saga's address space (e.g. "order-fulfillment").
	Scope string

	// IDFor returns the correlation key for in, or false when the saga
	// does not react to it.
	IDFor func(in SagaInput) (string, bool)

	// Plan computes the follow-up commands for one signal.
	Plan func(in SagaInput, ctx SagaContext) (ProcessPlan, error)
}
