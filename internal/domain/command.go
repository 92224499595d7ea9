// Package domain holds the core model of the orchestration pipeline:
// commands, events, metadata, the aggregate contract, saga definitions, and
// projection contracts. It has no I/O and no dependency on the stores or the
// process host.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// CommandStatus is the terminal-state tracker of a command. Transitions are
// one-way: pending → consumed or pending → failed.
type CommandStatus string

const (
	CommandStatusPending  CommandStatus = "PENDING"
	CommandStatusConsumed CommandStatus = "CONSUMED"
	CommandStatusFailed   CommandStatus = "FAILED"
)

// Well-known payload keys. Aggregate binding travels inside the payload so
// callers may either set it explicitly or rely on the command type's routing
// rule to backfill it.
const (
	PayloadKeyTenantID      = "tenantId"
	PayloadKeyAggregateID   = "aggregateId"
	PayloadKeyAggregateType = "aggregateType"
)

// Payload is the free-form body of a command or event.
type Payload map[string]any

// String returns the string value at key, if present.
func (p Payload) String(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p[key].(string)
	return v, ok
}

// UUID parses the value at key as a UUID.
func (p Payload) UUID(key string) (uuid.UUID, bool) {
	s, ok := p.String(key)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Clone returns a shallow copy. Enough for the router's backfill step, which
// only adds top-level keys.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Command is the envelope for an intent to change state. Immutable once
// dispatched except for Status.
type Command struct {
	ID       uuid.UUID     `json:"id"`
	TenantID uuid.UUID     `json:"tenantId"`
	Type     string        `json:"type"`
	Payload  Payload       `json:"payload"`
	Metadata Metadata      `json:"metadata"`
	Status   CommandStatus `json:"status"`
}

// NewCommand builds a pending command with a fresh v7 id and stamped metadata.
func NewCommand(tenantID uuid.UUID, cmdType string, payload Payload, meta Metadata) (Command, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Command{}, err
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = id.String()
	}
	return Command{
		ID:       id,
		TenantID: tenantID,
		Type:     cmdType,
		Payload:  payload,
		Metadata: meta,
		Status:   CommandStatusPending,
	}, nil
}

// AggregateBinding reads the aggregate type/id the command targets, if any.
func (c Command) AggregateBinding() (aggType string, aggID uuid.UUID, ok bool) {
	aggType, typeOK := c.Payload.String(PayloadKeyAggregateType)
	aggID, idOK := c.Payload.UUID(PayloadKeyAggregateID)
	if !typeOK || !idOK || aggType == "" {
		return "", uuid.Nil, false
	}
	return aggType, aggID, true
}
