package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable fact appended to an aggregate's history. Events are
// strictly ordered per aggregate by Version, 0-based with no gaps; Version
// doubles as the optimistic-concurrency token.
type Event struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenantId"`
	AggregateID   uuid.UUID `json:"aggregateId"`
	AggregateType string    `json:"aggregateType"`
	Type          string    `json:"type"`
	Version       int64     `json:"version"`
	Payload       Payload   `json:"payload"`
	Metadata      Metadata  `json:"metadata"`
}

// NewEvent builds an event caused by cmd. Version is assigned by the event
// store at append time; the zero value here is a placeholder.
func NewEvent(cmd Command, eventType string, payload Payload) (Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Event{}, err
	}
	aggType, aggID, _ := cmd.AggregateBinding()
	return Event{
		ID:            id,
		TenantID:      cmd.TenantID,
		AggregateID:   aggID,
		AggregateType: aggType,
		Type:          eventType,
		Payload:       payload,
		Metadata:      cmd.Metadata.Child(cmd.ID),
	}, nil
}

// Snapshot is a regenerable point-in-time compression of aggregate state.
// Version is the aggregate version at capture time: replay resumes with
// events whose version is >= Version. Losing a snapshot costs latency, never
// correctness.
type Snapshot struct {
	AggregateID   uuid.UUID `json:"aggregateId"`
	AggregateType string    `json:"aggregateType"`
	TenantID      uuid.UUID `json:"tenantId"`
	State         []byte    `json:"state"`
	SchemaVersion int       `json:"schemaVersion"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
}
