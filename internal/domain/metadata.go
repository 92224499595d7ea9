package domain

import (
	"time"

	"github.com/google/uuid"
)

// Metadata is carried and inherited across command → event → follow-up
// command chains. CorrelationID is shared across a causal chain; CausationID
// is the immediate predecessor's id.
type Metadata struct {
	UserID        string            `json:"userId,omitempty"`
	Role          string            `json:"role,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	CausationID   string            `json:"causationId,omitempty"`
	RequestID     string            `json:"requestId,omitempty"`
	Source        string            `json:"source,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion int               `json:"schemaVersion,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Child derives the metadata for a message caused by the message that
// carried m. Correlation is preserved, causation points at the parent.
func (m Metadata) Child(causeID uuid.UUID) Metadata {
	out := m
	out.CausationID = causeID.String()
	out.Timestamp = time.Now().UTC()
	if out.Tags != nil {
		tags := make(map[string]string, len(m.Tags))
		for k, v := range m.Tags {
			tags[k] = v
		}
		out.Tags = tags
	}
	return out
}
