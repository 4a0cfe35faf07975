package models

import (
	"encoding/json"
	"time"
)

// Envelope wraps a domain event or command published on the bus
type Envelope struct {
	Kind       string          `json:"kind"`
	UniqueID   string          `json:"unique_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Node       string          `json:"node,omitempty"`
	Payload    json.RawMessage `json:"payload"`

	// Bus partition key; equal keys keep their order
	PartitionKey string `json:"-"`
}

// NewEnvelope creates an envelope keyed by the failure's unique id.
func NewEnvelope(kind, uniqueID string, payload json.RawMessage, node string, at time.Time) *Envelope {
	return &Envelope{
		Kind:         kind,
		UniqueID:     uniqueID,
		OccurredAt:   at.UTC(),
		Node:         node,
		Payload:      payload,
		PartitionKey: uniqueID,
	}
}
