package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is a fact published by one agent run that future runs (of any
// agent) may react to. Append-only: the only mutation an event ever sees
// is the single unprocessed -> processed flip performed by the router.
// Events are never deleted; they double as an audit trail.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	EventType string         `json:"event_type"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	Payload   map[string]any `json:"payload"`
	Processed bool           `json:"processed"`
	CreatedAt time.Time      `json:"created_at"`
}
