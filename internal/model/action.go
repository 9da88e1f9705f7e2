// Package model defines the core domain types for Kuria.
//
// Types correspond directly to database tables and wire payloads.
// They use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} wherever possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ActionLevel is the autonomy level of a proposed action.
type ActionLevel string

const (
	// LevelAutonomous executes immediately; the human sees the audit trail after.
	LevelAutonomous ActionLevel = "A"
	// LevelSupervised queues the action for explicit human approval.
	LevelSupervised ActionLevel = "B"
	// LevelAssisted records a brief; the human performs the action themselves.
	LevelAssisted ActionLevel = "C"
)

// ActionStatus is the lifecycle state of an action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionRunning   ActionStatus = "running"
	ActionSuccess   ActionStatus = "success"
	ActionFailed    ActionStatus = "failed"
	ActionCancelled ActionStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s ActionStatus) Terminal() bool {
	return s == ActionSuccess || s == ActionFailed || s == ActionCancelled
}

// Action is what an agent submits to the executor: a proposed side effect
// with an autonomy level. Immutable once created.
type Action struct {
	Type        string         `json:"type"`
	Level       ActionLevel    `json:"level"`
	TenantID    uuid.UUID      `json:"tenant_id"`
	Agent       string         `json:"agent"`
	Payload     map[string]any `json:"payload"`
	Description string         `json:"description,omitempty"`
	Preview     map[string]any `json:"preview,omitempty"`
}

// ActionResult is what the executor returns after handling an action.
type ActionResult struct {
	ActionType string         `json:"action_type"`
	Status     ActionStatus   `json:"status"`
	ExecutedAt time.Time      `json:"executed_at"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
}

// PendingAction is the durable record of a level-B or level-C action
// awaiting a human decision. Lifecycle: pending -> running -> success|failed,
// or pending -> cancelled on rejection. There is no automatic expiry;
// approval is human-paced.
type PendingAction struct {
	ID          uuid.UUID      `json:"id"`
	ActionType  string         `json:"action_type"`
	Level       ActionLevel    `json:"level"`
	TenantID    uuid.UUID      `json:"tenant_id"`
	Agent       string         `json:"agent"`
	Payload     map[string]any `json:"payload"`
	Description string         `json:"description,omitempty"`
	Preview     map[string]any `json:"preview,omitempty"`
	Status      ActionStatus   `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ExecutedAt  *time.Time     `json:"executed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
}

// ActionLog is one row of the insert-only audit trail. Every executed,
// queued, rejected or exhausted action lands here exactly once per
// terminal transition.
type ActionLog struct {
	ID         uuid.UUID      `json:"id"`
	ActionType string         `json:"action_type"`
	Level      ActionLevel    `json:"level"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	Agent      string         `json:"agent"`
	Payload    map[string]any `json:"payload"`
	Status     ActionStatus   `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	ExecutedAt time.Time      `json:"executed_at"`
}
