package kuria

import (
	"time"

	"github.com/google/uuid"
)

// Level is the autonomy level of an action.
type Level string

const (
	// LevelAutonomous actions executed immediately; the audit trail shows them after.
	LevelAutonomous Level = "A"
	// LevelSupervised actions were queued for explicit human approval.
	LevelSupervised Level = "B"
	// LevelAssisted actions were recorded as briefs for a human to act on.
	LevelAssisted Level = "C"
)

// Status is the lifecycle state of an action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// PendingAction is a queued action awaiting a human decision.
type PendingAction struct {
	ID          uuid.UUID      `json:"id"`
	ActionType  string         `json:"action_type"`
	Level       Level          `json:"level"`
	TenantID    uuid.UUID      `json:"tenant_id"`
	Agent       string         `json:"agent"`
	Payload     map[string]any `json:"payload"`
	Description string         `json:"description,omitempty"`
	Preview     map[string]any `json:"preview,omitempty"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ExecutedAt  *time.Time     `json:"executed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
}

// ActionResult is the terminal outcome of executing an approved action.
type ActionResult struct {
	ActionType string         `json:"action_type"`
	Status     Status         `json:"status"`
	ExecutedAt time.Time      `json:"executed_at"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
}

// RejectResult confirms that an action was cancelled.
type RejectResult struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"status"`
}

// ActionLog is one row of the insert-only audit trail.
type ActionLog struct {
	ID         uuid.UUID      `json:"id"`
	ActionType string         `json:"action_type"`
	Level      Level          `json:"level"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	Agent      string         `json:"agent"`
	Payload    map[string]any `json:"payload"`
	Status     Status         `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// ActionSummary is a compact record of one action taken during a run.
type ActionSummary struct {
	Type   string `json:"type"`
	Level  Level  `json:"level"`
	Status Status `json:"status"`
}

// RunResult is the outcome of one agent invocation for one tenant.
type RunResult struct {
	Agent        string          `json:"agent"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	ActionsTaken []ActionSummary `json:"actions_taken,omitempty"`
	KPIName      string          `json:"kpi_name,omitempty"`
	KPIValue     float64         `json:"kpi_value,omitempty"`
	Errors       []string        `json:"errors,omitempty"`
}

// Success reports whether the run completed without errors.
func (r RunResult) Success() bool {
	return len(r.Errors) == 0
}

// HealthResponse is the server's health status.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
