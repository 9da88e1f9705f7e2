package model

import (
	"time"

	"github.com/google/uuid"
)

// ActionSummary is a compact record of one action taken during a run,
// suitable for listing in the run result without the full payload.
type ActionSummary struct {
	Type   string       `json:"type"`
	Level  ActionLevel  `json:"level"`
	Status ActionStatus `json:"status"`
}

// AgentRunResult is the outcome of one agent invocation for one tenant.
// One row per invocation, immutable once persisted.
// Success and duration are derived, never stored redundantly.
type AgentRunResult struct {
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
func (r AgentRunResult) Success() bool {
	return len(r.Errors) == 0
}

// Duration is the wall-clock time the run took.
func (r AgentRunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
