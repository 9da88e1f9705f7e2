package kuria

import (
	"time"

	"github.com/google/uuid"
)

// Autonomy levels for actions submitted by agents.
const (
	LevelAutonomous = "A"
	LevelSupervised = "B"
	LevelAssisted   = "C"
)

// Tenant is the public representation of one business customer.
// It is a curated view of internal/model.Tenant for use in extension
// interfaces. All fields are primitive or stdlib types, safe to use from
// outside the module.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	// AgentConfigs maps agent name to that agent's per-tenant config.
	AgentConfigs map[string]map[string]any
}

// ActionSummary is a compact record of one action an agent took during a run.
type ActionSummary struct {
	Type   string
	Level  string // "A", "B" or "C"
	Status string // pending | running | success | failed | cancelled
}

// RunResult is what a custom agent returns from one run. The server wraps
// it with identity and timing fields before persisting.
type RunResult struct {
	KPIName      string
	KPIValue     float64
	ActionsTaken []ActionSummary
	Errors       []string
}
