package model

import (
	"time"

	"github.com/google/uuid"
)

// AgentConfig is the per-tenant configuration for one agent: thresholds,
// notification targets, and flags set by event handlers. Stored as JSON
// inside the tenant row and re-read on every run, so flags written by a
// handler are visible to the next scheduled trigger.
type AgentConfig map[string]any

// Enabled reports whether the agent is switched on for the tenant.
// An absent key means enabled; only an explicit false disables.
func (c AgentConfig) Enabled() bool {
	v, ok := c["enabled"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	return !ok || b
}

// String returns the string value for key, or def when absent or not a string.
func (c AgentConfig) String(key, def string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return def
}

// Float returns the numeric value for key, or def when absent.
// JSON numbers decode as float64.
func (c AgentConfig) Float(key string, def float64) float64 {
	if v, ok := c[key].(float64); ok {
		return v
	}
	return def
}

// Bool returns the boolean value for key, or def when absent.
func (c AgentConfig) Bool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

// Tenant is one independent business customer: the unit of data and
// failure isolation. AgentConfigs maps agent name to that agent's config.
type Tenant struct {
	ID           uuid.UUID              `json:"id"`
	Name         string                 `json:"name"`
	Active       bool                   `json:"active"`
	AgentConfigs map[string]AgentConfig `json:"agent_configs"`
	CreatedAt    time.Time              `json:"created_at"`
}

// ConfigFor returns the tenant's config for the named agent.
// A missing entry yields an empty (enabled) config.
func (t Tenant) ConfigFor(agent string) AgentConfig {
	if cfg, ok := t.AgentConfigs[agent]; ok {
		return cfg
	}
	return AgentConfig{}
}
