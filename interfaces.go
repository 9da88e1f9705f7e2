package kuria

import "context"

// Agent is a custom agent registered via WithAgent. It runs once per
// active tenant on its cron schedule and on demand through the HTTP API.
//
// Implementations must carry no per-run state: everything a run needs
// arrives through the tenant and its stored config. A returned error (or a
// panic) is contained by the server and recorded on the persisted run; it
// never affects other tenants or agents.
type Agent interface {
	// Name identifies the agent type. It must be unique across all
	// registered agents, built-in ones included.
	Name() string

	// Run executes the domain logic for one tenant. config is the
	// tenant's stored config for this agent (possibly empty). A partial
	// result may be returned alongside an error; both are recorded.
	Run(ctx context.Context, tenant Tenant, config map[string]any) (RunResult, error)
}

// Operation executes the side effect of an approved or autonomous action.
// Registered via WithOperation and invoked with the action's stored
// payload, inside the server's retry budget. A nil error means the side
// effect happened; the returned map is recorded as the action's result.
type Operation func(ctx context.Context, payload map[string]any) (map[string]any, error)
