// Package agent defines the uniform execution envelope for every
// independently schedulable (tenant, agent-type) unit.
//
// The Runtime wraps an agent's domain logic so that any escaping failure,
// error or panic, becomes structured data in a persisted AgentRunResult.
// This containment is why one tenant's domain fault cannot take down the
// scheduler or any other tenant.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/kuria-ai/kuria/internal/model"
)

var meter = otel.GetMeterProvider().Meter("kuria/agent")

// ErrRunInFlight reports that the same (tenant, agent) pair is already
// running. The overlapping call is refused before any domain logic runs
// and nothing is persisted for it.
var ErrRunInFlight = errors.New("agent: run already in flight")

// Agent is one tenant-scoped unit of domain logic. Implementations carry
// no per-run state: everything a run needs arrives through the tenant and
// its stored config, so a run starts fresh every time.
type Agent interface {
	// Name identifies the agent type, e.g. "late_payments".
	Name() string

	// Run executes the domain logic for one tenant. It may return a
	// partial result alongside an error; the runtime records both.
	Run(ctx context.Context, tenant model.Tenant, cfg model.AgentConfig) (model.AgentRunResult, error)
}

// RunStore persists agent run results.
type RunStore interface {
	InsertAgentRun(ctx context.Context, r model.AgentRunResult) error
}

// Runtime is the shared entry point that wraps every agent invocation.
// It also owns the per-(tenant, agent) concurrency gate: the same pair
// never runs twice at once, regardless of which path (scheduled or
// on-demand) asked for the run.
type Runtime struct {
	store  RunStore
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RuntimeOption {
	return func(rt *Runtime) { rt.now = now }
}

// NewRuntime creates a Runtime.
func NewRuntime(store RunStore, logger *slog.Logger, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Run invokes the agent for one tenant with full containment and
// unconditionally persists the result, success or failure, before
// returning it. It never panics, and domain failure is never an error:
// it becomes a result with a non-empty Errors list. The only error Run
// returns is ErrRunInFlight, when this (tenant, agent) pair is already
// running; that call is refused outright and no result is persisted.
func (rt *Runtime) Run(ctx context.Context, a Agent, tenant model.Tenant) (model.AgentRunResult, error) {
	key := a.Name() + "/" + tenant.ID.String()
	if !rt.begin(key) {
		return model.AgentRunResult{}, fmt.Errorf("agent: %s for tenant %s: %w", a.Name(), tenant.ID, ErrRunInFlight)
	}
	defer rt.end(key)

	startedAt := rt.now()
	rt.logger.Info("agent run starting", "agent", a.Name(), "tenant_id", tenant.ID, "tenant", tenant.Name)

	result := rt.invoke(ctx, a, tenant)

	// The envelope owns the identity and timing fields.
	result.Agent = a.Name()
	result.TenantID = tenant.ID
	result.StartedAt = startedAt
	result.FinishedAt = rt.now()

	if err := rt.store.InsertAgentRun(ctx, result); err != nil {
		rt.logger.Error("persist agent run", "agent", a.Name(), "tenant_id", tenant.ID, "error", err)
	}

	if counter, err := meter.Int64Counter("kuria.agent.runs"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("agent", a.Name()),
			attribute.Bool("success", result.Success()),
		))
	}

	rt.logger.Info("agent run finished",
		"agent", a.Name(), "tenant_id", tenant.ID,
		"duration_ms", result.Duration().Milliseconds(),
		"kpi_name", result.KPIName, "kpi_value", result.KPIValue,
		"actions", len(result.ActionsTaken), "success", result.Success())

	return result, nil
}

// begin marks the pair as running; false means it already is.
func (rt *Runtime) begin(key string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, busy := rt.inflight[key]; busy {
		return false
	}
	rt.inflight[key] = struct{}{}
	return true
}

func (rt *Runtime) end(key string) {
	rt.mu.Lock()
	delete(rt.inflight, key)
	rt.mu.Unlock()
}

// invoke calls the domain method, converting an escaping error or panic
// into run-level errors.
func (rt *Runtime) invoke(ctx context.Context, a Agent, tenant model.Tenant) (result model.AgentRunResult) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.logger.Error("agent run panicked", "agent", a.Name(), "tenant_id", tenant.ID, "panic", rec)
			result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", rec))
		}
	}()

	result, err := a.Run(ctx, tenant, tenant.ConfigFor(a.Name()))
	if err != nil {
		rt.logger.Error("agent run failed", "agent", a.Name(), "tenant_id", tenant.ID, "error", err)
		result.Errors = append(result.Errors, err.Error())
	}
	return result
}

// Registry is the immutable name -> agent lookup built once at process
// start. Unknown names fail closed at the call site.
type Registry struct {
	agents map[string]Agent
}

// NewRegistry builds a Registry. Duplicate names are a wiring bug and
// rejected outright.
func NewRegistry(agents ...Agent) (*Registry, error) {
	m := make(map[string]Agent, len(agents))
	for _, a := range agents {
		if _, dup := m[a.Name()]; dup {
			return nil, fmt.Errorf("agent: duplicate agent name %q", a.Name())
		}
		m[a.Name()] = a
	}
	return &Registry{agents: m}, nil
}

// Get returns the agent registered under name.
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Names returns all registered agent names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
