// Package scheduler decides when each agent type runs and for which
// tenants, without knowing what the agents do.
//
// Triggers are wall-clock cron expressions, not uptime-relative intervals,
// because the business cares about calendar timing. Two reliability
// properties make restarts safe: a trigger never runs concurrently with
// itself, and downtime is repaid with exactly one coalesced catch-up run,
// not one run per missed firing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kuria-ai/kuria/internal/agent"
	"github.com/kuria-ai/kuria/internal/model"
	"github.com/kuria-ai/kuria/internal/router"
	"github.com/kuria-ai/kuria/internal/storage"
)

// JobSpec pairs an agent type with its trigger.
type JobSpec struct {
	Agent    string // name in the agent registry
	Schedule string // standard 5-field cron expression
}

// Store is the durable state the scheduler needs: the tenant roster and
// per-job trigger state for catch-up decisions.
type Store interface {
	ListActiveTenants(ctx context.Context) ([]model.Tenant, error)
	LastFired(ctx context.Context, jobID string) (time.Time, error)
	SetLastFired(ctx context.Context, jobID string, firedAt time.Time) error
}

// Config holds the scheduler's dependencies and trigger table.
type Config struct {
	Store    Store
	Runtime  *agent.Runtime
	Registry *agent.Registry
	Router   *router.Router

	// Jobs is the fixed (agent type, trigger) table.
	Jobs []JobSpec
	// DrainSchedule fires the router for every tenant. Deliberately
	// decoupled in time from agent triggers so freshly published events
	// surface on a later tick.
	DrainSchedule string
	// Location anchors the cron expressions; defaults to UTC.
	Location *time.Location

	Logger *slog.Logger
}

// Scheduler is the root periodic driver.
type Scheduler struct {
	cron     *cron.Cron
	chain    cron.Chain
	store    Store
	runtime  *agent.Runtime
	registry *agent.Registry
	router   *router.Router
	logger   *slog.Logger
	now      func() time.Time

	jobs          []JobSpec
	drainSchedule string
	location      *time.Location
}

// New validates the trigger table and creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	for _, job := range cfg.Jobs {
		if _, ok := cfg.Registry.Get(job.Agent); !ok {
			return nil, fmt.Errorf("scheduler: job references unknown agent %q", job.Agent)
		}
		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			return nil, fmt.Errorf("scheduler: parse schedule for %s: %w", job.Agent, err)
		}
	}
	if cfg.DrainSchedule != "" {
		if _, err := cron.ParseStandard(cfg.DrainSchedule); err != nil {
			return nil, fmt.Errorf("scheduler: parse drain schedule: %w", err)
		}
	}

	cronLog := &slogCronLogger{logger: cfg.Logger}
	return &Scheduler{
		// SkipIfStillRunning enforces max one concurrent run per trigger;
		// Recover keeps a panicking job from killing the process.
		chain:         cron.NewChain(cron.SkipIfStillRunning(cronLog), cron.Recover(cronLog)),
		store:         cfg.Store,
		runtime:       cfg.Runtime,
		registry:      cfg.Registry,
		router:        cfg.Router,
		logger:        cfg.Logger,
		now:           func() time.Time { return time.Now().In(cfg.Location) },
		jobs:          cfg.Jobs,
		drainSchedule: cfg.DrainSchedule,
		location:      cfg.Location,
	}, nil
}

// Run starts the cron loop, fires any owed catch-up runs, and blocks until
// ctx is cancelled. In-flight jobs finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron = cron.New(cron.WithLocation(s.location))

	for _, job := range s.jobs {
		sched, _ := cron.ParseStandard(job.Schedule) // validated in New
		jobID := "agent:" + job.Agent

		wrapped := s.agentJob(ctx, jobID, job.Agent)
		s.cron.Schedule(sched, wrapped)
		s.logger.Info("job scheduled", "job", jobID, "schedule", job.Schedule)

		if s.owesCatchUp(ctx, jobID, sched) {
			s.logger.Info("firing catch-up run after downtime", "job", jobID)
			go wrapped.Run()
		}
	}

	if s.drainSchedule != "" {
		sched, _ := cron.ParseStandard(s.drainSchedule)
		wrapped := s.drainJob(ctx)
		s.cron.Schedule(sched, wrapped)
		s.logger.Info("job scheduled", "job", "router:drain", "schedule", s.drainSchedule)

		if s.owesCatchUp(ctx, "router:drain", sched) {
			s.logger.Info("firing catch-up drain after downtime", "job", "router:drain")
			go wrapped.Run()
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// agentJob builds the one chained job for an agent trigger. The scheduled
// firing and the catch-up firing both go through this single value, so the
// SkipIfStillRunning gate covers them together and the trigger can never
// overlap itself.
func (s *Scheduler) agentJob(ctx context.Context, jobID, agentName string) cron.Job {
	return s.chain.Then(cron.FuncJob(func() {
		s.fireAgentJob(ctx, jobID, agentName)
	}))
}

// drainJob builds the one chained job for the drain trigger.
func (s *Scheduler) drainJob(ctx context.Context) cron.Job {
	return s.chain.Then(cron.FuncJob(func() {
		s.fireDrainJob(ctx)
	}))
}

// owesCatchUp reports whether the job missed at least one firing while the
// process was down. Many missed firings still coalesce into one catch-up.
func (s *Scheduler) owesCatchUp(ctx context.Context, jobID string, sched cron.Schedule) bool {
	lastFired, err := s.store.LastFired(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		// Never fired: a fresh deployment waits for its first scheduled
		// firing rather than running immediately.
		return false
	}
	if err != nil {
		s.logger.Error("read trigger state", "job", jobID, "error", err)
		return false
	}
	return NeedsCatchUp(sched, lastFired, s.now())
}

// NeedsCatchUp reports whether a firing was missed between lastFired and
// now according to the schedule.
func NeedsCatchUp(sched cron.Schedule, lastFired, now time.Time) bool {
	return sched.Next(lastFired).Before(now)
}

// fireAgentJob runs one agent for every active tenant, sequentially, with
// per-tenant containment. An error while processing one tenant is logged
// and the loop continues; a trigger that fails entirely is retried at its
// next scheduled firing, never immediately.
func (s *Scheduler) fireAgentJob(ctx context.Context, jobID, agentName string) {
	firedAt := s.now()
	if err := s.store.SetLastFired(ctx, jobID, firedAt); err != nil {
		s.logger.Error("persist trigger state", "job", jobID, "error", err)
	}

	a, ok := s.registry.Get(agentName)
	if !ok {
		// Unknown tags fail closed: logged, never silently ignored.
		s.logger.Error("trigger references unregistered agent", "job", jobID, "agent", agentName)
		return
	}

	tenants, err := s.store.ListActiveTenants(ctx)
	if err != nil {
		s.logger.Error("list active tenants", "job", jobID, "error", err)
		return
	}
	s.logger.Info("trigger fired", "job", jobID, "tenants", len(tenants))

	for _, tenant := range tenants {
		if !tenant.ConfigFor(agentName).Enabled() {
			continue
		}
		// Runtime.Run contains all domain failures; nothing a tenant does
		// can break this loop.
		result, err := s.runtime.Run(ctx, a, tenant)
		if errors.Is(err, agent.ErrRunInFlight) {
			// An on-demand run of the same pair is still going; it counts
			// as this firing for the tenant.
			s.logger.Info("tenant run skipped, already in flight",
				"job", jobID, "tenant_id", tenant.ID, "tenant", tenant.Name)
			continue
		}
		if !result.Success() {
			s.logger.Warn("tenant run failed",
				"job", jobID, "tenant_id", tenant.ID, "tenant", tenant.Name, "errors", result.Errors)
		}
	}
}

// fireDrainJob drains every tenant's event mailbox, with the same
// per-tenant containment as agent jobs.
func (s *Scheduler) fireDrainJob(ctx context.Context) {
	firedAt := s.now()
	if err := s.store.SetLastFired(ctx, "router:drain", firedAt); err != nil {
		s.logger.Error("persist trigger state", "job", "router:drain", "error", err)
	}

	tenants, err := s.store.ListActiveTenants(ctx)
	if err != nil {
		s.logger.Error("list active tenants", "job", "router:drain", "error", err)
		return
	}

	for _, tenant := range tenants {
		count, err := s.router.Drain(ctx, tenant.ID)
		if err != nil {
			s.logger.Error("drain tenant events", "tenant_id", tenant.ID, "tenant", tenant.Name, "error", err)
			continue
		}
		if count > 0 {
			s.logger.Info("tenant events drained", "tenant_id", tenant.ID, "tenant", tenant.Name, "count", count)
		}
	}
}

// slogCronLogger adapts slog to the cron.Logger interface.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
