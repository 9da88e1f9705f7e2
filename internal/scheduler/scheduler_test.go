package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuria-ai/kuria/internal/agent"
	"github.com/kuria-ai/kuria/internal/model"
	"github.com/kuria-ai/kuria/internal/router"
	"github.com/kuria-ai/kuria/internal/storage"
)

type fakeStore struct {
	tenants   []model.Tenant
	listErr   error
	lastFired map[string]time.Time
}

func newFakeStore(tenants ...model.Tenant) *fakeStore {
	return &fakeStore{tenants: tenants, lastFired: make(map[string]time.Time)}
}

func (s *fakeStore) ListActiveTenants(context.Context) ([]model.Tenant, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.tenants, nil
}

func (s *fakeStore) LastFired(_ context.Context, jobID string) (time.Time, error) {
	t, ok := s.lastFired[jobID]
	if !ok {
		return time.Time{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *fakeStore) SetLastFired(_ context.Context, jobID string, firedAt time.Time) error {
	s.lastFired[jobID] = firedAt
	return nil
}

type runStore struct {
	runs []model.AgentRunResult
}

func (s *runStore) InsertAgentRun(_ context.Context, r model.AgentRunResult) error {
	s.runs = append(s.runs, r)
	return nil
}

type stubAgent struct {
	name string
	fn   func(tenant model.Tenant) (model.AgentRunResult, error)
}

func (a stubAgent) Name() string { return a.name }

func (a stubAgent) Run(_ context.Context, tenant model.Tenant, _ model.AgentConfig) (model.AgentRunResult, error) {
	return a.fn(tenant)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func tenantNamed(name string) model.Tenant {
	return model.Tenant{ID: uuid.New(), Name: name, Active: true}
}

func TestFireAgentJobIsolatesTenantFailures(t *testing.T) {
	t1, t2, t3 := tenantNamed("one"), tenantNamed("two"), tenantNamed("three")
	store := newFakeStore(t1, t2, t3)
	runs := &runStore{}

	a := stubAgent{name: "probe", fn: func(tenant model.Tenant) (model.AgentRunResult, error) {
		if tenant.Name == "two" {
			panic("tenant two data corrupt")
		}
		return model.AgentRunResult{KPIName: "checked", KPIValue: 1}, nil
	}}
	registry, err := agent.NewRegistry(a)
	require.NoError(t, err)

	s, err := New(Config{
		Store:    store,
		Runtime:  agent.NewRuntime(runs, testLogger()),
		Registry: registry,
		Jobs:     []JobSpec{{Agent: "probe", Schedule: "0 6 * * *"}},
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	s.fireAgentJob(context.Background(), "agent:probe", "probe")

	// All three tenants ran and each was persisted exactly once.
	require.Len(t, runs.runs, 3)
	assert.Equal(t, t1.ID, runs.runs[0].TenantID)
	assert.Equal(t, t2.ID, runs.runs[1].TenantID)
	assert.Equal(t, t3.ID, runs.runs[2].TenantID)

	assert.True(t, runs.runs[0].Success())
	assert.False(t, runs.runs[1].Success())
	assert.True(t, runs.runs[2].Success())

	// The firing was recorded for catch-up accounting.
	_, ok := store.lastFired["agent:probe"]
	assert.True(t, ok)
}

func TestFireAgentJobSkipsDisabledTenants(t *testing.T) {
	enabled := tenantNamed("on")
	disabled := tenantNamed("off")
	disabled.AgentConfigs = map[string]model.AgentConfig{
		"probe": {"enabled": false},
	}
	store := newFakeStore(enabled, disabled)
	runs := &runStore{}

	a := stubAgent{name: "probe", fn: func(model.Tenant) (model.AgentRunResult, error) {
		return model.AgentRunResult{}, nil
	}}
	registry, err := agent.NewRegistry(a)
	require.NoError(t, err)

	s, err := New(Config{
		Store:    store,
		Runtime:  agent.NewRuntime(runs, testLogger()),
		Registry: registry,
		Jobs:     []JobSpec{{Agent: "probe", Schedule: "0 6 * * *"}},
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	s.fireAgentJob(context.Background(), "agent:probe", "probe")

	require.Len(t, runs.runs, 1)
	assert.Equal(t, enabled.ID, runs.runs[0].TenantID)
}

func TestFireAgentJobListFailureRetriedNextFiring(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("db unreachable")
	runs := &runStore{}

	a := stubAgent{name: "probe", fn: func(model.Tenant) (model.AgentRunResult, error) {
		return model.AgentRunResult{}, nil
	}}
	registry, err := agent.NewRegistry(a)
	require.NoError(t, err)

	s, err := New(Config{
		Store:    store,
		Runtime:  agent.NewRuntime(runs, testLogger()),
		Registry: registry,
		Jobs:     []JobSpec{{Agent: "probe", Schedule: "0 6 * * *"}},
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	// The job returns without running anything; the next scheduled firing
	// is the retry.
	s.fireAgentJob(context.Background(), "agent:probe", "probe")
	assert.Empty(t, runs.runs)
}

func TestCatchUpAndScheduledFiringNeverOverlap(t *testing.T) {
	store := newFakeStore(tenantNamed("one"))
	runs := &runStore{}

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	a := stubAgent{name: "nightly", fn: func(model.Tenant) (model.AgentRunResult, error) {
		started <- struct{}{}
		<-release
		return model.AgentRunResult{}, nil
	}}
	registry, err := agent.NewRegistry(a)
	require.NoError(t, err)

	s, err := New(Config{
		Store:    store,
		Runtime:  agent.NewRuntime(runs, testLogger()),
		Registry: registry,
		Jobs:     []JobSpec{{Agent: "nightly", Schedule: "0 6 * * *"}},
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	// One chained job serves both firing paths of a trigger, so a catch-up
	// run still in flight makes the next scheduled firing a skip, not a
	// concurrent second run.
	job := s.agentJob(context.Background(), "agent:nightly", "nightly")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		job.Run() // catch-up after downtime
	}()
	<-started // catch-up holds the trigger's gate

	job.Run() // scheduled firing arrives while the catch-up is in flight

	select {
	case <-started:
		t.Fatal("trigger overlapped itself")
	default:
	}

	close(release)
	wg.Wait()

	require.Len(t, runs.runs, 1)
}

func TestNeedsCatchUp(t *testing.T) {
	sched, err := cron.ParseStandard("0 6 * * *") // daily 06:00
	require.NoError(t, err)

	lastFired := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)

	// Process was down over the 06:00 firing: one catch-up is owed.
	assert.True(t, NeedsCatchUp(sched, lastFired, time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)))

	// Next firing is still in the future: nothing owed.
	assert.False(t, NeedsCatchUp(sched, lastFired, time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)))

	// Several missed days still mean a single catch-up decision.
	assert.True(t, NeedsCatchUp(sched, lastFired, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)))
}

func TestNewRejectsBadConfig(t *testing.T) {
	a := stubAgent{name: "probe", fn: func(model.Tenant) (model.AgentRunResult, error) {
		return model.AgentRunResult{}, nil
	}}
	registry, err := agent.NewRegistry(a)
	require.NoError(t, err)

	base := Config{
		Store:    newFakeStore(),
		Runtime:  agent.NewRuntime(&runStore{}, testLogger()),
		Registry: registry,
		Logger:   testLogger(),
	}

	cfg := base
	cfg.Jobs = []JobSpec{{Agent: "nonexistent", Schedule: "0 6 * * *"}}
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = base
	cfg.Jobs = []JobSpec{{Agent: "probe", Schedule: "not a cron expr"}}
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = base
	cfg.DrainSchedule = "also broken"
	_, err = New(cfg)
	assert.Error(t, err)
}

// eventStore is a minimal in-memory router.Store for drain-job tests.
type eventStore struct {
	events []model.Event
}

func (s *eventStore) InsertEvent(_ context.Context, e model.Event) error {
	e.ID = uuid.New()
	s.events = append(s.events, e)
	return nil
}

func (s *eventStore) UnprocessedEvents(_ context.Context, tenantID uuid.UUID) ([]model.Event, error) {
	var out []model.Event
	for _, e := range s.events {
		if e.TenantID == tenantID && !e.Processed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *eventStore) MarkEventProcessed(_ context.Context, id uuid.UUID) error {
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Processed = true
			return nil
		}
	}
	return errors.New("not found")
}

func TestFireDrainJobDrainsEveryTenant(t *testing.T) {
	t1, t2 := tenantNamed("one"), tenantNamed("two")
	store := newFakeStore(t1, t2)

	events := &eventStore{}
	rt := router.New(events, router.Routes{}, testLogger())
	require.NoError(t, rt.Publish(context.Background(), "x", t1.ID, nil))
	require.NoError(t, rt.Publish(context.Background(), "x", t2.ID, nil))

	a := stubAgent{name: "probe", fn: func(model.Tenant) (model.AgentRunResult, error) {
		return model.AgentRunResult{}, nil
	}}
	registry, err := agent.NewRegistry(a)
	require.NoError(t, err)

	s, err := New(Config{
		Store:         store,
		Runtime:       agent.NewRuntime(&runStore{}, testLogger()),
		Registry:      registry,
		Router:        rt,
		DrainSchedule: "15 6 * * *",
		Logger:        testLogger(),
	})
	require.NoError(t, err)

	s.fireDrainJob(context.Background())

	for _, e := range events.events {
		assert.True(t, e.Processed)
	}
	_, ok := store.lastFired["router:drain"]
	assert.True(t, ok)
}
