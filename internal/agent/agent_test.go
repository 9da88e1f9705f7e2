package agent

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuria-ai/kuria/internal/model"
)

type runStore struct {
	runs    []model.AgentRunResult
	failure error
}

func (s *runStore) InsertAgentRun(_ context.Context, r model.AgentRunResult) error {
	if s.failure != nil {
		return s.failure
	}
	s.runs = append(s.runs, r)
	return nil
}

// stubAgent runs the provided function as its domain logic.
type stubAgent struct {
	name string
	fn   func(ctx context.Context, tenant model.Tenant, cfg model.AgentConfig) (model.AgentRunResult, error)
}

func (a stubAgent) Name() string { return a.name }

func (a stubAgent) Run(ctx context.Context, tenant model.Tenant, cfg model.AgentConfig) (model.AgentRunResult, error) {
	return a.fn(ctx, tenant, cfg)
}

func testTenant() model.Tenant {
	return model.Tenant{ID: uuid.New(), Name: "Acme", Active: true}
}

func testRuntime(store RunStore) *Runtime {
	return NewRuntime(store, slog.New(slog.DiscardHandler))
}

func TestRuntimeRecordsSuccessfulRun(t *testing.T) {
	store := &runStore{}
	rt := testRuntime(store)

	a := stubAgent{name: "late_payments", fn: func(context.Context, model.Tenant, model.AgentConfig) (model.AgentRunResult, error) {
		return model.AgentRunResult{
			KPIName:  "overdue_total",
			KPIValue: 1200,
			ActionsTaken: []model.ActionSummary{
				{Type: "send_invoice_reminder", Level: model.LevelSupervised, Status: model.ActionPending},
			},
		}, nil
	}}

	result, err := rt.Run(context.Background(), a, testTenant())
	require.NoError(t, err)

	assert.True(t, result.Success())
	assert.Equal(t, "late_payments", result.Agent)
	assert.Equal(t, "overdue_total", result.KPIName)
	assert.False(t, result.StartedAt.After(result.FinishedAt))

	require.Len(t, store.runs, 1)
	assert.True(t, store.runs[0].Success())
}

func TestRuntimeContainsDomainError(t *testing.T) {
	store := &runStore{}
	rt := testRuntime(store)

	a := stubAgent{name: "broken", fn: func(context.Context, model.Tenant, model.AgentConfig) (model.AgentRunResult, error) {
		return model.AgentRunResult{}, errors.New("connector returned garbage")
	}}

	result, err := rt.Run(context.Background(), a, testTenant())
	require.NoError(t, err)

	assert.False(t, result.Success())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "connector returned garbage")
	assert.False(t, result.StartedAt.After(result.FinishedAt))

	// Failed runs are persisted too.
	require.Len(t, store.runs, 1)
	assert.False(t, store.runs[0].Success())
}

func TestRuntimeContainsPanic(t *testing.T) {
	store := &runStore{}
	rt := testRuntime(store)

	a := stubAgent{name: "panicky", fn: func(context.Context, model.Tenant, model.AgentConfig) (model.AgentRunResult, error) {
		panic("index out of range")
	}}

	result, err := rt.Run(context.Background(), a, testTenant())
	require.NoError(t, err)

	assert.False(t, result.Success())
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "index out of range")
	require.Len(t, store.runs, 1)
}

func TestRuntimePersistFailureStillReturnsResult(t *testing.T) {
	store := &runStore{failure: errors.New("db down")}
	rt := testRuntime(store)

	a := stubAgent{name: "ok", fn: func(context.Context, model.Tenant, model.AgentConfig) (model.AgentRunResult, error) {
		return model.AgentRunResult{KPIName: "x", KPIValue: 1}, nil
	}}

	result, err := rt.Run(context.Background(), a, testTenant())
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, "x", result.KPIName)
}

func TestRuntimePassesStoredConfig(t *testing.T) {
	store := &runStore{}
	rt := NewRuntime(store, slog.New(slog.DiscardHandler), WithClock(func() time.Time {
		return time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)
	}))

	tenant := testTenant()
	tenant.AgentConfigs = map[string]model.AgentConfig{
		"tuned": {"threshold": 42.0},
	}

	var seen model.AgentConfig
	a := stubAgent{name: "tuned", fn: func(_ context.Context, _ model.Tenant, cfg model.AgentConfig) (model.AgentRunResult, error) {
		seen = cfg
		return model.AgentRunResult{}, nil
	}}

	result, err := rt.Run(context.Background(), a, tenant)
	require.NoError(t, err)

	assert.Equal(t, 42.0, seen.Float("threshold", 0))
	assert.Equal(t, result.StartedAt, result.FinishedAt)
}

func TestRuntimeRefusesOverlappingRunForSamePair(t *testing.T) {
	store := &runStore{}
	rt := testRuntime(store)

	release := make(chan struct{})
	started := make(chan struct{})
	a := stubAgent{name: "slow", fn: func(context.Context, model.Tenant, model.AgentConfig) (model.AgentRunResult, error) {
		close(started)
		<-release
		return model.AgentRunResult{}, nil
	}}

	tenant := testTenant()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := rt.Run(context.Background(), a, tenant)
		assert.NoError(t, err)
	}()
	<-started

	// Same pair while the first run is in flight: refused, not queued,
	// and nothing persisted for the refusal.
	_, err := rt.Run(context.Background(), a, tenant)
	assert.ErrorIs(t, err, ErrRunInFlight)

	// A different tenant is unaffected by the busy pair.
	quick := stubAgent{name: "slow", fn: func(context.Context, model.Tenant, model.AgentConfig) (model.AgentRunResult, error) {
		return model.AgentRunResult{}, nil
	}}
	_, err = rt.Run(context.Background(), quick, testTenant())
	require.NoError(t, err)

	close(release)
	<-done

	// Exactly two real runs were persisted.
	assert.Len(t, store.runs, 2)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	mk := func(name string) Agent {
		return stubAgent{name: name, fn: func(context.Context, model.Tenant, model.AgentConfig) (model.AgentRunResult, error) {
			return model.AgentRunResult{}, nil
		}}
	}

	_, err := NewRegistry(mk("a"), mk("a"))
	assert.Error(t, err)

	reg, err := NewRegistry(mk("b"), mk("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	_, ok := reg.Get("a")
	assert.True(t, ok)
	_, ok = reg.Get("missing")
	assert.False(t, ok)
}
