package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuria-ai/kuria/internal/model"
)

// fakeStore is an in-memory event mailbox preserving insertion order.
type fakeStore struct {
	mu     sync.Mutex
	events []model.Event

	failMark bool
}

func (s *fakeStore) InsertEvent(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now().UTC()
	s.events = append(s.events, e)
	return nil
}

func (s *fakeStore) UnprocessedEvents(_ context.Context, tenantID uuid.UUID) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, e := range s.events {
		if e.TenantID == tenantID && !e.Processed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkEventProcessed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMark {
		return errors.New("write failed")
	}
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Processed = true
			return nil
		}
	}
	return errors.New("not found")
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type call struct {
	tenantID uuid.UUID
	payload  map[string]any
}

func TestDrainDeliversToHandlerAndAcknowledges(t *testing.T) {
	store := &fakeStore{}
	tenant := uuid.New()

	var calls []call
	routes := Routes{
		"x": {func(_ context.Context, tenantID uuid.UUID, payload map[string]any) error {
			calls = append(calls, call{tenantID, payload})
			return nil
		}},
	}
	r := New(store, routes, testLogger())

	require.NoError(t, r.Publish(context.Background(), "x", tenant, map[string]any{"v": 1}))

	count, err := r.Drain(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Len(t, calls, 1)
	assert.Equal(t, tenant, calls[0].tenantID)
	assert.Equal(t, map[string]any{"v": 1}, calls[0].payload)
	assert.True(t, store.events[0].Processed)
}

func TestDrainTwiceProcessesNothingTheSecondTime(t *testing.T) {
	store := &fakeStore{}
	tenant := uuid.New()
	r := New(store, Routes{}, testLogger())

	require.NoError(t, r.Publish(context.Background(), "a", tenant, nil))
	require.NoError(t, r.Publish(context.Background(), "b", tenant, nil))

	first, err := r.Drain(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 2, first)

	second, err := r.Drain(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestDrainAcknowledgesUnroutedEvents(t *testing.T) {
	store := &fakeStore{}
	tenant := uuid.New()

	invoked := false
	routes := Routes{
		"known": {func(context.Context, uuid.UUID, map[string]any) error {
			invoked = true
			return nil
		}},
	}
	r := New(store, routes, testLogger())

	require.NoError(t, r.Publish(context.Background(), "unknown_type", tenant, nil))

	count, err := r.Drain(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, invoked)
	assert.True(t, store.events[0].Processed)
}

func TestDrainFailingHandlerDoesNotBlockSiblings(t *testing.T) {
	store := &fakeStore{}
	tenant := uuid.New()

	var order []string
	routes := Routes{
		"x": {
			func(context.Context, uuid.UUID, map[string]any) error {
				order = append(order, "first")
				return errors.New("boom")
			},
			func(context.Context, uuid.UUID, map[string]any) error {
				order = append(order, "second")
				return nil
			},
		},
	}
	r := New(store, routes, testLogger())

	require.NoError(t, r.Publish(context.Background(), "x", tenant, nil))

	count, err := r.Drain(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.True(t, store.events[0].Processed)
}

func TestDrainPanickingHandlerIsContained(t *testing.T) {
	store := &fakeStore{}
	tenant := uuid.New()

	routes := Routes{
		"x": {func(context.Context, uuid.UUID, map[string]any) error {
			panic("handler bug")
		}},
	}
	r := New(store, routes, testLogger())

	require.NoError(t, r.Publish(context.Background(), "x", tenant, nil))

	count, err := r.Drain(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, store.events[0].Processed)
}

func TestDrainPreservesPublishOrder(t *testing.T) {
	store := &fakeStore{}
	tenant := uuid.New()

	var seen []int
	routes := Routes{
		"seq": {func(_ context.Context, _ uuid.UUID, payload map[string]any) error {
			seen = append(seen, payload["n"].(int))
			return nil
		}},
	}
	r := New(store, routes, testLogger())

	for n := 1; n <= 5; n++ {
		require.NoError(t, r.Publish(context.Background(), "seq", tenant, map[string]any{"n": n}))
	}

	count, err := r.Drain(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
}

func TestDrainStopsOnAcknowledgeFailure(t *testing.T) {
	store := &fakeStore{}
	tenant := uuid.New()
	r := New(store, Routes{}, testLogger())

	require.NoError(t, r.Publish(context.Background(), "a", tenant, nil))
	store.failMark = true

	count, err := r.Drain(context.Background(), tenant)
	assert.Error(t, err)
	assert.Equal(t, 0, count)

	// The event stays unprocessed and is redelivered next pass.
	store.failMark = false
	count, err = r.Drain(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDrainScopesByTenant(t *testing.T) {
	store := &fakeStore{}
	t1, t2 := uuid.New(), uuid.New()
	r := New(store, Routes{}, testLogger())

	require.NoError(t, r.Publish(context.Background(), "a", t1, nil))
	require.NoError(t, r.Publish(context.Background(), "a", t2, nil))

	count, err := r.Drain(context.Background(), t1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	remaining, err := store.UnprocessedEvents(context.Background(), t2)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
