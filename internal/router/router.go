// Package router distributes durable events between agents.
//
// One agent's findings influence another agent's next run without coupling
// their internals: publishers append events to the tenant's mailbox and a
// static type->handler table delivers them on the next drain pass.
//
// Delivery is at-least-once per handler per drain pass: a crash mid-drain
// redelivers that event on the next pass, so handlers must be idempotent
// ("set flag X", never "increment counter"). Acknowledgment is exactly
// once: the processed flag flips after all handlers for an event have been
// attempted, including when no handler exists.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/kuria-ai/kuria/internal/model"
)

var meter = otel.GetMeterProvider().Meter("kuria/router")

// Handler reacts to one event for one tenant. Handlers run inside the
// drain loop; a returned error (or panic) is logged and never blocks
// sibling handlers or the event's acknowledgment.
type Handler func(ctx context.Context, tenantID uuid.UUID, payload map[string]any) error

// Routes is the static event-type -> handler table. Build it once at
// process start and treat it as immutable; the router never mutates it.
type Routes map[string][]Handler

// Store is the durable event mailbox the router reads and acknowledges.
type Store interface {
	InsertEvent(ctx context.Context, e model.Event) error
	UnprocessedEvents(ctx context.Context, tenantID uuid.UUID) ([]model.Event, error)
	MarkEventProcessed(ctx context.Context, id uuid.UUID) error
}

// Router owns event publication and the drain loop.
type Router struct {
	store  Store
	routes Routes
	logger *slog.Logger
}

// New creates a Router over an immutable routing table.
func New(store Store, routes Routes, logger *slog.Logger) *Router {
	return &Router{store: store, routes: routes, logger: logger}
}

// Publish appends an unprocessed event to the tenant's mailbox.
func (r *Router) Publish(ctx context.Context, eventType string, tenantID uuid.UUID, payload map[string]any) error {
	err := r.store.InsertEvent(ctx, model.Event{
		EventType: eventType,
		TenantID:  tenantID,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("router: publish %s: %w", eventType, err)
	}
	r.logger.Debug("event published", "event_type", eventType, "tenant_id", tenantID)
	return nil
}

// Drain reads the tenant's unprocessed events in publish order, invokes
// every registered handler for each, and marks each event processed after
// all its handlers have been attempted. Events with no registered handler
// are counted and acknowledged anyway so the unprocessed queue stays
// bounded; the unknown type is logged, not silently dropped.
//
// Returns the number of events processed. A mark-processed failure stops
// the pass and returns the count so far; the unacknowledged event is
// redelivered next pass.
func (r *Router) Drain(ctx context.Context, tenantID uuid.UUID) (int, error) {
	events, err := r.store.UnprocessedEvents(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("router: read unprocessed events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	processed := 0
	for _, event := range events {
		handlers, known := r.routes[event.EventType]
		if !known {
			r.logger.Warn("no handler registered for event type",
				"event_type", event.EventType, "tenant_id", tenantID)
		}

		for _, handler := range handlers {
			r.invoke(ctx, handler, event)
		}

		if err := r.store.MarkEventProcessed(ctx, event.ID); err != nil {
			return processed, fmt.Errorf("router: mark event %s processed: %w", event.ID, err)
		}
		processed++

		if counter, merr := meter.Int64Counter("kuria.events.processed"); merr == nil {
			counter.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("event_type", event.EventType),
			))
		}
	}

	r.logger.Info("events drained", "tenant_id", tenantID, "count", processed)
	return processed, nil
}

// invoke runs one handler with full containment: an error or panic is
// logged and absorbed so one bad handler never blocks a sibling handler or
// the event being acknowledged.
func (r *Router) invoke(ctx context.Context, handler Handler, event model.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panicked",
				"event_type", event.EventType, "tenant_id", event.TenantID, "panic", rec)
		}
	}()

	if err := handler(ctx, event.TenantID, event.Payload); err != nil {
		r.logger.Error("event handler failed",
			"event_type", event.EventType, "tenant_id", event.TenantID, "error", err)
	}
}
