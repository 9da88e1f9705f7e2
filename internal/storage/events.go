package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kuria-ai/kuria/internal/model"
)

// InsertEvent appends an unprocessed event to the tenant's mailbox.
func (db *DB) InsertEvent(ctx context.Context, e model.Event) error {
	payload, err := json.Marshal(orEmpty(e.Payload))
	if err != nil {
		return fmt.Errorf("storage: marshal event payload: %w", err)
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO events (id, event_type, tenant_id, payload, processed, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, false, $5)`,
		e.ID, e.EventType, e.TenantID, payload, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert event: %w", err)
	}
	return nil
}

// UnprocessedEvents returns the tenant's unprocessed events in creation
// order. Creation order is the publish order within one tenant; the router
// relies on it.
func (db *DB) UnprocessedEvents(ctx context.Context, tenantID uuid.UUID) ([]model.Event, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, event_type, tenant_id, payload, processed, created_at
		 FROM events
		 WHERE tenant_id = $1 AND processed = false
		 ORDER BY created_at, id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			e       model.Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.TenantID, &payload, &e.Processed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("storage: unmarshal event payload: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventProcessed flips the event's processed flag. The flip is the only
// mutation an event ever sees; marking an already-processed event is a no-op.
func (db *DB) MarkEventProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE events SET processed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: mark event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// orEmpty normalizes a nil payload map so it marshals as {} rather than null.
func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
