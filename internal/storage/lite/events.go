package lite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kuria-ai/kuria/internal/model"
	"github.com/kuria-ai/kuria/internal/storage"
)

// InsertEvent appends an unprocessed event to the tenant's mailbox.
func (db *DB) InsertEvent(ctx context.Context, e model.Event) error {
	payload, err := json.Marshal(orEmpty(e.Payload))
	if err != nil {
		return fmt.Errorf("lite: marshal event payload: %w", err)
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = db.db.ExecContext(ctx,
		`INSERT INTO events (id, event_type, tenant_id, payload, processed, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		e.ID.String(), e.EventType, e.TenantID.String(), string(payload), fmtTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("lite: insert event: %w", err)
	}
	return nil
}

// UnprocessedEvents returns the tenant's unprocessed events in creation
// order, which is the publish order the router relies on.
func (db *DB) UnprocessedEvents(ctx context.Context, tenantID uuid.UUID) ([]model.Event, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, event_type, tenant_id, payload, processed, created_at
		 FROM events
		 WHERE tenant_id = ? AND processed = 0
		 ORDER BY created_at, id`,
		tenantID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("lite: query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			e                 model.Event
			id, tenant        string
			payload, createdAt string
		)
		if err := rows.Scan(&id, &e.EventType, &tenant, &payload, &e.Processed, &createdAt); err != nil {
			return nil, fmt.Errorf("lite: scan event: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("lite: parse event id: %w", err)
		}
		if e.TenantID, err = uuid.Parse(tenant); err != nil {
			return nil, fmt.Errorf("lite: parse event tenant id: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("lite: unmarshal event payload: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("lite: parse event created_at: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventProcessed flips the event's processed flag.
func (db *DB) MarkEventProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE events SET processed = 1 WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("lite: mark event processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lite: mark event processed: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
