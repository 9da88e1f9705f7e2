package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kuria-ai/kuria/internal/model"
)

// InsertActionLog appends one row to the action audit trail.
// The target table is insert-only; rows are never updated or deleted.
func (db *DB) InsertActionLog(ctx context.Context, l model.ActionLog) error {
	payload, err := json.Marshal(orEmpty(l.Payload))
	if err != nil {
		return fmt.Errorf("storage: marshal action log payload: %w", err)
	}
	result, err := json.Marshal(orEmpty(l.Result))
	if err != nil {
		return fmt.Errorf("storage: marshal action log result: %w", err)
	}

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO action_logs
		     (id, action_type, level, tenant_id, agent, payload, status, result, error, attempts, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8::jsonb, $9, $10, $11)`,
		l.ID, l.ActionType, l.Level, l.TenantID, l.Agent, payload, l.Status, result, l.Error, l.Attempts, l.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert action log: %w", err)
	}
	return nil
}

// ListActionLogs returns the tenant's audit trail, newest first.
func (db *DB) ListActionLogs(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.ActionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, action_type, level, tenant_id, agent, payload, status, result, error, attempts, executed_at
		 FROM action_logs
		 WHERE tenant_id = $1
		 ORDER BY executed_at DESC, id
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list action logs: %w", err)
	}
	defer rows.Close()

	var logs []model.ActionLog
	for rows.Next() {
		var (
			l       model.ActionLog
			payload []byte
			result  []byte
		)
		if err := rows.Scan(&l.ID, &l.ActionType, &l.Level, &l.TenantID, &l.Agent,
			&payload, &l.Status, &result, &l.Error, &l.Attempts, &l.ExecutedAt); err != nil {
			return nil, fmt.Errorf("storage: scan action log: %w", err)
		}
		if err := json.Unmarshal(payload, &l.Payload); err != nil {
			return nil, fmt.Errorf("storage: unmarshal action log payload: %w", err)
		}
		if err := json.Unmarshal(result, &l.Result); err != nil {
			return nil, fmt.Errorf("storage: unmarshal action log result: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
