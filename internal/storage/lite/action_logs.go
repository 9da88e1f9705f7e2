package lite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kuria-ai/kuria/internal/model"
)

// InsertActionLog appends one row to the action audit trail. The table is
// insert-only; rows are never updated or deleted.
func (db *DB) InsertActionLog(ctx context.Context, l model.ActionLog) error {
	payload, err := json.Marshal(orEmpty(l.Payload))
	if err != nil {
		return fmt.Errorf("lite: marshal action log payload: %w", err)
	}
	result, err := json.Marshal(orEmpty(l.Result))
	if err != nil {
		return fmt.Errorf("lite: marshal action log result: %w", err)
	}

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}

	_, err = db.db.ExecContext(ctx,
		`INSERT INTO action_logs
		     (id, action_type, level, tenant_id, agent, payload, status, result, error, attempts, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.ActionType, l.Level, l.TenantID.String(), l.Agent,
		string(payload), l.Status, string(result), l.Error, l.Attempts, fmtTime(l.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("lite: insert action log: %w", err)
	}
	return nil
}

// ListActionLogs returns the tenant's audit trail, newest first.
func (db *DB) ListActionLogs(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.ActionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, action_type, level, tenant_id, agent, payload, status, result, error, attempts, executed_at
		 FROM action_logs
		 WHERE tenant_id = ?
		 ORDER BY executed_at DESC, id
		 LIMIT ?`,
		tenantID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lite: list action logs: %w", err)
	}
	defer rows.Close()

	var logs []model.ActionLog
	for rows.Next() {
		var (
			l          model.ActionLog
			id, tenant string
			payload    string
			result     string
			executedAt string
		)
		if err := rows.Scan(&id, &l.ActionType, &l.Level, &tenant, &l.Agent,
			&payload, &l.Status, &result, &l.Error, &l.Attempts, &executedAt); err != nil {
			return nil, fmt.Errorf("lite: scan action log: %w", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("lite: parse action log id: %w", err)
		}
		if l.TenantID, err = uuid.Parse(tenant); err != nil {
			return nil, fmt.Errorf("lite: parse action log tenant id: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &l.Payload); err != nil {
			return nil, fmt.Errorf("lite: unmarshal action log payload: %w", err)
		}
		if err := json.Unmarshal([]byte(result), &l.Result); err != nil {
			return nil, fmt.Errorf("lite: unmarshal action log result: %w", err)
		}
		if l.ExecutedAt, err = parseTime(executedAt); err != nil {
			return nil, fmt.Errorf("lite: parse action log executed_at: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
