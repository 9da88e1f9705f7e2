package lite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kuria-ai/kuria/internal/model"
	"github.com/kuria-ai/kuria/internal/storage"
)

// CreatePendingAction persists a level-B or level-C action awaiting a human
// decision and returns the stored record with its generated id.
func (db *DB) CreatePendingAction(ctx context.Context, p model.PendingAction) (model.PendingAction, error) {
	payload, err := json.Marshal(orEmpty(p.Payload))
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("lite: marshal pending payload: %w", err)
	}
	preview, err := json.Marshal(orEmpty(p.Preview))
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("lite: marshal pending preview: %w", err)
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Status = model.ActionPending

	_, err = db.db.ExecContext(ctx,
		`INSERT INTO pending_actions
		     (id, action_type, level, tenant_id, agent, payload, description, preview, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.ActionType, p.Level, p.TenantID.String(), p.Agent,
		string(payload), p.Description, string(preview), p.Status, fmtTime(p.CreatedAt),
	)
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("lite: insert pending action: %w", err)
	}
	return p, nil
}

// GetPendingAction loads one pending action by id.
func (db *DB) GetPendingAction(ctx context.Context, id uuid.UUID) (model.PendingAction, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT id, action_type, level, tenant_id, agent, payload, description, preview,
		        status, created_at, executed_at, result
		 FROM pending_actions WHERE id = ?`, id.String())

	p, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PendingAction{}, storage.ErrNotFound
	}
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("lite: get pending action: %w", err)
	}
	return p, nil
}

// ClaimPendingAction moves the action from pending to status in one
// conditional update, so concurrent deciders cannot both win. When the row
// exists but is no longer pending, claimed is false and the returned record
// reflects the current state.
func (db *DB) ClaimPendingAction(ctx context.Context, id uuid.UUID, status model.ActionStatus, executedAt *time.Time) (model.PendingAction, bool, error) {
	var executedStr any
	if executedAt != nil {
		executedStr = fmtTime(*executedAt)
	}

	res, err := db.db.ExecContext(ctx,
		`UPDATE pending_actions
		 SET status = ?,
		     executed_at = COALESCE(?, executed_at)
		 WHERE id = ? AND status = ?`,
		status, executedStr, id.String(), model.ActionPending,
	)
	if err != nil {
		return model.PendingAction{}, false, fmt.Errorf("lite: claim pending action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.PendingAction{}, false, fmt.Errorf("lite: claim pending action: %w", err)
	}

	p, err := db.GetPendingAction(ctx, id)
	if err != nil {
		return model.PendingAction{}, false, err
	}
	return p, n > 0, nil
}

// UpdatePendingActionStatus advances the action's status and, for terminal
// transitions, records the execution timestamp and result payload.
func (db *DB) UpdatePendingActionStatus(ctx context.Context, id uuid.UUID, status model.ActionStatus, executedAt *time.Time, result map[string]any) error {
	var executedStr any
	if executedAt != nil {
		executedStr = fmtTime(*executedAt)
	}
	var resultStr any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("lite: marshal pending result: %w", err)
		}
		resultStr = string(b)
	}

	res, err := db.db.ExecContext(ctx,
		`UPDATE pending_actions
		 SET status = ?,
		     executed_at = COALESCE(?, executed_at),
		     result = COALESCE(?, result)
		 WHERE id = ?`,
		status, executedStr, resultStr, id.String(),
	)
	if err != nil {
		return fmt.Errorf("lite: update pending action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lite: update pending action: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPendingActions returns the tenant's actions still awaiting a decision,
// oldest first.
func (db *DB) ListPendingActions(ctx context.Context, tenantID uuid.UUID) ([]model.PendingAction, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, action_type, level, tenant_id, agent, payload, description, preview,
		        status, created_at, executed_at, result
		 FROM pending_actions
		 WHERE tenant_id = ? AND status = ?
		 ORDER BY created_at, id`,
		tenantID.String(), model.ActionPending,
	)
	if err != nil {
		return nil, fmt.Errorf("lite: list pending actions: %w", err)
	}
	defer rows.Close()

	var actions []model.PendingAction
	for rows.Next() {
		p, err := scanPendingAction(rows)
		if err != nil {
			return nil, fmt.Errorf("lite: scan pending action: %w", err)
		}
		actions = append(actions, p)
	}
	return actions, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingAction(row rowScanner) (model.PendingAction, error) {
	var (
		p          model.PendingAction
		id, tenant string
		payload    string
		preview    string
		createdAt  string
		executedAt sql.NullString
		result     sql.NullString
	)
	if err := row.Scan(&id, &p.ActionType, &p.Level, &tenant, &p.Agent,
		&payload, &p.Description, &preview, &p.Status, &createdAt, &executedAt, &result); err != nil {
		return model.PendingAction{}, err
	}

	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return model.PendingAction{}, err
	}
	if p.TenantID, err = uuid.Parse(tenant); err != nil {
		return model.PendingAction{}, err
	}
	if err = json.Unmarshal([]byte(payload), &p.Payload); err != nil {
		return model.PendingAction{}, err
	}
	if err = json.Unmarshal([]byte(preview), &p.Preview); err != nil {
		return model.PendingAction{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.PendingAction{}, err
	}
	if executedAt.Valid {
		t, err := parseTime(executedAt.String)
		if err != nil {
			return model.PendingAction{}, err
		}
		p.ExecutedAt = &t
	}
	if result.Valid && result.String != "" {
		if err = json.Unmarshal([]byte(result.String), &p.Result); err != nil {
			return model.PendingAction{}, err
		}
	}
	return p, nil
}
