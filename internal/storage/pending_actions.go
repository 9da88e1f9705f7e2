package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kuria-ai/kuria/internal/model"
)

// CreatePendingAction persists a level-B or level-C action awaiting a human
// decision and returns the stored record with its generated id.
func (db *DB) CreatePendingAction(ctx context.Context, p model.PendingAction) (model.PendingAction, error) {
	payload, err := json.Marshal(orEmpty(p.Payload))
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("storage: marshal pending payload: %w", err)
	}
	preview, err := json.Marshal(orEmpty(p.Preview))
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("storage: marshal pending preview: %w", err)
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Status = model.ActionPending

	_, err = db.pool.Exec(ctx,
		`INSERT INTO pending_actions
		     (id, action_type, level, tenant_id, agent, payload, description, preview, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8::jsonb, $9, $10)`,
		p.ID, p.ActionType, p.Level, p.TenantID, p.Agent, payload, p.Description, preview, p.Status, p.CreatedAt,
	)
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("storage: insert pending action: %w", err)
	}
	return p, nil
}

// GetPendingAction loads one pending action by id.
func (db *DB) GetPendingAction(ctx context.Context, id uuid.UUID) (model.PendingAction, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, action_type, level, tenant_id, agent, payload, description, preview,
		        status, created_at, executed_at, result
		 FROM pending_actions WHERE id = $1`, id)

	p, err := scanPendingAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PendingAction{}, ErrNotFound
	}
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("storage: get pending action: %w", err)
	}
	return p, nil
}

// ClaimPendingAction moves the action from pending to status in one
// conditional update, so concurrent deciders cannot both win. When the row
// exists but is no longer pending, claimed is false and the returned record
// reflects the current state.
func (db *DB) ClaimPendingAction(ctx context.Context, id uuid.UUID, status model.ActionStatus, executedAt *time.Time) (model.PendingAction, bool, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE pending_actions
		 SET status = $2,
		     executed_at = COALESCE($3, executed_at)
		 WHERE id = $1 AND status = $4
		 RETURNING id, action_type, level, tenant_id, agent, payload, description, preview,
		           status, created_at, executed_at, result`,
		id, status, executedAt, model.ActionPending,
	)

	p, err := scanPendingAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is gone or someone else decided first.
		p, err = db.GetPendingAction(ctx, id)
		if err != nil {
			return model.PendingAction{}, false, err
		}
		return p, false, nil
	}
	if err != nil {
		return model.PendingAction{}, false, fmt.Errorf("storage: claim pending action: %w", err)
	}
	return p, true, nil
}

// UpdatePendingActionStatus advances the action's status and, for terminal
// transitions, records the execution timestamp and result payload.
func (db *DB) UpdatePendingActionStatus(ctx context.Context, id uuid.UUID, status model.ActionStatus, executedAt *time.Time, result map[string]any) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("storage: marshal pending result: %w", err)
		}
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE pending_actions
		 SET status = $2,
		     executed_at = COALESCE($3, executed_at),
		     result = COALESCE($4::jsonb, result)
		 WHERE id = $1`,
		id, status, executedAt, resultJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: update pending action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingActions returns the tenant's actions still awaiting a decision,
// oldest first so reviewers see age at a glance.
func (db *DB) ListPendingActions(ctx context.Context, tenantID uuid.UUID) ([]model.PendingAction, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, action_type, level, tenant_id, agent, payload, description, preview,
		        status, created_at, executed_at, result
		 FROM pending_actions
		 WHERE tenant_id = $1 AND status = $2
		 ORDER BY created_at, id`,
		tenantID, model.ActionPending,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending actions: %w", err)
	}
	defer rows.Close()

	var actions []model.PendingAction
	for rows.Next() {
		p, err := scanPendingAction(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan pending action: %w", err)
		}
		actions = append(actions, p)
	}
	return actions, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingAction(row rowScanner) (model.PendingAction, error) {
	var (
		p       model.PendingAction
		payload []byte
		preview []byte
		result  []byte
	)
	if err := row.Scan(&p.ID, &p.ActionType, &p.Level, &p.TenantID, &p.Agent,
		&payload, &p.Description, &preview, &p.Status, &p.CreatedAt, &p.ExecutedAt, &result); err != nil {
		return model.PendingAction{}, err
	}
	if err := json.Unmarshal(payload, &p.Payload); err != nil {
		return model.PendingAction{}, err
	}
	if err := json.Unmarshal(preview, &p.Preview); err != nil {
		return model.PendingAction{}, err
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &p.Result); err != nil {
			return model.PendingAction{}, err
		}
	}
	return p, nil
}
