package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kuria-ai/kuria/internal/model"
)

// InsertAgentRun persists one agent run result. Success and duration are
// derived columns computed here so queries never disagree with the errors
// list.
func (db *DB) InsertAgentRun(ctx context.Context, r model.AgentRunResult) error {
	actions, err := json.Marshal(r.ActionsTaken)
	if err != nil {
		return fmt.Errorf("storage: marshal run actions: %w", err)
	}
	runErrors, err := json.Marshal(r.Errors)
	if err != nil {
		return fmt.Errorf("storage: marshal run errors: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO agent_runs
		     (id, agent, tenant_id, started_at, finished_at, duration_ms,
		      kpi_name, kpi_value, actions_count, actions, errors, success)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12)`,
		uuid.New(), r.Agent, r.TenantID, r.StartedAt, r.FinishedAt, r.Duration().Milliseconds(),
		r.KPIName, r.KPIValue, len(r.ActionsTaken), actions, runErrors, r.Success(),
	)
	if err != nil {
		return fmt.Errorf("storage: insert agent run: %w", err)
	}
	return nil
}

// ListAgentRuns returns the tenant's run history, newest first.
func (db *DB) ListAgentRuns(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.AgentRunResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT agent, tenant_id, started_at, finished_at, kpi_name, kpi_value, actions, errors
		 FROM agent_runs
		 WHERE tenant_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list agent runs: %w", err)
	}
	defer rows.Close()

	var runs []model.AgentRunResult
	for rows.Next() {
		var (
			r         model.AgentRunResult
			actions   []byte
			runErrors []byte
		)
		if err := rows.Scan(&r.Agent, &r.TenantID, &r.StartedAt, &r.FinishedAt,
			&r.KPIName, &r.KPIValue, &actions, &runErrors); err != nil {
			return nil, fmt.Errorf("storage: scan agent run: %w", err)
		}
		if err := json.Unmarshal(actions, &r.ActionsTaken); err != nil {
			return nil, fmt.Errorf("storage: unmarshal run actions: %w", err)
		}
		if err := json.Unmarshal(runErrors, &r.Errors); err != nil {
			return nil, fmt.Errorf("storage: unmarshal run errors: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
