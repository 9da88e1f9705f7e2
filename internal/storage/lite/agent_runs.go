package lite

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
		return fmt.Errorf("lite: marshal run actions: %w", err)
	}
	runErrors, err := json.Marshal(r.Errors)
	if err != nil {
		return fmt.Errorf("lite: marshal run errors: %w", err)
	}

	_, err = db.db.ExecContext(ctx,
		`INSERT INTO agent_runs
		     (id, agent, tenant_id, started_at, finished_at, duration_ms,
		      kpi_name, kpi_value, actions_count, actions, errors, success)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), r.Agent, r.TenantID.String(), fmtTime(r.StartedAt), fmtTime(r.FinishedAt),
		r.Duration().Milliseconds(), r.KPIName, r.KPIValue, len(r.ActionsTaken),
		string(actions), string(runErrors), r.Success(),
	)
	if err != nil {
		return fmt.Errorf("lite: insert agent run: %w", err)
	}
	return nil
}

// ListAgentRuns returns the tenant's run history, newest first.
func (db *DB) ListAgentRuns(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.AgentRunResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx,
		`SELECT agent, tenant_id, started_at, finished_at, kpi_name, kpi_value, actions, errors
		 FROM agent_runs
		 WHERE tenant_id = ?
		 ORDER BY started_at DESC
		 LIMIT ?`,
		tenantID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lite: list agent runs: %w", err)
	}
	defer rows.Close()

	var runs []model.AgentRunResult
	for rows.Next() {
		var (
			r                      model.AgentRunResult
			tenant                 string
			startedAt, finishedAt  string
			actions, runErrors     string
		)
		if err := rows.Scan(&r.Agent, &tenant, &startedAt, &finishedAt,
			&r.KPIName, &r.KPIValue, &actions, &runErrors); err != nil {
			return nil, fmt.Errorf("lite: scan agent run: %w", err)
		}
		if r.TenantID, err = uuid.Parse(tenant); err != nil {
			return nil, fmt.Errorf("lite: parse run tenant id: %w", err)
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("lite: parse run started_at: %w", err)
		}
		if r.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, fmt.Errorf("lite: parse run finished_at: %w", err)
		}
		if err := json.Unmarshal([]byte(actions), &r.ActionsTaken); err != nil {
			return nil, fmt.Errorf("lite: unmarshal run actions: %w", err)
		}
		if err := json.Unmarshal([]byte(runErrors), &r.Errors); err != nil {
			return nil, fmt.Errorf("lite: unmarshal run errors: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
