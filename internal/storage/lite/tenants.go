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

// CreateTenant inserts a tenant and returns it with its generated id.
func (db *DB) CreateTenant(ctx context.Context, t model.Tenant) (model.Tenant, error) {
	configs, err := json.Marshal(orEmptyConfigs(t.AgentConfigs))
	if err != nil {
		return model.Tenant{}, fmt.Errorf("lite: marshal agent configs: %w", err)
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err = db.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, active, agent_configs, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID.String(), t.Name, t.Active, string(configs), fmtTime(t.CreatedAt),
	)
	if err != nil {
		return model.Tenant{}, fmt.Errorf("lite: insert tenant: %w", err)
	}
	return t, nil
}

// GetTenant loads one tenant by id.
func (db *DB) GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT id, name, active, agent_configs, created_at FROM tenants WHERE id = ?`, id.String())

	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Tenant{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Tenant{}, fmt.Errorf("lite: get tenant: %w", err)
	}
	return t, nil
}

// ListActiveTenants returns every active tenant in a stable order.
func (db *DB) ListActiveTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, name, active, agent_configs, created_at
		 FROM tenants WHERE active = 1 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("lite: list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("lite: scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// MergeAgentConfig upserts keys into one agent's config for a tenant.
// SQLite has no jsonb merge operator, so the merge happens in Go inside a
// transaction: load, patch, write back.
func (db *DB) MergeAgentConfig(ctx context.Context, tenantID uuid.UUID, agent string, updates model.AgentConfig) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lite: begin merge: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT agent_configs FROM tenants WHERE id = ?`, tenantID.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lite: load agent configs: %w", err)
	}

	var configs map[string]model.AgentConfig
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		return fmt.Errorf("lite: unmarshal agent configs: %w", err)
	}
	if configs == nil {
		configs = map[string]model.AgentConfig{}
	}
	merged := configs[agent]
	if merged == nil {
		merged = model.AgentConfig{}
	}
	for k, v := range updates {
		merged[k] = v
	}
	configs[agent] = merged

	out, err := json.Marshal(configs)
	if err != nil {
		return fmt.Errorf("lite: marshal agent configs: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tenants SET agent_configs = ? WHERE id = ?`,
		string(out), tenantID.String()); err != nil {
		return fmt.Errorf("lite: write agent configs: %w", err)
	}
	return tx.Commit()
}

func scanTenant(row rowScanner) (model.Tenant, error) {
	var (
		t         model.Tenant
		id        string
		configs   string
		createdAt string
	)
	if err := row.Scan(&id, &t.Name, &t.Active, &configs, &createdAt); err != nil {
		return model.Tenant{}, err
	}
	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return model.Tenant{}, err
	}
	if err := json.Unmarshal([]byte(configs), &t.AgentConfigs); err != nil {
		return model.Tenant{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Tenant{}, err
	}
	return t, nil
}

func orEmptyConfigs(m map[string]model.AgentConfig) map[string]model.AgentConfig {
	if m == nil {
		return map[string]model.AgentConfig{}
	}
	return m
}
