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

// CreateTenant inserts a tenant and returns it with its generated id.
func (db *DB) CreateTenant(ctx context.Context, t model.Tenant) (model.Tenant, error) {
	configs, err := json.Marshal(orEmptyConfigs(t.AgentConfigs))
	if err != nil {
		return model.Tenant{}, fmt.Errorf("storage: marshal agent configs: %w", err)
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, active, agent_configs, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		t.ID, t.Name, t.Active, configs, t.CreatedAt,
	)
	if err != nil {
		return model.Tenant{}, fmt.Errorf("storage: insert tenant: %w", err)
	}
	return t, nil
}

// GetTenant loads one tenant by id.
func (db *DB) GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, name, active, agent_configs, created_at FROM tenants WHERE id = $1`, id)

	t, err := scanTenant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Tenant{}, ErrNotFound
	}
	if err != nil {
		return model.Tenant{}, fmt.Errorf("storage: get tenant: %w", err)
	}
	return t, nil
}

// ListActiveTenants returns every active tenant in a stable order. The
// scheduler iterates this list on each trigger firing.
func (db *DB) ListActiveTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, active, agent_configs, created_at
		 FROM tenants WHERE active = true ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// MergeAgentConfig upserts keys into one agent's config for a tenant.
// Event handlers use this to leave idempotent flags for the agent's next
// run ("set flag X", never "increment counter").
func (db *DB) MergeAgentConfig(ctx context.Context, tenantID uuid.UUID, agent string, updates model.AgentConfig) error {
	patch, err := json.Marshal(map[string]model.AgentConfig{agent: updates})
	if err != nil {
		return fmt.Errorf("storage: marshal config patch: %w", err)
	}

	// jsonb || merges top-level keys; the nested agent object is rebuilt
	// from the stored value merged with the patch.
	tag, err := db.pool.Exec(ctx,
		`UPDATE tenants
		 SET agent_configs = jsonb_set(
		         agent_configs,
		         ARRAY[$2],
		         COALESCE(agent_configs -> $2, '{}'::jsonb) || ($3::jsonb -> $2)
		     )
		 WHERE id = $1`,
		tenantID, agent, patch,
	)
	if err != nil {
		return fmt.Errorf("storage: merge agent config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTenant(row rowScanner) (model.Tenant, error) {
	var (
		t       model.Tenant
		configs []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Active, &configs, &t.CreatedAt); err != nil {
		return model.Tenant{}, err
	}
	if err := json.Unmarshal(configs, &t.AgentConfigs); err != nil {
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
