// Package lite is the embedded SQLite store for local and dev setups. It
// exposes the same method set as the Postgres store so the rest of the
// system never knows which one it is talking to.
package lite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so lexical order on stored strings matches
// chronological order. RFC3339Nano trims trailing zeros and breaks that.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    active        INTEGER NOT NULL DEFAULT 1,
    agent_configs TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id         TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    tenant_id  TEXT NOT NULL,
    payload    TEXT NOT NULL DEFAULT '{}',
    processed  INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_unprocessed
    ON events (tenant_id, created_at) WHERE processed = 0;

CREATE TABLE IF NOT EXISTS pending_actions (
    id          TEXT PRIMARY KEY,
    action_type TEXT NOT NULL,
    level       TEXT NOT NULL CHECK (level IN ('B', 'C')),
    tenant_id   TEXT NOT NULL,
    agent       TEXT NOT NULL,
    payload     TEXT NOT NULL DEFAULT '{}',
    description TEXT NOT NULL DEFAULT '',
    preview     TEXT NOT NULL DEFAULT '{}',
    status      TEXT NOT NULL CHECK (status IN ('pending', 'running', 'success', 'failed', 'cancelled')),
    created_at  TEXT NOT NULL,
    executed_at TEXT,
    result      TEXT
);

CREATE TABLE IF NOT EXISTS action_logs (
    id          TEXT PRIMARY KEY,
    action_type TEXT NOT NULL,
    level       TEXT NOT NULL,
    tenant_id   TEXT NOT NULL,
    agent       TEXT NOT NULL,
    payload     TEXT NOT NULL DEFAULT '{}',
    status      TEXT NOT NULL,
    result      TEXT NOT NULL DEFAULT '{}',
    error       TEXT NOT NULL DEFAULT '',
    attempts    INTEGER NOT NULL DEFAULT 0,
    executed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_runs (
    id            TEXT PRIMARY KEY,
    agent         TEXT NOT NULL,
    tenant_id     TEXT NOT NULL,
    started_at    TEXT NOT NULL,
    finished_at   TEXT NOT NULL,
    duration_ms   INTEGER NOT NULL,
    kpi_name      TEXT NOT NULL DEFAULT '',
    kpi_value     REAL NOT NULL DEFAULT 0,
    actions_count INTEGER NOT NULL DEFAULT 0,
    actions       TEXT NOT NULL DEFAULT '[]',
    errors        TEXT NOT NULL DEFAULT '[]',
    success       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trigger_state (
    job_id     TEXT PRIMARY KEY,
    last_fired TEXT NOT NULL
);
`

// DB wraps the SQLite handle.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and if needed creates) the SQLite database at path and
// applies the schema. Use ":memory:" for tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("lite: open database: %w", err)
	}
	// SQLite handles one writer at a time; a single connection sidesteps
	// SQLITE_BUSY entirely at this scale.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("lite: set pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("lite: apply schema: %w", err)
	}

	logger.Info("sqlite store opened", "path", path)
	return &DB{db: db, logger: logger}, nil
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close closes the underlying handle.
func (db *DB) Close() error {
	return db.db.Close()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
