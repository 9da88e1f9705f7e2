package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// LastFired returns the persisted last firing time for a scheduler job,
// or ErrNotFound when the job has never fired.
func (db *DB) LastFired(ctx context.Context, jobID string) (time.Time, error) {
	var t time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT last_fired FROM trigger_state WHERE job_id = $1`, jobID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: get trigger state: %w", err)
	}
	return t, nil
}

// SetLastFired upserts the last firing time for a scheduler job. The
// scheduler writes this at the start of every firing so a restart can tell
// which jobs missed their window and are owed one coalesced catch-up run.
func (db *DB) SetLastFired(ctx context.Context, jobID string, firedAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO trigger_state (job_id, last_fired) VALUES ($1, $2)
		 ON CONFLICT (job_id) DO UPDATE SET last_fired = EXCLUDED.last_fired`,
		jobID, firedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: set trigger state: %w", err)
	}
	return nil
}
