package lite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kuria-ai/kuria/internal/storage"
)

// LastFired returns the persisted last firing time for a scheduler job,
// or storage.ErrNotFound when the job has never fired.
func (db *DB) LastFired(ctx context.Context, jobID string) (time.Time, error) {
	var raw string
	err := db.db.QueryRowContext(ctx,
		`SELECT last_fired FROM trigger_state WHERE job_id = ?`, jobID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, storage.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("lite: get trigger state: %w", err)
	}
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("lite: parse trigger state: %w", err)
	}
	return t, nil
}

// SetLastFired upserts the last firing time for a scheduler job.
func (db *DB) SetLastFired(ctx context.Context, jobID string, firedAt time.Time) error {
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO trigger_state (job_id, last_fired) VALUES (?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET last_fired = excluded.last_fired`,
		jobID, fmtTime(firedAt),
	)
	if err != nil {
		return fmt.Errorf("lite: set trigger state: %w", err)
	}
	return nil
}
