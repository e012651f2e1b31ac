package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/jackc/pgx/v5"
)

// LatestBackupAt returns the time of the environment's most recent backup.
// ok is false when no backup was ever recorded.
func (d *Database) LatestBackupAt(ctx context.Context, tier model.Tier) (time.Time, bool, error) {
	const q = `SELECT taken_at FROM environment_backups WHERE environment=$1 ORDER BY taken_at DESC LIMIT 1`
	var takenAt time.Time
	if err := d.pool.QueryRow(ctx, q, tier).Scan(&takenAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("latest backup: %w", err)
	}
	return takenAt, true, nil
}

// RecordBackup notes a completed backup for the environment. Called by the
// backup tooling through the API, not by the pipeline itself.
func (d *Database) RecordBackup(ctx context.Context, tier model.Tier, takenAt time.Time) error {
	const q = `INSERT INTO environment_backups (environment, taken_at) VALUES ($1, $2)`
	if _, err := d.pool.Exec(ctx, q, tier, takenAt); err != nil {
		return fmt.Errorf("record backup: %w", err)
	}
	return nil
}
