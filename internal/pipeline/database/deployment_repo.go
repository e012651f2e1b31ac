package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/jackc/pgx/v5"
)

// CreateDeploymentRecord inserts a new record in its initial (not current) state.
func (d *Database) CreateDeploymentRecord(ctx context.Context, rec *model.DeploymentRecord) error {
	const q = `INSERT INTO deployment_records
		(id, environment, registry, image_name, version_tag, built_at, status, initiator, started_at, is_current, diagnostics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)`
	_, err := d.pool.Exec(ctx, q,
		rec.ID, rec.Tier, rec.Artifact.Registry, rec.Artifact.Name, rec.Artifact.Tag, rec.Artifact.BuiltAt,
		rec.Status, rec.Initiator, rec.StartedAt, rec.Diagnostics)
	if err != nil {
		return fmt.Errorf("create deployment record: %w", err)
	}
	return nil
}

// FinishDeploymentRecord stores the terminal status and diagnostics of a run.
func (d *Database) FinishDeploymentRecord(ctx context.Context, id string, status model.RecordStatus, diagnostics string, finishedAt time.Time) error {
	const q = `UPDATE deployment_records SET status=$2, diagnostics=$3, finished_at=$4 WHERE id=$1`
	_, err := d.pool.Exec(ctx, q, id, status, diagnostics, finishedAt)
	if err != nil {
		return fmt.Errorf("finish deployment record: %w", err)
	}
	return nil
}

// PromoteCurrent flips the "current" pointer for an environment to the given
// record inside one transaction. Callers hold the per-environment lease, so the
// two statements never interleave with another promote for the same tier.
func (d *Database) PromoteCurrent(ctx context.Context, tier model.Tier, id string) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("promote current: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE deployment_records SET is_current=false WHERE environment=$1 AND is_current`, tier); err != nil {
		return fmt.Errorf("promote current: clear: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE deployment_records SET is_current=true WHERE id=$1`, id); err != nil {
		return fmt.Errorf("promote current: set: %w", err)
	}
	return tx.Commit(ctx)
}

const recordColumns = `id, environment, registry, image_name, version_tag, built_at, status, initiator, started_at, finished_at, is_current, COALESCE(diagnostics, '')`

func scanRecord(row pgx.Row) (*model.DeploymentRecord, error) {
	var rec model.DeploymentRecord
	if err := row.Scan(&rec.ID, &rec.Tier, &rec.Artifact.Registry, &rec.Artifact.Name, &rec.Artifact.Tag, &rec.Artifact.BuiltAt,
		&rec.Status, &rec.Initiator, &rec.StartedAt, &rec.FinishedAt, &rec.IsCurrent, &rec.Diagnostics); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetCurrentDeployment returns the record currently serving the environment,
// or nil when nothing has been deployed yet.
func (d *Database) GetCurrentDeployment(ctx context.Context, tier model.Tier) (*model.DeploymentRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM deployment_records WHERE environment=$1 AND is_current`
	rec, err := scanRecord(d.pool.QueryRow(ctx, q, tier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get current deployment: %w", err)
	}
	return rec, nil
}

// LatestSucceededExcludingCurrent returns the newest succeeded record for the
// environment that is not the current one, which is the default rollback target.
func (d *Database) LatestSucceededExcludingCurrent(ctx context.Context, tier model.Tier) (*model.DeploymentRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM deployment_records
		WHERE environment=$1 AND status=$2 AND NOT is_current
		ORDER BY started_at DESC LIMIT 1`
	rec, err := scanRecord(d.pool.QueryRow(ctx, q, tier, model.RecordSucceeded))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest succeeded deployment: %w", err)
	}
	return rec, nil
}

// ListDeployments returns records for an environment, newest first.
func (d *Database) ListDeployments(ctx context.Context, tier model.Tier, limit int) ([]model.DeploymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + recordColumns + ` FROM deployment_records WHERE environment=$1 ORDER BY started_at DESC LIMIT $2`
	rows, err := d.pool.Query(ctx, q, tier, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []model.DeploymentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
