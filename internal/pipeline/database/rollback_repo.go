package database

import (
	"context"
	"fmt"

	"github.com/harborline/harborline/internal/pipeline/model"
)

// CreateRollbackRecord appends one audit entry. The table is append-only.
func (d *Database) CreateRollbackRecord(ctx context.Context, rec *model.RollbackRecord) error {
	const q = `INSERT INTO rollback_records
		(id, environment, source_version, target_version, reason, initiator, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := d.pool.Exec(ctx, q,
		rec.ID, rec.Tier, rec.SourceVersion, rec.TargetVersion, rec.Reason, rec.Initiator, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create rollback record: %w", err)
	}
	return nil
}

// ListRollbacks returns an environment's rollback audit trail, newest first.
func (d *Database) ListRollbacks(ctx context.Context, tier model.Tier, limit int) ([]model.RollbackRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT id, environment, source_version, target_version, reason, initiator, status, created_at
		FROM rollback_records WHERE environment=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := d.pool.Query(ctx, q, tier, limit)
	if err != nil {
		return nil, fmt.Errorf("list rollbacks: %w", err)
	}
	defer rows.Close()

	var out []model.RollbackRecord
	for rows.Next() {
		var rec model.RollbackRecord
		if err := rows.Scan(&rec.ID, &rec.Tier, &rec.SourceVersion, &rec.TargetVersion,
			&rec.Reason, &rec.Initiator, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rollback: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
