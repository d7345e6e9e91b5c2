package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

// SnapshotRepo handles persistence for StageSnapshot records.
type SnapshotRepo struct{}

// SaveTx inserts a stage snapshot within an existing transaction.
func (r *SnapshotRepo) SaveTx(ctx context.Context, tx *sql.Tx, snap domain.StageSnapshot) error {
	const q = `INSERT INTO stage_snapshots (application_id, stage, snapshot_json, created_at)
VALUES (?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		snap.ApplicationID,
		snap.Stage,
		snap.SnapshotJSON,
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot taken when the application entered
// stage. It returns ErrSnapshotMissing when the stage was never entered.
func (r *SnapshotRepo) Latest(ctx context.Context, db *sql.DB, appID string, stage int) (domain.StageSnapshot, error) {
	var s domain.StageSnapshot
	err := db.QueryRowContext(ctx,
		`SELECT id, application_id, stage, snapshot_json, created_at
FROM stage_snapshots WHERE application_id = ? AND stage = ?
ORDER BY id DESC LIMIT 1`, appID, stage).
		Scan(&s.ID, &s.ApplicationID, &s.Stage, &s.SnapshotJSON, &s.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.StageSnapshot{}, domain.ErrSnapshotMissing
	case err != nil:
		return domain.StageSnapshot{}, fmt.Errorf("latest snapshot %s/%d: %w", appID, stage, err)
	}
	return s, nil
}
