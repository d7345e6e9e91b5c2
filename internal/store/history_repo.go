package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

// HistoryRepo persists the append-only history of each application.
// Rows are never updated or deleted; triggers in the schema enforce it.
type HistoryRepo struct{}

// AppendTx inserts an entry as the newest line of the application's history.
func (r *HistoryRepo) AppendTx(ctx context.Context, tx *sql.Tx, appID string, e domain.HistoryEntry) error {
	const q = `INSERT INTO application_history (id, application_id, seq_no, date_unix_nano, user_name, role, action,
	comment, prev_status, next_status, stage, step_index)
SELECT ?, ?, COALESCE(MAX(seq_no), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?, ?
FROM application_history WHERE application_id = ?`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		appID,
		e.Date.UnixNano(),
		e.User,
		string(e.Role),
		string(e.Action),
		e.Comment,
		string(e.PrevStatus),
		string(e.NextStatus),
		e.Stage,
		e.StepIndex,
		appID,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListByApplication returns the application's history, newest first.
func (r *HistoryRepo) ListByApplication(ctx context.Context, db *sql.DB, appID string) (domain.History, error) {
	const q = `SELECT id, date_unix_nano, user_name, role, action, comment, prev_status, next_status, stage, step_index
FROM application_history
WHERE application_id = ?
ORDER BY seq_no DESC`

	rows, err := db.QueryContext(ctx, q, appID)
	if err != nil {
		return domain.History{}, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e                        domain.HistoryEntry
			nanos                    int64
			role, action, prev, next string
		)
		if err := rows.Scan(&e.ID, &nanos, &e.User, &role, &action, &e.Comment, &prev, &next, &e.Stage, &e.StepIndex); err != nil {
			return domain.History{}, fmt.Errorf("scan history: %w", err)
		}
		e.Date = time.Unix(0, nanos).UTC()
		e.Role = domain.Role(role)
		e.Action = domain.Action(action)
		e.PrevStatus = domain.Status(prev)
		e.NextStatus = domain.Status(next)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return domain.History{}, err
	}
	return domain.NewHistory(entries...), nil
}
