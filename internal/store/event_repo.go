package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

// EventRepo handles persistence for WorkflowEvent records.
type EventRepo struct{}

// AppendTx inserts a workflow event within an existing transaction.
func (r *EventRepo) AppendTx(ctx context.Context, tx *sql.Tx, event domain.WorkflowEvent) error {
	const q = `INSERT INTO workflow_events (application_id, seq_no, stage, event_type, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		event.ApplicationID,
		event.SeqNo,
		event.Stage,
		event.EventType,
		event.PayloadJSON,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LastSeqTx returns the highest event sequence number for an application, or 0.
func (r *EventRepo) LastSeqTx(ctx context.Context, tx *sql.Tx, appID string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq_no), 0) FROM workflow_events WHERE application_id = ?`, appID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last event seq: %w", err)
	}
	return seq, nil
}

// ListByApplication returns events for an application with sequence numbers greater than sinceSeq,
// ordered by sequence number ascending.
func (r *EventRepo) ListByApplication(ctx context.Context, db *sql.DB, appID string, sinceSeq int64) ([]domain.WorkflowEvent, error) {
	const q = `SELECT id, application_id, seq_no, stage, event_type, payload_json, created_at
FROM workflow_events
WHERE application_id = ? AND seq_no > ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, appID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.WorkflowEvent
	for rows.Next() {
		var e domain.WorkflowEvent
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.SeqNo, &e.Stage, &e.EventType, &e.PayloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
