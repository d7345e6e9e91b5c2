package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

// AuditRepo stores denied and flagged actions against an application.
type AuditRepo struct{}

// AuditFilter narrows an audit listing. Zero values match everything.
type AuditFilter struct {
	Category string
	Limit    int
}

// Record appends one audit record. An empty severity is stored as "info".
func (r *AuditRepo) Record(ctx context.Context, db *sql.DB, rec domain.AuditRecord) error {
	if rec.Severity == "" {
		rec.Severity = "info"
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO audit_records (id, application_id, category, actor, action, request_json, decision_json, severity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ApplicationID, rec.Category, rec.Actor, rec.Action,
		orEmptyObject(rec.RequestJSON), orEmptyObject(rec.DecisionJSON), rec.Severity, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record audit %s: %w", rec.ID, err)
	}
	return nil
}

// List returns the audit trail of one application, newest first.
func (r *AuditRepo) List(ctx context.Context, db *sql.DB, appID string, f AuditFilter) ([]domain.AuditRecord, error) {
	var (
		sb   strings.Builder
		args = []any{appID}
	)
	sb.WriteString(`SELECT id, application_id, category, actor, action, request_json, decision_json, severity, created_at
FROM audit_records WHERE application_id = ?`)
	if f.Category != "" {
		sb.WriteString(` AND category = ?`)
		args = append(args, f.Category)
	}
	sb.WriteString(` ORDER BY created_at DESC, rowid DESC`)
	if f.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit for %s: %w", appID, err)
	}
	defer rows.Close()

	trail := make([]domain.AuditRecord, 0)
	for rows.Next() {
		var rec domain.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.ApplicationID, &rec.Category, &rec.Actor, &rec.Action,
			&rec.RequestJSON, &rec.DecisionJSON, &rec.Severity, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		trail = append(trail, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return trail, nil
}

func orEmptyObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}
