package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

// ApplicationRepo handles persistence for ApplicationInfo records.
// History is stored separately by HistoryRepo.
type ApplicationRepo struct{}

// CreateTx inserts a new application within an existing transaction.
func (r *ApplicationRepo) CreateTx(ctx context.Context, tx *sql.Tx, app domain.ApplicationInfo) error {
	const q = `INSERT INTO applications (application_id, status, current_stage, current_step_index, workflow_substatus,
	completed_steps_json, verified_steps_json, rejection_reason, decline_json, state_version, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	cols, err := encodeColumns(app)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, q,
		app.ID,
		string(app.Status),
		app.CurrentStage,
		app.CurrentStepIndex,
		string(app.WorkflowSubstatus),
		cols.completed,
		cols.verified,
		cols.rejection,
		cols.decline,
		app.StateVersion,
		app.UpdatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// UpdateStateTx updates an application within a transaction using optimistic locking.
// The update only succeeds if the stored state_version matches app.StateVersion.
func (r *ApplicationRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, app domain.ApplicationInfo) error {
	const q = `UPDATE applications SET
		status = ?,
		current_stage = ?,
		current_step_index = ?,
		workflow_substatus = ?,
		completed_steps_json = ?,
		verified_steps_json = ?,
		rejection_reason = ?,
		decline_json = ?,
		state_version = state_version + 1,
		updated_at_unix = ?
	WHERE application_id = ? AND state_version = ?`

	cols, err := encodeColumns(app)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, q,
		string(app.Status),
		app.CurrentStage,
		app.CurrentStepIndex,
		string(app.WorkflowSubstatus),
		cols.completed,
		cols.verified,
		cols.rejection,
		cols.decline,
		app.UpdatedAtUnix,
		app.ID,
		app.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update application state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves an application by its ID, without history.
func (r *ApplicationRepo) GetByID(ctx context.Context, db *sql.DB, id string) (*domain.ApplicationInfo, error) {
	const q = `SELECT application_id, status, current_stage, current_step_index, workflow_substatus,
	completed_steps_json, verified_steps_json, rejection_reason, decline_json, state_version, updated_at_unix
FROM applications WHERE application_id = ?`

	row := db.QueryRowContext(ctx, q, id)

	var (
		a                   domain.ApplicationInfo
		status, substatus   string
		completed, verified string
		rejection, decline  sql.NullString
	)
	err := row.Scan(&a.ID, &status, &a.CurrentStage, &a.CurrentStepIndex, &substatus,
		&completed, &verified, &rejection, &decline, &a.StateVersion, &a.UpdatedAtUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrApplicationMissing
		}
		return nil, fmt.Errorf("get application: %w", err)
	}
	a.Status = domain.Status(status)
	a.WorkflowSubstatus = domain.Substatus(substatus)
	if err := json.Unmarshal([]byte(completed), &a.CompletedSteps); err != nil {
		return nil, fmt.Errorf("decode completed steps: %w", err)
	}
	if err := json.Unmarshal([]byte(verified), &a.VerifiedSteps); err != nil {
		return nil, fmt.Errorf("decode verified steps: %w", err)
	}
	if rejection.Valid {
		reason := rejection.String
		a.RejectionReason = &reason
	}
	if decline.Valid {
		var d domain.DeclineRequest
		if err := json.Unmarshal([]byte(decline.String), &d); err != nil {
			return nil, fmt.Errorf("decode decline request: %w", err)
		}
		a.Decline = &d
	}
	return &a, nil
}

// StateVersion returns the committed state version of an application.
func (r *ApplicationRepo) StateVersion(ctx context.Context, db *sql.DB, id string) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, `SELECT state_version FROM applications WHERE application_id = ?`, id).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrApplicationMissing
		}
		return 0, fmt.Errorf("get state version: %w", err)
	}
	return v, nil
}

type appColumns struct {
	completed string
	verified  string
	rejection sql.NullString
	decline   sql.NullString
}

func encodeColumns(app domain.ApplicationInfo) (appColumns, error) {
	var cols appColumns
	completed, err := json.Marshal(app.CompletedSteps)
	if err != nil {
		return cols, fmt.Errorf("encode completed steps: %w", err)
	}
	verified, err := json.Marshal(app.VerifiedSteps)
	if err != nil {
		return cols, fmt.Errorf("encode verified steps: %w", err)
	}
	cols.completed = string(completed)
	cols.verified = string(verified)
	if app.RejectionReason != nil {
		cols.rejection = sql.NullString{String: *app.RejectionReason, Valid: true}
	}
	if app.Decline != nil {
		d, err := json.Marshal(app.Decline)
		if err != nil {
			return cols, fmt.Errorf("encode decline request: %w", err)
		}
		cols.decline = sql.NullString{String: string(d), Valid: true}
	}
	return cols, nil
}
