// Package store provides SQLite-backed persistence for application workflow state.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS applications (
	application_id       TEXT PRIMARY KEY,
	status               TEXT NOT NULL DEFAULT 'DRAFT',
	current_stage        INTEGER NOT NULL DEFAULT 1,
	current_step_index   INTEGER NOT NULL DEFAULT 0,
	workflow_substatus   TEXT NOT NULL DEFAULT 'DRAFT',
	completed_steps_json TEXT NOT NULL DEFAULT '[]',
	verified_steps_json  TEXT NOT NULL DEFAULT '[]',
	rejection_reason     TEXT,
	decline_json         TEXT,
	state_version        INTEGER NOT NULL DEFAULT 1,
	updated_at_unix      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS application_history (
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL,
	seq_no         INTEGER NOT NULL,
	date_unix_nano INTEGER NOT NULL,
	user_name      TEXT NOT NULL DEFAULT '',
	role           TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL,
	comment        TEXT NOT NULL DEFAULT '',
	prev_status    TEXT NOT NULL DEFAULT '',
	next_status    TEXT NOT NULL DEFAULT '',
	stage          INTEGER NOT NULL DEFAULT 0,
	step_index     INTEGER NOT NULL DEFAULT 0,
	UNIQUE(application_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_history_app_seq ON application_history(application_id, seq_no);

CREATE TRIGGER IF NOT EXISTS trg_history_no_update
BEFORE UPDATE ON application_history
BEGIN
	SELECT RAISE(ABORT, 'application_history is append-only');
END;

CREATE TRIGGER IF NOT EXISTS trg_history_no_delete
BEFORE DELETE ON application_history
BEGIN
	SELECT RAISE(ABORT, 'application_history is append-only');
END;

CREATE TABLE IF NOT EXISTS workflow_events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	application_id TEXT NOT NULL,
	seq_no         INTEGER NOT NULL,
	stage          INTEGER NOT NULL,
	event_type     TEXT NOT NULL,
	payload_json   TEXT NOT NULL DEFAULT '{}',
	created_at     INTEGER NOT NULL,
	UNIQUE(application_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_events_app_seq ON workflow_events(application_id, seq_no);

CREATE TABLE IF NOT EXISTS stage_snapshots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	application_id TEXT NOT NULL,
	stage          INTEGER NOT NULL,
	snapshot_json  TEXT NOT NULL DEFAULT '{}',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_app_stage ON stage_snapshots(application_id, stage);

CREATE TABLE IF NOT EXISTS audit_records (
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL,
	category       TEXT NOT NULL,
	actor          TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL,
	request_json   TEXT NOT NULL DEFAULT '{}',
	decision_json  TEXT NOT NULL DEFAULT '{}',
	severity       TEXT NOT NULL DEFAULT 'info',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_app ON audit_records(application_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent reads but a single writer.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
