// Package steplog writes the per-step action log consumed by the replay
// report tooling.
package steplog

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS step_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	step_id       TEXT NOT NULL,
	version_id    TEXT,
	decision      TEXT NOT NULL,
	branch_id     TEXT,
	fallback_used INTEGER NOT NULL DEFAULT 0,
	block_reason  TEXT,
	traces_json   TEXT,
	delta_json    TEXT,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_step_log_session
ON step_log(session_id, id);
`

// #endregion schema

// #region init

// Init creates the step_log table if needed.
func Init(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate step_log: %w", err)
	}
	return nil
}

// #endregion init

// #region write
// Write appends a step entry to the log.
func Write(db *sql.DB, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	fallback := 0
	if entry.FallbackUsed {
		fallback = 1
	}

	_, err := db.Exec(
		`INSERT INTO step_log (session_id, step_id, version_id, decision, branch_id, fallback_used, block_reason, traces_json, delta_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		entry.StepID,
		nullIfEmpty(entry.VersionID),
		entry.Decision,
		nullIfEmpty(entry.BranchID),
		fallback,
		nullIfEmpty(entry.BlockReason),
		nullIfEmpty(entry.TracesJSON),
		nullIfEmpty(entry.DeltaJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write step log: %w", err)
	}
	return nil
}

// #endregion write

// #region list
// List returns entries for a session in append order.
func List(db *sql.DB, sessionID string) ([]Entry, error) {
	rows, err := db.Query(
		`SELECT session_id, step_id, version_id, decision, branch_id, fallback_used, block_reason, traces_json, delta_json, created_at
		 FROM step_log WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list step log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var versionID, branchID, blockReason, tracesJSON, deltaJSON sql.NullString
		var fallback int
		var createdStr string
		if err := rows.Scan(&e.SessionID, &e.StepID, &versionID, &e.Decision, &branchID,
			&fallback, &blockReason, &tracesJSON, &deltaJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan step log: %w", err)
		}
		e.VersionID = versionID.String
		e.BranchID = branchID.String
		e.FallbackUsed = fallback != 0
		e.BlockReason = blockReason.String
		e.TracesJSON = tracesJSON.String
		e.DeltaJSON = deltaJSON.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
