package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS session_versions (
	version_id   TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	parent_id    TEXT,
	step_index   INTEGER NOT NULL,
	state_json   TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES session_versions(version_id)
);

CREATE INDEX IF NOT EXISTS idx_session_versions_session
ON session_versions(session_id, step_index);

CREATE TABLE IF NOT EXISTS active_sessions (
	session_id   TEXT PRIMARY KEY,
	version_id   TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES session_versions(version_id)
);
`

// #endregion schema

// #region store-struct
// Store manages versioned session state in SQLite. Each committed step adds
// a new version row and moves the session's active pointer; prior versions
// are never modified.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages
// (idempotency records, step log).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region create-session
// CreateSession commits the initial version for a new session and points the
// active pointer at it.
func (s *Store) CreateSession(sessionID string, initial SessionState) (Version, error) {
	v := Version{
		VersionID: uuid.New().String(),
		SessionID: sessionID,
		StepIndex: initial.Run.StepIndex,
		State:     initial,
		CreatedAt: time.Now().UTC(),
	}

	stateJSON, err := json.Marshal(v.State)
	if err != nil {
		return Version{}, fmt.Errorf("marshal state: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Version{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO session_versions (version_id, session_id, parent_id, step_index, state_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.VersionID, v.SessionID, nil, v.StepIndex, string(stateJSON),
		v.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_sessions (session_id, version_id) VALUES (?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET version_id = excluded.version_id`,
		v.SessionID, v.VersionID,
	)
	if err != nil {
		return Version{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

// #endregion create-session

// #region head
// Head reads the active version for a session.
func (s *Store) Head(sessionID string) (Version, error) {
	var versionID string
	err := s.db.QueryRow(
		`SELECT version_id FROM active_sessions WHERE session_id = ?`, sessionID,
	).Scan(&versionID)
	if err != nil {
		return Version{}, fmt.Errorf("get active for %s: %w", sessionID, err)
	}
	return s.GetVersion(versionID)
}

// #endregion head

// #region get-version
// GetVersion retrieves a specific state version by ID.
func (s *Store) GetVersion(id string) (Version, error) {
	var v Version
	var parentID sql.NullString
	var stateJSON string
	var createdStr string

	err := s.db.QueryRow(
		`SELECT version_id, session_id, parent_id, step_index, state_json, created_at
		 FROM session_versions WHERE version_id = ?`, id,
	).Scan(&v.VersionID, &v.SessionID, &parentID, &v.StepIndex, &stateJSON, &createdStr)
	if err != nil {
		return Version{}, fmt.Errorf("get version %s: %w", id, err)
	}

	if parentID.Valid {
		v.ParentID = parentID.String
	}
	if err := json.Unmarshal([]byte(stateJSON), &v.State); err != nil {
		return Version{}, fmt.Errorf("unmarshal state: %w", err)
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return v, nil
}

// #endregion get-version

// #region commit-step
// CommitStep inserts the post-step state as a new version chained to the
// given parent and advances the active pointer atomically.
func (s *Store) CommitStep(sessionID, parentID string, next SessionState) (Version, error) {
	v := Version{
		VersionID: uuid.New().String(),
		SessionID: sessionID,
		ParentID:  parentID,
		StepIndex: next.Run.StepIndex,
		State:     next,
		CreatedAt: time.Now().UTC(),
	}

	stateJSON, err := json.Marshal(v.State)
	if err != nil {
		return Version{}, fmt.Errorf("marshal state: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Version{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parentPtr interface{}
	if v.ParentID != "" {
		parentPtr = v.ParentID
	}

	_, err = tx.Exec(
		`INSERT INTO session_versions (version_id, session_id, parent_id, step_index, state_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.VersionID, v.SessionID, parentPtr, v.StepIndex, string(stateJSON),
		v.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE active_sessions SET version_id = ? WHERE session_id = ?`,
		v.VersionID, v.SessionID,
	)
	if err != nil {
		return Version{}, fmt.Errorf("update active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

// #endregion commit-step

// #region chain
// Chain returns all versions for a session ordered by step index.
func (s *Store) Chain(sessionID string) ([]Version, error) {
	rows, err := s.db.Query(
		`SELECT version_id, session_id, parent_id, step_index, state_json, created_at
		 FROM session_versions WHERE session_id = ? ORDER BY step_index ASC, created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var v Version
		var parentID sql.NullString
		var stateJSON string
		var createdStr string
		if err := rows.Scan(&v.VersionID, &v.SessionID, &parentID, &v.StepIndex, &stateJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		if parentID.Valid {
			v.ParentID = parentID.String
		}
		if err := json.Unmarshal([]byte(stateJSON), &v.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, v)
	}
	return out, rows.Err()
}

// #endregion chain

// #region sessions
// Sessions lists all session IDs with an active pointer.
func (s *Store) Sessions() ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id FROM active_sessions ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// #endregion sessions
