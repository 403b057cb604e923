// Package idempotency guarantees at-most-one effective execution of a step
// per (session, client-supplied key). The uniqueness of the record is the
// sole concurrency-control mechanism: the second concurrent writer fails
// its claim instead of proceeding.
package idempotency

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// #region status

// Status is the lifecycle state of an idempotency record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrRequestInProgress reports a concurrent duplicate of a still-pending
// key. Callers are expected to retry with backoff.
var ErrRequestInProgress = errors.New("REQUEST_IN_PROGRESS")

// #endregion status

// #region record

// Record is one stored idempotency entry.
type Record struct {
	SessionID   string
	Key         string
	RequestHash string
	Status      Status
	Response    json.RawMessage
	ErrorCode   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// #endregion record

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS idempotency_records (
	session_id    TEXT NOT NULL,
	idem_key      TEXT NOT NULL,
	request_hash  TEXT NOT NULL,
	status        TEXT NOT NULL,
	response_json TEXT,
	error_code    TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	expires_at    TEXT NOT NULL,
	PRIMARY KEY (session_id, idem_key)
);
`

// #endregion schema

// #region coordinator

// Coordinator wraps step execution so repeated calls bearing the same
// (session, key) produce exactly one state transition.
type Coordinator struct {
	db  *sql.DB
	ttl time.Duration
}

// NewCoordinator creates the records table if needed.
func NewCoordinator(db *sql.DB, ttl time.Duration) (*Coordinator, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate idempotency: %w", err)
	}
	return &Coordinator{db: db, ttl: ttl}, nil
}

// #endregion coordinator

// #region claim

// Claim attempts to take ownership of a key.
// Returns (nil, nil) when the claim succeeded and the caller should execute
// the step; (record, nil) when a terminal record exists and its stored
// outcome must be replayed verbatim; (nil, ErrRequestInProgress) when the
// key is still pending elsewhere.
func (c *Coordinator) Claim(sessionID, key, requestHash string) (*Record, error) {
	now := time.Now().UTC()

	res, err := c.db.Exec(
		`INSERT INTO idempotency_records
		 (session_id, idem_key, request_hash, status, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, idem_key) DO NOTHING`,
		sessionID, key, requestHash, string(StatusPending),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		now.Add(c.ttl).Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("claim insert: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil, nil
	}

	rec, err := c.get(sessionID, key)
	if err != nil {
		return nil, err
	}

	// An expired record behaves as if it never existed: take it over. The
	// expires_at guard makes the takeover single-winner; a loser re-reads
	// whatever the winner left behind and handles it like any live record.
	if now.After(rec.ExpiresAt) {
		res, err := c.db.Exec(
			`UPDATE idempotency_records
			 SET request_hash = ?, status = ?, response_json = NULL, error_code = NULL,
			     created_at = ?, updated_at = ?, expires_at = ?
			 WHERE session_id = ? AND idem_key = ? AND expires_at = ?`,
			requestHash, string(StatusPending),
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
			now.Add(c.ttl).Format(time.RFC3339Nano),
			sessionID, key, rec.ExpiresAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("reclaim expired: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil, nil
		}
		if rec, err = c.get(sessionID, key); err != nil {
			return nil, err
		}
	}

	if rec.Status == StatusPending {
		return nil, ErrRequestInProgress
	}

	// Terminal record: replay the stored outcome even when the request body
	// changed. The mismatch is logged, not rejected, so benign payload noise
	// in client retries does not break replay.
	if rec.RequestHash != requestHash {
		log.Printf("[IDEM] replay with mismatched request hash session=%s key=%s stored=%s got=%s",
			sessionID, key, rec.RequestHash, requestHash)
	}
	return rec, nil
}

// #endregion claim

// #region terminal

// Complete moves a pending record to completed and stores the response.
func (c *Coordinator) Complete(sessionID, key string, response json.RawMessage) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := c.db.Exec(
		`UPDATE idempotency_records
		 SET status = ?, response_json = ?, updated_at = ?
		 WHERE session_id = ? AND idem_key = ? AND status = ?`,
		string(StatusCompleted), string(response), now,
		sessionID, key, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("complete: record for %s/%s not pending", sessionID, key)
	}
	return nil
}

// Fail moves a pending record to failed and stores the error code.
func (c *Coordinator) Fail(sessionID, key, errorCode string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := c.db.Exec(
		`UPDATE idempotency_records
		 SET status = ?, error_code = ?, updated_at = ?
		 WHERE session_id = ? AND idem_key = ? AND status = ?`,
		string(StatusFailed), errorCode, now,
		sessionID, key, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("fail: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("fail: record for %s/%s not pending", sessionID, key)
	}
	return nil
}

// #endregion terminal

// #region reap

// Reap deletes expired records. Passive: correctness never depends on it.
func (c *Coordinator) Reap() (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := c.db.Exec(`DELETE FROM idempotency_records WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("reap: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// #endregion reap

// #region get

func (c *Coordinator) get(sessionID, key string) (*Record, error) {
	var rec Record
	var response sql.NullString
	var errorCode sql.NullString
	var createdStr, updatedStr, expiresStr string

	err := c.db.QueryRow(
		`SELECT session_id, idem_key, request_hash, status, response_json, error_code,
		        created_at, updated_at, expires_at
		 FROM idempotency_records WHERE session_id = ? AND idem_key = ?`,
		sessionID, key,
	).Scan(&rec.SessionID, &rec.Key, &rec.RequestHash, &rec.Status,
		&response, &errorCode, &createdStr, &updatedStr, &expiresStr)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	if response.Valid {
		rec.Response = json.RawMessage(response.String)
	}
	if errorCode.Valid {
		rec.ErrorCode = errorCode.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	rec.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresStr)
	return &rec, nil
}

// #endregion get

// #region hash

// HashRequest produces the canonical hash of a normalized request body.
func HashRequest(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// #endregion hash
