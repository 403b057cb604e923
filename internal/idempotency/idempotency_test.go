package idempotency

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testCoordinator(t *testing.T, ttl time.Duration) *Coordinator {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "idem.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c, err := NewCoordinator(db, ttl)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func TestFirstClaimSucceeds(t *testing.T) {
	c := testCoordinator(t, time.Hour)

	rec, err := c.Claim("s1", "k1", "hash-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if rec != nil {
		t.Fatalf("first claim returned replay record: %+v", rec)
	}
}

func TestDuplicateWhilePendingConflicts(t *testing.T) {
	c := testCoordinator(t, time.Hour)

	if _, err := c.Claim("s1", "k1", "hash-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := c.Claim("s1", "k1", "hash-a")
	if !errors.Is(err, ErrRequestInProgress) {
		t.Fatalf("err = %v, want ErrRequestInProgress", err)
	}
}

func TestCompletedReplaysStoredResponse(t *testing.T) {
	c := testCoordinator(t, time.Hour)

	if _, err := c.Claim("s1", "k1", "hash-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	stored := json.RawMessage(`{"narrative":"you open the door","score":62}`)
	if err := c.Complete("s1", "k1", stored); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec, err := c.Claim("s1", "k1", "hash-a")
	if err != nil {
		t.Fatalf("replay claim: %v", err)
	}
	if rec == nil || rec.Status != StatusCompleted {
		t.Fatalf("replay record = %+v", rec)
	}
	if string(rec.Response) != string(stored) {
		t.Fatalf("response = %s", rec.Response)
	}
}

func TestHashMismatchStillReplays(t *testing.T) {
	c := testCoordinator(t, time.Hour)

	if _, err := c.Claim("s1", "k1", "hash-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := c.Complete("s1", "k1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec, err := c.Claim("s1", "k1", "hash-DIFFERENT")
	if err != nil {
		t.Fatalf("mismatched replay must not error: %v", err)
	}
	if rec == nil || rec.Status != StatusCompleted {
		t.Fatalf("replay record = %+v", rec)
	}
}

func TestFailedReplaysErrorCode(t *testing.T) {
	c := testCoordinator(t, time.Hour)

	if _, err := c.Claim("s1", "k1", "hash-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := c.Fail("s1", "k1", "LLM_UNAVAILABLE"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	rec, err := c.Claim("s1", "k1", "hash-a")
	if err != nil {
		t.Fatalf("replay claim: %v", err)
	}
	if rec == nil || rec.Status != StatusFailed || rec.ErrorCode != "LLM_UNAVAILABLE" {
		t.Fatalf("replay record = %+v", rec)
	}
}

func TestKeysAreScopedPerSession(t *testing.T) {
	c := testCoordinator(t, time.Hour)

	if _, err := c.Claim("s1", "k1", "h"); err != nil {
		t.Fatalf("claim s1: %v", err)
	}
	rec, err := c.Claim("s2", "k1", "h")
	if err != nil || rec != nil {
		t.Fatalf("same key in another session must claim fresh: rec=%+v err=%v", rec, err)
	}
}

func TestExpiredRecordBehavesAsAbsent(t *testing.T) {
	c := testCoordinator(t, -time.Second) // already expired on creation

	if _, err := c.Claim("s1", "k1", "h"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Second claim finds an expired pending record and takes it over.
	rec, err := c.Claim("s1", "k1", "h2")
	if err != nil || rec != nil {
		t.Fatalf("expired record must be reclaimable: rec=%+v err=%v", rec, err)
	}
}

func TestExpiredTakeoverHasSingleWinner(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "idem.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	seed, err := NewCoordinator(db, -time.Second)
	if err != nil {
		t.Fatalf("seed coordinator: %v", err)
	}
	// Pending record that is already expired when the claimants arrive.
	if _, err := seed.Claim("s1", "k1", "h1"); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	c, err := NewCoordinator(db, time.Minute)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := c.Claim("s1", "k1", "h2")
			if err == nil && rec == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			if rec != nil {
				t.Errorf("takeover produced a replay record: %+v", rec)
				return
			}
			if !errors.Is(err, ErrRequestInProgress) {
				t.Errorf("loser err = %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("takeover winners = %d, want exactly 1", wins)
	}
}

func TestReapDeletesExpired(t *testing.T) {
	c := testCoordinator(t, -time.Second)

	if _, err := c.Claim("s1", "k1", "h"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	n, err := c.Reap()
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped = %d, want 1", n)
	}
}

func TestTerminalTransitionsAreExclusive(t *testing.T) {
	c := testCoordinator(t, time.Hour)

	if _, err := c.Claim("s1", "k1", "h"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := c.Complete("s1", "k1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := c.Fail("s1", "k1", "X"); err == nil {
		t.Fatal("fail after complete must error: record is terminal")
	}
}
