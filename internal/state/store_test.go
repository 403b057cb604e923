package state

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateSessionAndHead(t *testing.T) {
	store := testStore(t)

	v, err := store.CreateSession("sess-1", NewSessionState())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if v.ParentID != "" {
		t.Fatalf("initial version has parent %q", v.ParentID)
	}

	head, err := store.Head("sess-1")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.VersionID != v.VersionID {
		t.Fatalf("head = %s, want %s", head.VersionID, v.VersionID)
	}
	if head.State.Resources[ResourceEnergy] != 100 {
		t.Fatalf("round-tripped energy = %v", head.State.Resources[ResourceEnergy])
	}
	if head.State.Slot != SlotMorning || head.State.Day != 1 {
		t.Fatalf("round-tripped clock = day %d %s", head.State.Day, head.State.Slot)
	}
}

func TestCommitStepAdvancesChain(t *testing.T) {
	store := testStore(t)

	v0, err := store.CreateSession("sess-1", NewSessionState())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	next := v0.State.Clone()
	next.Run.StepIndex = 1
	next.Resources[ResourceMoney] = 30
	next.Slot = SlotAfternoon

	v1, err := store.CommitStep("sess-1", v0.VersionID, next)
	if err != nil {
		t.Fatalf("commit step: %v", err)
	}
	if v1.ParentID != v0.VersionID {
		t.Fatalf("parent = %s, want %s", v1.ParentID, v0.VersionID)
	}

	head, err := store.Head("sess-1")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.VersionID != v1.VersionID {
		t.Fatal("active pointer did not advance")
	}
	if head.State.Resources[ResourceMoney] != 30 {
		t.Fatalf("money = %v", head.State.Resources[ResourceMoney])
	}

	// Prior version remains readable and unchanged.
	old, err := store.GetVersion(v0.VersionID)
	if err != nil {
		t.Fatalf("get old version: %v", err)
	}
	if old.State.Resources[ResourceMoney] != 0 {
		t.Fatalf("old version mutated: money = %v", old.State.Resources[ResourceMoney])
	}

	chain, err := store.Chain("sess-1")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d", len(chain))
	}
	if chain[0].VersionID != v0.VersionID || chain[1].VersionID != v1.VersionID {
		t.Fatal("chain out of order")
	}
}

func TestSessionsListing(t *testing.T) {
	store := testStore(t)

	if _, err := store.CreateSession("b", NewSessionState()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateSession("a", NewSessionState()); err != nil {
		t.Fatalf("create: %v", err)
	}

	ids, err := store.Sessions()
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("sessions = %v", ids)
	}
}
