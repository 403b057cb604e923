package state

import "testing"

func TestSlotCycle(t *testing.T) {
	next, wrapped := SlotMorning.Next()
	if next != SlotAfternoon || wrapped {
		t.Fatalf("morning → %s wrapped=%v", next, wrapped)
	}
	next, wrapped = SlotAfternoon.Next()
	if next != SlotNight || wrapped {
		t.Fatalf("afternoon → %s wrapped=%v", next, wrapped)
	}
	next, wrapped = SlotNight.Next()
	if next != SlotMorning || !wrapped {
		t.Fatalf("night → %s wrapped=%v", next, wrapped)
	}
}

func TestTierForDefaults(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		value float64
		want  Tier
	}{
		{-100, TierHostile},
		{-61, TierHostile},
		{-60, TierWary},
		{-20, TierNeutral},
		{0, TierNeutral},
		{20, TierWarm},
		{59, TierWarm},
		{60, TierClose},
		{100, TierClose},
	}
	for _, c := range cases {
		if got := TierFor(c.value, th); got != c.want {
			t.Fatalf("TierFor(%v) = %s, want %s", c.value, got, c.want)
		}
	}
}

func TestNormalizeThresholdsRejectsInvalid(t *testing.T) {
	invalid := [][]float64{
		nil,
		{-60, -20, 20},             // too short
		{-60, -20, 20, 60, 80},     // too long
		{-60, 20, -20, 60},         // not ascending
		{-60, -20, -20, 60},        // not distinct
		{-200, -20, 20, 60},        // out of range
		{-60, -20, 20, 160},        // out of range
	}
	for _, raw := range invalid {
		if got := NormalizeThresholds(raw); got != DefaultThresholds() {
			t.Fatalf("NormalizeThresholds(%v) = %v, want defaults", raw, got)
		}
	}

	valid := []float64{-50, -10, 10, 50}
	if got := NormalizeThresholds(valid); got != (Thresholds{-50, -10, 10, 50}) {
		t.Fatalf("valid thresholds rewritten: %v", got)
	}
}

func TestRelationTierIsWeakerAxis(t *testing.T) {
	n := NpcRelation{Affection: 95, Trust: -95}.Recompute()
	if n.AffectionTier != TierClose {
		t.Fatalf("affection tier = %s", n.AffectionTier)
	}
	if n.TrustTier != TierHostile {
		t.Fatalf("trust tier = %s", n.TrustTier)
	}
	if n.RelationTier != TierHostile {
		t.Fatalf("relation tier = %s, want Hostile", n.RelationTier)
	}
}

func TestRunStateEndIsSetOnce(t *testing.T) {
	r := RunState{Phase: PhaseRunning}
	if !r.End(Ending{ID: "good_end", Outcome: "victory"}) {
		t.Fatal("first End should succeed")
	}
	if r.End(Ending{ID: "bad_end", Outcome: "defeat"}) {
		t.Fatal("second End should be a no-op")
	}
	if r.Ending.ID != "good_end" {
		t.Fatalf("ending overwritten: %s", r.Ending.ID)
	}
	if !r.Ended() {
		t.Fatal("run should report ended")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewSessionState()
	s.Flags["route"] = "a"
	s.NPCs["rin"] = NewNpcRelation()

	c := s.Clone()
	c.Resources[ResourceEnergy] = 1
	c.Flags["route"] = "b"
	npc := c.NPCs["rin"]
	npc.Affection = 70
	c.NPCs["rin"] = npc
	c.Run.End(Ending{ID: "e1"})

	if s.Resources[ResourceEnergy] != 100 {
		t.Fatalf("clone mutated original energy: %v", s.Resources[ResourceEnergy])
	}
	if s.Flags["route"] != "a" {
		t.Fatalf("clone mutated original flags: %v", s.Flags["route"])
	}
	if s.NPCs["rin"].Affection != 0 {
		t.Fatalf("clone mutated original npc: %v", s.NPCs["rin"].Affection)
	}
	if s.Run.Ended() {
		t.Fatal("clone mutated original run state")
	}
}
