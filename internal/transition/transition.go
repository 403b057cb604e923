// Package transition applies quantitative range effects to session state,
// advances the time-of-day clock, and maintains run bookkeeping. Apply
// operates on an independent copy of the input state: the caller's
// reference is never mutated.
package transition

import (
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
)

// #region effects

// TargetType selects what a range effect applies to.
type TargetType string

const (
	TargetPlayer TargetType = "player"
	TargetNpc    TargetType = "npc"
)

// NPC axis metrics a range effect may address.
const (
	MetricAffection = "affection"
	MetricTrust     = "trust"
)

// RangeEffect is a parametrized quantitative adjustment, scaled by the
// step's intensity tier.
type RangeEffect struct {
	TargetType TargetType `json:"target_type" yaml:"target_type"`
	Metric     string     `json:"metric" yaml:"metric"`
	TargetID   string     `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	Center     int        `json:"center" yaml:"center"`
	Intensity  int        `json:"intensity" yaml:"intensity"`
}

// AppliedEffect records one effect that actually landed, with its computed
// delta before clamping.
type AppliedEffect struct {
	RangeEffect
	Delta int `json:"delta"`
}

// #endregion effects

// #region delta

// NpcDelta reports per-axis change and the tier labels after the update.
type NpcDelta struct {
	Affection     float64    `json:"affection,omitempty"`
	Trust         float64    `json:"trust,omitempty"`
	AffectionTier state.Tier `json:"affection_tier"`
	TrustTier     state.Tier `json:"trust_tier"`
	RelationTier  state.Tier `json:"relation_tier"`
}

// Delta mirrors only what changed during one transition, plus the full run
// bookkeeping snapshot, in a stable layout for logging and replay.
type Delta struct {
	Resources map[string]float64  `json:"resources,omitempty"`
	NPCs      map[string]NpcDelta `json:"npcs,omitempty"`
	Day       int                 `json:"day,omitempty"`
	Slot      state.Slot          `json:"slot"`
	Run       state.RunState      `json:"run_state"`
}

// Result bundles everything returned by Apply.
type Result struct {
	State   state.SessionState `json:"state"`
	Delta   Delta              `json:"delta"`
	Applied []AppliedEffect    `json:"applied"`
}

// #endregion delta

// #region apply

// Apply runs one deterministic state transition. Effects with unrecognized
// target/metric combinations are silently skipped. Terminal run fields are
// preserved, never cleared.
func Apply(before state.SessionState, effects []RangeEffect, intensityTier int, fallbackUsed bool, fallbackReason string) Result {
	next := before.Clone()
	if next.Resources == nil {
		next.Resources = map[string]float64{}
	}
	if next.NPCs == nil {
		next.NPCs = map[string]state.NpcRelation{}
	}

	delta := Delta{}
	applied := make([]AppliedEffect, 0, len(effects))

	// 1. Range effects.
	for _, eff := range effects {
		effectDelta := eff.Center + intensityTier*eff.Intensity

		switch eff.TargetType {
		case TargetPlayer:
			if !playerMetric(next.Resources, eff.Metric) {
				continue
			}
			old := next.Resources[eff.Metric]
			value := old + float64(effectDelta)
			if eff.Metric == state.ResourceEnergy {
				value = clampRange(value, 0, 100)
			} else if value < 0 {
				value = 0
			}
			next.Resources[eff.Metric] = value
			if delta.Resources == nil {
				delta.Resources = map[string]float64{}
			}
			delta.Resources[eff.Metric] += value - old
			applied = append(applied, AppliedEffect{RangeEffect: eff, Delta: effectDelta})

		case TargetNpc:
			if eff.TargetID == "" {
				continue
			}
			if eff.Metric != MetricAffection && eff.Metric != MetricTrust {
				continue
			}
			npc, ok := next.NPCs[eff.TargetID]
			if !ok {
				npc = state.NewNpcRelation()
			}
			var old float64
			if eff.Metric == MetricAffection {
				old = npc.Affection
				npc.Affection = clampRange(old+float64(effectDelta), -100, 100)
			} else {
				old = npc.Trust
				npc.Trust = clampRange(old+float64(effectDelta), -100, 100)
			}
			npc = npc.Recompute()
			next.NPCs[eff.TargetID] = npc

			if delta.NPCs == nil {
				delta.NPCs = map[string]NpcDelta{}
			}
			nd := delta.NPCs[eff.TargetID]
			if eff.Metric == MetricAffection {
				nd.Affection += npc.Affection - old
			} else {
				nd.Trust += npc.Trust - old
			}
			nd.AffectionTier = npc.AffectionTier
			nd.TrustTier = npc.TrustTier
			nd.RelationTier = npc.RelationTier
			delta.NPCs[eff.TargetID] = nd
			applied = append(applied, AppliedEffect{RangeEffect: eff, Delta: effectDelta})
		}
	}

	// 2. Re-derive every NPC's tiers from its current thresholds, so
	// externally supplied (possibly invalid) cut points normalize.
	for id, npc := range next.NPCs {
		next.NPCs[id] = npc.Recompute()
	}

	// 3. Clock: exactly one slot per transition.
	slot, wrapped := next.Slot.Next()
	next.Slot = slot
	if wrapped {
		next.Day++
		delta.Day = 1
	}
	delta.Slot = slot

	// 4. Run bookkeeping.
	if next.Run.Phase == "" {
		next.Run.Phase = state.PhaseRunning
	}
	next.Run.StepIndex++
	if fallbackUsed {
		next.Run.FallbackCount++
		next.Run.ConsecutiveFallbacks++
		next.Run.LastFallbackReason = fallbackReason
	} else {
		next.Run.ConsecutiveFallbacks = 0
		next.Run.LastFallbackReason = ""
	}
	delta.Run = next.Run

	return Result{State: next, Delta: delta, Applied: applied}
}

// playerMetric reports whether the metric names a known player resource:
// either one already present or one of the canonical four.
func playerMetric(resources map[string]float64, metric string) bool {
	if _, ok := resources[metric]; ok {
		return true
	}
	switch metric {
	case state.ResourceEnergy, state.ResourceMoney, state.ResourceKnowledge, state.ResourceAffection:
		return true
	}
	return false
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion apply
