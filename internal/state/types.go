package state

import (
	"time"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/affection"
)

// #region slot
// Slot is the time-of-day position within a story day.
type Slot string

const (
	SlotMorning   Slot = "morning"
	SlotAfternoon Slot = "afternoon"
	SlotNight     Slot = "night"
)

// Next returns the following slot and whether the day wrapped around.
func (s Slot) Next() (Slot, bool) {
	switch s {
	case SlotMorning:
		return SlotAfternoon, false
	case SlotAfternoon:
		return SlotNight, false
	default:
		return SlotMorning, true
	}
}

// #endregion slot

// #region tiers
// Tier is one of five ordered relationship bands.
type Tier string

const (
	TierHostile Tier = "Hostile"
	TierWary    Tier = "Wary"
	TierNeutral Tier = "Neutral"
	TierWarm    Tier = "Warm"
	TierClose   Tier = "Close"
)

// tierOrder lists tiers from weakest to strongest.
var tierOrder = [5]Tier{TierHostile, TierWary, TierNeutral, TierWarm, TierClose}

// TierIndex returns the ordinal position of a tier (Hostile=0 .. Close=4).
// Unknown tiers map to 0.
func TierIndex(t Tier) int {
	for i, v := range tierOrder {
		if v == t {
			return i
		}
	}
	return 0
}

// WeakerTier returns the lower-indexed of two tiers.
func WeakerTier(a, b Tier) Tier {
	if TierIndex(a) <= TierIndex(b) {
		return a
	}
	return b
}

// #endregion tiers

// #region thresholds
// Thresholds is an ascending 4-element cut-point list partitioning a
// [-100,100] axis into the five tiers.
type Thresholds [4]float64

// DefaultThresholds returns the standard cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{-60, -20, 20, 60}
}

// NormalizeThresholds validates a raw cut-point list. Anything other than a
// strictly ascending 4-tuple within [-100,100] falls back to the default.
func NormalizeThresholds(raw []float64) Thresholds {
	if len(raw) != 4 {
		return DefaultThresholds()
	}
	for i, v := range raw {
		if v < -100 || v > 100 {
			return DefaultThresholds()
		}
		if i > 0 && raw[i-1] >= v {
			return DefaultThresholds()
		}
	}
	return Thresholds{raw[0], raw[1], raw[2], raw[3]}
}

// TierFor maps an axis value onto a tier using the given cut points.
func TierFor(value float64, th Thresholds) Tier {
	for i, cut := range th {
		if value < cut {
			return tierOrder[i]
		}
	}
	return TierClose
}

// #endregion thresholds

// #region npc-relation
// NpcRelation holds the dual-axis relationship state for one NPC.
// Tier fields are derived; Recompute keeps them consistent with the axes.
type NpcRelation struct {
	Affection           float64   `json:"affection"`
	Trust               float64   `json:"trust"`
	AffectionThresholds []float64 `json:"affection_thresholds,omitempty"`
	TrustThresholds     []float64 `json:"trust_thresholds,omitempty"`
	AffectionTier       Tier      `json:"affection_tier"`
	TrustTier           Tier      `json:"trust_tier"`
	RelationTier        Tier      `json:"relation_tier"`
}

// NewNpcRelation returns a zero-valued relation with default thresholds
// and derived tiers already populated.
func NewNpcRelation() NpcRelation {
	return NpcRelation{}.Recompute()
}

// Recompute normalizes the threshold lists and re-derives all three tier
// fields from the current axis values. Invalid threshold sets silently
// fall back to the defaults.
func (n NpcRelation) Recompute() NpcRelation {
	affTh := NormalizeThresholds(n.AffectionThresholds)
	trustTh := NormalizeThresholds(n.TrustThresholds)
	n.AffectionThresholds = affTh[:]
	n.TrustThresholds = trustTh[:]
	n.AffectionTier = TierFor(n.Affection, affTh)
	n.TrustTier = TierFor(n.Trust, trustTh)
	n.RelationTier = WeakerTier(n.AffectionTier, n.TrustTier)
	return n
}

// #endregion npc-relation

// #region companion
// Companion is the focal companion's vector relationship model: a
// visible score plus the relation vector and its short-term drift.
type Companion struct {
	Score  int              `json:"score"`
	Vector affection.Vector `json:"vector"`
	Drift  affection.Vector `json:"drift"`
}

// NewCompanion returns the neutral starting relationship.
func NewCompanion() Companion {
	return Companion{Score: 50}
}

// #endregion companion

// #region run-state
// RunPhase is the lifecycle phase of a story run.
type RunPhase string

const (
	PhaseRunning RunPhase = "running"
	PhaseEnded   RunPhase = "ended"
)

// Ending records how a run terminated. Set once, never overwritten.
type Ending struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
	Camp    string `json:"camp,omitempty"`
}

// RunState carries per-run bookkeeping across transitions.
type RunState struct {
	StepIndex            int      `json:"step_index"`
	FallbackCount        int      `json:"fallback_count"`
	ConsecutiveFallbacks int      `json:"consecutive_fallback_count"`
	LastFallbackReason   string   `json:"last_fallback_reason,omitempty"`
	NudgeTier            int      `json:"nudge_tier"`
	Phase                RunPhase `json:"phase"`
	Ending               *Ending  `json:"ending,omitempty"`
	SelectionRetryCount  int      `json:"selection_retry_count"`
	SelectionRetryErrors []string `json:"selection_retry_errors,omitempty"`
	EndingReport         string   `json:"ending_report,omitempty"`
}

// Ended reports whether the run has reached a terminal ending.
func (r *RunState) Ended() bool {
	return r.Phase == PhaseEnded
}

// End records a terminal ending. Returns false without modifying anything
// if an ending is already present (set-once).
func (r *RunState) End(e Ending) bool {
	if r.Phase == PhaseEnded {
		return false
	}
	r.Phase = PhaseEnded
	r.Ending = &e
	return true
}

// SetEndingReport stores the ending report if none has been recorded yet.
func (r *RunState) SetEndingReport(report string) bool {
	if r.EndingReport != "" {
		return false
	}
	r.EndingReport = report
	return true
}

// #endregion run-state

// #region session-state

// Player resource names with engine-enforced bounds.
const (
	ResourceEnergy    = "energy"
	ResourceMoney     = "money"
	ResourceKnowledge = "knowledge"
	ResourceAffection = "affection"
)

// SessionState is the full deterministic game state for one session.
// It is a value: transitions produce a fresh copy and never mutate the
// state held by the caller.
type SessionState struct {
	Resources map[string]float64     `json:"resources"`
	Day       int                    `json:"day"`
	Slot      Slot                   `json:"slot"`
	Flags     map[string]any         `json:"flags"`
	NPCs      map[string]NpcRelation `json:"npc_state"`
	Companion Companion              `json:"companion"`
	Run       RunState               `json:"run_state"`
	Inventory map[string]any         `json:"inventory_state,omitempty"`
	External  map[string]any         `json:"external_status,omitempty"`
}

// NewSessionState returns the canonical day-1 starting state.
func NewSessionState() SessionState {
	return SessionState{
		Resources: map[string]float64{
			ResourceEnergy:    100,
			ResourceMoney:     0,
			ResourceKnowledge: 0,
			ResourceAffection: 0,
		},
		Day:       1,
		Slot:      SlotMorning,
		Flags:     map[string]any{},
		NPCs:      map[string]NpcRelation{},
		Companion: NewCompanion(),
		Run:       RunState{Phase: PhaseRunning},
	}
}

// Clone returns an independent deep copy of the state.
func (s SessionState) Clone() SessionState {
	out := s
	out.Resources = make(map[string]float64, len(s.Resources))
	for k, v := range s.Resources {
		out.Resources[k] = v
	}
	out.Flags = cloneAnyMap(s.Flags)
	out.NPCs = make(map[string]NpcRelation, len(s.NPCs))
	for id, n := range s.NPCs {
		n.AffectionThresholds = append([]float64(nil), n.AffectionThresholds...)
		n.TrustThresholds = append([]float64(nil), n.TrustThresholds...)
		out.NPCs[id] = n
	}
	if s.Run.Ending != nil {
		e := *s.Run.Ending
		out.Run.Ending = &e
	}
	out.Run.SelectionRetryErrors = append([]string(nil), s.Run.SelectionRetryErrors...)
	out.Inventory = cloneAnyMap(s.Inventory)
	out.External = cloneAnyMap(s.External)
	return out
}

// cloneAnyMap shallow-copies an opaque passthrough map. Nested values are
// shared; the engine never writes through them.
func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// #endregion session-state

// #region version
// Version is one committed snapshot in a session's copy-on-write chain.
type Version struct {
	VersionID string
	SessionID string
	ParentID  string
	StepIndex int
	State     SessionState
	CreatedAt time.Time
}

// #endregion version
