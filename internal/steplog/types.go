package steplog

import "time"

// #region entry
// Entry is a single row in the step_log table.
type Entry struct {
	SessionID    string
	StepID       string
	VersionID    string
	Decision     string // "committed" | "blocked" | "replayed" | "rejected"
	BranchID     string
	FallbackUsed bool
	BlockReason  string
	TracesJSON   string
	DeltaJSON    string
	CreatedAt    time.Time
}

// #endregion entry

// #region step-record
// StepRecord captures the complete deterministic inputs and outputs of one
// step. Serialized as JSON into step_log.traces_json so a recorded session
// can be replayed and verified offline.
type StepRecord struct {
	StepID        string   `json:"step_id"`
	PlayerText    string   `json:"player_text"`
	Blocked       bool     `json:"blocked,omitempty"`
	BlockReason   string   `json:"block_reason,omitempty"`
	BranchID      string   `json:"branch_id,omitempty"`
	UsedDefault   bool     `json:"used_default,omitempty"`
	FallbackUsed  bool     `json:"fallback_used,omitempty"`
	BehaviorTags  []string `json:"behavior_tags,omitempty"`
	IntensityTier int      `json:"intensity_tier"`

	// Full audit traces as emitted by the engines.
	BranchTraceJSON    string `json:"branch_trace_json,omitempty"`
	AffectionHitsJSON  string `json:"affection_hits_json,omitempty"`
	AppliedEffectsJSON string `json:"applied_effects_json,omitempty"`
}

// #endregion step-record
