package session

// #region imports
import (
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/affection"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/branch"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/transition"
)

// #endregion

// #region step-input

// StepInput is one player request against a session. IdemKey is a
// client-supplied opaque key; repeating it replays the stored outcome
// instead of executing the step again.
type StepInput struct {
	SessionID  string `json:"session_id"`
	IdemKey    string `json:"idem_key"`
	PlayerText string `json:"player_text"`
}

// #endregion step-input

// #region step-result

// StepResult is the full outcome of one step in a stable JSON layout, so
// a stored result replays byte-identical and a recorded session can be
// reconstructed offline.
type StepResult struct {
	StepID    string `json:"step_id"`
	VersionID string `json:"version_id,omitempty"`

	// Replayed marks a result served from the idempotency store rather
	// than a fresh execution.
	Replayed bool `json:"replayed,omitempty"`

	// Ended marks a step against a run that has already terminated.
	// No state was advanced.
	Ended bool `json:"ended,omitempty"`

	// Blocked input: sanitized text is kept, nothing was executed.
	Blocked     bool   `json:"blocked,omitempty"`
	BlockReason string `json:"block_reason,omitempty"`
	PlayerText  string `json:"player_text"`

	Narrative      string   `json:"narrative,omitempty"`
	BranchID       string   `json:"branch_id,omitempty"`
	UsedDefault    bool     `json:"used_default,omitempty"`
	FallbackUsed   bool     `json:"fallback_used,omitempty"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	BehaviorTags   []string `json:"behavior_tags,omitempty"`
	IntensityTier  int      `json:"intensity_tier,omitempty"`

	// Engine audit output.
	Evaluations []branch.Evaluation        `json:"branch_evaluations,omitempty"`
	Affection   *affection.Result          `json:"affection,omitempty"`
	Delta       *transition.Delta          `json:"delta,omitempty"`
	Applied     []transition.AppliedEffect `json:"applied_effects,omitempty"`
}

// #endregion step-result
