// Package replay re-runs recorded sessions through the deterministic
// engines and verifies the outcomes still match the recording.
package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/branch"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/transition"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a start
// state, the branch set in force when the session was recorded, and the
// recorded steps with their expected outcomes.
type Fixture struct {
	Description string             `json:"description"`
	StartState  state.SessionState `json:"start_state"`
	Branches    []branch.Branch    `json:"branches"`
	Steps       []FixtureStep      `json:"steps"`
}

// FixtureStep is one recorded step: the raw player text plus the proposer
// outputs that were accepted at record time. Replay feeds these through
// the deterministic engines; the proposer itself is not invoked.
type FixtureStep struct {
	StepID        string                   `json:"step_id"`
	PlayerText    string                   `json:"player_text"`
	BehaviorTags  []string                 `json:"behavior_tags,omitempty"`
	Effects       []transition.RangeEffect `json:"effects,omitempty"`
	IntensityTier int                      `json:"intensity_tier,omitempty"`

	Expected Expected `json:"expected"`
}

// Expected is the recorded outcome a replayed step must reproduce.
// Nil maps and the nil score pointer are not checked.
type Expected struct {
	Blocked       bool               `json:"blocked,omitempty"`
	BlockReason   string             `json:"block_reason,omitempty"`
	BranchID      string             `json:"branch_id,omitempty"`
	UsedDefault   bool               `json:"used_default,omitempty"`
	FallbackUsed  bool               `json:"fallback_used,omitempty"`
	Score         *int               `json:"score,omitempty"`
	Resources     map[string]float64 `json:"resources,omitempty"`
	Day           int                `json:"day,omitempty"`
	Slot          string             `json:"slot,omitempty"`
	RelationTiers map[string]string  `json:"relation_tiers,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("fixture %s has no steps", path)
	}
	return &f, nil
}

// #endregion fixture-loader
