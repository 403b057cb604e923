package replay

// #region imports
import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/branch"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/steplog"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/transition"
)

// #endregion

// #region export

// Export rebuilds a replay fixture from a recorded session: the genesis
// version plus every committed or blocked step in the step log. Branch
// definitions are not stored in the database, so the caller supplies the
// set that was in force when the session was recorded.
func Export(db *sql.DB, sessionID string, branches []branch.Branch) (*Fixture, error) {
	genesis, err := genesisState(db, sessionID)
	if err != nil {
		return nil, err
	}

	entries, err := steplog.List(db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list step log: %w", err)
	}

	var steps []FixtureStep
	for _, e := range entries {
		if e.Decision != "committed" && e.Decision != "blocked" {
			continue
		}
		step, err := toFixtureStep(e)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", e.StepID, err)
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("session %s has no replayable steps", sessionID)
	}

	return &Fixture{
		Description: fmt.Sprintf("exported session %s: %d recorded steps", sessionID, len(steps)),
		StartState:  genesis,
		Branches:    branches,
		Steps:       steps,
	}, nil
}

// genesisState loads the session's first version (the one with no parent).
func genesisState(db *sql.DB, sessionID string) (state.SessionState, error) {
	var stateJSON string
	err := db.QueryRow(
		`SELECT state_json FROM session_versions
		 WHERE session_id = ? AND parent_id IS NULL
		 ORDER BY created_at ASC LIMIT 1`, sessionID,
	).Scan(&stateJSON)
	if err != nil {
		return state.SessionState{}, fmt.Errorf("find genesis for %s: %w", sessionID, err)
	}

	var s state.SessionState
	if err := json.Unmarshal([]byte(stateJSON), &s); err != nil {
		return state.SessionState{}, fmt.Errorf("unmarshal genesis: %w", err)
	}
	return s, nil
}

// toFixtureStep rebuilds one recorded step from its step_log row.
func toFixtureStep(e steplog.Entry) (FixtureStep, error) {
	var rec steplog.StepRecord
	if e.TracesJSON == "" {
		return FixtureStep{}, fmt.Errorf("missing step record")
	}
	if err := json.Unmarshal([]byte(e.TracesJSON), &rec); err != nil {
		return FixtureStep{}, fmt.Errorf("unmarshal step record: %w", err)
	}

	step := FixtureStep{
		StepID:        rec.StepID,
		PlayerText:    rec.PlayerText,
		BehaviorTags:  rec.BehaviorTags,
		IntensityTier: rec.IntensityTier,
		Expected: Expected{
			Blocked:      rec.Blocked,
			BlockReason:  rec.BlockReason,
			BranchID:     rec.BranchID,
			UsedDefault:  rec.UsedDefault,
			FallbackUsed: rec.FallbackUsed,
		},
	}

	if rec.AppliedEffectsJSON != "" {
		var applied []transition.AppliedEffect
		if err := json.Unmarshal([]byte(rec.AppliedEffectsJSON), &applied); err != nil {
			return FixtureStep{}, fmt.Errorf("unmarshal applied effects: %w", err)
		}
		for _, a := range applied {
			step.Effects = append(step.Effects, a.RangeEffect)
		}
	}

	return step, nil
}

// #endregion export
