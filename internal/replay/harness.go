package replay

// #region imports
import (
	"fmt"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/affection"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/branch"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/policy"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/transition"
)

// #endregion

// #region types

// Config tunes a replay run. Zero values fall back to built-in defaults.
type Config struct {
	Rules         *affection.RuleTable
	MaxInputChars int
}

// DefaultConfig returns the same defaults the live pipeline uses.
func DefaultConfig() Config {
	return Config{
		Rules:         affection.DefaultRuleTable(),
		MaxInputChars: 2000,
	}
}

// StepOutcome is the replayed result of one recorded step, with any
// divergences from the recording.
type StepOutcome struct {
	StepID       string
	Blocked      bool
	BlockReason  string
	BranchID     string
	UsedDefault  bool
	FallbackUsed bool
	Score        int
	State        state.SessionState

	// Divergences lists every mismatch against the recorded expectation.
	// Empty means the step reproduced exactly.
	Divergences []string
}

// Summary aggregates a replay run.
type Summary struct {
	TotalSteps int
	Matched    int
	Diverged   int
	FinalState state.SessionState
}

// #endregion types

// #region replay

// Replay runs every recorded step through policy, branch resolution,
// affection, and the state transition, entirely in memory, checking each
// outcome against the recording.
func Replay(f *Fixture, cfg Config) []StepOutcome {
	if cfg.Rules == nil {
		cfg.Rules = affection.DefaultRuleTable()
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 2000
	}

	current := f.StartState.Clone()
	outcomes := make([]StepOutcome, 0, len(f.Steps))

	for _, step := range f.Steps {
		sanitized := policy.Sanitize(step.PlayerText, cfg.MaxInputChars)

		// 1. Blocked input never reaches the engines; state holds still.
		if sanitized.Blocked {
			out := StepOutcome{
				StepID:      step.StepID,
				Blocked:     true,
				BlockReason: string(sanitized.Reason),
				Score:       current.Companion.Score,
				State:       current,
			}
			out.Divergences = diff(step.Expected, out)
			outcomes = append(outcomes, out)
			continue
		}

		// 2. Resolve the branch against the current snapshot.
		bctx := branch.NewContext(current.Flags, current.NPCs)
		resolution := branch.Resolve(bctx, f.Branches)
		branchID := ""
		if resolution.Chosen != nil {
			branchID = resolution.Chosen.ID
		}

		// 3. Deterministic engines over the recorded proposer outputs.
		aff := affection.Apply(
			current.Companion.Score,
			current.Companion.Vector,
			current.Companion.Drift,
			step.BehaviorTags,
			cfg.Rules,
		)

		fallbackUsed := resolution.Chosen == nil
		fallbackReason := ""
		if fallbackUsed {
			fallbackReason = "no_route"
		}
		tr := transition.Apply(current, step.Effects, step.IntensityTier, fallbackUsed, fallbackReason)

		current = tr.State
		current.Companion = state.Companion{Score: aff.Score, Vector: aff.Vector, Drift: aff.Drift}

		out := StepOutcome{
			StepID:       step.StepID,
			BranchID:     branchID,
			UsedDefault:  resolution.UsedDefault,
			FallbackUsed: fallbackUsed,
			Score:        aff.Score,
			State:        current,
		}
		out.Divergences = diff(step.Expected, out)
		outcomes = append(outcomes, out)
	}

	return outcomes
}

// Summarize computes aggregate stats from replay outcomes.
func Summarize(outcomes []StepOutcome, final state.SessionState) Summary {
	s := Summary{
		TotalSteps: len(outcomes),
		FinalState: final,
	}
	for _, o := range outcomes {
		if len(o.Divergences) == 0 {
			s.Matched++
		} else {
			s.Diverged++
		}
	}
	return s
}

// #endregion replay

// #region diff

// diff compares a replayed outcome against the recorded expectation.
func diff(want Expected, got StepOutcome) []string {
	var out []string

	if want.Blocked != got.Blocked {
		out = append(out, fmt.Sprintf("blocked: want %v, got %v", want.Blocked, got.Blocked))
	}
	if want.BlockReason != "" && want.BlockReason != got.BlockReason {
		out = append(out, fmt.Sprintf("block_reason: want %q, got %q", want.BlockReason, got.BlockReason))
	}
	if want.BranchID != got.BranchID {
		out = append(out, fmt.Sprintf("branch: want %q, got %q", want.BranchID, got.BranchID))
	}
	if want.UsedDefault != got.UsedDefault {
		out = append(out, fmt.Sprintf("used_default: want %v, got %v", want.UsedDefault, got.UsedDefault))
	}
	if want.FallbackUsed != got.FallbackUsed {
		out = append(out, fmt.Sprintf("fallback: want %v, got %v", want.FallbackUsed, got.FallbackUsed))
	}
	if want.Score != nil && *want.Score != got.Score {
		out = append(out, fmt.Sprintf("score: want %d, got %d", *want.Score, got.Score))
	}
	for name, wantVal := range want.Resources {
		if gotVal := got.State.Resources[name]; gotVal != wantVal {
			out = append(out, fmt.Sprintf("resource %s: want %v, got %v", name, wantVal, gotVal))
		}
	}
	if want.Day != 0 && want.Day != got.State.Day {
		out = append(out, fmt.Sprintf("day: want %d, got %d", want.Day, got.State.Day))
	}
	if want.Slot != "" && want.Slot != string(got.State.Slot) {
		out = append(out, fmt.Sprintf("slot: want %q, got %q", want.Slot, got.State.Slot))
	}
	for npc, wantTier := range want.RelationTiers {
		gotTier := string(got.State.NPCs[npc].RelationTier)
		if gotTier != wantTier {
			out = append(out, fmt.Sprintf("relation tier %s: want %q, got %q", npc, wantTier, gotTier))
		}
	}

	return out
}

// #endregion diff
