// Package proposal defines the boundary to the external narrative
// proposer. The session pipeline consumes Proposer; how the proposal text
// is produced (remote LLM, scripted content, replay) is behind it.
package proposal

import (
	"context"
	"errors"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/transition"
)

// ErrUnavailable reports an upstream generation failure. A step that hits
// it must not advance session state.
var ErrUnavailable = errors.New("LLM_UNAVAILABLE")

// #region types

// Request carries everything the proposer may condition on.
type Request struct {
	SessionID  string
	PlayerText string
	BranchID   string
	State      state.SessionState
}

// Proposal is the structured outcome of one generation call.
type Proposal struct {
	Narrative     string                   `json:"narrative"`
	BehaviorTags  []string                 `json:"behavior_tags,omitempty"`
	Effects       []transition.RangeEffect `json:"effects,omitempty"`
	IntensityTier int                      `json:"intensity_tier,omitempty"`

	// Ending, when present, closes the run. Set-once semantics are
	// enforced downstream; a proposal can never overwrite an ending.
	Ending *state.Ending `json:"ending,omitempty"`
}

// Proposer produces a narrative proposal for one step.
type Proposer interface {
	Propose(ctx context.Context, req Request) (Proposal, error)
}

// #endregion types

// #region scripted

// Scripted replays a fixed list of proposals in order, then falls back to
// Default. Used by tests and the replay harness. Not safe for concurrent
// use.
type Scripted struct {
	Queue   []Proposal
	Default Proposal
	next    int
}

// Propose implements Proposer.
func (s *Scripted) Propose(_ context.Context, _ Request) (Proposal, error) {
	if s.next < len(s.Queue) {
		p := s.Queue[s.next]
		s.next++
		return p, nil
	}
	return s.Default, nil
}

// #endregion scripted

// #region failing

// Failing always reports upstream unavailability.
type Failing struct{}

// Propose implements Proposer.
func (Failing) Propose(_ context.Context, _ Request) (Proposal, error) {
	return Proposal{}, ErrUnavailable
}

// #endregion failing
