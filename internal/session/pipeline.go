// Package session coordinates one story step end to end: input policy,
// idempotency claim, branch resolution, narrative proposal, affection and
// world-state transitions, versioned commit, and the step log.
package session

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/affection"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/branch"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/idempotency"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/policy"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/proposal"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/steplog"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/transition"
)

// #endregion

// #region pipeline-struct

// fallbackNoRoute is recorded when no branch (default included) matched.
const fallbackNoRoute = "no_route"

// Pipeline is the top-level step coordinator for one process. It is
// stateless between steps; all session state lives in the store.
type Pipeline struct {
	store    *state.Store
	db       *sql.DB
	idem     *idempotency.Coordinator
	proposer proposal.Proposer
	branches []branch.Branch
	rules    *affection.RuleTable
	maxInput int
}

// Options tunes a Pipeline. Zero values fall back to built-in defaults.
type Options struct {
	Branches      []branch.Branch
	Rules         *affection.RuleTable
	MaxInputChars int
}

// New wires a fully functional pipeline over an open store.
func New(store *state.Store, idem *idempotency.Coordinator, proposer proposal.Proposer, opts Options) (*Pipeline, error) {
	db := store.DB()
	if err := steplog.Init(db); err != nil {
		return nil, fmt.Errorf("init step log: %w", err)
	}
	rules := opts.Rules
	if rules == nil {
		rules = affection.DefaultRuleTable()
	}
	maxInput := opts.MaxInputChars
	if maxInput <= 0 {
		maxInput = 2000
	}
	return &Pipeline{
		store:    store,
		db:       db,
		idem:     idem,
		proposer: proposer,
		branches: opts.Branches,
		rules:    rules,
		maxInput: maxInput,
	}, nil
}

// #endregion

// #region start

// Start creates a new session at the canonical day-1 state, seeded with
// the given NPC relations (nil for none).
func (p *Pipeline) Start(sessionID string, npcs map[string]state.NpcRelation) (state.Version, error) {
	initial := state.NewSessionState()
	for id, rel := range npcs {
		initial.NPCs[id] = rel.Recompute()
	}
	return p.store.CreateSession(sessionID, initial)
}

// #endregion

// #region step

// Step executes one player step with at-most-once semantics. Repeating
// an idempotency key replays the stored result; a concurrent duplicate
// gets idempotency.ErrRequestInProgress; an upstream generation failure
// returns proposal.ErrUnavailable with no state advanced.
func (p *Pipeline) Step(ctx context.Context, in StepInput) (StepResult, error) {
	sanitized := policy.Sanitize(in.PlayerText, p.maxInput)

	rec, err := p.idem.Claim(in.SessionID, in.IdemKey, idempotency.HashRequest(in))
	if err != nil {
		return StepResult{}, err
	}
	if rec != nil {
		return p.replay(in, rec)
	}

	// Claim held: from here every exit must settle the record.
	head, err := p.store.Head(in.SessionID)
	if err != nil {
		p.settle(in, "", "SESSION_NOT_FOUND")
		return StepResult{}, fmt.Errorf("load session: %w", err)
	}

	stepID := uuid.NewString()

	if head.State.Run.Ended() {
		out := StepResult{StepID: stepID, Ended: true, PlayerText: sanitized.Text}
		p.finish(in, head.VersionID, stepID, out, "rejected", nil)
		log.Printf("[SESSION] step rejected: session=%s run already ended", in.SessionID)
		return out, nil
	}

	if sanitized.Blocked {
		out := StepResult{
			StepID:      stepID,
			Blocked:     true,
			BlockReason: string(sanitized.Reason),
			PlayerText:  sanitized.Text,
		}
		p.finish(in, head.VersionID, stepID, out, "blocked", nil)
		log.Printf("[SESSION] step blocked: session=%s reason=%s", in.SessionID, sanitized.Reason)
		return out, nil
	}

	// 1. Resolve the story branch against a consistent snapshot.
	bctx := branch.NewContext(head.State.Flags, head.State.NPCs)
	resolution := branch.Resolve(bctx, p.branches)
	branchID := ""
	if resolution.Chosen != nil {
		branchID = resolution.Chosen.ID
	}

	// 2. Ask the proposer for narrative, tags, and effects. Failure here
	// must not advance state.
	prop, err := p.proposer.Propose(ctx, proposal.Request{
		SessionID:  in.SessionID,
		PlayerText: sanitized.Text,
		BranchID:   branchID,
		State:      head.State,
	})
	if err != nil {
		p.settle(in, stepID, proposal.ErrUnavailable.Error())
		log.Printf("[SESSION] step failed: session=%s upstream unavailable: %v", in.SessionID, err)
		return StepResult{}, fmt.Errorf("propose: %w", err)
	}

	// 3. Deterministic engines: companion vector update, then the world
	// transition.
	aff := affection.Apply(
		head.State.Companion.Score,
		head.State.Companion.Vector,
		head.State.Companion.Drift,
		prop.BehaviorTags,
		p.rules,
	)

	fallbackUsed := resolution.Chosen == nil
	fallbackReason := ""
	if fallbackUsed {
		fallbackReason = fallbackNoRoute
	}
	tr := transition.Apply(head.State, prop.Effects, prop.IntensityTier, fallbackUsed, fallbackReason)

	next := tr.State
	next.Companion = state.Companion{Score: aff.Score, Vector: aff.Vector, Drift: aff.Drift}

	// A proposal may close the run. End is set-once, so a late ending
	// can never displace one already on record.
	if prop.Ending != nil && next.Run.End(*prop.Ending) {
		next.Run.SetEndingReport(prop.Narrative)
		tr.Delta.Run = next.Run
	}

	// 4. Commit the new version atomically.
	version, err := p.store.CommitStep(in.SessionID, head.VersionID, next)
	if err != nil {
		p.settle(in, stepID, "COMMIT_FAILED")
		return StepResult{}, fmt.Errorf("commit step: %w", err)
	}

	out := StepResult{
		StepID:         stepID,
		VersionID:      version.VersionID,
		PlayerText:     sanitized.Text,
		Narrative:      prop.Narrative,
		BranchID:       branchID,
		UsedDefault:    resolution.UsedDefault,
		FallbackUsed:   fallbackUsed,
		FallbackReason: fallbackReason,
		BehaviorTags:   prop.BehaviorTags,
		IntensityTier:  prop.IntensityTier,
		Evaluations:    resolution.Evaluations,
		Affection:      &aff,
		Delta:          &tr.Delta,
		Applied:        tr.Applied,
	}
	p.finish(in, version.VersionID, stepID, out, "committed", tr.Applied)

	log.Printf("[SESSION] step committed: session=%s step=%d branch=%q fallback=%v score=%d",
		in.SessionID, next.Run.StepIndex, branchID, fallbackUsed, aff.Score)
	return out, nil
}

// #endregion

// #region replay

// replay serves a terminal idempotency record verbatim.
func (p *Pipeline) replay(in StepInput, rec *idempotency.Record) (StepResult, error) {
	if rec.Status == idempotency.StatusFailed {
		log.Printf("[SESSION] replaying failed step: session=%s key=%s code=%s",
			in.SessionID, in.IdemKey, rec.ErrorCode)
		if rec.ErrorCode == proposal.ErrUnavailable.Error() {
			return StepResult{}, fmt.Errorf("replayed: %w", proposal.ErrUnavailable)
		}
		return StepResult{}, fmt.Errorf("replayed failure: %s", rec.ErrorCode)
	}

	var out StepResult
	if err := json.Unmarshal(rec.Response, &out); err != nil {
		return StepResult{}, fmt.Errorf("decode stored result: %w", err)
	}
	out.Replayed = true
	log.Printf("[SESSION] step replayed: session=%s key=%s", in.SessionID, in.IdemKey)
	return out, nil
}

// #endregion

// #region settle

// finish marks the claim completed with the serialized result and writes
// the step log row. Step log failures are logged, never fatal: the commit
// already happened.
func (p *Pipeline) finish(in StepInput, versionID, stepID string, out StepResult, decision string, applied []transition.AppliedEffect) {
	raw, err := json.Marshal(out)
	if err != nil {
		log.Printf("[SESSION] marshal result: %v", err)
		raw = []byte("{}")
	}
	if err := p.idem.Complete(in.SessionID, in.IdemKey, raw); err != nil {
		log.Printf("[SESSION] complete idempotency record: %v", err)
	}

	record := steplog.StepRecord{
		StepID:        stepID,
		PlayerText:    out.PlayerText,
		Blocked:       out.Blocked,
		BlockReason:   out.BlockReason,
		BranchID:      out.BranchID,
		UsedDefault:   out.UsedDefault,
		FallbackUsed:  out.FallbackUsed,
		BehaviorTags:  out.BehaviorTags,
		IntensityTier: out.IntensityTier,
	}
	record.BranchTraceJSON = marshalOrEmpty(out.Evaluations)
	if out.Affection != nil {
		record.AffectionHitsJSON = marshalOrEmpty(out.Affection.Hits)
	}
	record.AppliedEffectsJSON = marshalOrEmpty(applied)

	entry := steplog.Entry{
		SessionID:    in.SessionID,
		StepID:       stepID,
		VersionID:    versionID,
		Decision:     decision,
		BranchID:     out.BranchID,
		FallbackUsed: out.FallbackUsed,
		BlockReason:  out.BlockReason,
		TracesJSON:   marshalOrEmpty(record),
	}
	if out.Delta != nil {
		entry.DeltaJSON = marshalOrEmpty(out.Delta)
	}
	if err := steplog.Write(p.db, entry); err != nil {
		log.Printf("[SESSION] write step log: %v", err)
	}
}

// settle marks the claim failed with a machine code so later retries of
// the same key replay the failure.
func (p *Pipeline) settle(in StepInput, stepID, code string) {
	if err := p.idem.Fail(in.SessionID, in.IdemKey, code); err != nil {
		log.Printf("[SESSION] fail idempotency record: %v", err)
	}
	if err := steplog.Write(p.db, steplog.Entry{
		SessionID:   in.SessionID,
		StepID:      stepID,
		Decision:    "rejected",
		BlockReason: code,
	}); err != nil {
		log.Printf("[SESSION] write step log: %v", err)
	}
}

// marshalOrEmpty serializes audit structures for the step log; on the
// (practically impossible) marshal failure the column is left empty.
func marshalOrEmpty(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// #endregion
