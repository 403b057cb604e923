package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
)

// #region prompt

const systemPrompt = `You narrate one step of an interactive story. Reply with a single JSON object:
{"narrative": "...", "behavior_tags": ["..."], "effects": [{"target_type": "player|npc", "metric": "...", "target_id": "...", "center": 0, "intensity": 0}], "intensity_tier": 1}
Keep the narrative under 120 words. Use only behavior tags and metrics that fit the scene.
Add "ending": {"id": "...", "outcome": "...", "camp": "..."} only when the story reaches a true conclusion. No text outside the JSON object.`

// #endregion prompt

// #region llm-proposer

// LLM is a Proposer backed by github.com/mozilla-ai/any-llm-go.
type LLM struct {
	backend anyllmlib.Provider
	model   string
}

// NewLLM creates an LLM proposer for the given provider name ("openai",
// "anthropic" or "ollama") and model. API keys fall back to the provider's
// environment variable when no option supplies one.
func NewLLM(providerName, model string, opts ...anyllmlib.Option) (*LLM, error) {
	if model == "" {
		return nil, fmt.Errorf("proposal: model must not be empty")
	}

	var backend anyllmlib.Provider
	var err error
	switch strings.ToLower(providerName) {
	case "openai":
		backend, err = anyllmoai.New(opts...)
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("proposal: unsupported provider %q; supported: openai, anthropic, ollama", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("proposal: create %q backend: %w", providerName, err)
	}
	return &LLM{backend: backend, model: model}, nil
}

// Propose implements Proposer. Transport failures surface as
// ErrUnavailable; a malformed model reply degrades to a plain narrative
// with no tags or effects.
func (l *LLM) Propose(ctx context.Context, req Request) (Proposal, error) {
	params := anyllmlib.CompletionParams{
		Model: l.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: buildUserPrompt(req)},
		},
	}

	resp, err := l.backend.Completion(ctx, params)
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Proposal{}, fmt.Errorf("%w: empty choices", ErrUnavailable)
	}

	return ParseReply(resp.Choices[0].Message.ContentString()), nil
}

// #endregion llm-proposer

// #region parsing

// buildUserPrompt summarizes the step for the model.
func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Player: %s\n", req.PlayerText)
	if req.BranchID != "" {
		fmt.Fprintf(&b, "Active route: %s\n", req.BranchID)
	}
	fmt.Fprintf(&b, "Day %d, %s.\n", req.State.Day, req.State.Slot)
	for _, id := range sortedNpcIDs(req.State.NPCs) {
		n := req.State.NPCs[id]
		fmt.Fprintf(&b, "NPC %s: affection %s, trust %s.\n", id, n.AffectionTier, n.TrustTier)
	}
	return b.String()
}

func sortedNpcIDs(npcs map[string]state.NpcRelation) []string {
	ids := make([]string, 0, len(npcs))
	for id := range npcs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParseReply extracts a Proposal from a raw model reply. Code fences are
// stripped; anything that still fails to parse becomes a bare narrative.
func ParseReply(raw string) Proposal {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var p Proposal
	if err := json.Unmarshal([]byte(text), &p); err != nil || p.Narrative == "" {
		return Proposal{Narrative: strings.TrimSpace(raw)}
	}
	return p
}

// #endregion parsing
