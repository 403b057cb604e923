package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/affection"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/branch"
	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
)

// #region content

// Content is the YAML story content file: branch definitions for the
// resolver, behavior-tag rule overrides layered on top of the built-in
// table, and per-NPC tier threshold presets.
type Content struct {
	Branches   []branch.Branch           `yaml:"branches"`
	RuleTable  map[string]affection.Rule `yaml:"rule_table"`
	Thresholds map[string][]float64      `yaml:"thresholds"`
	NPCs       map[string]NpcContent     `yaml:"npcs"`
}

// NpcContent seeds an NPC's starting relation values.
type NpcContent struct {
	Affection float64 `yaml:"affection"`
	Trust     float64 `yaml:"trust"`
	Preset    string  `yaml:"preset"`
}

// LoadContent reads and validates a story content file. An empty path
// returns zero Content, which callers treat as built-in defaults.
func LoadContent(path string) (Content, error) {
	if path == "" {
		return Content{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Content{}, fmt.Errorf("read content: %w", err)
	}
	var c Content
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Content{}, fmt.Errorf("parse content: %w", err)
	}
	if err := c.validate(); err != nil {
		return Content{}, err
	}
	return c, nil
}

func (c Content) validate() error {
	seen := make(map[string]bool, len(c.Branches))
	for _, b := range c.Branches {
		if b.ID == "" {
			return fmt.Errorf("branch with empty id")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate branch id %q", b.ID)
		}
		seen[b.ID] = true
	}
	for tag, r := range c.RuleTable {
		if r.ID == "" {
			return fmt.Errorf("rule for tag %q has empty id", tag)
		}
	}
	for id, npc := range c.NPCs {
		if npc.Preset != "" {
			if _, ok := c.Thresholds[npc.Preset]; !ok {
				return fmt.Errorf("npc %q references unknown threshold preset %q", id, npc.Preset)
			}
		}
	}
	return nil
}

// BuildRuleTable layers the file's rule overrides over the built-in
// table. Overrides win on tag collision.
func (c Content) BuildRuleTable() *affection.RuleTable {
	base := affection.DefaultRuleTable()
	if len(c.RuleTable) == 0 {
		return base
	}
	return base.WithOverrides(c.RuleTable)
}

// SeedNPCs builds the initial NPC relation map from the content file,
// applying each NPC's threshold preset where one is named.
func (c Content) SeedNPCs() map[string]state.NpcRelation {
	if len(c.NPCs) == 0 {
		return nil
	}
	npcs := make(map[string]state.NpcRelation, len(c.NPCs))
	for id, nc := range c.NPCs {
		rel := state.NpcRelation{Affection: nc.Affection, Trust: nc.Trust}
		if th, ok := c.Thresholds[nc.Preset]; ok {
			rel.AffectionThresholds = th
			rel.TrustThresholds = th
		}
		npcs[id] = rel.Recompute()
	}
	return npcs
}

// #endregion content
