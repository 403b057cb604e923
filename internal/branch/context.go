package branch

import (
	"sort"
	"strings"

	"github.com/lishehao-ctrl/RPG-Demo-sub002/internal/state"
)

// #region context
// Context is the read-only snapshot rule expressions evaluate against.
// It exposes named accessors for flags and per-character stats; the generic
// dot-path walker below exists only for the evaluator's use.
type Context struct {
	flags      map[string]any
	characters map[string]map[string]any
	charIDs    []string // id-sorted for deterministic enumeration
}

// NewContext builds a context from session flags and the per-character
// relation snapshot. Characters are enumerated in id-sorted order.
func NewContext(flags map[string]any, npcs map[string]state.NpcRelation) Context {
	ids := make([]string, 0, len(npcs))
	for id := range npcs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	characters := make(map[string]map[string]any, len(npcs))
	for _, id := range ids {
		n := npcs[id]
		characters[id] = map[string]any{
			"affection":      n.Affection,
			"trust":          n.Trust,
			"affection_tier": string(n.AffectionTier),
			"trust_tier":     string(n.TrustTier),
			"relation_tier":  string(n.RelationTier),
		}
	}

	if flags == nil {
		flags = map[string]any{}
	}
	return Context{flags: flags, characters: characters, charIDs: ids}
}

// Flag returns the value of a session flag.
func (c Context) Flag(key string) (any, bool) {
	v, ok := c.flags[key]
	return v, ok
}

// Character returns the stat map for one character.
func (c Context) Character(id string) (map[string]any, bool) {
	m, ok := c.characters[id]
	return m, ok
}

// CharacterIDs returns all character ids in sorted order.
func (c Context) CharacterIDs() []string {
	return c.charIDs
}

// #endregion context

// #region path-walker

// resolvePath walks a dot path (e.g. "characters.rin.affection") through
// the context. A missing segment resolves to absent.
func (c Context) resolvePath(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")

	var current any
	switch segments[0] {
	case "flags":
		current = c.flags
	case "characters":
		m := make(map[string]any, len(c.characters))
		for id, stats := range c.characters {
			m[id] = stats
		}
		current = m
	default:
		return nil, false
	}

	for _, seg := range segments[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// #endregion path-walker
