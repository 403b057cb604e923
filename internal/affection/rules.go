package affection

// #region rule
// Rule describes how one behavior tag moves the relationship vector.
type Rule struct {
	ID        string  `json:"id" yaml:"id"`
	Delta     Vector  `json:"delta" yaml:"delta"`
	ScoreBias float64 `json:"score_bias" yaml:"score_bias"`
}

// #endregion rule

// #region rule-table
// RuleTable is an immutable tag → rule lookup, built once at process start.
type RuleTable struct {
	rules map[string]Rule
}

// NewRuleTable copies the given rules into an immutable table.
func NewRuleTable(rules map[string]Rule) *RuleTable {
	copied := make(map[string]Rule, len(rules))
	for tag, r := range rules {
		copied[tag] = r
	}
	return &RuleTable{rules: copied}
}

// Lookup returns the rule for a tag. Unknown tags are simply not found.
func (t *RuleTable) Lookup(tag string) (Rule, bool) {
	r, ok := t.rules[tag]
	return r, ok
}

// Tags returns the number of known tags.
func (t *RuleTable) Tags() int {
	return len(t.rules)
}

// WithOverrides returns a new table with the given tag rules layered on
// top of this one. Overrides win on tag collision.
func (t *RuleTable) WithOverrides(overrides map[string]Rule) *RuleTable {
	merged := make(map[string]Rule, len(t.rules)+len(overrides))
	for tag, r := range t.rules {
		merged[tag] = r
	}
	for tag, r := range overrides {
		merged[tag] = r
	}
	return &RuleTable{rules: merged}
}

// #endregion rule-table

// #region default-table

var defaultTable = NewRuleTable(map[string]Rule{
	"kind":       {ID: "R-KIND", Delta: Vector{Trust: 0.06, Attraction: 0.03, Respect: 0.02}, ScoreBias: 2},
	"honest":     {ID: "R-HONEST", Delta: Vector{Trust: 0.08, Respect: 0.03}, ScoreBias: 1},
	"helpful":    {ID: "R-HELPFUL", Delta: Vector{Trust: 0.05, Respect: 0.05}, ScoreBias: 2},
	"flirty":     {ID: "R-FLIRTY", Delta: Vector{Attraction: 0.08, Trust: -0.01}, ScoreBias: 1},
	"romantic":   {ID: "R-ROMANTIC", Delta: Vector{Attraction: 0.1, Trust: 0.02}, ScoreBias: 3},
	"brave":      {ID: "R-BRAVE", Delta: Vector{Respect: 0.08, Attraction: 0.03}, ScoreBias: 1},
	"funny":      {ID: "R-FUNNY", Delta: Vector{Attraction: 0.04, Trust: 0.02, Fear: -0.02}, ScoreBias: 1},
	"generous":   {ID: "R-GENEROUS", Delta: Vector{Trust: 0.04, Attraction: 0.02, Respect: 0.03}, ScoreBias: 2},
	"rude":       {ID: "R-RUDE", Delta: Vector{Trust: -0.05, Respect: -0.04, Attraction: -0.03}, ScoreBias: -2},
	"dishonest":  {ID: "R-DISHONEST", Delta: Vector{Trust: -0.1, Respect: -0.03}, ScoreBias: -2},
	"cowardly":   {ID: "R-COWARDLY", Delta: Vector{Respect: -0.08}, ScoreBias: -1},
	"cruel":      {ID: "R-CRUEL", Delta: Vector{Trust: -0.08, Fear: 0.1, Attraction: -0.05}, ScoreBias: -4},
	"menacing":   {ID: "R-MENACING", Delta: Vector{Fear: 0.12, Trust: -0.04}, ScoreBias: -3},
	"dismissive": {ID: "R-DISMISSIVE", Delta: Vector{Attraction: -0.04, Respect: -0.02}, ScoreBias: -1},
	"reassuring": {ID: "R-REASSURING", Delta: Vector{Fear: -0.08, Trust: 0.04}, ScoreBias: 1},
})

// DefaultRuleTable returns the built-in behavior-tag rule table.
func DefaultRuleTable() *RuleTable {
	return defaultTable
}

// #endregion default-table
