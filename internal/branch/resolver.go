package branch

// #region branch
// Branch is one candidate narrative route guarded by a rule expression.
type Branch struct {
	ID          string `json:"id" yaml:"id"`
	RuleExpr    *Node  `json:"rule_expr" yaml:"rule_expr"`
	Priority    int    `json:"priority" yaml:"priority"`
	IsExclusive bool   `json:"is_exclusive" yaml:"is_exclusive"`
	IsDefault   bool   `json:"is_default" yaml:"is_default"`
}

// #endregion branch

// #region resolution
// Evaluation is the recorded outcome of evaluating one branch.
type Evaluation struct {
	BranchID string `json:"branch_id"`
	Matched  bool   `json:"matched"`
	Trace    Trace  `json:"trace"`
}

// Resolution bundles the chosen route (nil is a valid "no route" outcome)
// with the full ordered evaluation trace.
type Resolution struct {
	Chosen      *Branch      `json:"chosen,omitempty"`
	UsedDefault bool         `json:"used_default"`
	Evaluations []Evaluation `json:"evaluations"`
}

// #endregion resolution

// #region resolve

// Resolve evaluates every candidate branch against the context — no
// short-circuiting, the complete trace is part of the contract — and picks
// the matched branch with the highest (priority, id) tuple. When nothing
// matched, the same selection repeats over the default-flagged branches.
// When that also yields nothing, Chosen is nil.
func Resolve(ctx Context, branches []Branch) Resolution {
	evaluations := make([]Evaluation, 0, len(branches))
	matched := make([]int, 0, len(branches))

	for i := range branches {
		ok, trace := Evaluate(branches[i].RuleExpr, ctx)
		evaluations = append(evaluations, Evaluation{
			BranchID: branches[i].ID,
			Matched:  ok,
			Trace:    trace,
		})
		if ok {
			matched = append(matched, i)
		}
	}

	res := Resolution{Evaluations: evaluations}

	if idx, ok := pickHighest(branches, matched); ok {
		res.Chosen = &branches[idx]
		return res
	}

	defaults := make([]int, 0, len(branches))
	for i := range branches {
		if branches[i].IsDefault {
			defaults = append(defaults, i)
		}
	}
	if idx, ok := pickHighest(branches, defaults); ok {
		res.Chosen = &branches[idx]
		res.UsedDefault = true
	}
	return res
}

// pickHighest selects the candidate with the greatest (priority, id) tuple,
// priority compared numerically and ties broken by ordinal id comparison,
// both descending.
func pickHighest(branches []Branch, candidates []int) (int, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	best := candidates[0]
	for _, i := range candidates[1:] {
		if branches[i].Priority > branches[best].Priority {
			best = i
			continue
		}
		if branches[i].Priority == branches[best].Priority && branches[i].ID > branches[best].ID {
			best = i
		}
	}
	return best, true
}

// #endregion resolve
