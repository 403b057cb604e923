package affection

import "math"

// #region constants

// Drift decays geometrically each step with a 10% injection of the current
// step's delta.
const (
	driftDecay  = 0.9
	driftInject = 0.1
)

// Score projection weights. The mapping is a fixed linear projection
// centered at 50.
var scoreWeights = Vector{Trust: 18, Respect: 12, Attraction: 10, Fear: -14}

const scoreCenter = 50

// #endregion constants

// #region result

// RuleHit records one recognized tag's contribution, for audit.
type RuleHit struct {
	Tag       string  `json:"tag"`
	RuleID    string  `json:"rule_id"`
	Delta     Vector  `json:"delta"`
	ScoreBias float64 `json:"score_bias"`
}

// Result bundles everything returned by Apply.
type Result struct {
	Score      int       `json:"score"`
	ScoreDelta int       `json:"score_delta"`
	Vector     Vector    `json:"vector"`
	Drift      Vector    `json:"drift"`
	Hits       []RuleHit `json:"hits"`
}

// #endregion result

// #region apply

// Apply folds the recognized behavior tags into the relationship vector and
// drift, then projects a visible score. Unknown tags are ignored. The
// effective vector (vector + drift) is used only for score mapping and is
// not stored.
func Apply(score int, vec, drift Vector, tags []string, table *RuleTable) Result {
	if table == nil {
		table = DefaultRuleTable()
	}

	// 1. Normalize inputs; absent dimensions are zero by construction.
	vec = vec.Clamp()
	drift = drift.Clamp()

	// 2. Accumulate total delta and bias over recognized tags.
	var totalDelta Vector
	var totalBias float64
	hits := make([]RuleHit, 0, len(tags))
	for _, tag := range tags {
		rule, ok := table.Lookup(tag)
		if !ok {
			continue
		}
		totalDelta = totalDelta.Add(rule.Delta)
		totalBias += rule.ScoreBias
		hits = append(hits, RuleHit{
			Tag:       tag,
			RuleID:    rule.ID,
			Delta:     rule.Delta,
			ScoreBias: rule.ScoreBias,
		})
	}

	// 3. New vector.
	newVec := vec.Add(totalDelta).Clamp()

	// 4. New drift: exponential decay toward zero plus this step's injection.
	newDrift := drift.Scale(driftDecay).Add(totalDelta.Scale(driftInject)).Clamp()

	// 5. Effective vector for score mapping only.
	effective := newVec.Add(newDrift).Clamp()

	// 6. Visible score: linear projection centered at 50.
	raw := float64(scoreCenter) +
		effective.Trust*scoreWeights.Trust +
		effective.Respect*scoreWeights.Respect +
		effective.Attraction*scoreWeights.Attraction +
		effective.Fear*scoreWeights.Fear +
		totalBias
	newScore := int(math.Round(clampScore(raw)))

	return Result{
		Score:      newScore,
		ScoreDelta: newScore - score,
		Vector:     newVec,
		Drift:      newDrift,
		Hits:       hits,
	}
}

func clampScore(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}

// #endregion apply
