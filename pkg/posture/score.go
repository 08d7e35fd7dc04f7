package posture

import "math"

// maxNormalizedDeviation caps how far beyond tolerance a deviation counts.
const maxNormalizedDeviation = 2

// RuleScore is the outcome of one evaluated rule.
type RuleScore struct {
	Rule   Rule
	Actual float64
	Score  float64
}

// RuleResult aggregates the rules evaluated for one frame.
type RuleResult struct {
	// Score is the weight-averaged rule score in [0,100]. It is 100 when no
	// rule could be evaluated.
	Score float64

	// Evaluated counts the rules whose joint was present.
	Evaluated int

	// Worst is the lowest-scoring evaluated rule. Nil when Evaluated is 0.
	Worst *RuleScore
}

// ScoreRule scores a single measurement against r. A non-positive tolerance
// is treated as an exact-match requirement.
func ScoreRule(r Rule, actual float64) float64 {
	diff := math.Abs(actual - r.Target)
	if r.Tolerance <= 0 {
		if diff == 0 {
			return 100
		}
		return 0
	}
	normalized := math.Min(diff/r.Tolerance, maxNormalizedDeviation)
	return math.Max(0, 100*(1-normalized))
}

// EvaluateRules scores angles against rules. Rules whose joint is absent are
// skipped: missing visibility is never evidence of bad posture. A weight
// that is not a positive finite number counts as 1, the same way ScoreRule
// reads a non-positive tolerance as exact match. Rule.Validate rejects both,
// so only rules that bypassed validation reach these fallbacks.
func EvaluateRules(angles JointAngles, rules []Rule) RuleResult {
	var (
		res         RuleResult
		weighted    float64
		totalWeight float64
	)
	for _, r := range rules {
		actual, ok := angles.Get(r.Joint)
		if !ok || !finite(actual) {
			continue
		}
		s := ScoreRule(r, actual)
		w := r.Weight
		if w <= 0 || !finite(w) {
			w = 1
		}
		weighted += s * w
		totalWeight += w
		res.Evaluated++
		if res.Worst == nil || s < res.Worst.Score {
			res.Worst = &RuleScore{Rule: r, Actual: actual, Score: s}
		}
	}
	if res.Evaluated == 0 {
		res.Score = 100
		return res
	}
	res.Score = clampScore(weighted / totalWeight)
	return res
}

func clampScore(s float64) float64 {
	if !finite(s) {
		return 0
	}
	return math.Max(0, math.Min(100, s))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
