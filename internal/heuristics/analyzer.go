package heuristics

import (
	"github.com/phishguard/backend/internal/features"
	"github.com/phishguard/backend/pkg/config"
)

// MaxScore bounds the heuristic sub-score within the 0-100 risk scale.
const MaxScore = 40.0

// Result is the heuristic contribution to a scan: the capped sub-score plus
// the matched indicators, in rule order.
type Result struct {
	Score    float64   `json:"score"`
	Findings []Finding `json:"findings"`
}

// Analyzer runs the fixed indicator rule set over extracted URL features.
// It is stateless and safe for concurrent use.
type Analyzer struct {
	rules []Rule
}

func NewAnalyzer(cfg config.DetectionConfig) *Analyzer {
	return &Analyzer{rules: defaultRules(cfg)}
}

// Analyze sums the point values of every matched indicator, capped at
// MaxScore. Identical features always yield the identical result.
func (a *Analyzer) Analyze(f *features.URLFeatures) Result {
	findings := make([]Finding, 0, len(a.rules))
	score := 0.0

	for _, rule := range a.rules {
		if finding := rule.Evaluate(f); finding != nil {
			findings = append(findings, *finding)
			score += finding.Points
		}
	}

	if score > MaxScore {
		score = MaxScore
	}

	return Result{Score: score, Findings: findings}
}
