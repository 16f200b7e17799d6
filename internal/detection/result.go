package detection

import (
	"time"

	"github.com/phishguard/backend/internal/heuristics"
)

type Classification string

const (
	ClassificationSafe       Classification = "Safe"
	ClassificationSuspicious Classification = "Suspicious"
	ClassificationPhishing   Classification = "Phishing"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Classification thresholds on the 0-100 scale. These are contract constants
// shared with downstream consumers, not tunables.
const (
	SafeMaxScore       = 30.0
	SuspiciousMaxScore = 60.0
)

// NeutralProbability substitutes for the ML signal when the model is down so
// a degraded scan stays bounded and deterministic.
const NeutralProbability = 0.5

// ScanResult is the complete outcome of one URL analysis. Immutable once
// produced.
type ScanResult struct {
	URL                 string               `json:"url"`
	Domain              string               `json:"domain"`
	HeuristicScore      float64              `json:"heuristic_score"`
	HeuristicFindings   []heuristics.Finding `json:"heuristic_findings"`
	MLProbability       float64              `json:"ml_probability"`
	MLAvailable         bool                 `json:"ml_available"`
	ReputationScore     float64              `json:"reputation_score"`
	ReputationAvailable bool                 `json:"reputation_available"`
	FinalScore          float64              `json:"final_score"`
	Classification      Classification       `json:"classification"`
	RiskLevel           RiskLevel            `json:"risk_level"`
	Explanation         []string             `json:"explanation"`
	Timestamp           time.Time            `json:"timestamp"`
	ProcessingMS        float64              `json:"processing_time_ms"`
}

// Classify maps a final score to its classification. Pure function of the
// score; no hidden state.
func Classify(score float64) Classification {
	switch {
	case score <= SafeMaxScore:
		return ClassificationSafe
	case score <= SuspiciousMaxScore:
		return ClassificationSuspicious
	default:
		return ClassificationPhishing
	}
}

func riskLevelFor(c Classification) RiskLevel {
	switch c {
	case ClassificationSafe:
		return RiskLow
	case ClassificationSuspicious:
		return RiskMedium
	default:
		return RiskHigh
	}
}
