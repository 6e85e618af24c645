package domain

// Risk category thresholds on the 0-100 total score.
const (
	RiskThresholdCritical = 80.0
	RiskThresholdHigh     = 60.0
	RiskThresholdMedium   = 40.0
	RiskThresholdLow      = 20.0
)

// RiskCategory buckets a total risk score.
type RiskCategory string

const (
	RiskCritical RiskCategory = "critical"
	RiskHigh     RiskCategory = "high"
	RiskMedium   RiskCategory = "medium"
	RiskLow      RiskCategory = "low"
	RiskMinimal  RiskCategory = "minimal"
)

// CategorizeRisk maps a total score to its risk band.
func CategorizeRisk(total float64) RiskCategory {
	switch {
	case total >= RiskThresholdCritical:
		return RiskCritical
	case total >= RiskThresholdHigh:
		return RiskHigh
	case total >= RiskThresholdMedium:
		return RiskMedium
	case total >= RiskThresholdLow:
		return RiskLow
	default:
		return RiskMinimal
	}
}

// RiskScore is the combined rule + ML + Benford score for one entry line.
type RiskScore struct {
	GLDetailID string `json:"glDetailId"`

	// Total is capped at 100.
	Total float64 `json:"total"`

	RuleScore    float64 `json:"ruleScore"`
	MLScore      float64 `json:"mlScore"`
	BenfordScore float64 `json:"benfordScore"`

	CategoryScores map[RuleCategory]float64 `json:"categoryScores"`
	ViolatedRules  []string                 `json:"violatedRules,omitempty"`

	// SeverityLevel is the maximum severity seen across contributing
	// violations.
	SeverityLevel  Severity `json:"severityLevel"`
	RequiresReview bool     `json:"requiresReview"`
}

// Category returns the risk band for the total score.
func (s *RiskScore) Category() RiskCategory { return CategorizeRisk(s.Total) }

// RiskUpdate is one batched write-back of risk fields to the entry-state
// store.
type RiskUpdate struct {
	GLDetailID     string   `json:"glDetailId"`
	RiskScore      float64  `json:"riskScore"`
	AnomalyFlags   []string `json:"anomalyFlags,omitempty"`
	RuleViolations []string `json:"ruleViolations,omitempty"`
}
