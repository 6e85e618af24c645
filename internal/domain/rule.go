package domain

import (
	"time"
)

// Severity is the ordinal severity attached to a violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for max-seen comparisons.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity (info lowest).
func (s Severity) Rank() int { return severityRank[s] }

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool { return s.Rank() >= other.Rank() }

// MaxSeverity returns the more severe of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RuleCategory groups rules into the violation families.
type RuleCategory string

const (
	CategoryAmount      RuleCategory = "amount"
	CategoryTime        RuleCategory = "time"
	CategoryAccount     RuleCategory = "account"
	CategoryApproval    RuleCategory = "approval"
	CategoryDescription RuleCategory = "description"
	CategoryBenford     RuleCategory = "benford"
	CategoryTrend       RuleCategory = "trend"
	CategoryML          RuleCategory = "ml"
	CategoryCustom      RuleCategory = "custom"
)

// AllCategories lists the rule categories in stable order.
func AllCategories() []RuleCategory {
	return []RuleCategory{
		CategoryAmount, CategoryTime, CategoryAccount, CategoryApproval,
		CategoryDescription, CategoryBenford, CategoryTrend, CategoryML,
		CategoryCustom,
	}
}

// Rule is one stateless audit check. Implementations must be pure over the
// read-only batch and safe to run concurrently with sibling rules.
type Rule interface {
	ID() string
	Name() string
	Category() RuleCategory
	Description() string
	DefaultSeverity() Severity

	// Execute runs the rule over the batch and returns its result.
	// Failures are reported on RuleResult.Error, never by panicking.
	Execute(batch *Batch) RuleResult
}

// RuleViolation is one flagged entry line produced by a rule.
type RuleViolation struct {
	ID         string       `json:"id"`
	GLDetailID string       `json:"glDetailId"`
	RuleID     string       `json:"ruleId"`
	Category   RuleCategory `json:"category"`
	Severity   Severity     `json:"severity"`
	Message    string       `json:"message"`

	// Details carries rule-specific structured context (threshold, observed
	// value, group keys) stored opaquely by the violation sink.
	Details map[string]any `json:"details,omitempty"`

	// ScoreImpact is an explicit per-violation contribution to the risk
	// score. Zero means "derive from severity and category weights".
	ScoreImpact float64 `json:"scoreImpact,omitempty"`

	DetectedAt time.Time `json:"detectedAt"`
}

// RuleResult is one rule's outcome over a batch.
type RuleResult struct {
	RuleID         string          `json:"ruleId"`
	Category       RuleCategory    `json:"category"`
	EntriesChecked int             `json:"entriesChecked"`
	Violations     []RuleViolation `json:"violations,omitempty"`

	// Error is set when the rule failed; its violations are then excluded
	// from engine counts.
	Error string `json:"error,omitempty"`

	ProcessMs int64 `json:"processMs"`
}

// Failed reports whether the rule execution failed.
func (r RuleResult) Failed() bool { return r.Error != "" }

// EngineResult merges all RuleResults of one engine pass.
type EngineResult struct {
	TotalEntries    int          `json:"totalEntries"`
	RulesExecuted   int          `json:"rulesExecuted"`
	RulesFailed     int          `json:"rulesFailed"`
	TotalViolations int          `json:"totalViolations"`
	RuleResults     []RuleResult `json:"ruleResults"`

	Violations           []RuleViolation      `json:"violations,omitempty"`
	ViolationsByCategory map[RuleCategory]int `json:"violationsByCategory"`
	ViolationsBySeverity map[Severity]int     `json:"violationsBySeverity"`

	ProcessMs int64 `json:"processMs"`
}

// CustomRuleConfig is a user-defined CEL rule evaluated per entry line.
// Stored in the repository and compiled into the engine beside the
// built-in library.
type CustomRuleConfig struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Expression  string   `json:"expression"`
	Severity    Severity `json:"severity"`
	ScoreImpact float64  `json:"scoreImpact,omitempty"`
	Enabled     bool     `json:"enabled"`
}
