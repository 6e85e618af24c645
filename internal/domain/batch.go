package domain

import (
	"time"
)

// BatchMode selects which rules a pipeline run executes and which phases it
// skips.
type BatchMode string

const (
	// ModeFull runs every enabled rule and all phases.
	ModeFull BatchMode = "full"

	// ModeQuick runs the union of approval-category rules and rules whose
	// default severity is high or critical, and skips aggregation.
	ModeQuick BatchMode = "quick"

	// ModeMLOnly runs only the ML detector rules.
	ModeMLOnly BatchMode = "ml_only"

	// ModeRulesOnly runs everything except the ML detector rules.
	ModeRulesOnly BatchMode = "rules_only"

	// ModeIncremental selects rules like ModeFull but is scoped by the
	// caller's load filter.
	ModeIncremental BatchMode = "incremental"
)

// Phase names for the pipeline, in execution order.
const (
	PhaseLoad            = "load"
	PhaseExecuteRules    = "execute_rules"
	PhaseStoreViolations = "store_violations"
	PhaseScore           = "score"
	PhaseAggregate       = "aggregate"
)

// BatchConfig describes one orchestrator run.
type BatchConfig struct {
	Mode   BatchMode  `json:"mode"`
	Filter LoadFilter `json:"filter"`

	// SkipPhases lists phase names to omit, in addition to what the mode
	// already skips.
	SkipPhases []string `json:"skipPhases,omitempty"`

	// Parallel controls worker-pool rule execution. Nil means engine
	// default.
	Parallel *bool `json:"parallel,omitempty"`
}

// ShouldSkip reports whether the config explicitly skips a phase.
func (c BatchConfig) ShouldSkip(phase string) bool {
	for _, p := range c.SkipPhases {
		if p == phase {
			return true
		}
	}
	return false
}

// PhaseResult records one phase's timing and outcome.
type PhaseResult struct {
	Name      string `json:"name"`
	Skipped   bool   `json:"skipped"`
	ProcessMs int64  `json:"processMs"`
	Error     string `json:"error,omitempty"`
}

// BatchResult is the outcome of one orchestrator run. Every entry point
// returns partial-success detail rather than aborting; the caller decides
// whether a degraded result is acceptable.
type BatchResult struct {
	RunID string    `json:"runId"`
	Mode  BatchMode `json:"mode"`
	Scope string    `json:"scope"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Phases []PhaseResult `json:"phases"`

	EntriesProcessed int `json:"entriesProcessed"`
	RulesExecuted    int `json:"rulesExecuted"`
	RulesFailed      int `json:"rulesFailed"`
	ViolationsFound  int `json:"violationsFound"`
	EntriesScored    int `json:"entriesScored"`
	TablesRebuilt    int `json:"tablesRebuilt"`
	TablesFailed     int `json:"tablesFailed"`

	Errors  []string `json:"errors,omitempty"`
	Success bool     `json:"success"`
}

// AddPhase appends a phase result and records its error, if any.
func (r *BatchResult) AddPhase(p PhaseResult) {
	r.Phases = append(r.Phases, p)
	if p.Error != "" {
		r.Errors = append(r.Errors, p.Name+": "+p.Error)
	}
}

// Finish stamps the completion time and derives the success flag.
func (r *BatchResult) Finish() {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.Success = len(r.Errors) == 0
}
