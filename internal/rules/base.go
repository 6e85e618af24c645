// Package rules holds the built-in audit rule library, the CEL custom-rule
// compiler, and the engine that executes rule sets over entry batches.
package rules

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// rule is the shared implementation behind every built-in rule: static
// metadata plus a check function that flags violations into the collector.
type rule struct {
	id          string
	name        string
	category    domain.RuleCategory
	description string
	severity    domain.Severity

	check func(b *domain.Batch, c *collector)
}

func (r *rule) ID() string                       { return r.id }
func (r *rule) Name() string                     { return r.name }
func (r *rule) Category() domain.RuleCategory    { return r.category }
func (r *rule) Description() string              { return r.description }
func (r *rule) DefaultSeverity() domain.Severity { return r.severity }

// Execute runs the check over the batch, timing it and catching panics as
// rule failures so one bad rule never takes the pass down.
func (r *rule) Execute(batch *domain.Batch) domain.RuleResult {
	start := time.Now()
	c := &collector{rule: r}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				c.err = fmt.Sprintf("rule panicked: %v", rec)
			}
		}()
		r.check(batch, c)
	}()

	result := domain.RuleResult{
		RuleID:         r.id,
		Category:       r.category,
		EntriesChecked: batch.Size(),
		Violations:     c.violations,
		Error:          c.err,
		ProcessMs:      time.Since(start).Milliseconds(),
	}
	if result.Failed() {
		result.Violations = nil
	}
	return result
}

// collector accumulates violations for one rule execution.
type collector struct {
	rule       *rule
	violations []domain.RuleViolation
	err        string
}

// flag records a violation at the rule's default severity with derived
// score impact.
func (c *collector) flag(e *domain.JournalEntryLine, msg string, details map[string]any) {
	c.flagSeverity(e, c.rule.severity, 0, msg, details)
}

// flagImpact records a violation carrying an explicit score impact.
func (c *collector) flagImpact(e *domain.JournalEntryLine, impact float64, msg string, details map[string]any) {
	c.flagSeverity(e, c.rule.severity, impact, msg, details)
}

func (c *collector) flagSeverity(e *domain.JournalEntryLine, sev domain.Severity, impact float64, msg string, details map[string]any) {
	c.violations = append(c.violations, domain.RuleViolation{
		ID:          uuid.NewString(),
		GLDetailID:  e.GLDetailID,
		RuleID:      c.rule.id,
		Category:    c.rule.category,
		Severity:    sev,
		Message:     msg,
		Details:     details,
		ScoreImpact: impact,
		DetectedAt:  time.Now().UTC(),
	})
}

// fail marks the execution as failed; any flagged violations are discarded.
func (c *collector) fail(err error) {
	c.err = err.Error()
}
