package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultWorkers bounds the rule worker pool when no width is configured.
const DefaultWorkers = 4

// Engine executes registered rule sets over entry batches. Registration is
// idempotent by rule id; rules can be disabled without deregistering.
type Engine struct {
	mu       sync.RWMutex
	rules    map[string]domain.Rule
	disabled map[string]bool
	order    []string

	repo    domain.Repository
	logger  *slog.Logger
	workers int
	timeout time.Duration
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithWorkers sets the worker pool width for parallel execution.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRuleTimeout sets the per-rule soft timeout. A rule exceeding it is
// recorded as failed and its worker slot is released; the stray goroutine
// is left to finish on its own.
func WithRuleTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeout = d
	}
}

// NewEngine creates a rule engine writing violations and risk fields
// through the repository.
func NewEngine(repo domain.Repository, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		rules:    make(map[string]domain.Rule),
		disabled: make(map[string]bool),
		repo:     repo,
		logger:   logger,
		workers:  DefaultWorkers,
		timeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a rule. Re-registering an id replaces the rule in place and
// keeps its position and enablement.
func (e *Engine) Register(r domain.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[r.ID()]; !exists {
		e.order = append(e.order, r.ID())
	}
	e.rules[r.ID()] = r
}

// RegisterSet adds every rule in the set.
func (e *Engine) RegisterSet(rules []domain.Rule) {
	for _, r := range rules {
		e.Register(r)
	}
}

// SetEnabled flips one rule's enablement.
func (e *Engine) SetEnabled(id string, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enabled {
		delete(e.disabled, id)
	} else {
		e.disabled[id] = true
	}
}

// EnabledRules returns the enabled rules in registration order.
func (e *Engine) EnabledRules() []domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Rule, 0, len(e.order))
	for _, id := range e.order {
		if !e.disabled[id] {
			out = append(out, e.rules[id])
		}
	}
	return out
}

// RulesByCategory returns the enabled rules of one category.
func (e *Engine) RulesByCategory(cat domain.RuleCategory) []domain.Rule {
	var out []domain.Rule
	for _, r := range e.EnabledRules() {
		if r.Category() == cat {
			out = append(out, r)
		}
	}
	return out
}

// RuleCount returns the number of registered rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Execute runs the rule set over the batch and merges the results. A nil
// ruleSet means all enabled rules. With parallel execution the pool is
// bounded by the configured worker count; results are only merged after
// every rule has joined.
func (e *Engine) Execute(ctx context.Context, batch *domain.Batch, ruleSet []domain.Rule, parallel bool) *domain.EngineResult {
	start := time.Now()
	if ruleSet == nil {
		ruleSet = e.EnabledRules()
	}

	results := make([]domain.RuleResult, len(ruleSet))
	if parallel && len(ruleSet) > 1 {
		var wg sync.WaitGroup
		sem := make(chan struct{}, e.workers)
		for i, r := range ruleSet {
			wg.Add(1)
			go func(idx int, r domain.Rule) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[idx] = e.executeOne(r, batch)
			}(i, r)
		}
		wg.Wait()
	} else {
		for i, r := range ruleSet {
			results[i] = e.executeOne(r, batch)
		}
	}

	return e.merge(batch, results, start)
}

// executeOne runs a single rule under the soft timeout.
func (e *Engine) executeOne(r domain.Rule, batch *domain.Batch) domain.RuleResult {
	if e.timeout <= 0 {
		return r.Execute(batch)
	}

	done := make(chan domain.RuleResult, 1)
	go func() {
		done <- r.Execute(batch)
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res
	case <-timer.C:
		e.logger.Warn("rule timed out", "rule_id", r.ID(), "timeout", e.timeout)
		return domain.RuleResult{
			RuleID:         r.ID(),
			Category:       r.Category(),
			EntriesChecked: batch.Size(),
			Error:          fmt.Sprintf("timed out after %s", e.timeout),
			ProcessMs:      e.timeout.Milliseconds(),
		}
	}
}

// merge folds the per-rule results into one EngineResult.
func (e *Engine) merge(batch *domain.Batch, results []domain.RuleResult, start time.Time) *domain.EngineResult {
	out := &domain.EngineResult{
		TotalEntries:         batch.Size(),
		RuleResults:          results,
		ViolationsByCategory: make(map[domain.RuleCategory]int),
		ViolationsBySeverity: make(map[domain.Severity]int),
	}

	for _, res := range results {
		if res.Failed() {
			out.RulesFailed++
			e.logger.Warn("rule failed", "rule_id", res.RuleID, "error", res.Error)
			continue
		}
		out.RulesExecuted++
		for _, v := range res.Violations {
			out.Violations = append(out.Violations, v)
			out.ViolationsByCategory[v.Category]++
			out.ViolationsBySeverity[v.Severity]++
		}
	}
	out.TotalViolations = len(out.Violations)
	out.ProcessMs = time.Since(start).Milliseconds()

	e.logger.Info("rule pass complete",
		"entries", out.TotalEntries,
		"rules_executed", out.RulesExecuted,
		"rules_failed", out.RulesFailed,
		"violations", out.TotalViolations,
		"process_ms", out.ProcessMs)
	return out
}

// StoreViolations replaces the scope's stored violations with the pass's
// output.
func (e *Engine) StoreViolations(ctx context.Context, filter domain.LoadFilter, result *domain.EngineResult) error {
	if e.repo == nil {
		return fmt.Errorf("no repository configured")
	}
	if err := e.repo.ReplaceViolations(ctx, filter, result.Violations); err != nil {
		return fmt.Errorf("store violations: %w", err)
	}
	return nil
}

// severityWriteback weights one violation of each severity for the simple
// write-back path. The scoring service's combiner supersedes these values
// when the score phase runs.
var severityWriteback = map[domain.Severity]float64{
	domain.SeverityCritical: 25,
	domain.SeverityHigh:     15,
	domain.SeverityMedium:   10,
	domain.SeverityLow:      5,
	domain.SeverityInfo:     0,
}

// UpdateRiskScores writes a severity-weighted risk score, the violated rule
// ids, and the anomaly flags back onto the flagged entries.
func (e *Engine) UpdateRiskScores(ctx context.Context, result *domain.EngineResult) error {
	if e.repo == nil {
		return fmt.Errorf("no repository configured")
	}

	type acc struct {
		score float64
		rules map[string]bool
		flags map[string]bool
	}
	byEntry := make(map[string]*acc)
	for _, v := range result.Violations {
		a, ok := byEntry[v.GLDetailID]
		if !ok {
			a = &acc{rules: make(map[string]bool), flags: make(map[string]bool)}
			byEntry[v.GLDetailID] = a
		}
		if v.ScoreImpact > 0 {
			a.score += v.ScoreImpact
		} else {
			a.score += severityWriteback[v.Severity]
		}
		a.rules[v.RuleID] = true
		a.flags[string(v.Category)] = true
	}

	updates := make([]domain.RiskUpdate, 0, len(byEntry))
	for id, a := range byEntry {
		if a.score > 100 {
			a.score = 100
		}
		updates = append(updates, domain.RiskUpdate{
			GLDetailID:     id,
			RiskScore:      a.score,
			AnomalyFlags:   sortedKeys(a.flags),
			RuleViolations: sortedKeys(a.rules),
		})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].GLDetailID < updates[j].GLDetailID })

	if err := e.repo.UpdateRiskFields(ctx, updates); err != nil {
		return fmt.Errorf("update risk scores: %w", err)
	}
	return nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
