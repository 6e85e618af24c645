package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// entryOpt mutates a synthetic entry line.
type entryOpt func(*domain.JournalEntryLine)

// makeEntry builds a well-formed balanced-looking line; tests override what
// they need broken.
func makeEntry(id string, amount float64, opts ...entryOpt) *domain.JournalEntryLine {
	e := &domain.JournalEntryLine{
		GLDetailID:    id,
		JournalID:     "J-" + id,
		FiscalYear:    2025,
		FiscalPeriod:  6,
		BusinessUnit:  "HQ",
		EffectiveDate: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		EntryDate:     time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC),
		AccountCode:   "4000",
		Amount:        amount,
		IsDebit:       true,
		Description:   "vendor invoice settlement",
		Source:        "system",
		PreparedBy:    "alice",
		ApprovedBy:    "bob",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// balancedJournal emits a debit and matching credit sharing one journal id.
func balancedJournal(journal string, amount float64, opts ...entryOpt) []*domain.JournalEntryLine {
	debit := makeEntry(journal+"-d", amount, opts...)
	credit := makeEntry(journal+"-c", amount, opts...)
	debit.JournalID = journal
	credit.JournalID = journal
	credit.IsDebit = false
	credit.AccountCode = "2000"
	return []*domain.JournalEntryLine{debit, credit}
}

// failingRule always reports an error but also emits a violation, to prove
// failed rules are excluded from counts.
func failingRule() domain.Rule {
	return &rule{
		id:       "TST-FAIL",
		name:     "Always fails",
		category: domain.CategoryCustom,
		severity: domain.SeverityHigh,
		check: func(b *domain.Batch, c *collector) {
			if b.Size() > 0 {
				c.flag(b.Entries[0], "should never be counted", nil)
			}
			c.fail(errors.New("synthetic failure"))
		},
	}
}

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	return NewEngine(nil, slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError})), opts...)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestRegisterIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	r := largeAmountRule(DefaultConfig().Amount)
	e.Register(r)
	e.Register(r)
	e.RegisterSet([]domain.Rule{r})

	if got := e.RuleCount(); got != 1 {
		t.Fatalf("expected 1 registered rule, got %d", got)
	}
	if got := len(e.EnabledRules()); got != 1 {
		t.Fatalf("expected 1 enabled rule, got %d", got)
	}
}

func TestSetEnabledFiltersRules(t *testing.T) {
	e := newTestEngine(t)
	cfg := DefaultConfig()
	e.Register(largeAmountRule(cfg.Amount))
	e.Register(zeroAmountRule())

	e.SetEnabled("AMT-001", false)
	enabled := e.EnabledRules()
	if len(enabled) != 1 || enabled[0].ID() != "AMT-004" {
		t.Fatalf("expected only AMT-004 enabled, got %v", enabled)
	}

	e.SetEnabled("AMT-001", true)
	if len(e.EnabledRules()) != 2 {
		t.Fatal("re-enabling did not restore the rule")
	}
}

func TestRulesByCategory(t *testing.T) {
	e := newTestEngine(t)
	lib, err := BuiltinRules(DefaultConfig(), 42)
	if err != nil {
		t.Fatal(err)
	}
	e.RegisterSet(lib)

	for _, cat := range domain.AllCategories() {
		if cat == domain.CategoryCustom {
			continue
		}
		rules := e.RulesByCategory(cat)
		if len(rules) == 0 {
			t.Errorf("category %s has no rules", cat)
		}
		for _, r := range rules {
			if r.Category() != cat {
				t.Errorf("rule %s returned for category %s", r.ID(), cat)
			}
		}
	}
}

func TestFailingRuleIsIsolated(t *testing.T) {
	e := newTestEngine(t)
	cfg := DefaultConfig()

	var entries []*domain.JournalEntryLine
	entries = append(entries, balancedJournal("J-1", 15_000_000)...)
	batch := domain.NewBatch(entries)

	ruleSet := []domain.Rule{largeAmountRule(cfg.Amount), failingRule(), zeroAmountRule()}

	res := e.Execute(context.Background(), batch, ruleSet, true)
	if res.RulesFailed != 1 {
		t.Fatalf("rules_failed = %d, want 1", res.RulesFailed)
	}
	if res.RulesExecuted != 2 {
		t.Fatalf("rules_executed = %d, want 2", res.RulesExecuted)
	}
	// Both lines exceed the large-amount threshold; the failing rule's
	// violation must not leak into the total.
	if res.TotalViolations != 2 {
		t.Fatalf("total_violations = %d, want 2", res.TotalViolations)
	}
	for _, v := range res.Violations {
		if v.RuleID == "TST-FAIL" {
			t.Fatal("violation from a failed rule leaked into the merge")
		}
	}
}

func TestPanickingRuleRecordedAsFailure(t *testing.T) {
	e := newTestEngine(t)
	panicker := &rule{
		id:       "TST-PANIC",
		name:     "Always panics",
		category: domain.CategoryCustom,
		severity: domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			panic("boom")
		},
	}
	batch := domain.NewBatch(balancedJournal("J-1", 100))

	res := e.Execute(context.Background(), batch, []domain.Rule{panicker}, false)
	if res.RulesFailed != 1 {
		t.Fatalf("rules_failed = %d, want 1", res.RulesFailed)
	}
	if res.RuleResults[0].Error == "" {
		t.Fatal("panic not recorded on the rule result")
	}
}

func TestRuleTimeoutTreatedAsFailure(t *testing.T) {
	e := newTestEngine(t, WithRuleTimeout(20*time.Millisecond))
	slow := &rule{
		id:       "TST-SLOW",
		name:     "Sleeps past the deadline",
		category: domain.CategoryCustom,
		severity: domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			time.Sleep(500 * time.Millisecond)
		},
	}
	batch := domain.NewBatch(balancedJournal("J-1", 100))

	res := e.Execute(context.Background(), batch, []domain.Rule{slow}, true)
	if res.RulesFailed != 1 {
		t.Fatalf("rules_failed = %d, want 1", res.RulesFailed)
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	e := newTestEngine(t)
	lib, err := BuiltinRules(DefaultConfig(), 42)
	if err != nil {
		t.Fatal(err)
	}
	// Drop the ML rules to keep the fixture below the ensemble minimum
	// irrelevant; the batch is tiny either way.
	var ruleSet []domain.Rule
	for _, r := range lib {
		if r.Category() != domain.CategoryML {
			ruleSet = append(ruleSet, r)
		}
	}

	var entries []*domain.JournalEntryLine
	for i := 0; i < 20; i++ {
		entries = append(entries, balancedJournal(fmt.Sprintf("J-%d", i), float64(1000+i*137))...)
	}
	batch := domain.NewBatch(entries)

	seq := e.Execute(context.Background(), batch, ruleSet, false)
	par := e.Execute(context.Background(), batch, ruleSet, true)

	if seq.TotalViolations != par.TotalViolations {
		t.Fatalf("sequential found %d violations, parallel %d", seq.TotalViolations, par.TotalViolations)
	}
	if seq.RulesFailed != par.RulesFailed || seq.RulesExecuted != par.RulesExecuted {
		t.Fatal("sequential and parallel runs disagree on rule counts")
	}
}

func TestReExecutionIsIdentical(t *testing.T) {
	e := newTestEngine(t)
	cfg := DefaultConfig()
	ruleSet := []domain.Rule{largeAmountRule(cfg.Amount), selfApprovalRule(cfg.Approval)}

	var entries []*domain.JournalEntryLine
	entries = append(entries, balancedJournal("J-1", 20_000_000)...)
	entries = append(entries, makeEntry("self-1", 2_000_000, func(e *domain.JournalEntryLine) {
		e.ApprovedBy = e.PreparedBy
	}))
	batch := domain.NewBatch(entries)

	first := e.Execute(context.Background(), batch, ruleSet, false)
	second := e.Execute(context.Background(), batch, ruleSet, false)

	if first.TotalViolations != second.TotalViolations {
		t.Fatalf("re-execution changed violation count: %d vs %d", first.TotalViolations, second.TotalViolations)
	}
	for i := range first.RuleResults {
		a, b := first.RuleResults[i], second.RuleResults[i]
		if a.RuleID != b.RuleID || len(a.Violations) != len(b.Violations) {
			t.Fatalf("rule %s differs across runs", a.RuleID)
		}
	}
}

func TestSelfApprovalBoundary(t *testing.T) {
	cfg := DefaultConfig().Approval
	r := selfApprovalRule(cfg)

	self := func(e *domain.JournalEntryLine) { e.ApprovedBy = e.PreparedBy }
	atThreshold := makeEntry("at", cfg.SelfApprovalMin, self)
	justAbove := makeEntry("above", cfg.SelfApprovalMin+0.01, self)
	batch := domain.NewBatch([]*domain.JournalEntryLine{atThreshold, justAbove})

	res := r.Execute(batch)
	if res.Failed() {
		t.Fatal(res.Error)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected exactly 1 violation, got %d", len(res.Violations))
	}
	v := res.Violations[0]
	if v.GLDetailID != "above" {
		t.Fatalf("flagged %s, want the entry just above the threshold", v.GLDetailID)
	}
	if v.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want critical", v.Severity)
	}
	if v.ScoreImpact != selfApprovalImpact {
		t.Errorf("score impact = %v, want %v", v.ScoreImpact, selfApprovalImpact)
	}
}

func TestImbalanceSingleCriticalViolation(t *testing.T) {
	cfg := DefaultConfig().Account
	r := imbalanceRule(cfg)

	lines := balancedJournal("J-BAD", 5000)
	lines[1].Amount = 4000 // journal now off by 1000
	lines = append(lines, balancedJournal("J-OK", 9000)...)
	batch := domain.NewBatch(lines)

	res := r.Execute(batch)
	if res.Failed() {
		t.Fatal(res.Error)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected exactly 1 violation for the unbalanced journal, got %d", len(res.Violations))
	}
	v := res.Violations[0]
	if v.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want critical", v.Severity)
	}
	if v.ScoreImpact != imbalanceImpact {
		t.Errorf("score impact = %v, want %v", v.ScoreImpact, imbalanceImpact)
	}
}

func TestImbalanceWithinToleranceIgnored(t *testing.T) {
	cfg := DefaultConfig().Account
	r := imbalanceRule(cfg)

	lines := balancedJournal("J-ROUND", 5000)
	lines[1].Amount = 5000.005 // inside the 0.01 tolerance
	batch := domain.NewBatch(lines)

	res := r.Execute(batch)
	if len(res.Violations) != 0 {
		t.Fatalf("expected no violations inside tolerance, got %d", len(res.Violations))
	}
}

func TestJustBelowThresholdLadder(t *testing.T) {
	cfg := DefaultConfig().Amount
	r := justBelowThresholdRule(cfg)

	cases := []struct {
		id     string
		amount float64
		hit    bool
	}{
		{"below-margin", 940_000, false},
		{"in-window", 980_000, true},
		{"at-rung", 1_000_000, false},
		{"big-window", 49_000_000, true},
	}
	var entries []*domain.JournalEntryLine
	for _, tc := range cases {
		entries = append(entries, makeEntry(tc.id, tc.amount))
	}
	res := r.Execute(domain.NewBatch(entries))

	flagged := make(map[string]bool)
	for _, v := range res.Violations {
		flagged[v.GLDetailID] = true
	}
	for _, tc := range cases {
		if flagged[tc.id] != tc.hit {
			t.Errorf("%s (%.0f): flagged=%v, want %v", tc.id, tc.amount, flagged[tc.id], tc.hit)
		}
	}
}

func TestUpdateRiskScoresAggregatesPerEntry(t *testing.T) {
	repo := &stubRepo{}
	e := NewEngine(repo, slog.New(slog.NewTextHandler(testWriter{t}, nil)))

	res := &domain.EngineResult{
		Violations: []domain.RuleViolation{
			{GLDetailID: "e1", RuleID: "APR-001", Category: domain.CategoryApproval, Severity: domain.SeverityCritical, ScoreImpact: 25},
			{GLDetailID: "e1", RuleID: "AMT-001", Category: domain.CategoryAmount, Severity: domain.SeverityMedium},
			{GLDetailID: "e2", RuleID: "DSC-002", Category: domain.CategoryDescription, Severity: domain.SeverityLow},
		},
	}
	if err := e.UpdateRiskScores(context.Background(), res); err != nil {
		t.Fatal(err)
	}
	if len(repo.updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(repo.updates))
	}
	u := repo.updates[0]
	if u.GLDetailID != "e1" || u.RiskScore != 35 {
		t.Fatalf("e1 update = %+v, want score 35", u)
	}
	if len(u.RuleViolations) != 2 {
		t.Errorf("e1 rule ids = %v, want 2 entries", u.RuleViolations)
	}
}

// stubRepo records sink calls; everything else panics via the embedded nil
// interface.
type stubRepo struct {
	domain.Repository
	violations []domain.RuleViolation
	updates    []domain.RiskUpdate
}

func (s *stubRepo) ReplaceViolations(_ context.Context, _ domain.LoadFilter, v []domain.RuleViolation) error {
	s.violations = v
	return nil
}

func (s *stubRepo) UpdateRiskFields(_ context.Context, u []domain.RiskUpdate) error {
	s.updates = u
	return nil
}
