package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testEntries() []*domain.JournalEntryLine {
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	approved := day.AddDate(0, 0, 1)
	return []*domain.JournalEntryLine{
		{
			GLDetailID: "gl-001", JournalID: "J-100",
			FiscalYear: 2025, FiscalPeriod: 3, BusinessUnit: "corp",
			EffectiveDate: day, EntryDate: day, EntryTime: "14:32:00",
			AccountCode: "4000", AccountName: "Revenue",
			Amount: 1250.50, IsDebit: true,
			Description: "March accrual", Source: "GL", VendorID: "V-9", Department: "fin",
			PreparedBy: "alice", ApprovedBy: "bob", ApprovedDate: &approved,
		},
		{
			GLDetailID: "gl-002", JournalID: "J-100",
			FiscalYear: 2025, FiscalPeriod: 3, BusinessUnit: "corp",
			EffectiveDate: day, EntryDate: day,
			AccountCode: "2000", Amount: 1250.50, IsDebit: false,
			PreparedBy: "alice", ApprovedBy: "bob",
		},
		{
			GLDetailID: "gl-003", JournalID: "J-200",
			FiscalYear: 2024, FiscalPeriod: 12, BusinessUnit: "west",
			EffectiveDate: day.AddDate(-1, 0, 0), EntryDate: day.AddDate(-1, 0, 0),
			AccountCode: "4000", Amount: 900, IsDebit: true,
			PreparedBy: "carol", ApprovedBy: "carol",
		},
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndLoadEntries", func(t *testing.T) {
		if err := repo.SaveEntries(ctx, testEntries()); err != nil {
			t.Fatalf("SaveEntries failed: %v", err)
		}

		entries, err := repo.LoadEntries(ctx, domain.LoadFilter{})
		if err != nil {
			t.Fatalf("LoadEntries failed: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}

		first := entries[0]
		if first.GLDetailID != "gl-001" {
			t.Errorf("expected gl-001 first, got %s", first.GLDetailID)
		}
		if first.Amount != 1250.50 {
			t.Errorf("expected Amount 1250.50, got %v", first.Amount)
		}
		if !first.IsDebit {
			t.Error("expected gl-001 to be a debit")
		}
		if first.EntryTime != "14:32:00" {
			t.Errorf("expected entry time preserved, got %q", first.EntryTime)
		}
		if first.ApprovedDate == nil {
			t.Error("expected approved date preserved")
		}
		if entries[2].ApprovedDate != nil {
			t.Error("expected nil approved date for gl-003")
		}
	})

	t.Run("LoadEntriesFiltered", func(t *testing.T) {
		entries, err := repo.LoadEntries(ctx, domain.LoadFilter{FiscalYear: 2025, FiscalPeriod: 3})
		if err != nil {
			t.Fatalf("LoadEntries failed: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("expected 2 entries for 2025-03, got %d", len(entries))
		}

		n, err := repo.CountEntries(ctx, domain.LoadFilter{BusinessUnit: "west"})
		if err != nil {
			t.Fatalf("CountEntries failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 entry for west, got %d", n)
		}
	})

	t.Run("SaveEntriesIsUpsert", func(t *testing.T) {
		changed := testEntries()
		changed[0].Amount = 2000
		if err := repo.SaveEntries(ctx, changed[:1]); err != nil {
			t.Fatalf("re-save failed: %v", err)
		}

		n, _ := repo.CountEntries(ctx, domain.LoadFilter{})
		if n != 3 {
			t.Errorf("upsert should not duplicate rows: count = %d", n)
		}
	})

	t.Run("UpdateRiskFields", func(t *testing.T) {
		updates := []domain.RiskUpdate{
			{GLDetailID: "gl-003", RiskScore: 77.5, AnomalyFlags: []string{"approval"}, RuleViolations: []string{"APR-001"}},
		}
		if err := repo.UpdateRiskFields(ctx, updates); err != nil {
			t.Fatalf("UpdateRiskFields failed: %v", err)
		}

		entries, _ := repo.LoadEntries(ctx, domain.LoadFilter{FiscalYear: 2024})
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry for 2024, got %d", len(entries))
		}
		e := entries[0]
		if e.RiskScore != 77.5 {
			t.Errorf("risk score = %v, want 77.5", e.RiskScore)
		}
		if len(e.AnomalyFlags) != 1 || e.AnomalyFlags[0] != "approval" {
			t.Errorf("anomaly flags = %v", e.AnomalyFlags)
		}
		if len(e.RuleViolations) != 1 || e.RuleViolations[0] != "APR-001" {
			t.Errorf("rule violations = %v", e.RuleViolations)
		}
	})

	t.Run("ReplaceViolationsIsReplace", func(t *testing.T) {
		filter := domain.LoadFilter{FiscalYear: 2025, FiscalPeriod: 3}
		first := []domain.RuleViolation{
			{ID: "v1", GLDetailID: "gl-001", RuleID: "AMT-001", Category: domain.CategoryAmount, Severity: domain.SeverityMedium, Message: "large", Details: map[string]any{"threshold": 1000.0}, DetectedAt: time.Now().UTC()},
			{ID: "v2", GLDetailID: "gl-002", RuleID: "TIM-002", Category: domain.CategoryTime, Severity: domain.SeverityLow, DetectedAt: time.Now().UTC()},
		}
		if err := repo.ReplaceViolations(ctx, filter, first); err != nil {
			t.Fatalf("ReplaceViolations failed: %v", err)
		}

		second := first[:1]
		if err := repo.ReplaceViolations(ctx, filter, second); err != nil {
			t.Fatalf("second ReplaceViolations failed: %v", err)
		}

		got, err := repo.ListViolations(ctx, filter)
		if err != nil {
			t.Fatalf("ListViolations failed: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected replace semantics to leave 1 violation, got %d", len(got))
		}
		if got[0].RuleID != "AMT-001" || got[0].Category != domain.CategoryAmount {
			t.Errorf("wrong violation survived: %+v", got[0])
		}
		if got[0].Details["threshold"] != 1000.0 {
			t.Errorf("details not preserved: %v", got[0].Details)
		}

		byEntry, err := repo.ListViolationsForEntry(ctx, "gl-001")
		if err != nil {
			t.Fatalf("ListViolationsForEntry failed: %v", err)
		}
		if len(byEntry) != 1 {
			t.Errorf("expected 1 violation for gl-001, got %d", len(byEntry))
		}
	})

	t.Run("ViolationScopeIsolation", func(t *testing.T) {
		other := domain.LoadFilter{FiscalYear: 2024}
		v := []domain.RuleViolation{
			{ID: "v-2024", GLDetailID: "gl-003", RuleID: "APR-001", Category: domain.CategoryApproval, Severity: domain.SeverityCritical, DetectedAt: time.Now().UTC()},
		}
		if err := repo.ReplaceViolations(ctx, other, v); err != nil {
			t.Fatalf("ReplaceViolations failed: %v", err)
		}

		got, _ := repo.ListViolations(ctx, domain.LoadFilter{FiscalYear: 2025, FiscalPeriod: 3})
		if len(got) != 1 {
			t.Errorf("2025-03 scope disturbed by 2024 replace: %d violations", len(got))
		}
	})

	t.Run("ReplaceAndListRiskScores", func(t *testing.T) {
		filter := domain.LoadFilter{FiscalYear: 2025, FiscalPeriod: 3}
		scores := []*domain.RiskScore{
			{
				GLDetailID: "gl-001", Total: 85, RuleScore: 60, MLScore: 15, BenfordScore: 10,
				CategoryScores: map[domain.RuleCategory]float64{domain.CategoryAmount: 60},
				ViolatedRules:  []string{"AMT-001"},
				SeverityLevel:  domain.SeverityHigh, RequiresReview: true,
			},
			{GLDetailID: "gl-002", Total: 12, SeverityLevel: domain.SeverityLow},
		}
		if err := repo.ReplaceRiskScores(ctx, filter, scores); err != nil {
			t.Fatalf("ReplaceRiskScores failed: %v", err)
		}

		got, err := repo.ListRiskScores(ctx, filter)
		if err != nil {
			t.Fatalf("ListRiskScores failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 scores, got %d", len(got))
		}
		if got[0].GLDetailID != "gl-001" {
			t.Errorf("scores not ordered by total desc: %s first", got[0].GLDetailID)
		}
		if !got[0].RequiresReview {
			t.Error("requires_review lost")
		}
		if got[0].CategoryScores[domain.CategoryAmount] != 60 {
			t.Errorf("category scores lost: %v", got[0].CategoryScores)
		}

		// Replacing with an empty set clears the scope.
		if err := repo.ReplaceRiskScores(ctx, filter, nil); err != nil {
			t.Fatalf("empty replace failed: %v", err)
		}
		got, _ = repo.ListRiskScores(ctx, filter)
		if len(got) != 0 {
			t.Errorf("expected cleared scores, got %d", len(got))
		}
	})

	t.Run("CustomRuleCRUD", func(t *testing.T) {
		cfg := &domain.CustomRuleConfig{
			ID: "CST-001", Name: "weekend vendor", Expression: `vendor != "" && weekday >= 6`,
			Severity: domain.SeverityMedium, ScoreImpact: 12, Enabled: true,
		}
		if err := repo.SaveCustomRule(ctx, cfg); err != nil {
			t.Fatalf("SaveCustomRule failed: %v", err)
		}

		cfg.ScoreImpact = 18
		if err := repo.SaveCustomRule(ctx, cfg); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		rules, err := repo.ListCustomRules(ctx)
		if err != nil {
			t.Fatalf("ListCustomRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(rules))
		}
		if rules[0].ScoreImpact != 18 {
			t.Errorf("upsert lost score impact: %v", rules[0].ScoreImpact)
		}
		if !rules[0].Enabled {
			t.Error("enabled flag lost")
		}

		if err := repo.DeleteCustomRule(ctx, "CST-001"); err != nil {
			t.Fatalf("DeleteCustomRule failed: %v", err)
		}
		if err := repo.DeleteCustomRule(ctx, "CST-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound on double delete, got %v", err)
		}
	})

	t.Run("RunHistory", func(t *testing.T) {
		started := time.Now().UTC().Add(-time.Minute)
		completed := time.Now().UTC()
		run := &domain.BatchResult{
			RunID: "run-001", Mode: domain.ModeFull, Scope: "2025-03",
			StartedAt: started, CompletedAt: &completed,
			EntriesProcessed: 42, ViolationsFound: 7, Success: true,
			Phases: []domain.PhaseResult{{Name: domain.PhaseLoad, ProcessMs: 12}},
		}
		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		got, err := repo.GetRun(ctx, "run-001")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.EntriesProcessed != 42 || !got.Success {
			t.Errorf("run round trip lost fields: %+v", got)
		}
		if len(got.Phases) != 1 || got.Phases[0].Name != domain.PhaseLoad {
			t.Errorf("phases lost: %+v", got.Phases)
		}

		second := &domain.BatchResult{RunID: "run-002", Mode: domain.ModeQuick, Scope: "all", StartedAt: time.Now().UTC()}
		if err := repo.SaveRun(ctx, second); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		runs, err := repo.ListRuns(ctx, 10)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(runs))
		}
		if runs[0].RunID != "run-002" {
			t.Errorf("runs not newest first: %s", runs[0].RunID)
		}

		if _, err := repo.GetRun(ctx, "nope"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AggregateReplaceSemantics", func(t *testing.T) {
		rows := []domain.PeriodAccountRow{
			{FiscalYear: 2025, FiscalPeriod: 3, AccountCode: "4000", EntryCount: 2, DebitTotal: 3250.50},
			{FiscalYear: 2025, FiscalPeriod: 3, AccountCode: "2000", EntryCount: 1, CreditTotal: 1250.50},
		}
		if err := repo.ReplacePeriodAccount(ctx, "2025-03", rows); err != nil {
			t.Fatalf("ReplacePeriodAccount failed: %v", err)
		}

		n, err := repo.CountAggregateRows(ctx, domain.TablePeriodAccount, "2025-03")
		if err != nil {
			t.Fatalf("CountAggregateRows failed: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 rows, got %d", n)
		}

		// Re-running the same replace must not grow the table.
		if err := repo.ReplacePeriodAccount(ctx, "2025-03", rows); err != nil {
			t.Fatalf("second replace failed: %v", err)
		}
		n, _ = repo.CountAggregateRows(ctx, domain.TablePeriodAccount, "2025-03")
		if n != 2 {
			t.Errorf("replace not idempotent: %d rows", n)
		}

		// Shrinking the row set shrinks the table.
		if err := repo.ReplacePeriodAccount(ctx, "2025-03", rows[:1]); err != nil {
			t.Fatalf("shrinking replace failed: %v", err)
		}
		n, _ = repo.CountAggregateRows(ctx, domain.TablePeriodAccount, "2025-03")
		if n != 1 {
			t.Errorf("expected 1 row after shrink, got %d", n)
		}
	})

	t.Run("DashboardKPIRoundTrip", func(t *testing.T) {
		kpis := []domain.DashboardKPIRow{
			{Name: "total_entries", Value: 3},
			{Name: "critical_entries", Value: 1},
		}
		if err := repo.ReplaceDashboardKPI(ctx, "2025-03", kpis); err != nil {
			t.Fatalf("ReplaceDashboardKPI failed: %v", err)
		}

		got, err := repo.GetDashboardKPI(ctx, "2025-03")
		if err != nil {
			t.Fatalf("GetDashboardKPI failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 KPI rows, got %d", len(got))
		}
		if got[0].Name != "total_entries" || got[0].Value != 3 {
			t.Errorf("KPI order or values lost: %+v", got)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
