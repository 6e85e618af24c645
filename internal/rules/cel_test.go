package rules

import (
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestCompileCustomRuleFlagsMatches(t *testing.T) {
	compiled, errs := CompileCustomRules([]domain.CustomRuleConfig{
		{
			ID:          "CUS-001",
			Name:        "Large facilities postings",
			Expression:  `abs_amount > 500000.0 && department == "facilities"`,
			Severity:    domain.SeverityHigh,
			ScoreImpact: 12,
			Enabled:     true,
		},
	})
	if len(errs) != 0 {
		t.Fatalf("compile errors: %v", errs)
	}
	if len(compiled) != 1 {
		t.Fatalf("expected 1 compiled rule, got %d", len(compiled))
	}
	r := compiled[0]
	if r.Category() != domain.CategoryCustom {
		t.Errorf("category = %s, want custom", r.Category())
	}

	hit := makeEntry("hit", 600_000, func(e *domain.JournalEntryLine) { e.Department = "facilities" })
	missDept := makeEntry("miss-dept", 600_000, func(e *domain.JournalEntryLine) { e.Department = "it" })
	missAmount := makeEntry("miss-amt", 400_000, func(e *domain.JournalEntryLine) { e.Department = "facilities" })

	res := r.Execute(domain.NewBatch([]*domain.JournalEntryLine{hit, missDept, missAmount}))
	if res.Failed() {
		t.Fatal(res.Error)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(res.Violations))
	}
	v := res.Violations[0]
	if v.GLDetailID != "hit" {
		t.Errorf("flagged %s, want hit", v.GLDetailID)
	}
	if v.ScoreImpact != 12 {
		t.Errorf("score impact = %v, want 12", v.ScoreImpact)
	}
	if v.Severity != domain.SeverityHigh {
		t.Errorf("severity = %s, want high", v.Severity)
	}
}

func TestCompileCustomRuleRejectsNonBool(t *testing.T) {
	_, errs := CompileCustomRules([]domain.CustomRuleConfig{
		{ID: "CUS-BAD", Name: "Returns a number", Expression: `amount * 2.0`, Enabled: true},
	})
	if len(errs) != 1 {
		t.Fatalf("expected 1 compile error, got %v", errs)
	}
}

func TestCompileCustomRulesSkipsDisabled(t *testing.T) {
	compiled, errs := CompileCustomRules([]domain.CustomRuleConfig{
		{ID: "CUS-OFF", Name: "Disabled", Expression: `true`, Enabled: false},
	})
	if len(errs) != 0 || len(compiled) != 0 {
		t.Fatalf("disabled rule should be skipped, got %d rules %v", len(compiled), errs)
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Amount.JustBelowMargin = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for margin above 1")
	}

	cfg = DefaultConfig()
	cfg.Time.AfterHoursStart = 22
	cfg.Time.AfterHoursEnd = 6
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for inverted hour window")
	}
}

func TestBuiltinRuleIDsAreUnique(t *testing.T) {
	lib, err := BuiltinRules(DefaultConfig(), 42)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, r := range lib {
		if seen[r.ID()] {
			t.Errorf("duplicate rule id %s", r.ID())
		}
		seen[r.ID()] = true
	}
	if len(lib) < 60 {
		t.Errorf("library holds %d rules, expected the full built-in set", len(lib))
	}
}
