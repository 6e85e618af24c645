package rules

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/harrier/internal/domain"
)

// celEnv builds the CEL environment exposing one journal entry line per
// evaluation.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("entry", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("abs_amount", cel.DoubleType),
		cel.Variable("is_debit", cel.BoolType),
		cel.Variable("account", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("vendor", cel.StringType),
		cel.Variable("department", cel.StringType),
		cel.Variable("prepared_by", cel.StringType),
		cel.Variable("approved_by", cel.StringType),
		cel.Variable("business_unit", cel.StringType),
		cel.Variable("fiscal_year", cel.IntType),
		cel.Variable("fiscal_period", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("hour", cel.IntType),
	)
}

// CompileCustomRule compiles a stored CEL expression into an executable
// rule. The expression is evaluated once per entry line and must return
// bool; true flags the line.
func CompileCustomRule(env *cel.Env, cfg domain.CustomRuleConfig) (domain.Rule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("custom rule requires an id")
	}
	if cfg.Expression == "" {
		return nil, fmt.Errorf("custom rule %s: expression is required", cfg.ID)
	}

	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile custom rule %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("custom rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program for custom rule %s: %w", cfg.ID, err)
	}

	sev := cfg.Severity
	if sev == "" {
		sev = domain.SeverityMedium
	}

	return &rule{
		id:          cfg.ID,
		name:        cfg.Name,
		category:    domain.CategoryCustom,
		description: cfg.Description,
		severity:    sev,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				out, _, err := program.Eval(activation(e))
				if err != nil {
					c.fail(fmt.Errorf("evaluate custom rule %s: %w", cfg.ID, err))
					return
				}
				hit, ok := out.(types.Bool)
				if !ok {
					c.fail(fmt.Errorf("custom rule %s returned non-bool %T", cfg.ID, out))
					return
				}
				if bool(hit) {
					c.flagImpact(e, cfg.ScoreImpact, fmt.Sprintf("matched custom rule %s", cfg.Name), map[string]any{
						"expression": cfg.Expression,
					})
				}
			}
		},
	}, nil
}

// CompileCustomRules compiles every enabled config, collecting per-rule
// compile errors without dropping the rest.
func CompileCustomRules(configs []domain.CustomRuleConfig) ([]domain.Rule, []error) {
	env, err := celEnv()
	if err != nil {
		return nil, []error{fmt.Errorf("create CEL environment: %w", err)}
	}

	var compiled []domain.Rule
	var errs []error
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		r, err := CompileCustomRule(env, cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		compiled = append(compiled, r)
	}
	return compiled, errs
}

// activation maps one entry line onto the CEL variable set.
func activation(e *domain.JournalEntryLine) map[string]any {
	return map[string]any{
		"entry": map[string]any{
			"gl_detail_id": e.GLDetailID,
			"journal_id":   e.JournalID,
			"account":      e.AccountCode,
			"amount":       e.Amount,
			"is_debit":     e.IsDebit,
		},
		"amount":        e.Amount,
		"abs_amount":    math.Abs(e.Amount),
		"is_debit":      e.IsDebit,
		"account":       e.AccountCode,
		"description":   e.Description,
		"source":        e.Source,
		"vendor":        e.VendorID,
		"department":    e.Department,
		"prepared_by":   e.PreparedBy,
		"approved_by":   e.ApprovedBy,
		"business_unit": e.BusinessUnit,
		"fiscal_year":   e.FiscalYear,
		"fiscal_period": e.FiscalPeriod,
		"weekday":       int(e.EntryDate.Weekday()),
		"hour":          e.EntryHour(),
	}
}
