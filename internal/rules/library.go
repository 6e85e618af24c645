package rules

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// BuiltinRules assembles the full built-in library under the given
// configuration. The ML rules share one seed so repeated passes over an
// unchanged batch reproduce their results.
func BuiltinRules(cfg Config, seed int64) ([]domain.Rule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rule config: %w", err)
	}

	var all []domain.Rule
	all = append(all, amountRules(cfg.Amount)...)
	all = append(all, timingRules(cfg.Time)...)
	all = append(all, accountRules(cfg.Account)...)
	all = append(all, approvalRules(cfg.Approval)...)
	all = append(all, descriptionRules(cfg.Description)...)
	all = append(all, benfordRules(cfg.Benford)...)
	all = append(all, trendRules(cfg.Trend)...)
	all = append(all, mlRules(seed)...)
	return all, nil
}
