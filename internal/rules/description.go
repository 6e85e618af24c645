package rules

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/opensource-finance/harrier/internal/domain"
)

// descriptionRules builds the description-quality rule family.
func descriptionRules(cfg DescriptionConfig) []domain.Rule {
	return []domain.Rule{
		missingDescriptionRule(cfg),
		shortDescriptionRule(cfg),
		suspiciousKeywordRule(cfg),
		urgentKeywordRule(cfg),
		numericOnlyDescriptionRule(),
		testEntryRule(),
		copyPasteDescriptionRule(cfg),
		reversalDescriptionRule(),
	}
}

func missingDescriptionRule(cfg DescriptionConfig) domain.Rule {
	return &rule{
		id:          "DSC-001",
		name:        "Missing description",
		category:    domain.CategoryDescription,
		description: fmt.Sprintf("No description on an entry above %.0f", cfg.MinAmountForDescription),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if strings.TrimSpace(e.Description) != "" {
					continue
				}
				if math.Abs(e.Amount) >= cfg.MinAmountForDescription {
					c.flag(e, fmt.Sprintf("no description on amount %.2f", e.Amount), map[string]any{
						"amount": e.Amount,
					})
				}
			}
		},
	}
}

func shortDescriptionRule(cfg DescriptionConfig) domain.Rule {
	return &rule{
		id:          "DSC-002",
		name:        "Short description",
		category:    domain.CategoryDescription,
		description: fmt.Sprintf("Description shorter than %d characters", cfg.MinLength),
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				d := strings.TrimSpace(e.Description)
				if d == "" {
					continue
				}
				if len(d) < cfg.MinLength {
					c.flag(e, fmt.Sprintf("description %q too short", d), map[string]any{
						"description": d,
					})
				}
			}
		},
	}
}

func suspiciousKeywordRule(cfg DescriptionConfig) domain.Rule {
	return &rule{
		id:          "DSC-003",
		name:        "Suspicious keyword",
		category:    domain.CategoryDescription,
		description: "Description containing an adjustment or plug keyword",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				lower := strings.ToLower(e.Description)
				for _, kw := range cfg.SuspiciousKeywords {
					if strings.Contains(lower, kw) {
						c.flag(e, fmt.Sprintf("description contains %q", kw), map[string]any{
							"keyword":     kw,
							"description": e.Description,
						})
						break
					}
				}
			}
		},
	}
}

func urgentKeywordRule(cfg DescriptionConfig) domain.Rule {
	return &rule{
		id:          "DSC-004",
		name:        "Urgency keyword",
		category:    domain.CategoryDescription,
		description: "Description pressing for urgent processing",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				lower := strings.ToLower(e.Description)
				for _, kw := range cfg.UrgentKeywords {
					if strings.Contains(lower, kw) {
						c.flag(e, fmt.Sprintf("description contains %q", kw), map[string]any{
							"keyword":     kw,
							"description": e.Description,
						})
						break
					}
				}
			}
		},
	}
}

func numericOnlyDescriptionRule() domain.Rule {
	return &rule{
		id:          "DSC-005",
		name:        "Numeric-only description",
		category:    domain.CategoryDescription,
		description: "Description carrying no letters at all",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				d := strings.TrimSpace(e.Description)
				if d == "" {
					continue
				}
				hasLetter := false
				for _, r := range d {
					if unicode.IsLetter(r) {
						hasLetter = true
						break
					}
				}
				if !hasLetter {
					c.flag(e, fmt.Sprintf("description %q has no letters", d), map[string]any{
						"description": d,
					})
				}
			}
		},
	}
}

func testEntryRule() domain.Rule {
	markers := []string{"test", "dummy", "delete", "do not use", "xxx"}
	return &rule{
		id:          "DSC-006",
		name:        "Test entry",
		category:    domain.CategoryDescription,
		description: "Description marking the entry as test or placeholder data",
		severity:    domain.SeverityHigh,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				lower := strings.ToLower(e.Description)
				for _, m := range markers {
					if strings.Contains(lower, m) {
						c.flag(e, fmt.Sprintf("description contains test marker %q", m), map[string]any{
							"marker":      m,
							"description": e.Description,
						})
						break
					}
				}
			}
		},
	}
}

func copyPasteDescriptionRule(cfg DescriptionConfig) domain.Rule {
	return &rule{
		id:          "DSC-007",
		name:        "Copy-paste description",
		category:    domain.CategoryDescription,
		description: fmt.Sprintf("Identical non-trivial description on %d+ entries", cfg.CopyPasteMin),
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			groups := make(map[string][]*domain.JournalEntryLine)
			for _, e := range b.Entries {
				d := strings.ToLower(strings.TrimSpace(e.Description))
				if len(d) < cfg.MinLength {
					continue
				}
				groups[d] = append(groups[d], e)
			}
			for d, entries := range groups {
				if len(entries) < cfg.CopyPasteMin {
					continue
				}
				c.flag(entries[0], fmt.Sprintf("description %q repeated on %d entries", d, len(entries)), map[string]any{
					"description": d,
					"count":       len(entries),
				})
			}
		},
	}
}

// reversalDescriptionRule flags reversal-labeled entries with no sibling of
// the opposite sign and equal magnitude in the batch.
func reversalDescriptionRule() domain.Rule {
	return &rule{
		id:          "DSC-008",
		name:        "Unmatched reversal",
		category:    domain.CategoryDescription,
		description: "Reversal-labeled entry without an offsetting counterpart",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			type key struct {
				account string
				amount  float64
				debit   bool
			}
			sides := make(map[key]int)
			for _, e := range b.Entries {
				sides[key{e.AccountCode, math.Abs(e.Amount), e.IsDebit}]++
			}
			for _, e := range b.Entries {
				lower := strings.ToLower(e.Description)
				if !strings.Contains(lower, "reversal") && !strings.Contains(lower, "reverse") {
					continue
				}
				opposite := key{e.AccountCode, math.Abs(e.Amount), !e.IsDebit}
				if sides[opposite] == 0 {
					c.flag(e, fmt.Sprintf("reversal of %.2f on account %s has no offsetting line", e.Amount, e.AccountCode), map[string]any{
						"account": e.AccountCode,
						"amount":  e.Amount,
					})
				}
			}
		},
	}
}
