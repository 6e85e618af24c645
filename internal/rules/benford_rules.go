package rules

import (
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/benford"
	"github.com/opensource-finance/harrier/internal/domain"
)

// benfordRules builds the digit-distribution rule family.
func benfordRules(cfg BenfordConfig) []domain.Rule {
	return []domain.Rule{
		firstDigitRule(cfg),
		secondDigitRule(cfg),
		firstTwoDigitsRule(cfg),
		perUserDigitRule(cfg),
		perAccountDigitRule(cfg),
		roundEndingRule(cfg),
		lastDigitUniformityRule(cfg),
	}
}

// batchAmounts collects the nonzero absolute amounts of the batch.
func batchAmounts(b *domain.Batch) []float64 {
	amounts := make([]float64, 0, b.Size())
	for _, e := range b.Entries {
		if a := math.Abs(e.Amount); a > 0 {
			amounts = append(amounts, a)
		}
	}
	return amounts
}

// firstDigitRule runs the leading-digit conformity test over the batch and,
// on nonconformity, flags the entries carrying the most over-represented
// digit.
func firstDigitRule(cfg BenfordConfig) domain.Rule {
	return &rule{
		id:          "BEN-001",
		name:        "First-digit distribution",
		category:    domain.CategoryBenford,
		description: "Leading-digit frequencies against the Benford expectation",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			amounts := batchAmounts(b)
			if len(amounts) < cfg.MinSample {
				return
			}
			res := benford.AnalyzeFirstDigit(amounts)
			if res.Conformity != domain.ConformityNonconforming {
				return
			}
			digit, excess := res.MostOverRepresentedDigit()
			if !cfg.FlagContributors || digit < 0 {
				return
			}
			for _, e := range b.Entries {
				if benford.FirstDigit(math.Abs(e.Amount)) == digit {
					c.flag(e, fmt.Sprintf("leading digit %d over-represented by %.1f%% in a nonconforming batch", digit, excess*100), map[string]any{
						"digit":     digit,
						"excess":    excess,
						"mad":       res.MAD,
						"chiSquare": res.ChiSquare,
						"pValue":    res.PValue,
					})
				}
			}
		},
	}
}

func secondDigitRule(cfg BenfordConfig) domain.Rule {
	return &rule{
		id:          "BEN-002",
		name:        "Second-digit distribution",
		category:    domain.CategoryBenford,
		description: "Second-digit frequencies against the Benford expectation",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			amounts := batchAmounts(b)
			if len(amounts) < cfg.MinSample {
				return
			}
			res := benford.AnalyzeSecondDigit(amounts)
			if res.Conformity != domain.ConformityNonconforming {
				return
			}
			digit, excess := res.MostOverRepresentedDigit()
			if !cfg.FlagContributors || digit < 0 {
				return
			}
			for _, e := range b.Entries {
				if benford.SecondDigit(math.Abs(e.Amount)) == digit {
					c.flag(e, fmt.Sprintf("second digit %d over-represented by %.1f%% in a nonconforming batch", digit, excess*100), map[string]any{
						"digit":  digit,
						"excess": excess,
						"mad":    res.MAD,
						"pValue": res.PValue,
					})
				}
			}
		},
	}
}

// firstTwoDigitsRule runs the digit-pair test, which is far more sensitive
// to fabricated amounts than the single-digit tests.
func firstTwoDigitsRule(cfg BenfordConfig) domain.Rule {
	return &rule{
		id:          "BEN-007",
		name:        "First-two-digit distribution",
		category:    domain.CategoryBenford,
		description: "Leading digit-pair frequencies against the Benford expectation",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			amounts := batchAmounts(b)
			if len(amounts) < cfg.MinSample*5 {
				return
			}
			res := benford.AnalyzeFirstTwoDigits(amounts)
			if res.Conformity != domain.ConformityNonconforming {
				return
			}
			digit, excess := res.MostOverRepresentedDigit()
			if !cfg.FlagContributors || digit < 10 {
				return
			}
			for _, e := range b.Entries {
				if benford.FirstTwoDigits(math.Abs(e.Amount)) == digit {
					c.flag(e, fmt.Sprintf("digit pair %d over-represented by %.2f%% in a nonconforming batch", digit, excess*100), map[string]any{
						"digits": digit,
						"excess": excess,
						"mad":    res.MAD,
						"pValue": res.PValue,
					})
				}
			}
		},
	}
}

// perUserDigitRule runs the leading-digit test per preparer, catching users
// whose own amounts deviate even when the batch conforms overall.
func perUserDigitRule(cfg BenfordConfig) domain.Rule {
	return &rule{
		id:          "BEN-003",
		name:        "Per-user first-digit distribution",
		category:    domain.CategoryBenford,
		description: "Leading-digit conformity of each preparer's amounts",
		severity:    domain.SeverityHigh,
		check: func(b *domain.Batch, c *collector) {
			for user, entries := range b.ByUser() {
				if user == "" || len(entries) < cfg.PerUserMinSample {
					continue
				}
				amounts := make([]float64, 0, len(entries))
				for _, e := range entries {
					if a := math.Abs(e.Amount); a > 0 {
						amounts = append(amounts, a)
					}
				}
				if len(amounts) < cfg.PerUserMinSample {
					continue
				}
				res := benford.AnalyzeFirstDigit(amounts)
				if res.Conformity != domain.ConformityNonconforming {
					continue
				}
				c.flag(entries[0], fmt.Sprintf("amounts by %s are nonconforming (MAD %.4f, p=%.4f)", user, res.MAD, res.PValue), map[string]any{
					"user":   user,
					"sample": res.SampleSize,
					"mad":    res.MAD,
					"pValue": res.PValue,
				})
			}
		},
	}
}

func perAccountDigitRule(cfg BenfordConfig) domain.Rule {
	return &rule{
		id:          "BEN-004",
		name:        "Per-account first-digit distribution",
		category:    domain.CategoryBenford,
		description: "Leading-digit conformity of each account's amounts",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for account, entries := range b.ByAccount() {
				if len(entries) < cfg.PerUserMinSample {
					continue
				}
				amounts := make([]float64, 0, len(entries))
				for _, e := range entries {
					if a := math.Abs(e.Amount); a > 0 {
						amounts = append(amounts, a)
					}
				}
				if len(amounts) < cfg.PerUserMinSample {
					continue
				}
				res := benford.AnalyzeFirstDigit(amounts)
				if res.Conformity != domain.ConformityNonconforming {
					continue
				}
				c.flag(entries[0], fmt.Sprintf("amounts on account %s are nonconforming (MAD %.4f, p=%.4f)", account, res.MAD, res.PValue), map[string]any{
					"account": account,
					"sample":  res.SampleSize,
					"mad":     res.MAD,
					"pValue":  res.PValue,
				})
			}
		},
	}
}

// roundEndingRule flags the batch when psychologically priced endings (.99,
// .00 on the cent pair) dominate beyond the configured share.
func roundEndingRule(cfg BenfordConfig) domain.Rule {
	return &rule{
		id:          "BEN-005",
		name:        "Round-ending concentration",
		category:    domain.CategoryBenford,
		description: fmt.Sprintf("Share of .00/.99 cent endings above %.0f%%", cfg.RoundEndingShare*100),
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			amounts := batchAmounts(b)
			if len(amounts) < cfg.MinSample {
				return
			}
			var hits []*domain.JournalEntryLine
			for _, e := range b.Entries {
				a := math.Abs(e.Amount)
				if a == 0 {
					continue
				}
				cents := int(math.Round(a*100)) % 100
				if cents == 0 || cents == 99 {
					hits = append(hits, e)
				}
			}
			share := float64(len(hits)) / float64(len(amounts))
			if share <= cfg.RoundEndingShare {
				return
			}
			c.flag(hits[0], fmt.Sprintf("%.0f%% of amounts end in .00 or .99", share*100), map[string]any{
				"share":  share,
				"sample": len(amounts),
			})
		},
	}
}

// lastDigitUniformityRule tests the final integer digit against the uniform
// distribution expected of genuine amounts.
func lastDigitUniformityRule(cfg BenfordConfig) domain.Rule {
	return &rule{
		id:          "BEN-006",
		name:        "Last-digit uniformity",
		category:    domain.CategoryBenford,
		description: "Final integer digit frequencies against a uniform expectation",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			amounts := batchAmounts(b)
			if len(amounts) < cfg.MinSample*2 {
				return
			}
			counts := make(map[int]int, 10)
			for _, a := range amounts {
				counts[int(a)%10]++
			}
			// Pearson chi-square against uniform 1/10.
			expected := float64(len(amounts)) / 10
			var chi float64
			for d := 0; d < 10; d++ {
				diff := float64(counts[d]) - expected
				chi += diff * diff / expected
			}
			p := benford.ChiSquarePValue(chi, 9)
			if p >= 0.01 {
				return
			}
			c.flag(b.Entries[0], fmt.Sprintf("last-digit distribution is non-uniform (chi2=%.1f, p=%.4f)", chi, p), map[string]any{
				"chiSquare": chi,
				"pValue":    p,
				"sample":    len(amounts),
			})
		},
	}
}
