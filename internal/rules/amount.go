package rules

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// amountRules builds the amount-pattern rule family.
func amountRules(cfg AmountConfig) []domain.Rule {
	return []domain.Rule{
		largeAmountRule(cfg),
		roundAmountRule(cfg),
		justBelowThresholdRule(cfg),
		zeroAmountRule(),
		negativeAmountRule(),
		accountZScoreRule(cfg),
		accountIQRRule(cfg),
		duplicateAmountRule(),
		splitTransactionRule(cfg),
		repeatingDigitsRule(cfg),
		excessPrecisionRule(),
		journalSizeRule(),
	}
}

// journalSizeRule flags journals with an implausibly large line count,
// usually a sign of an automated dump posted as one entry.
func journalSizeRule() domain.Rule {
	const maxLines = 100
	return &rule{
		id:          "AMT-012",
		name:        "Oversized journal",
		category:    domain.CategoryAmount,
		description: fmt.Sprintf("Journal with more than %d lines", maxLines),
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for journal, lines := range b.ByJournal() {
				if len(lines) <= maxLines {
					continue
				}
				c.flag(lines[0], fmt.Sprintf("journal %s has %d lines", journal, len(lines)), map[string]any{
					"journal": journal,
					"lines":   len(lines),
				})
			}
		},
	}
}

func largeAmountRule(cfg AmountConfig) domain.Rule {
	return &rule{
		id:          "AMT-001",
		name:        "Large amount",
		category:    domain.CategoryAmount,
		description: fmt.Sprintf("Entry amount at or above %.0f", cfg.LargeAmount),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if math.Abs(e.Amount) >= cfg.LargeAmount {
					c.flag(e, fmt.Sprintf("amount %.2f exceeds large-amount threshold", e.Amount), map[string]any{
						"amount":    e.Amount,
						"threshold": cfg.LargeAmount,
					})
				}
			}
		},
	}
}

func roundAmountRule(cfg AmountConfig) domain.Rule {
	return &rule{
		id:          "AMT-002",
		name:        "Suspiciously round amount",
		category:    domain.CategoryAmount,
		description: fmt.Sprintf("Amount divisible by %.0f at or above %.0f", cfg.RoundDivisor, cfg.RoundMin),
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				abs := math.Abs(e.Amount)
				if abs < cfg.RoundMin {
					continue
				}
				if math.Mod(abs, cfg.RoundDivisor) == 0 {
					c.flag(e, fmt.Sprintf("round amount %.2f", e.Amount), map[string]any{
						"amount":  e.Amount,
						"divisor": cfg.RoundDivisor,
					})
				}
			}
		},
	}
}

func justBelowThresholdRule(cfg AmountConfig) domain.Rule {
	return &rule{
		id:          "AMT-003",
		name:        "Just below approval threshold",
		category:    domain.CategoryAmount,
		description: "Amount within the margin directly below an approval ladder rung",
		severity:    domain.SeverityHigh,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				abs := math.Abs(e.Amount)
				for _, rung := range cfg.JustBelowLadder {
					if abs < rung && abs >= rung*(1-cfg.JustBelowMargin) {
						c.flag(e, fmt.Sprintf("amount %.2f sits just below approval threshold %.0f", e.Amount, rung), map[string]any{
							"amount":    e.Amount,
							"threshold": rung,
							"margin":    cfg.JustBelowMargin,
						})
						break
					}
				}
			}
		},
	}
}

func zeroAmountRule() domain.Rule {
	return &rule{
		id:          "AMT-004",
		name:        "Zero amount",
		category:    domain.CategoryAmount,
		description: "Posted line with a zero amount",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.Amount == 0 {
					c.flag(e, "zero-amount line", nil)
				}
			}
		},
	}
}

func negativeAmountRule() domain.Rule {
	return &rule{
		id:          "AMT-005",
		name:        "Negative amount",
		category:    domain.CategoryAmount,
		description: "Negative raw amount; sign should come from the debit flag",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.Amount < 0 {
					c.flag(e, fmt.Sprintf("negative amount %.2f on a signed-by-flag ledger", e.Amount), map[string]any{
						"amount": e.Amount,
					})
				}
			}
		},
	}
}

func accountZScoreRule(cfg AmountConfig) domain.Rule {
	return &rule{
		id:          "AMT-006",
		name:        "Per-account amount outlier (z-score)",
		category:    domain.CategoryAmount,
		description: fmt.Sprintf("Amount more than %.1f standard deviations from the account mean", cfg.ZScoreLimit),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for account, entries := range b.ByAccount() {
				if len(entries) < 5 {
					continue
				}
				var sum, sumSq float64
				for _, e := range entries {
					a := math.Abs(e.Amount)
					sum += a
					sumSq += a * a
				}
				n := float64(len(entries))
				mean := sum / n
				variance := sumSq/n - mean*mean
				if variance <= 0 {
					continue
				}
				std := math.Sqrt(variance)
				for _, e := range entries {
					z := (math.Abs(e.Amount) - mean) / std
					if z > cfg.ZScoreLimit {
						c.flag(e, fmt.Sprintf("amount %.2f is %.1f sigma above account %s mean", e.Amount, z, account), map[string]any{
							"account": account,
							"zScore":  z,
							"mean":    mean,
						})
					}
				}
			}
		},
	}
}

func accountIQRRule(cfg AmountConfig) domain.Rule {
	return &rule{
		id:          "AMT-007",
		name:        "Per-account amount outlier (IQR)",
		category:    domain.CategoryAmount,
		description: fmt.Sprintf("Amount beyond %.1f interquartile ranges outside the account quartiles", cfg.IQRFactor),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for account, entries := range b.ByAccount() {
				if len(entries) < 5 {
					continue
				}
				amounts := make([]float64, len(entries))
				for i, e := range entries {
					amounts[i] = math.Abs(e.Amount)
				}
				sort.Float64s(amounts)
				q1 := percentileSorted(amounts, 0.25)
				q3 := percentileSorted(amounts, 0.75)
				iqr := q3 - q1
				if iqr <= 0 {
					continue
				}
				lo := q1 - cfg.IQRFactor*iqr
				hi := q3 + cfg.IQRFactor*iqr
				for _, e := range entries {
					a := math.Abs(e.Amount)
					if a < lo || a > hi {
						c.flag(e, fmt.Sprintf("amount %.2f outside IQR fence [%.2f, %.2f] for account %s", e.Amount, lo, hi, account), map[string]any{
							"account": account,
							"low":     lo,
							"high":    hi,
						})
					}
				}
			}
		},
	}
}

func duplicateAmountRule() domain.Rule {
	return &rule{
		id:          "AMT-008",
		name:        "Duplicate amount",
		category:    domain.CategoryAmount,
		description: "Identical amount posted repeatedly to one account on one date",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			type key struct {
				account string
				date    string
				amount  float64
			}
			groups := make(map[key][]*domain.JournalEntryLine)
			for _, e := range b.Entries {
				if e.Amount == 0 {
					continue
				}
				k := key{e.AccountCode, e.EffectiveDate.Format("2006-01-02"), e.Amount}
				groups[k] = append(groups[k], e)
			}
			for k, entries := range groups {
				if len(entries) < 2 {
					continue
				}
				for _, e := range entries {
					c.flag(e, fmt.Sprintf("amount %.2f posted %d times to account %s on %s", k.amount, len(entries), k.account, k.date), map[string]any{
						"account": k.account,
						"date":    k.date,
						"count":   len(entries),
					})
				}
			}
		},
	}
}

func splitTransactionRule(cfg AmountConfig) domain.Rule {
	return &rule{
		id:          "AMT-009",
		name:        "Split transaction",
		category:    domain.CategoryAmount,
		description: fmt.Sprintf("%d+ same-day entries by one user on one account summing above %.0f", cfg.SplitCount, cfg.SplitTotal),
		severity:    domain.SeverityHigh,
		check: func(b *domain.Batch, c *collector) {
			type key struct {
				user    string
				account string
				date    string
			}
			groups := make(map[key][]*domain.JournalEntryLine)
			for _, e := range b.Entries {
				if e.PreparedBy == "" {
					continue
				}
				k := key{e.PreparedBy, e.AccountCode, e.EffectiveDate.Format("2006-01-02")}
				groups[k] = append(groups[k], e)
			}
			for k, entries := range groups {
				if len(entries) < cfg.SplitCount {
					continue
				}
				var total float64
				for _, e := range entries {
					total += math.Abs(e.Amount)
				}
				if total <= cfg.SplitTotal {
					continue
				}
				for _, e := range entries {
					c.flag(e, fmt.Sprintf("%d entries by %s on account %s dated %s sum to %.2f", len(entries), k.user, k.account, k.date, total), map[string]any{
						"user":    k.user,
						"account": k.account,
						"count":   len(entries),
						"total":   total,
					})
				}
			}
		},
	}
}

func repeatingDigitsRule(cfg AmountConfig) domain.Rule {
	return &rule{
		id:          "AMT-010",
		name:        "Repeating digit pattern",
		category:    domain.CategoryAmount,
		description: "Integer part made of a single repeated digit (e.g. 777777)",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				abs := math.Abs(e.Amount)
				if abs < cfg.RepeatDigitMin {
					continue
				}
				digits := strconv.FormatInt(int64(abs), 10)
				if len(digits) < 3 {
					continue
				}
				if strings.Count(digits, digits[:1]) == len(digits) {
					c.flag(e, fmt.Sprintf("amount %.2f is a repeated-digit pattern", e.Amount), map[string]any{
						"amount": e.Amount,
					})
				}
			}
		},
	}
}

func excessPrecisionRule() domain.Rule {
	return &rule{
		id:          "AMT-011",
		name:        "Excess decimal precision",
		category:    domain.CategoryAmount,
		description: "Amount carrying sub-cent precision",
		severity:    domain.SeverityInfo,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				cents := math.Abs(e.Amount) * 100
				if math.Abs(cents-math.Round(cents)) > 1e-6 {
					c.flag(e, fmt.Sprintf("amount %v has sub-cent precision", e.Amount), map[string]any{
						"amount": e.Amount,
					})
				}
			}
		},
	}
}

// percentileSorted interpolates the p-quantile of an ascending slice.
func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
