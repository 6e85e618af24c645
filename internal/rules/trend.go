package rules

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// trendRules builds the period-over-period rule family. All comparisons run
// against grouped totals computed from the loaded batch.
func trendRules(cfg TrendConfig) []domain.Rule {
	return []domain.Rule{
		momChangeRule(cfg),
		yoyChangeRule(cfg),
		consecutiveRunRule(cfg),
		volumeSpikeRule(cfg),
		periodEndConcentrationRule(cfg),
		shareShiftRule(cfg),
		volatilityRule(cfg),
	}
}

// volatilityRule flags accounts whose period totals swing wildly relative
// to their own mean (coefficient of variation).
func volatilityRule(cfg TrendConfig) domain.Rule {
	const cvLimit = 1.5
	return &rule{
		id:          "TRD-007",
		name:        "Period volatility",
		category:    domain.CategoryTrend,
		description: "Account period totals with a coefficient of variation above 1.5",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for account, series := range accountPeriodTotals(b) {
				if len(series) < 6 {
					continue
				}
				var sum, sumSq float64
				for _, pt := range series {
					sum += pt.total
					sumSq += pt.total * pt.total
				}
				n := float64(len(series))
				mean := sum / n
				if mean < cfg.MinBase {
					continue
				}
				variance := sumSq/n - mean*mean
				if variance <= 0 {
					continue
				}
				cv := math.Sqrt(variance) / mean
				if cv > cvLimit {
					c.flag(series[len(series)-1].first, fmt.Sprintf("account %s period totals have CV %.2f over %d periods", account, cv, len(series)), map[string]any{
						"account": account,
						"cv":      cv,
						"periods": len(series),
					})
				}
			}
		},
	}
}

// periodTotal is one account's activity within one fiscal period.
type periodTotal struct {
	key   domain.PeriodKey
	total float64
	count int
	first *domain.JournalEntryLine
}

// accountPeriodTotals groups the batch by account and fiscal period,
// returning per-account series sorted by period.
func accountPeriodTotals(b *domain.Batch) map[string][]periodTotal {
	type key struct {
		account string
		period  domain.PeriodKey
	}
	grouped := make(map[key]*periodTotal)
	for _, e := range b.Entries {
		if e.FiscalYear == 0 || e.FiscalPeriod == 0 {
			continue
		}
		k := key{e.AccountCode, domain.PeriodKey{Year: e.FiscalYear, Period: e.FiscalPeriod}}
		pt, ok := grouped[k]
		if !ok {
			pt = &periodTotal{key: k.period, first: e}
			grouped[k] = pt
		}
		pt.total += math.Abs(e.Amount)
		pt.count++
	}

	series := make(map[string][]periodTotal)
	for k, pt := range grouped {
		series[k.account] = append(series[k.account], *pt)
	}
	for account := range series {
		s := series[account]
		sort.Slice(s, func(i, j int) bool {
			if s[i].key.Year != s[j].key.Year {
				return s[i].key.Year < s[j].key.Year
			}
			return s[i].key.Period < s[j].key.Period
		})
		series[account] = s
	}
	return series
}

func momChangeRule(cfg TrendConfig) domain.Rule {
	return &rule{
		id:          "TRD-001",
		name:        "Month-over-month swing",
		category:    domain.CategoryTrend,
		description: fmt.Sprintf("Account total changing more than %.0f%% against the prior period", cfg.MoMChangePct),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for account, series := range accountPeriodTotals(b) {
				for i := 1; i < len(series); i++ {
					prev, cur := series[i-1], series[i]
					if cur.key != prev.key.Next() || prev.total < cfg.MinBase {
						continue
					}
					change := (cur.total - prev.total) / prev.total * 100
					if math.Abs(change) > cfg.MoMChangePct {
						c.flag(cur.first, fmt.Sprintf("account %s moved %.0f%% from period %d/%02d", account, change, prev.key.Year, prev.key.Period), map[string]any{
							"account":   account,
							"changePct": change,
							"prior":     prev.total,
							"current":   cur.total,
						})
					}
				}
			}
		},
	}
}

func yoyChangeRule(cfg TrendConfig) domain.Rule {
	return &rule{
		id:          "TRD-002",
		name:        "Year-over-year swing",
		category:    domain.CategoryTrend,
		description: fmt.Sprintf("Account total changing more than %.0f%% against the same period last year", cfg.YoYChangePct),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for account, series := range accountPeriodTotals(b) {
				byKey := make(map[domain.PeriodKey]periodTotal, len(series))
				for _, pt := range series {
					byKey[pt.key] = pt
				}
				for _, cur := range series {
					prev, ok := byKey[cur.key.PrevYear()]
					if !ok || prev.total < cfg.MinBase {
						continue
					}
					change := (cur.total - prev.total) / prev.total * 100
					if math.Abs(change) > cfg.YoYChangePct {
						c.flag(cur.first, fmt.Sprintf("account %s moved %.0f%% against %d/%02d", account, change, prev.key.Year, prev.key.Period), map[string]any{
							"account":   account,
							"changePct": change,
							"prior":     prev.total,
							"current":   cur.total,
						})
					}
				}
			}
		},
	}
}

// consecutiveRunRule flags accounts climbing (or falling) for RunLength+
// consecutive periods, a shape organic activity rarely produces.
func consecutiveRunRule(cfg TrendConfig) domain.Rule {
	return &rule{
		id:          "TRD-003",
		name:        "Consecutive same-direction run",
		category:    domain.CategoryTrend,
		description: fmt.Sprintf("%d+ consecutive periods moving in one direction", cfg.RunLength),
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for account, series := range accountPeriodTotals(b) {
				run := 0
				dir := 0
				for i := 1; i < len(series); i++ {
					prev, cur := series[i-1], series[i]
					if cur.key != prev.key.Next() {
						run, dir = 0, 0
						continue
					}
					d := 0
					if cur.total > prev.total {
						d = 1
					} else if cur.total < prev.total {
						d = -1
					}
					if d != 0 && d == dir {
						run++
					} else {
						run = 1
						dir = d
					}
					if run >= cfg.RunLength {
						c.flag(cur.first, fmt.Sprintf("account %s moved the same direction for %d periods", account, run), map[string]any{
							"account":   account,
							"runLength": run,
							"direction": dir,
						})
					}
				}
			}
		},
	}
}

func volumeSpikeRule(cfg TrendConfig) domain.Rule {
	return &rule{
		id:          "TRD-004",
		name:        "Entry volume spike",
		category:    domain.CategoryTrend,
		description: fmt.Sprintf("Period entry count above %.0fx the account's median period count", cfg.VolumeSpikeMultiple),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for account, series := range accountPeriodTotals(b) {
				if len(series) < 3 {
					continue
				}
				counts := make([]float64, len(series))
				for i, pt := range series {
					counts[i] = float64(pt.count)
				}
				sort.Float64s(counts)
				median := percentileSorted(counts, 0.5)
				if median <= 0 {
					continue
				}
				for _, pt := range series {
					if float64(pt.count) > median*cfg.VolumeSpikeMultiple {
						c.flag(pt.first, fmt.Sprintf("account %s posted %d entries in %d/%02d against a median of %.0f", account, pt.count, pt.key.Year, pt.key.Period, median), map[string]any{
							"account": account,
							"count":   pt.count,
							"median":  median,
						})
					}
				}
			}
		},
	}
}

// periodEndConcentrationRule flags accounts whose period activity lands
// almost entirely in the closing days.
func periodEndConcentrationRule(cfg TrendConfig) domain.Rule {
	const closeWindowDays = 3
	return &rule{
		id:          "TRD-005",
		name:        "Period-end concentration",
		category:    domain.CategoryTrend,
		description: fmt.Sprintf("More than %.0f%% of an account's period total in the closing days", cfg.PeriodEndShare*100),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			type key struct {
				account string
				period  domain.PeriodKey
			}
			type bucket struct {
				total, closing float64
				count          int
				first          *domain.JournalEntryLine
			}
			groups := make(map[key]*bucket)
			for _, e := range b.Entries {
				if e.FiscalYear == 0 || e.FiscalPeriod == 0 {
					continue
				}
				k := key{e.AccountCode, domain.PeriodKey{Year: e.FiscalYear, Period: e.FiscalPeriod}}
				g, ok := groups[k]
				if !ok {
					g = &bucket{first: e}
					groups[k] = g
				}
				a := math.Abs(e.Amount)
				g.total += a
				g.count++
				if daysToMonthEnd(e.EffectiveDate) < closeWindowDays {
					g.closing += a
				}
			}
			for k, g := range groups {
				if g.count < 5 || g.total <= 0 || g.total < cfg.MinBase {
					continue
				}
				share := g.closing / g.total
				if share > cfg.PeriodEndShare {
					c.flag(g.first, fmt.Sprintf("account %s booked %.0f%% of period %d/%02d in the closing days", k.account, share*100, k.period.Year, k.period.Period), map[string]any{
						"account": k.account,
						"share":   share,
						"total":   g.total,
					})
				}
			}
		},
	}
}

// shareShiftRule flags accounts whose share of the period-wide total at
// least doubles against the prior period.
func shareShiftRule(cfg TrendConfig) domain.Rule {
	const shiftMultiple = 2.0
	return &rule{
		id:          "TRD-006",
		name:        "Period share shift",
		category:    domain.CategoryTrend,
		description: "Account share of period activity doubling against the prior period",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			periodGrand := make(map[domain.PeriodKey]float64)
			for _, e := range b.Entries {
				if e.FiscalYear == 0 || e.FiscalPeriod == 0 {
					continue
				}
				k := domain.PeriodKey{Year: e.FiscalYear, Period: e.FiscalPeriod}
				periodGrand[k] += math.Abs(e.Amount)
			}
			for account, series := range accountPeriodTotals(b) {
				for i := 1; i < len(series); i++ {
					prev, cur := series[i-1], series[i]
					if cur.key != prev.key.Next() {
						continue
					}
					prevGrand, curGrand := periodGrand[prev.key], periodGrand[cur.key]
					if prevGrand <= 0 || curGrand <= 0 || prev.total < cfg.MinBase {
						continue
					}
					prevShare := prev.total / prevGrand
					curShare := cur.total / curGrand
					if prevShare > 0 && curShare >= prevShare*shiftMultiple {
						c.flag(cur.first, fmt.Sprintf("account %s share rose from %.1f%% to %.1f%% of period activity", account, prevShare*100, curShare*100), map[string]any{
							"account":    account,
							"priorShare": prevShare,
							"share":      curShare,
						})
					}
				}
			}
		},
	}
}
