package rules

import (
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// timingRules builds the posting-time rule family.
func timingRules(cfg TimeConfig) []domain.Rule {
	return []domain.Rule{
		weekendEntryRule(),
		afterHoursRule(cfg),
		holidayEntryRule(cfg),
		monthEndRule(cfg),
		quarterEndRule(cfg),
		yearEndRule(cfg),
		backdatedEntryRule(cfg),
		futureDatedEntryRule(cfg),
		stalePeriodRule(cfg),
		postingBurstRule(),
	}
}

// postingBurstRule flags one user posting a burst of entries within a
// single clock hour.
func postingBurstRule() domain.Rule {
	const burstMin = 20
	return &rule{
		id:          "TIM-010",
		name:        "Posting burst",
		category:    domain.CategoryTime,
		description: fmt.Sprintf("%d+ entries by one user within one hour", burstMin),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			type key struct {
				user string
				date string
				hour int
			}
			groups := make(map[key][]*domain.JournalEntryLine)
			for _, e := range b.Entries {
				if e.PreparedBy == "" || e.EntryTime == "" {
					continue
				}
				k := key{e.PreparedBy, e.EntryDate.Format("2006-01-02"), e.EntryHour()}
				groups[k] = append(groups[k], e)
			}
			for k, entries := range groups {
				if len(entries) < burstMin {
					continue
				}
				c.flag(entries[0], fmt.Sprintf("%s posted %d entries in hour %02d on %s", k.user, len(entries), k.hour, k.date), map[string]any{
					"user":  k.user,
					"hour":  k.hour,
					"date":  k.date,
					"count": len(entries),
				})
			}
		},
	}
}

func weekendEntryRule() domain.Rule {
	return &rule{
		id:          "TIM-001",
		name:        "Weekend posting",
		category:    domain.CategoryTime,
		description: "Entry posted on a Saturday or Sunday",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				wd := e.EntryDate.Weekday()
				if wd == time.Saturday || wd == time.Sunday {
					c.flag(e, fmt.Sprintf("posted on %s", wd), map[string]any{
						"weekday": wd.String(),
					})
				}
			}
		},
	}
}

func afterHoursRule(cfg TimeConfig) domain.Rule {
	return &rule{
		id:          "TIM-002",
		name:        "After-hours posting",
		category:    domain.CategoryTime,
		description: fmt.Sprintf("Entry posted outside the %02d:00-%02d:00 window", cfg.AfterHoursStart, cfg.AfterHoursEnd),
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.EntryTime == "" {
					continue
				}
				h := e.EntryHour()
				if h < cfg.AfterHoursStart || h >= cfg.AfterHoursEnd {
					c.flag(e, fmt.Sprintf("posted at hour %02d", h), map[string]any{
						"hour": h,
					})
				}
			}
		},
	}
}

func holidayEntryRule(cfg TimeConfig) domain.Rule {
	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, d := range cfg.Holidays {
		holidays[d] = true
	}
	return &rule{
		id:          "TIM-003",
		name:        "Holiday posting",
		category:    domain.CategoryTime,
		description: "Entry posted on a configured closure day",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				md := e.EntryDate.Format("01-02")
				if holidays[md] {
					c.flag(e, fmt.Sprintf("posted on closure day %s", md), map[string]any{
						"day": md,
					})
				}
			}
		},
	}
}

func monthEndRule(cfg TimeConfig) domain.Rule {
	return &rule{
		id:          "TIM-004",
		name:        "Month-end posting",
		category:    domain.CategoryTime,
		description: fmt.Sprintf("Effective date within the last %d days of the month", cfg.PeriodEndDays),
		severity:    domain.SeverityInfo,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if daysToMonthEnd(e.EffectiveDate) < cfg.PeriodEndDays {
					c.flag(e, "effective in the month-close window", map[string]any{
						"effectiveDate": e.EffectiveDate.Format("2006-01-02"),
					})
				}
			}
		},
	}
}

func quarterEndRule(cfg TimeConfig) domain.Rule {
	return &rule{
		id:          "TIM-005",
		name:        "Quarter-end posting",
		category:    domain.CategoryTime,
		description: "Effective date in the close window of a quarter-ending month",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				m := e.EffectiveDate.Month()
				if m != time.March && m != time.June && m != time.September && m != time.December {
					continue
				}
				if daysToMonthEnd(e.EffectiveDate) < cfg.PeriodEndDays {
					c.flag(e, "effective in the quarter-close window", map[string]any{
						"effectiveDate": e.EffectiveDate.Format("2006-01-02"),
					})
				}
			}
		},
	}
}

func yearEndRule(cfg TimeConfig) domain.Rule {
	return &rule{
		id:          "TIM-006",
		name:        "Year-end posting",
		category:    domain.CategoryTime,
		description: "Effective date in the final fiscal period's close window",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.FiscalPeriod != 12 {
					continue
				}
				if daysToMonthEnd(e.EffectiveDate) < cfg.PeriodEndDays {
					c.flag(e, "effective in the year-close window", map[string]any{
						"effectiveDate": e.EffectiveDate.Format("2006-01-02"),
						"fiscalYear":    e.FiscalYear,
					})
				}
			}
		},
	}
}

func backdatedEntryRule(cfg TimeConfig) domain.Rule {
	return &rule{
		id:          "TIM-007",
		name:        "Backdated entry",
		category:    domain.CategoryTime,
		description: fmt.Sprintf("Effective date more than %d days before the entry date", cfg.BackdatedDays),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				lag := int(e.EntryDate.Sub(e.EffectiveDate).Hours() / 24)
				if lag > cfg.BackdatedDays {
					c.flag(e, fmt.Sprintf("backdated by %d days", lag), map[string]any{
						"lagDays": lag,
					})
				}
			}
		},
	}
}

func futureDatedEntryRule(cfg TimeConfig) domain.Rule {
	return &rule{
		id:          "TIM-008",
		name:        "Future-dated entry",
		category:    domain.CategoryTime,
		description: fmt.Sprintf("Effective date more than %d days after the entry date", cfg.FutureDays),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				lead := int(e.EffectiveDate.Sub(e.EntryDate).Hours() / 24)
				if lead > cfg.FutureDays {
					c.flag(e, fmt.Sprintf("future-dated by %d days", lead), map[string]any{
						"leadDays": lead,
					})
				}
			}
		},
	}
}

func stalePeriodRule(cfg TimeConfig) domain.Rule {
	return &rule{
		id:          "TIM-009",
		name:        "Stale-period posting",
		category:    domain.CategoryTime,
		description: fmt.Sprintf("Entry posted more than %d days after its fiscal period ended", cfg.StalePeriodDays),
		severity:    domain.SeverityHigh,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.FiscalYear == 0 || e.FiscalPeriod == 0 {
					continue
				}
				periodEnd := time.Date(e.FiscalYear, time.Month(e.FiscalPeriod)+1, 1, 0, 0, 0, 0, time.UTC)
				lag := int(e.EntryDate.Sub(periodEnd).Hours() / 24)
				if lag > cfg.StalePeriodDays {
					c.flag(e, fmt.Sprintf("posted %d days after period %d/%d closed", lag, e.FiscalYear, e.FiscalPeriod), map[string]any{
						"fiscalYear":   e.FiscalYear,
						"fiscalPeriod": e.FiscalPeriod,
						"lagDays":      lag,
					})
				}
			}
		},
	}
}

// daysToMonthEnd counts whole days remaining in the date's month.
func daysToMonthEnd(d time.Time) int {
	firstNext := time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, d.Location())
	lastDay := firstNext.AddDate(0, 0, -1).Day()
	return lastDay - d.Day()
}
