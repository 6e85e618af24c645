package rules

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// selfApprovalImpact is the fixed score impact of a self-approved entry.
const selfApprovalImpact = 25

// approvalRules builds the approval-workflow rule family.
func approvalRules(cfg ApprovalConfig) []domain.Rule {
	return []domain.Rule{
		selfApprovalRule(cfg),
		missingApproverRule(),
		missingPreparerRule(),
		approvalBeforeEntryRule(),
		delayedApprovalRule(cfg),
		highAmountNoApprovalRule(cfg),
		frequentPairRule(cfg),
		bulkApprovalRule(cfg),
		preparerSpikeRule(cfg),
		weekendApprovalRule(),
	}
}

func weekendApprovalRule() domain.Rule {
	return &rule{
		id:          "APR-010",
		name:        "Weekend approval",
		category:    domain.CategoryApproval,
		description: "Entry approved on a Saturday or Sunday",
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.ApprovedDate == nil {
					continue
				}
				wd := e.ApprovedDate.Weekday()
				if wd == time.Saturday || wd == time.Sunday {
					c.flag(e, fmt.Sprintf("approved on %s", wd), map[string]any{
						"weekday": wd.String(),
					})
				}
			}
		},
	}
}

// selfApprovalRule flags entries approved by their own preparer. Amounts at
// or below the configured floor pass.
func selfApprovalRule(cfg ApprovalConfig) domain.Rule {
	return &rule{
		id:          "APR-001",
		name:        "Self-approval",
		category:    domain.CategoryApproval,
		description: fmt.Sprintf("Preparer approved their own entry above %.0f", cfg.SelfApprovalMin),
		severity:    domain.SeverityCritical,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.PreparedBy == "" || e.PreparedBy != e.ApprovedBy {
					continue
				}
				if math.Abs(e.Amount) > cfg.SelfApprovalMin {
					c.flagImpact(e, selfApprovalImpact,
						fmt.Sprintf("%s prepared and approved %.2f", e.PreparedBy, e.Amount), map[string]any{
							"user":   e.PreparedBy,
							"amount": e.Amount,
						})
				}
			}
		},
	}
}

func missingApproverRule() domain.Rule {
	return &rule{
		id:          "APR-002",
		name:        "Missing approver",
		category:    domain.CategoryApproval,
		description: "Posted entry with no approver recorded",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.ApprovedBy == "" {
					c.flag(e, "no approver recorded", nil)
				}
			}
		},
	}
}

func missingPreparerRule() domain.Rule {
	return &rule{
		id:          "APR-003",
		name:        "Missing preparer",
		category:    domain.CategoryApproval,
		description: "Posted entry with no preparer recorded",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.PreparedBy == "" {
					c.flag(e, "no preparer recorded", nil)
				}
			}
		},
	}
}

func approvalBeforeEntryRule() domain.Rule {
	return &rule{
		id:          "APR-004",
		name:        "Approval predates entry",
		category:    domain.CategoryApproval,
		description: "Approval timestamp earlier than the entry date",
		severity:    domain.SeverityHigh,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.ApprovedDate == nil {
					continue
				}
				if e.ApprovedDate.Before(e.EntryDate) {
					c.flag(e, fmt.Sprintf("approved %s before entry %s",
						e.ApprovedDate.Format("2006-01-02"), e.EntryDate.Format("2006-01-02")), map[string]any{
						"approvedDate": e.ApprovedDate.Format("2006-01-02"),
						"entryDate":    e.EntryDate.Format("2006-01-02"),
					})
				}
			}
		},
	}
}

func delayedApprovalRule(cfg ApprovalConfig) domain.Rule {
	return &rule{
		id:          "APR-005",
		name:        "Delayed approval",
		category:    domain.CategoryApproval,
		description: fmt.Sprintf("Approval lagging entry by more than %d days", cfg.DelayedApprovalDays),
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.ApprovedDate == nil {
					continue
				}
				lag := int(e.ApprovedDate.Sub(e.EntryDate).Hours() / 24)
				if lag > cfg.DelayedApprovalDays {
					c.flag(e, fmt.Sprintf("approved %d days after entry", lag), map[string]any{
						"lagDays": lag,
					})
				}
			}
		},
	}
}

func highAmountNoApprovalRule(cfg ApprovalConfig) domain.Rule {
	return &rule{
		id:          "APR-006",
		name:        "High amount without approval",
		category:    domain.CategoryApproval,
		description: fmt.Sprintf("Unapproved entry at or above %.0f", cfg.HighAmountNoApproval),
		severity:    domain.SeverityHigh,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if e.ApprovedBy != "" {
					continue
				}
				if math.Abs(e.Amount) >= cfg.HighAmountNoApproval {
					c.flag(e, fmt.Sprintf("unapproved amount %.2f", e.Amount), map[string]any{
						"amount": e.Amount,
					})
				}
			}
		},
	}
}

// frequentPairRule flags preparer/approver pairs that recur often enough to
// suggest a standing arrangement.
func frequentPairRule(cfg ApprovalConfig) domain.Rule {
	return &rule{
		id:          "APR-007",
		name:        "Frequent preparer/approver pair",
		category:    domain.CategoryApproval,
		description: fmt.Sprintf("One preparer/approver pair on %d+ entries", cfg.FrequentPairMin),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			type pair struct{ preparer, approver string }
			groups := make(map[pair][]*domain.JournalEntryLine)
			for _, e := range b.Entries {
				if e.PreparedBy == "" || e.ApprovedBy == "" || e.PreparedBy == e.ApprovedBy {
					continue
				}
				p := pair{e.PreparedBy, e.ApprovedBy}
				groups[p] = append(groups[p], e)
			}
			for p, entries := range groups {
				if len(entries) < cfg.FrequentPairMin {
					continue
				}
				c.flag(entries[0], fmt.Sprintf("%s/%s pair on %d entries", p.preparer, p.approver, len(entries)), map[string]any{
					"preparer": p.preparer,
					"approver": p.approver,
					"count":    len(entries),
				})
			}
		},
	}
}

func bulkApprovalRule(cfg ApprovalConfig) domain.Rule {
	return &rule{
		id:          "APR-008",
		name:        "Bulk same-day approvals",
		category:    domain.CategoryApproval,
		description: fmt.Sprintf("One approver clearing %d+ entries in a single day", cfg.BulkApprovalMin),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			type key struct {
				approver string
				date     string
			}
			groups := make(map[key][]*domain.JournalEntryLine)
			for _, e := range b.Entries {
				if e.ApprovedBy == "" || e.ApprovedDate == nil {
					continue
				}
				k := key{e.ApprovedBy, e.ApprovedDate.Format("2006-01-02")}
				groups[k] = append(groups[k], e)
			}
			for k, entries := range groups {
				if len(entries) < cfg.BulkApprovalMin {
					continue
				}
				c.flag(entries[0], fmt.Sprintf("%s approved %d entries on %s", k.approver, len(entries), k.date), map[string]any{
					"approver": k.approver,
					"date":     k.date,
					"count":    len(entries),
				})
			}
		},
	}
}

func preparerSpikeRule(cfg ApprovalConfig) domain.Rule {
	return &rule{
		id:          "APR-009",
		name:        "Preparer volume spike",
		category:    domain.CategoryApproval,
		description: fmt.Sprintf("Preparer entry count above %.0fx the median preparer", cfg.PreparerSpikeMultiple),
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			byUser := b.ByUser()
			if len(byUser) < 5 {
				return
			}
			counts := make([]float64, 0, len(byUser))
			for user, entries := range byUser {
				if user == "" {
					continue
				}
				counts = append(counts, float64(len(entries)))
			}
			if len(counts) < 5 {
				return
			}
			sort.Float64s(counts)
			median := percentileSorted(counts, 0.5)
			if median <= 0 {
				return
			}
			for user, entries := range byUser {
				if user == "" {
					continue
				}
				if float64(len(entries)) > median*cfg.PreparerSpikeMultiple {
					c.flag(entries[0], fmt.Sprintf("%s prepared %d entries against a median of %.0f", user, len(entries), median), map[string]any{
						"user":   user,
						"count":  len(entries),
						"median": median,
					})
				}
			}
		},
	}
}
