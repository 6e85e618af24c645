package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// imbalanceImpact is the fixed score impact of a journal that fails the
// debit=credit identity.
const imbalanceImpact = 30

// accountRules builds the account-usage rule family.
func accountRules(cfg AccountConfig) []domain.Rule {
	return []domain.Rule{
		imbalanceRule(cfg),
		singleSidedJournalRule(),
		suspenseAccountRule(cfg),
		blockedAccountRule(cfg),
		missingAccountRule(),
		dormantAccountRule(cfg),
		rareAccountRule(cfg),
		unusualPairRule(),
		activityCapRule(cfg),
		vendorConcentrationRule(),
	}
}

// vendorConcentrationRule flags a single vendor receiving an outsized share
// of the batch total.
func vendorConcentrationRule() domain.Rule {
	const maxShare = 0.30
	return &rule{
		id:          "ACC-010",
		name:        "Vendor concentration",
		category:    domain.CategoryAccount,
		description: fmt.Sprintf("One vendor carrying more than %.0f%% of batch value", maxShare*100),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			if b.Size() < 100 {
				return
			}
			var grand float64
			totals := make(map[string]float64)
			firsts := make(map[string]*domain.JournalEntryLine)
			for _, e := range b.Entries {
				a := math.Abs(e.Amount)
				grand += a
				if e.VendorID == "" {
					continue
				}
				totals[e.VendorID] += a
				if firsts[e.VendorID] == nil {
					firsts[e.VendorID] = e
				}
			}
			if grand <= 0 {
				return
			}
			for vendor, t := range totals {
				share := t / grand
				if share > maxShare {
					c.flag(firsts[vendor], fmt.Sprintf("vendor %s carries %.0f%% of batch value", vendor, share*100), map[string]any{
						"vendor": vendor,
						"share":  share,
						"total":  t,
					})
				}
			}
		},
	}
}

// imbalanceRule enforces the per-journal debit=credit identity. A journal
// out of balance produces exactly one critical violation, attached to its
// first line, with a fixed score impact.
func imbalanceRule(cfg AccountConfig) domain.Rule {
	return &rule{
		id:          "ACC-001",
		name:        "Debit/credit imbalance",
		category:    domain.CategoryAccount,
		description: fmt.Sprintf("Journal lines where debits and credits differ by more than %.2f", cfg.ImbalanceTolerance),
		severity:    domain.SeverityCritical,
		check: func(b *domain.Batch, c *collector) {
			for journal, lines := range b.ByJournal() {
				var debits, credits float64
				for _, e := range lines {
					if e.IsDebit {
						debits += e.Amount
					} else {
						credits += e.Amount
					}
				}
				diff := debits - credits
				if math.Abs(diff) > cfg.ImbalanceTolerance {
					c.flagImpact(lines[0], imbalanceImpact,
						fmt.Sprintf("journal %s out of balance by %.2f", journal, diff), map[string]any{
							"journal": journal,
							"debits":  debits,
							"credits": credits,
							"diff":    diff,
						})
				}
			}
		},
	}
}

func singleSidedJournalRule() domain.Rule {
	return &rule{
		id:          "ACC-002",
		name:        "Single-sided journal",
		category:    domain.CategoryAccount,
		description: "Journal containing only debits or only credits",
		severity:    domain.SeverityHigh,
		check: func(b *domain.Batch, c *collector) {
			for journal, lines := range b.ByJournal() {
				if len(lines) < 2 {
					continue
				}
				hasDebit, hasCredit := false, false
				for _, e := range lines {
					if e.IsDebit {
						hasDebit = true
					} else {
						hasCredit = true
					}
				}
				if hasDebit != hasCredit {
					c.flag(lines[0], fmt.Sprintf("journal %s has %d lines on a single side", journal, len(lines)), map[string]any{
						"journal": journal,
						"lines":   len(lines),
					})
				}
			}
		},
	}
}

func suspenseAccountRule(cfg AccountConfig) domain.Rule {
	return &rule{
		id:          "ACC-003",
		name:        "Suspense account posting",
		category:    domain.CategoryAccount,
		description: "Posting to a suspense or clearing account",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				for _, prefix := range cfg.SuspensePrefixes {
					if strings.HasPrefix(e.AccountCode, prefix) {
						c.flag(e, fmt.Sprintf("posting to suspense account %s", e.AccountCode), map[string]any{
							"account": e.AccountCode,
						})
						break
					}
				}
			}
		},
	}
}

func blockedAccountRule(cfg AccountConfig) domain.Rule {
	blocked := make(map[string]bool, len(cfg.BlockedAccounts))
	for _, a := range cfg.BlockedAccounts {
		blocked[a] = true
	}
	return &rule{
		id:          "ACC-004",
		name:        "Blocked account posting",
		category:    domain.CategoryAccount,
		description: "Posting to an account on the blocked list",
		severity:    domain.SeverityCritical,
		check: func(b *domain.Batch, c *collector) {
			if len(blocked) == 0 {
				return
			}
			for _, e := range b.Entries {
				if blocked[e.AccountCode] {
					c.flag(e, fmt.Sprintf("posting to blocked account %s", e.AccountCode), map[string]any{
						"account": e.AccountCode,
					})
				}
			}
		},
	}
}

func missingAccountRule() domain.Rule {
	return &rule{
		id:          "ACC-005",
		name:        "Missing account code",
		category:    domain.CategoryAccount,
		description: "Line posted without an account code",
		severity:    domain.SeverityHigh,
		check: func(b *domain.Batch, c *collector) {
			for _, e := range b.Entries {
				if strings.TrimSpace(e.AccountCode) == "" {
					c.flag(e, "line has no account code", nil)
				}
			}
		},
	}
}

// dormantAccountRule flags postings that reactivate an account after a long
// gap, judged within the loaded batch.
func dormantAccountRule(cfg AccountConfig) domain.Rule {
	return &rule{
		id:          "ACC-006",
		name:        "Dormant account reactivated",
		category:    domain.CategoryAccount,
		description: fmt.Sprintf("Posting after %d+ days of account inactivity", cfg.DormantDays),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			for account, entries := range b.ByAccount() {
				if len(entries) < 2 {
					continue
				}
				sorted := make([]*domain.JournalEntryLine, len(entries))
				copy(sorted, entries)
				sort.Slice(sorted, func(i, j int) bool {
					return sorted[i].EffectiveDate.Before(sorted[j].EffectiveDate)
				})
				for i := 1; i < len(sorted); i++ {
					gap := int(sorted[i].EffectiveDate.Sub(sorted[i-1].EffectiveDate).Hours() / 24)
					if gap >= cfg.DormantDays {
						c.flag(sorted[i], fmt.Sprintf("account %s reactivated after %d days", account, gap), map[string]any{
							"account": account,
							"gapDays": gap,
						})
					}
				}
			}
		},
	}
}

func rareAccountRule(cfg AccountConfig) domain.Rule {
	return &rule{
		id:          "ACC-007",
		name:        "Rarely used account",
		category:    domain.CategoryAccount,
		description: fmt.Sprintf("Account used at most %d times across the batch", cfg.RareUseMax),
		severity:    domain.SeverityLow,
		check: func(b *domain.Batch, c *collector) {
			if b.Size() < 100 {
				return
			}
			for account, entries := range b.ByAccount() {
				if len(entries) > cfg.RareUseMax {
					continue
				}
				for _, e := range entries {
					c.flag(e, fmt.Sprintf("account %s used only %d times in batch", account, len(entries)), map[string]any{
						"account": account,
						"uses":    len(entries),
					})
				}
			}
		},
	}
}

// unusualPairRule flags journals pairing two otherwise-common accounts in a
// combination seen nowhere else in the batch.
func unusualPairRule() domain.Rule {
	const commonUse = 10
	return &rule{
		id:          "ACC-008",
		name:        "Unusual account pairing",
		category:    domain.CategoryAccount,
		description: "One-off pairing of two frequently used accounts within a journal",
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			accountUse := make(map[string]int)
			for _, e := range b.Entries {
				accountUse[e.AccountCode]++
			}

			pairCount := make(map[[2]string]int)
			for _, lines := range b.ByJournal() {
				for _, p := range journalPairs(lines) {
					pairCount[p]++
				}
			}

			for journal, lines := range b.ByJournal() {
				for _, p := range journalPairs(lines) {
					if pairCount[p] != 1 {
						continue
					}
					if accountUse[p[0]] < commonUse || accountUse[p[1]] < commonUse {
						continue
					}
					c.flag(lines[0], fmt.Sprintf("journal %s pairs accounts %s and %s for the only time in batch", journal, p[0], p[1]), map[string]any{
						"journal":  journal,
						"accounts": []string{p[0], p[1]},
					})
				}
			}
		},
	}
}

// journalPairs lists the distinct ordered account pairs within one journal.
func journalPairs(lines []*domain.JournalEntryLine) [][2]string {
	seen := make(map[string]bool)
	var accounts []string
	for _, e := range lines {
		if !seen[e.AccountCode] {
			seen[e.AccountCode] = true
			accounts = append(accounts, e.AccountCode)
		}
	}
	sort.Strings(accounts)

	var pairs [][2]string
	for i := 0; i < len(accounts); i++ {
		for j := i + 1; j < len(accounts); j++ {
			pairs = append(pairs, [2]string{accounts[i], accounts[j]})
		}
	}
	return pairs
}

func activityCapRule(cfg AccountConfig) domain.Rule {
	return &rule{
		id:          "ACC-009",
		name:        "Account activity spike",
		category:    domain.CategoryAccount,
		description: fmt.Sprintf("Account total above %.0fx the median per-account total", cfg.ActivityCapMultiple),
		severity:    domain.SeverityMedium,
		check: func(b *domain.Batch, c *collector) {
			byAccount := b.ByAccount()
			if len(byAccount) < 5 {
				return
			}
			totals := make(map[string]float64, len(byAccount))
			all := make([]float64, 0, len(byAccount))
			for account, entries := range byAccount {
				var t float64
				for _, e := range entries {
					t += math.Abs(e.Amount)
				}
				totals[account] = t
				all = append(all, t)
			}
			sort.Float64s(all)
			median := percentileSorted(all, 0.5)
			if median <= 0 {
				return
			}
			for account, t := range totals {
				if t > median*cfg.ActivityCapMultiple {
					entries := byAccount[account]
					c.flag(entries[0], fmt.Sprintf("account %s total %.2f is %.0fx the median account total", account, t, t/median), map[string]any{
						"account": account,
						"total":   t,
						"median":  median,
					})
				}
			}
		},
	}
}
