package domain

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// JournalEntryLine is one debit or credit posting within a journal entry.
// Rows are produced upstream by the import layer and treated as immutable
// inside the pipeline; only the risk fields are ever written back.
type JournalEntryLine struct {
	// Identifiers
	GLDetailID string `json:"glDetailId"`
	JournalID  string `json:"journalId"`

	// Fiscal placement
	FiscalYear   int    `json:"fiscalYear"`
	FiscalPeriod int    `json:"fiscalPeriod"`
	BusinessUnit string `json:"businessUnit"`

	// Temporal
	EffectiveDate time.Time `json:"effectiveDate"`
	EntryDate     time.Time `json:"entryDate"`
	// EntryTime is the wall-clock posting time ("15:04:05"); empty when the
	// source system did not capture it.
	EntryTime string `json:"entryTime,omitempty"`

	// Account
	AccountCode string `json:"accountCode"`
	AccountName string `json:"accountName,omitempty"`

	// Financial
	Amount  float64 `json:"amount"`
	IsDebit bool    `json:"isDebit"`

	// Context
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	VendorID    string `json:"vendorId,omitempty"`
	Department  string `json:"department,omitempty"`

	// Workflow
	PreparedBy   string     `json:"preparedBy,omitempty"`
	ApprovedBy   string     `json:"approvedBy,omitempty"`
	ApprovedDate *time.Time `json:"approvedDate,omitempty"`

	// Risk fields - the only part of the row the pipeline writes back.
	RiskScore      float64  `json:"riskScore,omitempty"`
	AnomalyFlags   []string `json:"anomalyFlags,omitempty"`
	RuleViolations []string `json:"ruleViolations,omitempty"`
}

// SignedAmount returns the amount with debits positive and credits negative.
func (e *JournalEntryLine) SignedAmount() float64 {
	if e.IsDebit {
		return e.Amount
	}
	return -e.Amount
}

// EntryHour parses the posting hour from EntryTime.
// Returns noon when the time was not captured.
func (e *JournalEntryLine) EntryHour() int {
	if len(e.EntryTime) < 2 {
		return 12
	}
	t, err := time.Parse("15:04:05", e.EntryTime)
	if err != nil {
		return 12
	}
	return t.Hour()
}

// PeriodKey identifies a fiscal year/period pair for grouped aggregates.
type PeriodKey struct {
	Year   int
	Period int
}

// Prev returns the immediately preceding period assuming 12 periods per year.
func (k PeriodKey) Prev() PeriodKey {
	if k.Period <= 1 {
		return PeriodKey{Year: k.Year - 1, Period: 12}
	}
	return PeriodKey{Year: k.Year, Period: k.Period - 1}
}

// Next returns the immediately following period assuming 12 periods per year.
func (k PeriodKey) Next() PeriodKey {
	if k.Period >= 12 {
		return PeriodKey{Year: k.Year + 1, Period: 1}
	}
	return PeriodKey{Year: k.Year, Period: k.Period + 1}
}

// PrevYear returns the same period one fiscal year earlier.
func (k PeriodKey) PrevYear() PeriodKey {
	return PeriodKey{Year: k.Year - 1, Period: k.Period}
}

// Batch is an immutable in-memory set of journal entry lines shared
// read-only across concurrently executing rules. Grouped indexes are built
// lazily and at most once; after that every access is a plain map read.
type Batch struct {
	Entries []*JournalEntryLine

	accountOnce sync.Once
	byAccount   map[string][]*JournalEntryLine

	journalOnce sync.Once
	byJournal   map[string][]*JournalEntryLine

	userOnce sync.Once
	byUser   map[string][]*JournalEntryLine

	periodOnce sync.Once
	byPeriod   map[PeriodKey][]*JournalEntryLine
}

// NewBatch wraps entries into a Batch.
func NewBatch(entries []*JournalEntryLine) *Batch {
	return &Batch{Entries: entries}
}

// Size returns the number of lines in the batch.
func (b *Batch) Size() int { return len(b.Entries) }

// ByAccount groups lines by account code.
func (b *Batch) ByAccount() map[string][]*JournalEntryLine {
	b.accountOnce.Do(func() {
		b.byAccount = make(map[string][]*JournalEntryLine)
		for _, e := range b.Entries {
			b.byAccount[e.AccountCode] = append(b.byAccount[e.AccountCode], e)
		}
	})
	return b.byAccount
}

// ByJournal groups lines by journal id.
func (b *Batch) ByJournal() map[string][]*JournalEntryLine {
	b.journalOnce.Do(func() {
		b.byJournal = make(map[string][]*JournalEntryLine)
		for _, e := range b.Entries {
			b.byJournal[e.JournalID] = append(b.byJournal[e.JournalID], e)
		}
	})
	return b.byJournal
}

// ByUser groups lines by preparer.
func (b *Batch) ByUser() map[string][]*JournalEntryLine {
	b.userOnce.Do(func() {
		b.byUser = make(map[string][]*JournalEntryLine)
		for _, e := range b.Entries {
			b.byUser[e.PreparedBy] = append(b.byUser[e.PreparedBy], e)
		}
	})
	return b.byUser
}

// ByPeriod groups lines by fiscal year/period.
func (b *Batch) ByPeriod() map[PeriodKey][]*JournalEntryLine {
	b.periodOnce.Do(func() {
		b.byPeriod = make(map[PeriodKey][]*JournalEntryLine)
		for _, e := range b.Entries {
			k := PeriodKey{Year: e.FiscalYear, Period: e.FiscalPeriod}
			b.byPeriod[k] = append(b.byPeriod[k], e)
		}
	})
	return b.byPeriod
}

// LoadFilter scopes which entry lines a pipeline run loads.
// Zero values mean "all".
type LoadFilter struct {
	FiscalYear   int    `json:"fiscalYear,omitempty"`
	FiscalPeriod int    `json:"fiscalPeriod,omitempty"`
	BusinessUnit string `json:"businessUnit,omitempty"`
}

// Scope returns a stable string form of the filter, used as a cache and
// replace-scope key.
func (f LoadFilter) Scope() string {
	s := "all"
	if f.FiscalYear > 0 {
		s = strconv.Itoa(f.FiscalYear)
		if f.FiscalPeriod > 0 {
			s += fmt.Sprintf("-%02d", f.FiscalPeriod)
		}
	}
	if f.BusinessUnit != "" {
		s += ":" + f.BusinessUnit
	}
	return s
}
