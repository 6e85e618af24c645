package rules

import "fmt"

// Config carries the threshold knobs for the built-in rule library, grouped
// by rule family. Zero-valued fields are invalid; construct via
// DefaultConfig and override what the deployment needs.
type Config struct {
	Amount      AmountConfig      `json:"amount"`
	Time        TimeConfig        `json:"time"`
	Account     AccountConfig     `json:"account"`
	Approval    ApprovalConfig    `json:"approval"`
	Description DescriptionConfig `json:"description"`
	Benford     BenfordConfig     `json:"benford"`
	Trend       TrendConfig       `json:"trend"`
}

// AmountConfig parameterizes the amount-pattern rules.
type AmountConfig struct {
	// LargeAmount flags |amount| at or above this value.
	LargeAmount float64 `json:"largeAmount"`

	// RoundMin is the floor below which round numbers are ignored;
	// RoundDivisor is the divisibility test for "suspiciously round".
	RoundMin     float64 `json:"roundMin"`
	RoundDivisor float64 `json:"roundDivisor"`

	// JustBelowLadder are the approval thresholds; amounts within
	// JustBelowMargin directly below a rung are flagged.
	JustBelowLadder []float64 `json:"justBelowLadder"`
	JustBelowMargin float64   `json:"justBelowMargin"`

	// ZScoreLimit and IQRFactor drive the per-account outlier rules.
	ZScoreLimit float64 `json:"zScoreLimit"`
	IQRFactor   float64 `json:"iqrFactor"`

	// SplitCount entries by one user against one account on one date,
	// summing above SplitTotal, look like a split transaction.
	SplitCount int     `json:"splitCount"`
	SplitTotal float64 `json:"splitTotal"`

	// RepeatDigitMin is the floor for the repeating-digit pattern rule.
	RepeatDigitMin float64 `json:"repeatDigitMin"`
}

// TimeConfig parameterizes the posting-time rules.
type TimeConfig struct {
	// AfterHoursStart and AfterHoursEnd bound the normal working window;
	// postings outside [end, start) hours are after-hours.
	AfterHoursStart int `json:"afterHoursStart"`
	AfterHoursEnd   int `json:"afterHoursEnd"`

	// PeriodEndDays is the window before period close that counts as
	// period-end posting.
	PeriodEndDays int `json:"periodEndDays"`

	// BackdatedDays flags entries whose effective date trails the entry
	// date by more than this many days; FutureDays the reverse.
	BackdatedDays int `json:"backdatedDays"`
	FutureDays    int `json:"futureDays"`

	// StalePeriodDays flags postings into a fiscal period that closed more
	// than this many days before the entry date.
	StalePeriodDays int `json:"stalePeriodDays"`

	// Holidays are month-day strings ("01-01") on which postings are
	// unexpected.
	Holidays []string `json:"holidays"`
}

// AccountConfig parameterizes the account-usage rules.
type AccountConfig struct {
	// DormantDays is the inactivity gap that marks an account dormant.
	DormantDays int `json:"dormantDays"`

	// RareUseMax is the batch-wide usage count at or below which an
	// account counts as rarely used.
	RareUseMax int `json:"rareUseMax"`

	// SuspensePrefixes are account-code prefixes treated as suspense or
	// clearing accounts.
	SuspensePrefixes []string `json:"suspensePrefixes"`

	// ImbalanceTolerance is the per-journal debit/credit mismatch allowed.
	ImbalanceTolerance float64 `json:"imbalanceTolerance"`

	// ActivityCapMultiple flags accounts whose batch total exceeds this
	// multiple of the median per-account total.
	ActivityCapMultiple float64 `json:"activityCapMultiple"`

	// BlockedAccounts are codes that should never receive postings.
	BlockedAccounts []string `json:"blockedAccounts"`
}

// ApprovalConfig parameterizes the approval-workflow rules.
type ApprovalConfig struct {
	// SelfApprovalMin is the |amount| floor for the self-approval rule.
	// Amounts strictly above the floor are flagged; the floor itself is not.
	SelfApprovalMin float64 `json:"selfApprovalMin"`

	// HighAmountNoApproval flags unapproved entries at or above this.
	HighAmountNoApproval float64 `json:"highAmountNoApproval"`

	// DelayedApprovalDays flags approvals lagging entry by more than this.
	DelayedApprovalDays int `json:"delayedApprovalDays"`

	// FrequentPairMin is the entry count at which one preparer/approver
	// pair dominates enough to flag.
	FrequentPairMin int `json:"frequentPairMin"`

	// BulkApprovalMin is the same-approver same-day count that looks like
	// rubber-stamping.
	BulkApprovalMin int `json:"bulkApprovalMin"`

	// PreparerSpikeMultiple flags preparers whose entry count exceeds this
	// multiple of the median preparer count.
	PreparerSpikeMultiple float64 `json:"preparerSpikeMultiple"`
}

// DescriptionConfig parameterizes the description-quality rules.
type DescriptionConfig struct {
	// MinLength is the shortest acceptable description.
	MinLength int `json:"minLength"`

	// MinAmountForDescription: entries above this must carry a description.
	MinAmountForDescription float64 `json:"minAmountForDescription"`

	// SuspiciousKeywords and UrgentKeywords are matched case-insensitively.
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
	UrgentKeywords     []string `json:"urgentKeywords"`

	// CopyPasteMin is the duplicate-description count worth flagging.
	CopyPasteMin int `json:"copyPasteMin"`
}

// BenfordConfig parameterizes the digit-distribution rules.
type BenfordConfig struct {
	// MinSample is the smallest population the digit tests run on.
	MinSample int `json:"minSample"`

	// FlagContributors controls whether entries carrying the most
	// over-represented digit are individually flagged on nonconformity.
	FlagContributors bool `json:"flagContributors"`

	// PerUserMinSample is the floor for the per-user digit test.
	PerUserMinSample int `json:"perUserMinSample"`

	// RoundEndingShare flags when the share of amounts ending in 99 or 00
	// cents exceeds this fraction.
	RoundEndingShare float64 `json:"roundEndingShare"`
}

// TrendConfig parameterizes the period-over-period rules.
type TrendConfig struct {
	// MoMChangePct and YoYChangePct are percentage-change alarms.
	MoMChangePct float64 `json:"momChangePct"`
	YoYChangePct float64 `json:"yoyChangePct"`

	// MinBase is the absolute prior-period total below which percentage
	// changes are ignored as noise.
	MinBase float64 `json:"minBase"`

	// RunLength is the consecutive same-direction period-change count.
	RunLength int `json:"runLength"`

	// VolumeSpikeMultiple flags periods whose entry count exceeds this
	// multiple of the account's median period count.
	VolumeSpikeMultiple float64 `json:"volumeSpikeMultiple"`

	// PeriodEndShare flags accounts posting more than this fraction of
	// their period total in the closing window.
	PeriodEndShare float64 `json:"periodEndShare"`
}

// DefaultConfig returns the documented rule-library defaults.
func DefaultConfig() Config {
	return Config{
		Amount: AmountConfig{
			LargeAmount:     10_000_000,
			RoundMin:        1_000_000,
			RoundDivisor:    1_000_000,
			JustBelowLadder: []float64{1_000_000, 5_000_000, 10_000_000, 50_000_000, 100_000_000},
			JustBelowMargin: 0.05,
			ZScoreLimit:     3.0,
			IQRFactor:       1.5,
			SplitCount:      3,
			SplitTotal:      1_000_000,
			RepeatDigitMin:  100_000,
		},
		Time: TimeConfig{
			AfterHoursStart: 7,
			AfterHoursEnd:   20,
			PeriodEndDays:   3,
			BackdatedDays:   30,
			FutureDays:      1,
			StalePeriodDays: 60,
			Holidays:        []string{"01-01", "12-25", "12-26"},
		},
		Account: AccountConfig{
			DormantDays:         180,
			RareUseMax:          2,
			SuspensePrefixes:    []string{"9999", "1999", "2999"},
			ImbalanceTolerance:  0.01,
			ActivityCapMultiple: 20,
			BlockedAccounts:     nil,
		},
		Approval: ApprovalConfig{
			SelfApprovalMin:       1_000_000,
			HighAmountNoApproval:  5_000_000,
			DelayedApprovalDays:   14,
			FrequentPairMin:       25,
			BulkApprovalMin:       30,
			PreparerSpikeMultiple: 10,
		},
		Description: DescriptionConfig{
			MinLength:               5,
			MinAmountForDescription: 100_000,
			SuspiciousKeywords: []string{
				"adjust", "correction", "misc", "other", "temp",
				"reclass", "plug", "true-up", "writeoff", "write-off",
			},
			UrgentKeywords: []string{"urgent", "asap", "rush", "immediately"},
			CopyPasteMin:   10,
		},
		Benford: BenfordConfig{
			MinSample:        50,
			FlagContributors: true,
			PerUserMinSample: 100,
			RoundEndingShare: 0.30,
		},
		Trend: TrendConfig{
			MoMChangePct:        200,
			YoYChangePct:        150,
			MinBase:             100_000,
			RunLength:           4,
			VolumeSpikeMultiple: 5,
			PeriodEndShare:      0.80,
		},
	}
}

// Validate rejects configurations the library cannot run with.
func (c Config) Validate() error {
	if c.Amount.LargeAmount <= 0 {
		return fmt.Errorf("amount.largeAmount must be positive")
	}
	if c.Amount.RoundDivisor <= 0 {
		return fmt.Errorf("amount.roundDivisor must be positive")
	}
	if c.Amount.JustBelowMargin <= 0 || c.Amount.JustBelowMargin >= 1 {
		return fmt.Errorf("amount.justBelowMargin must be in (0, 1)")
	}
	if len(c.Amount.JustBelowLadder) == 0 {
		return fmt.Errorf("amount.justBelowLadder must not be empty")
	}
	if c.Amount.SplitCount < 2 {
		return fmt.Errorf("amount.splitCount must be at least 2")
	}
	if c.Time.AfterHoursStart < 0 || c.Time.AfterHoursStart > 23 ||
		c.Time.AfterHoursEnd < 0 || c.Time.AfterHoursEnd > 23 ||
		c.Time.AfterHoursStart >= c.Time.AfterHoursEnd {
		return fmt.Errorf("time window [%d, %d) is not a valid hour range", c.Time.AfterHoursStart, c.Time.AfterHoursEnd)
	}
	if c.Account.ImbalanceTolerance < 0 {
		return fmt.Errorf("account.imbalanceTolerance must not be negative")
	}
	if c.Approval.SelfApprovalMin <= 0 {
		return fmt.Errorf("approval.selfApprovalMin must be positive")
	}
	if c.Benford.MinSample < 10 {
		return fmt.Errorf("benford.minSample must be at least 10")
	}
	if c.Trend.RunLength < 2 {
		return fmt.Errorf("trend.runLength must be at least 2")
	}
	return nil
}
