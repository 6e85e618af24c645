package domain

import "time"

// Names of the 17 derived aggregate tables, rebuilt by the aggregation
// service via replace-scope-then-recompute.
const (
	TablePeriodAccount   = "agg_period_account"
	TableDaily           = "agg_daily"
	TableUser            = "agg_user"
	TableDepartment      = "agg_department"
	TableVendor          = "agg_vendor"
	TableHighRisk        = "agg_high_risk"
	TableRuleViolation   = "agg_rule_violation"
	TableTrend           = "agg_trend"
	TableBenford         = "agg_benford"
	TableAmountBucket    = "agg_amount_bucket"
	TableTimeOfMonth     = "agg_time_of_month"
	TableDayOfWeek       = "agg_day_of_week"
	TableApprovalPair    = "agg_approval_pair"
	TableAccountActivity = "agg_account_activity"
	TableAnomalySeverity = "agg_anomaly_severity"
	TableMLScoreBucket   = "agg_ml_score_bucket"
	TableDashboardKPI    = "agg_dashboard_kpi"
)

// AggregateTables lists all derived tables in rebuild order.
func AggregateTables() []string {
	return []string{
		TablePeriodAccount, TableDaily, TableUser, TableDepartment,
		TableVendor, TableHighRisk, TableRuleViolation, TableTrend,
		TableBenford, TableAmountBucket, TableTimeOfMonth, TableDayOfWeek,
		TableApprovalPair, TableAccountActivity, TableAnomalySeverity,
		TableMLScoreBucket, TableDashboardKPI,
	}
}

// PeriodAccountRow summarizes activity per fiscal period and account.
type PeriodAccountRow struct {
	FiscalYear   int     `json:"fiscalYear"`
	FiscalPeriod int     `json:"fiscalPeriod"`
	AccountCode  string  `json:"accountCode"`
	EntryCount   int     `json:"entryCount"`
	DebitTotal   float64 `json:"debitTotal"`
	CreditTotal  float64 `json:"creditTotal"`
	NetAmount    float64 `json:"netAmount"`
	AvgAmount    float64 `json:"avgAmount"`
	MaxAmount    float64 `json:"maxAmount"`
}

// DailyRow summarizes activity per effective date.
type DailyRow struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	EntryCount  int     `json:"entryCount"`
	TotalAmount float64 `json:"totalAmount"`
	FlaggedHigh int     `json:"flaggedHigh"`
}

// UserRow summarizes activity per preparer.
type UserRow struct {
	UserID         string  `json:"userId"`
	EntryCount     int     `json:"entryCount"`
	TotalAmount    float64 `json:"totalAmount"`
	ViolationCount int     `json:"violationCount"`
	AvgRiskScore   float64 `json:"avgRiskScore"`
}

// DepartmentRow summarizes activity per department.
type DepartmentRow struct {
	Department   string  `json:"department"`
	EntryCount   int     `json:"entryCount"`
	TotalAmount  float64 `json:"totalAmount"`
	AvgRiskScore float64 `json:"avgRiskScore"`
}

// VendorRow summarizes activity per vendor.
type VendorRow struct {
	VendorID     string  `json:"vendorId"`
	EntryCount   int     `json:"entryCount"`
	TotalAmount  float64 `json:"totalAmount"`
	RoundAmounts int     `json:"roundAmounts"`
	AvgRiskScore float64 `json:"avgRiskScore"`
}

// HighRiskRow is one entry bucketed by risk band, for review queues.
type HighRiskRow struct {
	GLDetailID   string       `json:"glDetailId"`
	RiskScore    float64      `json:"riskScore"`
	RiskCategory RiskCategory `json:"riskCategory"`
	AccountCode  string       `json:"accountCode"`
	Amount       float64      `json:"amount"`
	PreparedBy   string       `json:"preparedBy"`
}

// RuleViolationRow counts violations per rule.
type RuleViolationRow struct {
	RuleID     string       `json:"ruleId"`
	Category   RuleCategory `json:"category"`
	Severity   Severity     `json:"severity"`
	Violations int          `json:"violations"`
}

// TrendRow is one period-over-period account comparison. TrendType is
// "mom" or "yoy".
type TrendRow struct {
	TrendType    string  `json:"trendType"`
	AccountCode  string  `json:"accountCode"`
	FiscalYear   int     `json:"fiscalYear"`
	FiscalPeriod int     `json:"fiscalPeriod"`
	Amount       float64 `json:"amount"`
	PriorAmount  float64 `json:"priorAmount"`
	ChangePct    float64 `json:"changePct"`
}

// BenfordRow is one digit's observed-vs-expected frequency.
type BenfordRow struct {
	DigitPosition int     `json:"digitPosition"`
	Digit         int     `json:"digit"`
	Count         int     `json:"count"`
	Observed      float64 `json:"observed"`
	Expected      float64 `json:"expected"`
}

// AmountBucketRow counts entries per absolute-amount bucket.
type AmountBucketRow struct {
	Bucket      string  `json:"bucket"`
	LowerBound  float64 `json:"lowerBound"`
	EntryCount  int     `json:"entryCount"`
	TotalAmount float64 `json:"totalAmount"`
}

// TimeOfMonthRow counts entries per day-of-month.
type TimeOfMonthRow struct {
	DayOfMonth  int     `json:"dayOfMonth"`
	EntryCount  int     `json:"entryCount"`
	TotalAmount float64 `json:"totalAmount"`
}

// DayOfWeekRow counts entries per weekday.
type DayOfWeekRow struct {
	DayOfWeek   int     `json:"dayOfWeek"` // 0 = Sunday
	EntryCount  int     `json:"entryCount"`
	TotalAmount float64 `json:"totalAmount"`
}

// ApprovalPairRow counts preparer/approver combinations.
type ApprovalPairRow struct {
	PreparedBy   string  `json:"preparedBy"`
	ApprovedBy   string  `json:"approvedBy"`
	EntryCount   int     `json:"entryCount"`
	TotalAmount  float64 `json:"totalAmount"`
	SelfApproved bool    `json:"selfApproved"`
}

// AccountActivityRow summarizes per-account activity spans.
type AccountActivityRow struct {
	AccountCode  string  `json:"accountCode"`
	EntryCount   int     `json:"entryCount"`
	FirstSeen    string  `json:"firstSeen"` // YYYY-MM-DD
	LastSeen     string  `json:"lastSeen"`
	ActiveDays   int     `json:"activeDays"`
	TotalAmount  float64 `json:"totalAmount"`
	AvgRiskScore float64 `json:"avgRiskScore"`
}

// AnomalySeverityRow counts violations per category and severity.
type AnomalySeverityRow struct {
	Category   RuleCategory `json:"category"`
	Severity   Severity     `json:"severity"`
	Violations int          `json:"violations"`
	Entries    int          `json:"entries"`
}

// MLScoreBucketRow counts entries per ML anomaly-score bucket.
type MLScoreBucketRow struct {
	Bucket     string  `json:"bucket"`
	LowerBound float64 `json:"lowerBound"`
	EntryCount int     `json:"entryCount"`
}

// DashboardKPIRow is one named headline metric for the dashboard.
type DashboardKPIRow struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// KPISnapshot is the cached dashboard KPI set for one scope.
type KPISnapshot struct {
	Scope       string            `json:"scope"`
	GeneratedAt time.Time         `json:"generatedAt"`
	KPIs        []DashboardKPIRow `json:"kpis"`
}

// TableResult reports one aggregate table's rebuild outcome.
type TableResult struct {
	Table     string `json:"table"`
	Rows      int    `json:"rows"`
	ProcessMs int64  `json:"processMs"`
	Error     string `json:"error,omitempty"`
}

// AggregationResult collects the per-table outcomes of one update_all run.
type AggregationResult struct {
	Scope     string        `json:"scope"`
	Tables    []TableResult `json:"tables"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	ProcessMs int64         `json:"processMs"`
}
