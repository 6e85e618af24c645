// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository is the persistence boundary for the screening pipeline: the
// entry source, the violation and entry-state sinks, the aggregate tables,
// and run history. Injected at construction; no process-wide singletons.
type Repository interface {
	// Entry source
	SaveEntries(ctx context.Context, entries []*JournalEntryLine) error
	LoadEntries(ctx context.Context, filter LoadFilter) ([]*JournalEntryLine, error)
	CountEntries(ctx context.Context, filter LoadFilter) (int, error)

	// Entry-state sink: batched write-back of risk fields, keyed by
	// gl_detail_id.
	UpdateRiskFields(ctx context.Context, updates []RiskUpdate) error

	// Violation sink: scoped replace then batched insert. Violations for a
	// scope are fully replaced on every pipeline run, never merged.
	ReplaceViolations(ctx context.Context, filter LoadFilter, violations []RuleViolation) error
	ListViolations(ctx context.Context, filter LoadFilter) ([]RuleViolation, error)
	ListViolationsForEntry(ctx context.Context, glDetailID string) ([]RuleViolation, error)

	// Risk scores
	ReplaceRiskScores(ctx context.Context, filter LoadFilter, scores []*RiskScore) error
	ListRiskScores(ctx context.Context, filter LoadFilter) ([]*RiskScore, error)

	// Custom CEL rule configs
	SaveCustomRule(ctx context.Context, cfg *CustomRuleConfig) error
	ListCustomRules(ctx context.Context) ([]*CustomRuleConfig, error)
	DeleteCustomRule(ctx context.Context, id string) error

	// Run history
	SaveRun(ctx context.Context, result *BatchResult) error
	GetRun(ctx context.Context, runID string) (*BatchResult, error)
	ListRuns(ctx context.Context, limit int) ([]*BatchResult, error)

	AggregationStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AggregationStore persists the 17 derived tables. Each Replace call clears
// the scope and inserts the recomputed rows in one transaction, so re-running
// an unchanged scope is idempotent.
type AggregationStore interface {
	ReplacePeriodAccount(ctx context.Context, scope string, rows []PeriodAccountRow) error
	ReplaceDaily(ctx context.Context, scope string, rows []DailyRow) error
	ReplaceUser(ctx context.Context, scope string, rows []UserRow) error
	ReplaceDepartment(ctx context.Context, scope string, rows []DepartmentRow) error
	ReplaceVendor(ctx context.Context, scope string, rows []VendorRow) error
	ReplaceHighRisk(ctx context.Context, scope string, rows []HighRiskRow) error
	ReplaceRuleViolation(ctx context.Context, scope string, rows []RuleViolationRow) error
	ReplaceTrend(ctx context.Context, scope string, rows []TrendRow) error
	ReplaceBenford(ctx context.Context, scope string, rows []BenfordRow) error
	ReplaceAmountBucket(ctx context.Context, scope string, rows []AmountBucketRow) error
	ReplaceTimeOfMonth(ctx context.Context, scope string, rows []TimeOfMonthRow) error
	ReplaceDayOfWeek(ctx context.Context, scope string, rows []DayOfWeekRow) error
	ReplaceApprovalPair(ctx context.Context, scope string, rows []ApprovalPairRow) error
	ReplaceAccountActivity(ctx context.Context, scope string, rows []AccountActivityRow) error
	ReplaceAnomalySeverity(ctx context.Context, scope string, rows []AnomalySeverityRow) error
	ReplaceMLScoreBucket(ctx context.Context, scope string, rows []MLScoreBucketRow) error
	ReplaceDashboardKPI(ctx context.Context, scope string, rows []DashboardKPIRow) error

	// CountAggregateRows returns the stored row count for one table and
	// scope, used to verify replace semantics.
	CountAggregateRows(ctx context.Context, table string, scope string) (int, error)

	// GetDashboardKPI reads the stored KPI rows for a scope.
	GetDashboardKPI(ctx context.Context, scope string) ([]DashboardKPIRow, error)
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
