// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEntries upserts journal entry lines by gl_detail_id.
func (r *SQLRepository) SaveEntries(ctx context.Context, entries []*domain.JournalEntryLine) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO journal_entries (
			gl_detail_id, journal_id, fiscal_year, fiscal_period, business_unit,
			effective_date, entry_date, entry_time, account_code, account_name,
			amount, is_debit, description, source, vendor_id, department,
			prepared_by, approved_by, approved_date,
			risk_score, anomaly_flags, rule_violations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(gl_detail_id) DO UPDATE SET
			journal_id = excluded.journal_id,
			fiscal_year = excluded.fiscal_year,
			fiscal_period = excluded.fiscal_period,
			business_unit = excluded.business_unit,
			effective_date = excluded.effective_date,
			entry_date = excluded.entry_date,
			entry_time = excluded.entry_time,
			account_code = excluded.account_code,
			account_name = excluded.account_name,
			amount = excluded.amount,
			is_debit = excluded.is_debit,
			description = excluded.description,
			source = excluded.source,
			vendor_id = excluded.vendor_id,
			department = excluded.department,
			prepared_by = excluded.prepared_by,
			approved_by = excluded.approved_by,
			approved_date = excluded.approved_date
	`

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.GLDetailID == "" {
			return fmt.Errorf("%w: gl_detail_id is required", ErrInvalidInput)
		}
		flags, _ := json.Marshal(e.AnomalyFlags)
		ruleIDs, _ := json.Marshal(e.RuleViolations)

		var approved sql.NullTime
		if e.ApprovedDate != nil {
			approved = sql.NullTime{Time: *e.ApprovedDate, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			e.GLDetailID, e.JournalID, e.FiscalYear, e.FiscalPeriod, e.BusinessUnit,
			e.EffectiveDate, e.EntryDate, e.EntryTime, e.AccountCode, e.AccountName,
			e.Amount, boolToInt(e.IsDebit), e.Description, e.Source, e.VendorID, e.Department,
			e.PreparedBy, e.ApprovedBy, approved,
			e.RiskScore, string(flags), string(ruleIDs),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const entryColumns = `gl_detail_id, journal_id, fiscal_year, fiscal_period, business_unit,
	effective_date, entry_date, entry_time, account_code, account_name,
	amount, is_debit, description, source, vendor_id, department,
	prepared_by, approved_by, approved_date,
	risk_score, anomaly_flags, rule_violations`

// LoadEntries reads the entry lines matching the filter.
func (r *SQLRepository) LoadEntries(ctx context.Context, filter domain.LoadFilter) ([]*domain.JournalEntryLine, error) {
	where, args := filterClause(filter)
	query := "SELECT " + entryColumns + " FROM journal_entries" + where + " ORDER BY gl_detail_id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.JournalEntryLine
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountEntries counts the entry lines matching the filter.
func (r *SQLRepository) CountEntries(ctx context.Context, filter domain.LoadFilter) (int, error) {
	where, args := filterClause(filter)
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind("SELECT COUNT(*) FROM journal_entries"+where), args...).Scan(&n)
	return n, err
}

func scanEntry(rows *sql.Rows) (*domain.JournalEntryLine, error) {
	var e domain.JournalEntryLine
	var flags, ruleIDs string
	var isDebit int
	var approved sql.NullTime

	if err := rows.Scan(
		&e.GLDetailID, &e.JournalID, &e.FiscalYear, &e.FiscalPeriod, &e.BusinessUnit,
		&e.EffectiveDate, &e.EntryDate, &e.EntryTime, &e.AccountCode, &e.AccountName,
		&e.Amount, &isDebit, &e.Description, &e.Source, &e.VendorID, &e.Department,
		&e.PreparedBy, &e.ApprovedBy, &approved,
		&e.RiskScore, &flags, &ruleIDs,
	); err != nil {
		return nil, err
	}

	e.IsDebit = isDebit == 1
	if approved.Valid {
		t := approved.Time
		e.ApprovedDate = &t
	}
	if flags != "" {
		json.Unmarshal([]byte(flags), &e.AnomalyFlags)
	}
	if ruleIDs != "" {
		json.Unmarshal([]byte(ruleIDs), &e.RuleViolations)
	}
	return &e, nil
}

// UpdateRiskFields writes risk score, anomaly flags, and violated rule ids
// back onto the entry rows in one transaction.
func (r *SQLRepository) UpdateRiskFields(ctx context.Context, updates []domain.RiskUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE journal_entries
		SET risk_score = ?, anomaly_flags = ?, rule_violations = ?
		WHERE gl_detail_id = ?
	`
	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		flags, _ := json.Marshal(u.AnomalyFlags)
		ruleIDs, _ := json.Marshal(u.RuleViolations)
		if _, err := stmt.ExecContext(ctx, u.RiskScore, string(flags), string(ruleIDs), u.GLDetailID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ReplaceViolations clears the scope's stored violations and inserts the
// pass's output in one transaction.
func (r *SQLRepository) ReplaceViolations(ctx context.Context, filter domain.LoadFilter, violations []domain.RuleViolation) error {
	scope := filter.Scope()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind("DELETE FROM rule_violations WHERE scope = ?"), scope); err != nil {
		return err
	}

	query := `
		INSERT INTO rule_violations (
			id, scope, gl_detail_id, rule_id, category, severity,
			message, details, score_impact, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range violations {
		details, _ := json.Marshal(v.Details)
		if _, err := stmt.ExecContext(ctx,
			v.ID, scope, v.GLDetailID, v.RuleID, string(v.Category), string(v.Severity),
			v.Message, string(details), v.ScoreImpact, v.DetectedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const violationColumns = `id, gl_detail_id, rule_id, category, severity, message, details, score_impact, detected_at`

// ListViolations reads the stored violations for a scope.
func (r *SQLRepository) ListViolations(ctx context.Context, filter domain.LoadFilter) ([]domain.RuleViolation, error) {
	query := "SELECT " + violationColumns + " FROM rule_violations WHERE scope = ? ORDER BY gl_detail_id, rule_id"
	return r.queryViolations(ctx, query, filter.Scope())
}

// ListViolationsForEntry reads every stored violation flagging one entry.
func (r *SQLRepository) ListViolationsForEntry(ctx context.Context, glDetailID string) ([]domain.RuleViolation, error) {
	query := "SELECT " + violationColumns + " FROM rule_violations WHERE gl_detail_id = ? ORDER BY rule_id"
	return r.queryViolations(ctx, query, glDetailID)
}

func (r *SQLRepository) queryViolations(ctx context.Context, query string, args ...any) ([]domain.RuleViolation, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RuleViolation
	for rows.Next() {
		var v domain.RuleViolation
		var category, severity, details string
		if err := rows.Scan(
			&v.ID, &v.GLDetailID, &v.RuleID, &category, &severity,
			&v.Message, &details, &v.ScoreImpact, &v.DetectedAt,
		); err != nil {
			return nil, err
		}
		v.Category = domain.RuleCategory(category)
		v.Severity = domain.Severity(severity)
		if details != "" && details != "null" {
			json.Unmarshal([]byte(details), &v.Details)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ReplaceRiskScores clears the scope's stored scores and inserts the run's
// output in one transaction.
func (r *SQLRepository) ReplaceRiskScores(ctx context.Context, filter domain.LoadFilter, scores []*domain.RiskScore) error {
	scope := filter.Scope()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind("DELETE FROM risk_scores WHERE scope = ?"), scope); err != nil {
		return err
	}

	query := `
		INSERT INTO risk_scores (
			gl_detail_id, scope, total, rule_score, ml_score, benford_score,
			category_scores, violated_rules, severity_level, requires_review
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sc := range scores {
		cats, _ := json.Marshal(sc.CategoryScores)
		ruleIDs, _ := json.Marshal(sc.ViolatedRules)
		if _, err := stmt.ExecContext(ctx,
			sc.GLDetailID, scope, sc.Total, sc.RuleScore, sc.MLScore, sc.BenfordScore,
			string(cats), string(ruleIDs), string(sc.SeverityLevel), boolToInt(sc.RequiresReview),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListRiskScores reads the stored scores for a scope.
func (r *SQLRepository) ListRiskScores(ctx context.Context, filter domain.LoadFilter) ([]*domain.RiskScore, error) {
	query := `
		SELECT gl_detail_id, total, rule_score, ml_score, benford_score,
			   category_scores, violated_rules, severity_level, requires_review
		FROM risk_scores
		WHERE scope = ?
		ORDER BY total DESC, gl_detail_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), filter.Scope())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RiskScore
	for rows.Next() {
		var sc domain.RiskScore
		var cats, ruleIDs, severity string
		var review int
		if err := rows.Scan(
			&sc.GLDetailID, &sc.Total, &sc.RuleScore, &sc.MLScore, &sc.BenfordScore,
			&cats, &ruleIDs, &severity, &review,
		); err != nil {
			return nil, err
		}
		sc.SeverityLevel = domain.Severity(severity)
		sc.RequiresReview = review == 1
		if cats != "" && cats != "null" {
			json.Unmarshal([]byte(cats), &sc.CategoryScores)
		}
		if ruleIDs != "" && ruleIDs != "null" {
			json.Unmarshal([]byte(ruleIDs), &sc.ViolatedRules)
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// SaveCustomRule upserts a CEL rule configuration.
func (r *SQLRepository) SaveCustomRule(ctx context.Context, cfg *domain.CustomRuleConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}
	if cfg.Expression == "" {
		return fmt.Errorf("%w: rule expression is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO custom_rules (
			id, name, description, expression, severity, score_impact, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			score_impact = excluded.score_impact,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cfg.ID, cfg.Name, cfg.Description, cfg.Expression,
		string(cfg.Severity), cfg.ScoreImpact, boolToInt(cfg.Enabled),
		now, now,
	)
	return err
}

// ListCustomRules reads every stored CEL rule configuration.
func (r *SQLRepository) ListCustomRules(ctx context.Context) ([]*domain.CustomRuleConfig, error) {
	query := `
		SELECT id, name, description, expression, severity, score_impact, enabled
		FROM custom_rules
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CustomRuleConfig
	for rows.Next() {
		var cfg domain.CustomRuleConfig
		var severity string
		var enabled int
		if err := rows.Scan(&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Expression, &severity, &cfg.ScoreImpact, &enabled); err != nil {
			return nil, err
		}
		cfg.Severity = domain.Severity(severity)
		cfg.Enabled = enabled == 1
		out = append(out, &cfg)
	}
	return out, rows.Err()
}

// DeleteCustomRule removes a CEL rule configuration.
func (r *SQLRepository) DeleteCustomRule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind("DELETE FROM custom_rules WHERE id = ?"), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRun upserts one run result keyed by run id.
func (r *SQLRepository) SaveRun(ctx context.Context, result *domain.BatchResult) error {
	if result.RunID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	var completed sql.NullTime
	if result.CompletedAt != nil {
		completed = sql.NullTime{Time: *result.CompletedAt, Valid: true}
	}

	query := `
		INSERT INTO batch_runs (run_id, mode, scope, started_at, completed_at, success, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			completed_at = excluded.completed_at,
			success = excluded.success,
			result = excluded.result
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.RunID, string(result.Mode), result.Scope,
		result.StartedAt, completed, boolToInt(result.Success), string(payload),
	)
	return err
}

// GetRun reads one stored run result.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.BatchResult, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind("SELECT result FROM batch_runs WHERE run_id = ?"), runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result domain.BatchResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to parse run %s: %w", runID, err)
	}
	return &result, nil
}

// ListRuns reads the most recent runs, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.BatchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT result FROM batch_runs ORDER BY started_at DESC LIMIT ?"
	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.BatchResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var result domain.BatchResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return nil, err
		}
		out = append(out, &result)
	}
	return out, rows.Err()
}

// replaceAggregate clears one table's scope and inserts the recomputed rows
// as ordered JSON documents in one transaction.
func replaceAggregate[T any](r *SQLRepository, ctx context.Context, table, scope string, rows []T) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind("DELETE FROM aggregate_rows WHERE table_name = ? AND scope = ?"), table, scope); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind("INSERT INTO aggregate_rows (table_name, scope, pos, data) VALUES (?, ?, ?, ?)"))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, table, scope, i, string(data)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *SQLRepository) ReplacePeriodAccount(ctx context.Context, scope string, rows []domain.PeriodAccountRow) error {
	return replaceAggregate(r, ctx, domain.TablePeriodAccount, scope, rows)
}

func (r *SQLRepository) ReplaceDaily(ctx context.Context, scope string, rows []domain.DailyRow) error {
	return replaceAggregate(r, ctx, domain.TableDaily, scope, rows)
}

func (r *SQLRepository) ReplaceUser(ctx context.Context, scope string, rows []domain.UserRow) error {
	return replaceAggregate(r, ctx, domain.TableUser, scope, rows)
}

func (r *SQLRepository) ReplaceDepartment(ctx context.Context, scope string, rows []domain.DepartmentRow) error {
	return replaceAggregate(r, ctx, domain.TableDepartment, scope, rows)
}

func (r *SQLRepository) ReplaceVendor(ctx context.Context, scope string, rows []domain.VendorRow) error {
	return replaceAggregate(r, ctx, domain.TableVendor, scope, rows)
}

func (r *SQLRepository) ReplaceHighRisk(ctx context.Context, scope string, rows []domain.HighRiskRow) error {
	return replaceAggregate(r, ctx, domain.TableHighRisk, scope, rows)
}

func (r *SQLRepository) ReplaceRuleViolation(ctx context.Context, scope string, rows []domain.RuleViolationRow) error {
	return replaceAggregate(r, ctx, domain.TableRuleViolation, scope, rows)
}

func (r *SQLRepository) ReplaceTrend(ctx context.Context, scope string, rows []domain.TrendRow) error {
	return replaceAggregate(r, ctx, domain.TableTrend, scope, rows)
}

func (r *SQLRepository) ReplaceBenford(ctx context.Context, scope string, rows []domain.BenfordRow) error {
	return replaceAggregate(r, ctx, domain.TableBenford, scope, rows)
}

func (r *SQLRepository) ReplaceAmountBucket(ctx context.Context, scope string, rows []domain.AmountBucketRow) error {
	return replaceAggregate(r, ctx, domain.TableAmountBucket, scope, rows)
}

func (r *SQLRepository) ReplaceTimeOfMonth(ctx context.Context, scope string, rows []domain.TimeOfMonthRow) error {
	return replaceAggregate(r, ctx, domain.TableTimeOfMonth, scope, rows)
}

func (r *SQLRepository) ReplaceDayOfWeek(ctx context.Context, scope string, rows []domain.DayOfWeekRow) error {
	return replaceAggregate(r, ctx, domain.TableDayOfWeek, scope, rows)
}

func (r *SQLRepository) ReplaceApprovalPair(ctx context.Context, scope string, rows []domain.ApprovalPairRow) error {
	return replaceAggregate(r, ctx, domain.TableApprovalPair, scope, rows)
}

func (r *SQLRepository) ReplaceAccountActivity(ctx context.Context, scope string, rows []domain.AccountActivityRow) error {
	return replaceAggregate(r, ctx, domain.TableAccountActivity, scope, rows)
}

func (r *SQLRepository) ReplaceAnomalySeverity(ctx context.Context, scope string, rows []domain.AnomalySeverityRow) error {
	return replaceAggregate(r, ctx, domain.TableAnomalySeverity, scope, rows)
}

func (r *SQLRepository) ReplaceMLScoreBucket(ctx context.Context, scope string, rows []domain.MLScoreBucketRow) error {
	return replaceAggregate(r, ctx, domain.TableMLScoreBucket, scope, rows)
}

func (r *SQLRepository) ReplaceDashboardKPI(ctx context.Context, scope string, rows []domain.DashboardKPIRow) error {
	return replaceAggregate(r, ctx, domain.TableDashboardKPI, scope, rows)
}

// CountAggregateRows returns the stored row count for one table and scope.
func (r *SQLRepository) CountAggregateRows(ctx context.Context, table string, scope string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind("SELECT COUNT(*) FROM aggregate_rows WHERE table_name = ? AND scope = ?"), table, scope).Scan(&n)
	return n, err
}

// GetDashboardKPI reads the stored KPI rows for a scope.
func (r *SQLRepository) GetDashboardKPI(ctx context.Context, scope string) ([]domain.DashboardKPIRow, error) {
	query := "SELECT data FROM aggregate_rows WHERE table_name = ? AND scope = ? ORDER BY pos"
	rows, err := r.db.QueryContext(ctx, r.rebind(query), domain.TableDashboardKPI, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DashboardKPIRow
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var kpi domain.DashboardKPIRow
		if err := json.Unmarshal([]byte(data), &kpi); err != nil {
			return nil, err
		}
		out = append(out, kpi)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// filterClause builds a WHERE clause from the load filter. Zero values mean
// "all".
func filterClause(filter domain.LoadFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.FiscalYear > 0 {
		conds = append(conds, "fiscal_year = ?")
		args = append(args, filter.FiscalYear)
	}
	if filter.FiscalPeriod > 0 {
		conds = append(conds, "fiscal_period = ?")
		args = append(args, filter.FiscalPeriod)
	}
	if filter.BusinessUnit != "" {
		conds = append(conds, "business_unit = ?")
		args = append(args, filter.BusinessUnit)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
