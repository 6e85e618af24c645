// Package aggregate rebuilds the derived reporting tables after a pipeline
// run. Every table uses replace-scope-then-recompute, so rebuilding an
// unchanged scope is idempotent and a crashed run is safe to re-run.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/harrier/internal/benford"
	"github.com/opensource-finance/harrier/internal/domain"
)

// kpiCacheTTL bounds how long a cached dashboard snapshot is served.
const kpiCacheTTL = 15 * time.Minute

// Inputs carries everything one rebuild derives from.
type Inputs struct {
	Batch      *domain.Batch
	Violations []domain.RuleViolation
	Scores     []*domain.RiskScore
}

// Service rebuilds the 17 derived tables.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	logger *slog.Logger

	// Concurrency bounds the parallel table rebuilds.
	Concurrency int
}

// NewService builds an aggregation service. The cache is optional; when
// present the dashboard KPI snapshot is refreshed after a rebuild.
func NewService(repo domain.Repository, cache domain.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, Concurrency: 4}
}

// builder rebuilds one table and returns the row count it stored.
type builder struct {
	table string
	run   func(ctx context.Context, scope string, in Inputs) (int, error)
}

// UpdateAll rebuilds every derived table for the scope. Table failures are
// isolated: each failed table is recorded on its TableResult and the rest
// still rebuild.
func (s *Service) UpdateAll(ctx context.Context, filter domain.LoadFilter, in Inputs) *domain.AggregationResult {
	start := time.Now()
	scope := filter.Scope()

	builders := s.builders()
	results := make([]domain.TableResult, len(builders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Concurrency)
	var mu sync.Mutex

	for i, b := range builders {
		g.Go(func() error {
			tStart := time.Now()
			rows, err := b.run(gctx, scope, in)
			res := domain.TableResult{
				Table:     b.table,
				Rows:      rows,
				ProcessMs: time.Since(tStart).Milliseconds(),
			}
			if err != nil {
				res.Error = err.Error()
				s.logger.Warn("aggregate rebuild failed", "table", b.table, "scope", scope, "error", err)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	out := &domain.AggregationResult{Scope: scope, Tables: results}
	for _, r := range results {
		if r.Error == "" {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	out.ProcessMs = time.Since(start).Milliseconds()

	s.logger.Info("aggregates rebuilt",
		"scope", scope,
		"succeeded", out.Succeeded,
		"failed", out.Failed,
		"process_ms", out.ProcessMs)
	return out
}

// RebuildTable rebuilds a single named table, for retrying one failure.
func (s *Service) RebuildTable(ctx context.Context, filter domain.LoadFilter, table string, in Inputs) domain.TableResult {
	scope := filter.Scope()
	for _, b := range s.builders() {
		if b.table != table {
			continue
		}
		start := time.Now()
		rows, err := b.run(ctx, scope, in)
		res := domain.TableResult{Table: table, Rows: rows, ProcessMs: time.Since(start).Milliseconds()}
		if err != nil {
			res.Error = err.Error()
		}
		return res
	}
	return domain.TableResult{Table: table, Error: fmt.Sprintf("unknown table %q", table)}
}

func (s *Service) builders() []builder {
	return []builder{
		{domain.TablePeriodAccount, s.buildPeriodAccount},
		{domain.TableDaily, s.buildDaily},
		{domain.TableUser, s.buildUser},
		{domain.TableDepartment, s.buildDepartment},
		{domain.TableVendor, s.buildVendor},
		{domain.TableHighRisk, s.buildHighRisk},
		{domain.TableRuleViolation, s.buildRuleViolation},
		{domain.TableTrend, s.buildTrend},
		{domain.TableBenford, s.buildBenford},
		{domain.TableAmountBucket, s.buildAmountBucket},
		{domain.TableTimeOfMonth, s.buildTimeOfMonth},
		{domain.TableDayOfWeek, s.buildDayOfWeek},
		{domain.TableApprovalPair, s.buildApprovalPair},
		{domain.TableAccountActivity, s.buildAccountActivity},
		{domain.TableAnomalySeverity, s.buildAnomalySeverity},
		{domain.TableMLScoreBucket, s.buildMLScoreBucket},
		{domain.TableDashboardKPI, s.buildDashboardKPI},
	}
}

// riskByEntry maps entry ids to their combined totals.
func riskByEntry(in Inputs) map[string]*domain.RiskScore {
	m := make(map[string]*domain.RiskScore, len(in.Scores))
	for _, sc := range in.Scores {
		m[sc.GLDetailID] = sc
	}
	return m
}

func (s *Service) buildPeriodAccount(ctx context.Context, scope string, in Inputs) (int, error) {
	type key struct {
		year, period int
		account      string
	}
	acc := make(map[key]*domain.PeriodAccountRow)
	for _, e := range in.Batch.Entries {
		k := key{e.FiscalYear, e.FiscalPeriod, e.AccountCode}
		row, ok := acc[k]
		if !ok {
			row = &domain.PeriodAccountRow{FiscalYear: k.year, FiscalPeriod: k.period, AccountCode: k.account}
			acc[k] = row
		}
		row.EntryCount++
		if e.IsDebit {
			row.DebitTotal += e.Amount
		} else {
			row.CreditTotal += e.Amount
		}
		abs := math.Abs(e.Amount)
		if abs > row.MaxAmount {
			row.MaxAmount = abs
		}
	}

	rows := make([]domain.PeriodAccountRow, 0, len(acc))
	for _, row := range acc {
		row.NetAmount = row.DebitTotal - row.CreditTotal
		row.AvgAmount = (row.DebitTotal + row.CreditTotal) / float64(row.EntryCount)
		rows = append(rows, *row)
	}
	sortPeriodAccount(rows)
	return len(rows), s.repo.ReplacePeriodAccount(ctx, scope, rows)
}

func sortPeriodAccount(rows []domain.PeriodAccountRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.FiscalYear != b.FiscalYear {
			return a.FiscalYear < b.FiscalYear
		}
		if a.FiscalPeriod != b.FiscalPeriod {
			return a.FiscalPeriod < b.FiscalPeriod
		}
		return a.AccountCode < b.AccountCode
	})
}

func (s *Service) buildDaily(ctx context.Context, scope string, in Inputs) (int, error) {
	risk := riskByEntry(in)
	acc := make(map[string]*domain.DailyRow)
	for _, e := range in.Batch.Entries {
		d := e.EffectiveDate.Format("2006-01-02")
		row, ok := acc[d]
		if !ok {
			row = &domain.DailyRow{Date: d}
			acc[d] = row
		}
		row.EntryCount++
		row.TotalAmount += math.Abs(e.Amount)
		if sc, ok := risk[e.GLDetailID]; ok && sc.Total >= domain.RiskThresholdHigh {
			row.FlaggedHigh++
		}
	}
	rows := make([]domain.DailyRow, 0, len(acc))
	for _, row := range acc {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return len(rows), s.repo.ReplaceDaily(ctx, scope, rows)
}

func (s *Service) buildUser(ctx context.Context, scope string, in Inputs) (int, error) {
	risk := riskByEntry(in)
	violationsByEntry := make(map[string]int)
	for _, v := range in.Violations {
		violationsByEntry[v.GLDetailID]++
	}

	type agg struct {
		row       domain.UserRow
		riskSum   float64
		riskCount int
	}
	acc := make(map[string]*agg)
	for _, e := range in.Batch.Entries {
		if e.PreparedBy == "" {
			continue
		}
		a, ok := acc[e.PreparedBy]
		if !ok {
			a = &agg{row: domain.UserRow{UserID: e.PreparedBy}}
			acc[e.PreparedBy] = a
		}
		a.row.EntryCount++
		a.row.TotalAmount += math.Abs(e.Amount)
		a.row.ViolationCount += violationsByEntry[e.GLDetailID]
		if sc, ok := risk[e.GLDetailID]; ok {
			a.riskSum += sc.Total
			a.riskCount++
		}
	}

	rows := make([]domain.UserRow, 0, len(acc))
	for _, a := range acc {
		if a.riskCount > 0 {
			a.row.AvgRiskScore = a.riskSum / float64(a.riskCount)
		}
		rows = append(rows, a.row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return len(rows), s.repo.ReplaceUser(ctx, scope, rows)
}

func (s *Service) buildDepartment(ctx context.Context, scope string, in Inputs) (int, error) {
	risk := riskByEntry(in)
	type agg struct {
		row       domain.DepartmentRow
		riskSum   float64
		riskCount int
	}
	acc := make(map[string]*agg)
	for _, e := range in.Batch.Entries {
		dept := e.Department
		if dept == "" {
			dept = "unassigned"
		}
		a, ok := acc[dept]
		if !ok {
			a = &agg{row: domain.DepartmentRow{Department: dept}}
			acc[dept] = a
		}
		a.row.EntryCount++
		a.row.TotalAmount += math.Abs(e.Amount)
		if sc, ok := risk[e.GLDetailID]; ok {
			a.riskSum += sc.Total
			a.riskCount++
		}
	}
	rows := make([]domain.DepartmentRow, 0, len(acc))
	for _, a := range acc {
		if a.riskCount > 0 {
			a.row.AvgRiskScore = a.riskSum / float64(a.riskCount)
		}
		rows = append(rows, a.row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Department < rows[j].Department })
	return len(rows), s.repo.ReplaceDepartment(ctx, scope, rows)
}

func (s *Service) buildVendor(ctx context.Context, scope string, in Inputs) (int, error) {
	risk := riskByEntry(in)
	type agg struct {
		row       domain.VendorRow
		riskSum   float64
		riskCount int
	}
	acc := make(map[string]*agg)
	for _, e := range in.Batch.Entries {
		if e.VendorID == "" {
			continue
		}
		a, ok := acc[e.VendorID]
		if !ok {
			a = &agg{row: domain.VendorRow{VendorID: e.VendorID}}
			acc[e.VendorID] = a
		}
		a.row.EntryCount++
		abs := math.Abs(e.Amount)
		a.row.TotalAmount += abs
		if abs >= 1000 && math.Mod(abs, 1000) == 0 {
			a.row.RoundAmounts++
		}
		if sc, ok := risk[e.GLDetailID]; ok {
			a.riskSum += sc.Total
			a.riskCount++
		}
	}
	rows := make([]domain.VendorRow, 0, len(acc))
	for _, a := range acc {
		if a.riskCount > 0 {
			a.row.AvgRiskScore = a.riskSum / float64(a.riskCount)
		}
		rows = append(rows, a.row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].VendorID < rows[j].VendorID })
	return len(rows), s.repo.ReplaceVendor(ctx, scope, rows)
}

func (s *Service) buildHighRisk(ctx context.Context, scope string, in Inputs) (int, error) {
	byID := make(map[string]*domain.JournalEntryLine, in.Batch.Size())
	for _, e := range in.Batch.Entries {
		byID[e.GLDetailID] = e
	}

	var rows []domain.HighRiskRow
	for _, sc := range in.Scores {
		if sc.Total < domain.RiskThresholdMedium {
			continue
		}
		row := domain.HighRiskRow{
			GLDetailID:   sc.GLDetailID,
			RiskScore:    sc.Total,
			RiskCategory: sc.Category(),
		}
		if e, ok := byID[sc.GLDetailID]; ok {
			row.AccountCode = e.AccountCode
			row.Amount = e.Amount
			row.PreparedBy = e.PreparedBy
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RiskScore > rows[j].RiskScore })
	return len(rows), s.repo.ReplaceHighRisk(ctx, scope, rows)
}

func (s *Service) buildRuleViolation(ctx context.Context, scope string, in Inputs) (int, error) {
	type key struct {
		rule string
		sev  domain.Severity
	}
	acc := make(map[key]*domain.RuleViolationRow)
	for _, v := range in.Violations {
		k := key{v.RuleID, v.Severity}
		row, ok := acc[k]
		if !ok {
			row = &domain.RuleViolationRow{RuleID: v.RuleID, Category: v.Category, Severity: v.Severity}
			acc[k] = row
		}
		row.Violations++
	}
	rows := make([]domain.RuleViolationRow, 0, len(acc))
	for _, row := range acc {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RuleID != rows[j].RuleID {
			return rows[i].RuleID < rows[j].RuleID
		}
		return rows[i].Severity < rows[j].Severity
	})
	return len(rows), s.repo.ReplaceRuleViolation(ctx, scope, rows)
}

func (s *Service) buildTrend(ctx context.Context, scope string, in Inputs) (int, error) {
	type key struct {
		account string
		period  domain.PeriodKey
	}
	totals := make(map[key]float64)
	for _, e := range in.Batch.Entries {
		if e.FiscalYear == 0 || e.FiscalPeriod == 0 {
			continue
		}
		k := key{e.AccountCode, domain.PeriodKey{Year: e.FiscalYear, Period: e.FiscalPeriod}}
		totals[k] += math.Abs(e.Amount)
	}

	var rows []domain.TrendRow
	appendTrend := func(trendType string, k key, prior domain.PeriodKey) {
		cur := totals[k]
		prev, ok := totals[key{k.account, prior}]
		if !ok || prev == 0 {
			return
		}
		rows = append(rows, domain.TrendRow{
			TrendType:    trendType,
			AccountCode:  k.account,
			FiscalYear:   k.period.Year,
			FiscalPeriod: k.period.Period,
			Amount:       cur,
			PriorAmount:  prev,
			ChangePct:    (cur - prev) / prev * 100,
		})
	}
	for k := range totals {
		appendTrend("mom", k, k.period.Prev())
		appendTrend("yoy", k, k.period.PrevYear())
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.TrendType != b.TrendType {
			return a.TrendType < b.TrendType
		}
		if a.AccountCode != b.AccountCode {
			return a.AccountCode < b.AccountCode
		}
		if a.FiscalYear != b.FiscalYear {
			return a.FiscalYear < b.FiscalYear
		}
		return a.FiscalPeriod < b.FiscalPeriod
	})
	return len(rows), s.repo.ReplaceTrend(ctx, scope, rows)
}

func (s *Service) buildBenford(ctx context.Context, scope string, in Inputs) (int, error) {
	amounts := make([]float64, 0, in.Batch.Size())
	for _, e := range in.Batch.Entries {
		if a := math.Abs(e.Amount); a > 0 {
			amounts = append(amounts, a)
		}
	}

	var rows []domain.BenfordRow
	appendResult := func(res *domain.BenfordResult) {
		digits := make([]int, 0, len(res.Expected))
		for d := range res.Expected {
			digits = append(digits, d)
		}
		sort.Ints(digits)
		for _, d := range digits {
			rows = append(rows, domain.BenfordRow{
				DigitPosition: res.DigitPosition,
				Digit:         d,
				Count:         res.Counts[d],
				Observed:      res.Observed[d],
				Expected:      res.Expected[d],
			})
		}
	}
	appendResult(benford.AnalyzeFirstDigit(amounts))
	appendResult(benford.AnalyzeSecondDigit(amounts))
	return len(rows), s.repo.ReplaceBenford(ctx, scope, rows)
}

// amountBuckets are the lower bounds of the distribution buckets.
var amountBuckets = []struct {
	label string
	lower float64
}{
	{"0-1k", 0},
	{"1k-10k", 1_000},
	{"10k-100k", 10_000},
	{"100k-1m", 100_000},
	{"1m-10m", 1_000_000},
	{"10m-100m", 10_000_000},
	{"100m+", 100_000_000},
}

func (s *Service) buildAmountBucket(ctx context.Context, scope string, in Inputs) (int, error) {
	rows := make([]domain.AmountBucketRow, len(amountBuckets))
	for i, b := range amountBuckets {
		rows[i] = domain.AmountBucketRow{Bucket: b.label, LowerBound: b.lower}
	}
	for _, e := range in.Batch.Entries {
		abs := math.Abs(e.Amount)
		idx := 0
		for i := len(amountBuckets) - 1; i > 0; i-- {
			if abs >= amountBuckets[i].lower {
				idx = i
				break
			}
		}
		rows[idx].EntryCount++
		rows[idx].TotalAmount += abs
	}
	return len(rows), s.repo.ReplaceAmountBucket(ctx, scope, rows)
}

func (s *Service) buildTimeOfMonth(ctx context.Context, scope string, in Inputs) (int, error) {
	acc := make(map[int]*domain.TimeOfMonthRow)
	for _, e := range in.Batch.Entries {
		d := e.EffectiveDate.Day()
		row, ok := acc[d]
		if !ok {
			row = &domain.TimeOfMonthRow{DayOfMonth: d}
			acc[d] = row
		}
		row.EntryCount++
		row.TotalAmount += math.Abs(e.Amount)
	}
	rows := make([]domain.TimeOfMonthRow, 0, len(acc))
	for _, row := range acc {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DayOfMonth < rows[j].DayOfMonth })
	return len(rows), s.repo.ReplaceTimeOfMonth(ctx, scope, rows)
}

func (s *Service) buildDayOfWeek(ctx context.Context, scope string, in Inputs) (int, error) {
	acc := make(map[int]*domain.DayOfWeekRow)
	for _, e := range in.Batch.Entries {
		d := int(e.EffectiveDate.Weekday())
		row, ok := acc[d]
		if !ok {
			row = &domain.DayOfWeekRow{DayOfWeek: d}
			acc[d] = row
		}
		row.EntryCount++
		row.TotalAmount += math.Abs(e.Amount)
	}
	rows := make([]domain.DayOfWeekRow, 0, len(acc))
	for _, row := range acc {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DayOfWeek < rows[j].DayOfWeek })
	return len(rows), s.repo.ReplaceDayOfWeek(ctx, scope, rows)
}

func (s *Service) buildApprovalPair(ctx context.Context, scope string, in Inputs) (int, error) {
	type key struct{ preparer, approver string }
	acc := make(map[key]*domain.ApprovalPairRow)
	for _, e := range in.Batch.Entries {
		if e.PreparedBy == "" || e.ApprovedBy == "" {
			continue
		}
		k := key{e.PreparedBy, e.ApprovedBy}
		row, ok := acc[k]
		if !ok {
			row = &domain.ApprovalPairRow{
				PreparedBy:   k.preparer,
				ApprovedBy:   k.approver,
				SelfApproved: k.preparer == k.approver,
			}
			acc[k] = row
		}
		row.EntryCount++
		row.TotalAmount += math.Abs(e.Amount)
	}
	rows := make([]domain.ApprovalPairRow, 0, len(acc))
	for _, row := range acc {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PreparedBy != rows[j].PreparedBy {
			return rows[i].PreparedBy < rows[j].PreparedBy
		}
		return rows[i].ApprovedBy < rows[j].ApprovedBy
	})
	return len(rows), s.repo.ReplaceApprovalPair(ctx, scope, rows)
}

func (s *Service) buildAccountActivity(ctx context.Context, scope string, in Inputs) (int, error) {
	risk := riskByEntry(in)
	type agg struct {
		row        domain.AccountActivityRow
		first      time.Time
		last       time.Time
		activeDays map[string]bool
		riskSum    float64
		riskCount  int
	}
	acc := make(map[string]*agg)
	for _, e := range in.Batch.Entries {
		a, ok := acc[e.AccountCode]
		if !ok {
			a = &agg{
				row:        domain.AccountActivityRow{AccountCode: e.AccountCode},
				first:      e.EffectiveDate,
				last:       e.EffectiveDate,
				activeDays: make(map[string]bool),
			}
			acc[e.AccountCode] = a
		}
		a.row.EntryCount++
		a.row.TotalAmount += math.Abs(e.Amount)
		a.activeDays[e.EffectiveDate.Format("2006-01-02")] = true
		if e.EffectiveDate.Before(a.first) {
			a.first = e.EffectiveDate
		}
		if e.EffectiveDate.After(a.last) {
			a.last = e.EffectiveDate
		}
		if sc, ok := risk[e.GLDetailID]; ok {
			a.riskSum += sc.Total
			a.riskCount++
		}
	}
	rows := make([]domain.AccountActivityRow, 0, len(acc))
	for _, a := range acc {
		a.row.FirstSeen = a.first.Format("2006-01-02")
		a.row.LastSeen = a.last.Format("2006-01-02")
		a.row.ActiveDays = len(a.activeDays)
		if a.riskCount > 0 {
			a.row.AvgRiskScore = a.riskSum / float64(a.riskCount)
		}
		rows = append(rows, a.row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].AccountCode < rows[j].AccountCode })
	return len(rows), s.repo.ReplaceAccountActivity(ctx, scope, rows)
}

func (s *Service) buildAnomalySeverity(ctx context.Context, scope string, in Inputs) (int, error) {
	type key struct {
		cat domain.RuleCategory
		sev domain.Severity
	}
	counts := make(map[key]int)
	entries := make(map[key]map[string]bool)
	for _, v := range in.Violations {
		k := key{v.Category, v.Severity}
		counts[k]++
		if entries[k] == nil {
			entries[k] = make(map[string]bool)
		}
		entries[k][v.GLDetailID] = true
	}
	rows := make([]domain.AnomalySeverityRow, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, domain.AnomalySeverityRow{
			Category:   k.cat,
			Severity:   k.sev,
			Violations: n,
			Entries:    len(entries[k]),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].Severity < rows[j].Severity
	})
	return len(rows), s.repo.ReplaceAnomalySeverity(ctx, scope, rows)
}

// mlBuckets are the lower bounds of the ML sub-score buckets.
var mlBuckets = []struct {
	label string
	lower float64
}{
	{"0-5", 0},
	{"5-10", 5},
	{"10-15", 10},
	{"15-20", 15},
	{"20+", 20},
}

func (s *Service) buildMLScoreBucket(ctx context.Context, scope string, in Inputs) (int, error) {
	rows := make([]domain.MLScoreBucketRow, len(mlBuckets))
	for i, b := range mlBuckets {
		rows[i] = domain.MLScoreBucketRow{Bucket: b.label, LowerBound: b.lower}
	}
	for _, sc := range in.Scores {
		idx := 0
		for i := len(mlBuckets) - 1; i >= 0; i-- {
			if sc.MLScore >= mlBuckets[i].lower {
				idx = i
				break
			}
		}
		rows[idx].EntryCount++
	}
	return len(rows), s.repo.ReplaceMLScoreBucket(ctx, scope, rows)
}

func (s *Service) buildDashboardKPI(ctx context.Context, scope string, in Inputs) (int, error) {
	var totalAmount, riskSum, maxRisk float64
	var flagged, critical, review, selfApproved int
	for _, e := range in.Batch.Entries {
		totalAmount += math.Abs(e.Amount)
		if e.PreparedBy != "" && e.PreparedBy == e.ApprovedBy {
			selfApproved++
		}
	}
	for _, sc := range in.Scores {
		flagged++
		riskSum += sc.Total
		if sc.Total > maxRisk {
			maxRisk = sc.Total
		}
		if sc.Category() == domain.RiskCritical {
			critical++
		}
		if sc.RequiresReview {
			review++
		}
	}
	avgRisk := 0.0
	if flagged > 0 {
		avgRisk = riskSum / float64(flagged)
	}

	rows := []domain.DashboardKPIRow{
		{Name: "total_entries", Value: float64(in.Batch.Size())},
		{Name: "total_amount", Value: totalAmount},
		{Name: "total_violations", Value: float64(len(in.Violations))},
		{Name: "flagged_entries", Value: float64(flagged)},
		{Name: "critical_entries", Value: float64(critical)},
		{Name: "requires_review", Value: float64(review)},
		{Name: "self_approved_entries", Value: float64(selfApproved)},
		{Name: "avg_risk_score", Value: avgRisk},
		{Name: "max_risk_score", Value: maxRisk},
	}
	if err := s.repo.ReplaceDashboardKPI(ctx, scope, rows); err != nil {
		return 0, err
	}

	if s.cache != nil {
		snap := &domain.KPISnapshot{Scope: scope, GeneratedAt: time.Now().UTC(), KPIs: rows}
		if err := s.cache.SetKPISnapshot(ctx, scope, snap, kpiCacheTTL); err != nil {
			s.logger.Warn("kpi snapshot cache write failed", "scope", scope, "error", err)
		}
	}
	return len(rows), nil
}
