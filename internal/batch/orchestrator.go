// Package batch sequences the screening pipeline: load entries, execute
// rules, store violations, score, and rebuild aggregates. Phases run
// strictly in order; a failed phase is recorded on the result and the run
// continues with whatever the later phases can still do. Only a failed load
// short-circuits.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
)

var tracer = otel.Tracer("harrier-batch")

// Orchestrator drives one pipeline run end to end.
type Orchestrator struct {
	repo       domain.Repository
	engine     *rules.Engine
	scorer     *scoring.Service
	aggregator *aggregate.Service
	bus        domain.EventBus
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithEventBus publishes run-completed and risk-alert events.
func WithEventBus(bus domain.EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithMetrics records run and phase instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires the pipeline services together.
func NewOrchestrator(repo domain.Repository, engine *rules.Engine, scorer *scoring.Service, aggregator *aggregate.Service, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		repo:       repo,
		engine:     engine,
		scorer:     scorer,
		aggregator: aggregator,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs the pipeline under the config and returns the per-phase
// outcome. The result always carries a completion timestamp; Success is
// true only when no phase recorded an error.
func (o *Orchestrator) Execute(ctx context.Context, cfg domain.BatchConfig) *domain.BatchResult {
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeFull
	}
	result := &domain.BatchResult{
		RunID:     uuid.NewString(),
		Mode:      cfg.Mode,
		Scope:     cfg.Filter.Scope(),
		StartedAt: time.Now().UTC(),
	}

	ctx, span := tracer.Start(ctx, "batch.run", trace.WithAttributes(
		attribute.String("run.id", result.RunID),
		attribute.String("run.mode", string(cfg.Mode)),
		attribute.String("run.scope", result.Scope),
	))
	defer span.End()

	o.logger.Info("batch run started", "run_id", result.RunID, "mode", cfg.Mode, "scope", result.Scope)

	var batch *domain.Batch
	o.phase(ctx, result, cfg, domain.PhaseLoad, func(ctx context.Context) error {
		entries, err := o.repo.LoadEntries(ctx, cfg.Filter)
		if err != nil {
			return fmt.Errorf("load entries: %w", err)
		}
		batch = domain.NewBatch(entries)
		result.EntriesProcessed = batch.Size()
		return nil
	})
	if batch == nil {
		// Nothing downstream can run without entries.
		for _, name := range []string{domain.PhaseExecuteRules, domain.PhaseStoreViolations, domain.PhaseScore, domain.PhaseAggregate} {
			result.AddPhase(domain.PhaseResult{Name: name, Skipped: true})
		}
		o.finish(ctx, result, nil)
		return result
	}

	var engineResult *domain.EngineResult
	o.phase(ctx, result, cfg, domain.PhaseExecuteRules, func(ctx context.Context) error {
		parallel := true
		if cfg.Parallel != nil {
			parallel = *cfg.Parallel
		}
		engineResult = o.engine.Execute(ctx, batch, o.selectRules(cfg.Mode), parallel)
		result.RulesExecuted = engineResult.RulesExecuted
		result.RulesFailed = engineResult.RulesFailed
		result.ViolationsFound = engineResult.TotalViolations
		for cat, n := range engineResult.ViolationsByCategory {
			o.metrics.AddViolations(string(cat), n)
		}
		return nil
	})

	storeFn := func(ctx context.Context) error {
		return o.engine.StoreViolations(ctx, cfg.Filter, engineResult)
	}
	if engineResult == nil {
		storeFn = nil
	}
	o.phase(ctx, result, cfg, domain.PhaseStoreViolations, storeFn)

	var scores []*domain.RiskScore
	scoreFn := func(ctx context.Context) error {
		scores = o.buildScores(engineResult.Violations)
		result.EntriesScored = len(scores)
		return o.scorer.UpdateDatabaseScores(ctx, cfg.Filter, scores)
	}
	if engineResult == nil {
		scoreFn = nil
	}
	o.phase(ctx, result, cfg, domain.PhaseScore, scoreFn)

	aggFn := func(ctx context.Context) error {
		in := aggregate.Inputs{Batch: batch, Violations: engineResult.Violations, Scores: scores}
		res := o.aggregator.UpdateAll(ctx, cfg.Filter, in)

		// One retry per failed table before counting it against the phase.
		for i, tr := range res.Tables {
			if tr.Error == "" {
				continue
			}
			retry := o.aggregator.RebuildTable(ctx, cfg.Filter, tr.Table, in)
			if retry.Error == "" {
				o.logger.Info("aggregate table recovered on retry", "table", tr.Table)
				res.Tables[i] = retry
				res.Succeeded++
				res.Failed--
				continue
			}
			o.metrics.IncrementTableFailure(tr.Table)
		}

		result.TablesRebuilt = res.Succeeded
		result.TablesFailed = res.Failed
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d tables failed", res.Failed, len(res.Tables))
		}
		return nil
	}
	if engineResult == nil || cfg.Mode == domain.ModeQuick {
		aggFn = nil
	}
	o.phase(ctx, result, cfg, domain.PhaseAggregate, aggFn)

	o.finish(ctx, result, scores)
	return result
}

// selectRules picks the mode's rule set. Nil means every enabled rule.
func (o *Orchestrator) selectRules(mode domain.BatchMode) []domain.Rule {
	switch mode {
	case domain.ModeQuick:
		var out []domain.Rule
		for _, r := range o.engine.EnabledRules() {
			sev := string(r.DefaultSeverity())
			if r.Category() == domain.CategoryApproval || sev == "high" || sev == "critical" {
				out = append(out, r)
			}
		}
		return out
	case domain.ModeMLOnly:
		return o.engine.RulesByCategory(domain.CategoryML)
	case domain.ModeRulesOnly:
		var out []domain.Rule
		for _, r := range o.engine.EnabledRules() {
			if r.Category() != domain.CategoryML {
				out = append(out, r)
			}
		}
		return out
	default:
		return nil
	}
}

// phase times one phase and records its outcome. A nil fn marks the phase
// skipped, used when an earlier failure left nothing to feed it.
func (o *Orchestrator) phase(ctx context.Context, result *domain.BatchResult, cfg domain.BatchConfig, name string, fn func(context.Context) error) {
	if fn == nil || cfg.ShouldSkip(name) {
		result.AddPhase(domain.PhaseResult{Name: name, Skipped: true})
		return
	}

	ctx, span := tracer.Start(ctx, "batch."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	o.metrics.ObservePhase(name, elapsed)

	pr := domain.PhaseResult{Name: name, ProcessMs: elapsed.Milliseconds()}
	if err != nil {
		pr.Error = err.Error()
		span.RecordError(err)
		o.logger.Error("phase failed", "phase", name, "error", err)
	}
	result.AddPhase(pr)
}

// severityImpact mirrors the engine's severity write-back weights for
// violations without an explicit score impact.
var severityImpact = map[domain.Severity]float64{
	domain.SeverityCritical: 25,
	domain.SeverityHigh:     15,
	domain.SeverityMedium:   10,
	domain.SeverityLow:      5,
	domain.SeverityInfo:     0,
}

func impactOf(v domain.RuleViolation) float64 {
	if v.ScoreImpact > 0 {
		return v.ScoreImpact
	}
	return severityImpact[v.Severity]
}

// buildScores converts the pass's violations into combined risk scores. ML
// and Benford violations become the normalized side signals of the scoring
// formula instead of plain rule contributions, so their capped sub-scores
// land in the right fields; their rule ids still count as violated.
func (o *Orchestrator) buildScores(violations []domain.RuleViolation) []*domain.RiskScore {
	grouped := make(map[string][]domain.RuleViolation)
	signals := make(map[string]scoring.EntrySignals)
	signalRules := make(map[string]map[string]bool)

	mark := func(id, ruleID string) {
		if signalRules[id] == nil {
			signalRules[id] = make(map[string]bool)
		}
		signalRules[id][ruleID] = true
	}

	for _, v := range violations {
		switch v.Category {
		case domain.CategoryML:
			sig := signals[v.GLDetailID]
			sig.ML += impactOf(v) / 20
			signals[v.GLDetailID] = sig
			mark(v.GLDetailID, v.RuleID)
		case domain.CategoryBenford:
			sig := signals[v.GLDetailID]
			sig.Benford += impactOf(v) / 10
			signals[v.GLDetailID] = sig
			mark(v.GLDetailID, v.RuleID)
		default:
			grouped[v.GLDetailID] = append(grouped[v.GLDetailID], v)
		}
	}

	ids := make([]string, 0, len(grouped)+len(signals))
	seen := make(map[string]bool)
	for id := range grouped {
		ids = append(ids, id)
		seen[id] = true
	}
	for id := range signals {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	scores := make([]*domain.RiskScore, 0, len(ids))
	for _, id := range ids {
		sig := signals[id]
		sc := o.scorer.CalculateScore(id, grouped[id], sig.ML, sig.Benford)
		for ruleID := range signalRules[id] {
			sc.ViolatedRules = append(sc.ViolatedRules, ruleID)
		}
		sort.Strings(sc.ViolatedRules)
		scores = append(scores, sc)
	}
	return scores
}

// finish stamps the result, persists it, and publishes run events.
func (o *Orchestrator) finish(ctx context.Context, result *domain.BatchResult, scores []*domain.RiskScore) {
	result.Finish()

	status := "success"
	if !result.Success {
		status = "degraded"
	}
	o.metrics.IncrementRun(string(result.Mode), status)
	o.metrics.ObserveRun(time.Since(result.StartedAt))

	if o.repo != nil {
		if err := o.repo.SaveRun(ctx, result); err != nil {
			o.logger.Error("failed to save run", "run_id", result.RunID, "error", err)
		}
	}

	if o.bus != nil {
		payload, _ := json.Marshal(result)
		if err := o.bus.Publish(ctx, result.Scope, domain.TopicBatchCompleted, payload); err != nil {
			o.logger.Error("failed to publish run completion", "run_id", result.RunID, "error", err)
		}

		var critical []string
		for _, sc := range scores {
			if sc.Category() == domain.RiskCritical {
				critical = append(critical, sc.GLDetailID)
			}
		}
		if len(critical) > 0 {
			alert, _ := json.Marshal(RiskAlert{
				RunID:   result.RunID,
				Scope:   result.Scope,
				Entries: critical,
			})
			if err := o.bus.Publish(ctx, result.Scope, domain.TopicRiskAlert, alert); err != nil {
				o.logger.Error("failed to publish risk alert", "run_id", result.RunID, "error", err)
			}
		}
	}

	o.logger.Info("batch run finished",
		"run_id", result.RunID,
		"mode", result.Mode,
		"scope", result.Scope,
		"entries", result.EntriesProcessed,
		"violations", result.ViolationsFound,
		"scored", result.EntriesScored,
		"errors", len(result.Errors),
		"success", result.Success,
		"duration_ms", time.Since(result.StartedAt).Milliseconds(),
	)
}

// RiskAlert is the payload published on the risk-alert topic when a run
// produces critical-band entries.
type RiskAlert struct {
	RunID   string   `json:"runId"`
	Scope   string   `json:"scope"`
	Entries []string `json:"entries"`
}
