// Package scoring combines rule, ML, and Benford signals into per-entry
// risk scores and prioritizes the flagged population for review.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// MaxScore caps every combined total.
const MaxScore = 100.0

// Weights parameterizes the combiner. Construct via DefaultWeights.
type Weights struct {
	// Severity maps a violation with no explicit impact to a base score.
	Severity map[domain.Severity]float64 `json:"severity"`

	// Category scales each rule category's contribution.
	Category map[domain.RuleCategory]float64 `json:"category"`

	// MLWeight and BenfordWeight scale the normalized ensemble and digit
	// signals, which enter the total as ml*20 and benford*10.
	MLWeight      float64 `json:"mlWeight"`
	BenfordWeight float64 `json:"benfordWeight"`

	// ReviewThreshold sets requires_review on totals at or above it.
	ReviewThreshold float64 `json:"reviewThreshold"`
}

// DefaultWeights returns the documented scoring defaults.
func DefaultWeights() Weights {
	return Weights{
		Severity: map[domain.Severity]float64{
			domain.SeverityCritical: 25,
			domain.SeverityHigh:     15,
			domain.SeverityMedium:   10,
			domain.SeverityLow:      5,
			domain.SeverityInfo:     0,
		},
		Category: map[domain.RuleCategory]float64{
			domain.CategoryApproval:    1.5,
			domain.CategoryML:          1.2,
			domain.CategoryDescription: 0.8,
		},
		MLWeight:        1.0,
		BenfordWeight:   1.0,
		ReviewThreshold: 60,
	}
}

// categoryWeight defaults to 1 for categories without an override.
func (w Weights) categoryWeight(cat domain.RuleCategory) float64 {
	if cw, ok := w.Category[cat]; ok {
		return cw
	}
	return 1.0
}

// Service is the risk-scoring combiner.
type Service struct {
	weights Weights
	repo    domain.Repository
	logger  *slog.Logger
}

// NewService builds a scoring service writing through the repository.
func NewService(weights Weights, repo domain.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{weights: weights, repo: repo, logger: logger}
}

// CalculateScore combines one entry's violations with its normalized ML and
// Benford signals. Both signals are clamped to [0, 1].
func (s *Service) CalculateScore(glDetailID string, violations []domain.RuleViolation, mlSignal, benfordSignal float64) *domain.RiskScore {
	mlSignal = clamp01(mlSignal)
	benfordSignal = clamp01(benfordSignal)

	score := &domain.RiskScore{
		GLDetailID:     glDetailID,
		CategoryScores: make(map[domain.RuleCategory]float64),
		SeverityLevel:  domain.SeverityInfo,
	}

	seenRules := make(map[string]bool)
	for _, v := range violations {
		base := v.ScoreImpact
		if base <= 0 {
			base = s.weights.Severity[v.Severity]
		}
		contribution := base * s.weights.categoryWeight(v.Category)
		score.CategoryScores[v.Category] += contribution
		score.RuleScore += contribution
		score.SeverityLevel = domain.MaxSeverity(score.SeverityLevel, v.Severity)
		if !seenRules[v.RuleID] {
			seenRules[v.RuleID] = true
			score.ViolatedRules = append(score.ViolatedRules, v.RuleID)
		}
	}
	sort.Strings(score.ViolatedRules)

	score.MLScore = mlSignal * 20 * s.weights.MLWeight * s.weights.categoryWeight(domain.CategoryML)
	score.BenfordScore = benfordSignal * 10 * s.weights.BenfordWeight * s.weights.categoryWeight(domain.CategoryBenford)
	if score.MLScore > 0 {
		score.CategoryScores[domain.CategoryML] += score.MLScore
	}
	if score.BenfordScore > 0 {
		score.CategoryScores[domain.CategoryBenford] += score.BenfordScore
	}

	var total float64
	for _, cs := range score.CategoryScores {
		total += cs
	}
	if total > MaxScore {
		total = MaxScore
	}
	score.Total = total
	score.RequiresReview = total >= s.weights.ReviewThreshold
	return score
}

// EntrySignals carries the per-entry normalized detector signals produced
// by the ML phase.
type EntrySignals struct {
	ML      float64
	Benford float64
}

// ScoreViolations groups the pass's violations per entry and combines each
// group into one RiskScore. Entries absent from signals score with zero ML
// and Benford contribution.
func (s *Service) ScoreViolations(violations []domain.RuleViolation, signals map[string]EntrySignals) []*domain.RiskScore {
	grouped := make(map[string][]domain.RuleViolation)
	for _, v := range violations {
		grouped[v.GLDetailID] = append(grouped[v.GLDetailID], v)
	}

	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	scores := make([]*domain.RiskScore, 0, len(ids))
	for _, id := range ids {
		sig := signals[id]
		scores = append(scores, s.CalculateScore(id, grouped[id], sig.ML, sig.Benford))
	}
	return scores
}

// UpdateDatabaseScores persists the combined scores: the scoped score rows
// are replaced and the entry risk fields written back in one batch.
func (s *Service) UpdateDatabaseScores(ctx context.Context, filter domain.LoadFilter, scores []*domain.RiskScore) error {
	if s.repo == nil {
		return fmt.Errorf("no repository configured")
	}
	if err := s.repo.ReplaceRiskScores(ctx, filter, scores); err != nil {
		return fmt.Errorf("replace risk scores: %w", err)
	}

	updates := make([]domain.RiskUpdate, 0, len(scores))
	for _, sc := range scores {
		flags := make([]string, 0, len(sc.CategoryScores))
		for cat := range sc.CategoryScores {
			flags = append(flags, string(cat))
		}
		sort.Strings(flags)
		updates = append(updates, domain.RiskUpdate{
			GLDetailID:     sc.GLDetailID,
			RiskScore:      sc.Total,
			AnomalyFlags:   flags,
			RuleViolations: sc.ViolatedRules,
		})
	}
	if err := s.repo.UpdateRiskFields(ctx, updates); err != nil {
		return fmt.Errorf("write back risk fields: %w", err)
	}

	s.logger.Info("risk scores updated", "scope", filter.Scope(), "entries", len(scores))
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
