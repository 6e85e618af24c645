package rules

import (
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/ml"
)

// mlRules wraps the anomaly detectors as rules. Batches below the ensemble
// minimum produce an empty result, not a failure.
func mlRules(seed int64) []domain.Rule {
	return []domain.Rule{
		mlRule("ML-001", "Isolation forest anomaly", ml.NewIsolationForest(seed), domain.SeverityMedium,
			func(score float64) float64 { return math.Min(score*10, 20) }),
		mlRule("ML-002", "Local density anomaly", ml.NewLocalOutlier(), domain.SeverityMedium,
			func(score float64) float64 { return math.Min(score*5, 15) }),
		mlRule("ML-003", "One-class boundary anomaly", ml.NewOneClassBoundary(), domain.SeverityMedium,
			func(score float64) float64 { return math.Min(score*5, 15) }),
		mlRule("ML-004", "Reconstruction error anomaly", ml.NewReconstruction(seed), domain.SeverityMedium,
			func(score float64) float64 { return math.Min(score*10, 15) }),
		mlRule("ML-005", "Detector consensus anomaly", ml.NewConsensus(seed), domain.SeverityHigh,
			func(votes float64) float64 { return votes * 8 }),
	}
}

// mlRule adapts one detector into the rule contract, mapping its anomaly
// score onto a score impact.
func mlRule(id, name string, detector ml.Detector, sev domain.Severity, impact func(float64) float64) domain.Rule {
	return &rule{
		id:          id,
		name:        name,
		category:    domain.CategoryML,
		description: fmt.Sprintf("Rows flagged by the %s detector", detector.Name()),
		severity:    sev,
		check: func(b *domain.Batch, c *collector) {
			if b.Size() < ml.MinBatchSize {
				return
			}
			m := features.Build(b)
			anomalies, err := detector.Detect(m)
			if err != nil {
				c.fail(fmt.Errorf("detector %s: %w", detector.Name(), err))
				return
			}
			for _, a := range anomalies {
				e := b.Entries[a.Index]
				c.flagImpact(e, impact(a.Score),
					fmt.Sprintf("%s flagged entry with score %.3f", detector.Name(), a.Score), map[string]any{
						"detector": detector.Name(),
						"score":    a.Score,
					})
			}
		},
	}
}
