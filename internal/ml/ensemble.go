package ml

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/features"
)

// Consensus reruns the base detectors and flags rows at least two of them
// agree on. A base detector failing drops its votes but never fails the
// consensus itself.
type Consensus struct {
	// MinVotes is the agreement threshold.
	MinVotes int

	detectors []Detector
}

// NewConsensus builds a consensus detector over the four base detectors.
func NewConsensus(seed int64) *Consensus {
	return &Consensus{
		MinVotes: 2,
		detectors: []Detector{
			NewIsolationForest(seed),
			NewLocalOutlier(),
			NewOneClassBoundary(),
			NewReconstruction(seed),
		},
	}
}

func (c *Consensus) Name() string { return "consensus" }

// Detect tallies votes per row across the base detectors. The returned score
// is the vote count.
func (c *Consensus) Detect(m *features.Matrix) ([]Anomaly, error) {
	n := m.N()
	if n < MinBatchSize {
		return nil, fmt.Errorf("consensus: batch of %d below minimum %d", n, MinBatchSize)
	}

	votes := make([]int, n)
	succeeded := 0
	for _, d := range c.detectors {
		anomalies, err := d.Detect(m)
		if err != nil {
			continue
		}
		succeeded++
		for _, a := range anomalies {
			votes[a.Index]++
		}
	}
	if succeeded < c.MinVotes {
		return nil, fmt.Errorf("consensus: only %d of %d detectors succeeded", succeeded, len(c.detectors))
	}

	var out []Anomaly
	for i, v := range votes {
		if v >= c.MinVotes {
			out = append(out, Anomaly{Index: i, Score: float64(v)})
		}
	}
	return out, nil
}

// Ensemble enumerates the full detector set in a stable order.
func Ensemble(seed int64) []Detector {
	return []Detector{
		NewIsolationForest(seed),
		NewLocalOutlier(),
		NewOneClassBoundary(),
		NewReconstruction(seed),
		NewConsensus(seed),
	}
}
