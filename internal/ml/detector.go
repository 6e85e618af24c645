// Package ml implements the anomaly detector ensemble that scores journal
// entry batches.
package ml

import (
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/features"
)

// Anomaly is one flagged row with its detector-specific score.
type Anomaly struct {
	// Index is the row position within the batch.
	Index int
	// Score is the detector's anomaly score; its scale is
	// detector-specific.
	Score float64
}

// Detector scores a standardized feature matrix and returns the anomalous
// rows. Detectors must be deterministic for a fixed construction seed.
type Detector interface {
	Name() string
	Detect(m *features.Matrix) ([]Anomaly, error)
}

// MinBatchSize is the smallest batch the ensemble will analyse.
const MinBatchSize = 100

// defaultContamination is the assumed anomaly share in a normal ledger.
const defaultContamination = 0.02

func euclidean(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}

// quantile returns the q-quantile of values without mutating the input.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// subsampleIndices returns up to max evenly spaced row indices, so repeated
// runs over the same batch pick the same sample.
func subsampleIndices(n, max int) []int {
	if n <= max {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, max)
	step := float64(n) / float64(max)
	for i := range idx {
		idx[i] = int(float64(i) * step)
	}
	return idx
}
