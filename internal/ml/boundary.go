package ml

import (
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/features"
)

// OneClassBoundary approximates a kernelized one-class decision boundary:
// each row's RBF kernel similarity to a support sample is compared against
// the nu-quantile of the sample's own similarities. Rows falling outside the
// boundary are anomalous.
type OneClassBoundary struct {
	// Nu is the expected outlier fraction.
	Nu float64

	// Gamma is the RBF kernel width; zero means 1/dim.
	Gamma float64

	// MaxSample caps the support sample; batches above SubsampleAbove rows
	// use a deterministic subsample.
	MaxSample      int
	SubsampleAbove int
}

// NewOneClassBoundary builds a one-class boundary detector.
func NewOneClassBoundary() *OneClassBoundary {
	return &OneClassBoundary{
		Nu:             defaultContamination,
		MaxSample:      1024,
		SubsampleAbove: 10000,
	}
}

func (d *OneClassBoundary) Name() string { return "one_class_boundary" }

// Detect flags rows whose kernel similarity falls below the boundary.
// Scores are the normalized margin outside the boundary, in [0, 1].
func (d *OneClassBoundary) Detect(m *features.Matrix) ([]Anomaly, error) {
	n := m.N()
	if n < MinBatchSize {
		return nil, fmt.Errorf("one-class boundary: batch of %d below minimum %d", n, MinBatchSize)
	}

	dim := len(m.Rows[0])
	gamma := d.Gamma
	if gamma == 0 {
		gamma = 1 / float64(dim)
	}

	sampleCap := d.MaxSample
	if n <= d.SubsampleAbove && n < sampleCap {
		sampleCap = n
	}
	supportIdx := subsampleIndices(n, sampleCap)
	support := make([][]float64, len(supportIdx))
	for i, si := range supportIdx {
		support[i] = m.Rows[si]
	}

	similarity := func(row []float64) float64 {
		var s float64
		for _, z := range support {
			d2 := 0.0
			for j := range row {
				diff := row[j] - z[j]
				d2 += diff * diff
			}
			s += math.Exp(-gamma * d2)
		}
		return s / float64(len(support))
	}

	// Boundary at the nu-quantile of support similarities.
	supportSims := make([]float64, len(support))
	for i, z := range support {
		supportSims[i] = similarity(z)
	}
	boundary := quantile(supportSims, d.Nu)
	if boundary <= 0 {
		return nil, nil
	}

	var out []Anomaly
	for i, row := range m.Rows {
		sim := similarity(row)
		if sim < boundary {
			score := (boundary - sim) / boundary
			out = append(out, Anomaly{Index: i, Score: score})
		}
	}
	return out, nil
}
