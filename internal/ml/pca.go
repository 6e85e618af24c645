package ml

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/harrier/internal/features"
)

// Reconstruction projects rows onto the top principal components and flags
// rows whose reconstruction error exceeds the 99th percentile. Entries that
// do not fit the batch's dominant linear structure stand out.
type Reconstruction struct {
	// Components is the number of principal components kept, at most 5.
	Components int

	// ErrorPercentile is the flagging threshold on reconstruction error.
	ErrorPercentile float64

	Seed int64
}

// NewReconstruction builds a low-rank reconstruction detector.
func NewReconstruction(seed int64) *Reconstruction {
	return &Reconstruction{
		Components:      5,
		ErrorPercentile: 0.99,
		Seed:            seed,
	}
}

func (d *Reconstruction) Name() string { return "reconstruction" }

// Detect computes principal components by power iteration with deflation,
// then flags rows with reconstruction error above the percentile threshold.
func (d *Reconstruction) Detect(m *features.Matrix) ([]Anomaly, error) {
	n := m.N()
	if n < MinBatchSize {
		return nil, fmt.Errorf("reconstruction: batch of %d below minimum %d", n, MinBatchSize)
	}

	dim := len(m.Rows[0])
	k := d.Components
	if k > 5 {
		k = 5
	}
	if k > dim {
		k = dim
	}

	// Covariance of the standardized matrix.
	cov := make([][]float64, dim)
	for i := range cov {
		cov[i] = make([]float64, dim)
	}
	for _, row := range m.Rows {
		for i := 0; i < dim; i++ {
			for j := i; j < dim; j++ {
				cov[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			cov[i][j] /= float64(n)
			cov[j][i] = cov[i][j]
		}
	}

	rng := rand.New(rand.NewSource(d.Seed))
	components := make([][]float64, 0, k)
	for c := 0; c < k; c++ {
		v, ok := powerIteration(cov, rng)
		if !ok {
			break
		}
		components = append(components, v)
		deflate(cov, v)
	}
	if len(components) == 0 {
		return nil, nil
	}

	errors := make([]float64, n)
	for i, row := range m.Rows {
		errors[i] = reconstructionError(row, components)
	}

	threshold := quantile(errors, d.ErrorPercentile)
	var out []Anomaly
	for i, e := range errors {
		if e > threshold {
			out = append(out, Anomaly{Index: i, Score: e})
		}
	}
	return out, nil
}

// powerIteration extracts the dominant eigenvector of the symmetric matrix.
func powerIteration(a [][]float64, rng *rand.Rand) ([]float64, bool) {
	dim := len(a)
	v := make([]float64, dim)
	for i := range v {
		v[i] = rng.Float64() - 0.5
	}
	normalize(v)

	next := make([]float64, dim)
	for iter := 0; iter < 100; iter++ {
		for i := range next {
			var s float64
			for j := range v {
				s += a[i][j] * v[j]
			}
			next[i] = s
		}
		norm := normalize(next)
		if norm < 1e-12 {
			return nil, false
		}

		var diff float64
		for i := range v {
			d := next[i] - v[i]
			diff += d * d
		}
		copy(v, next)
		if diff < 1e-12 {
			break
		}
	}
	return v, true
}

// deflate removes the eigenvector's subspace: a -= lambda * v v^T.
func deflate(a [][]float64, v []float64) {
	dim := len(a)
	av := make([]float64, dim)
	var lambda float64
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			av[i] += a[i][j] * v[j]
		}
		lambda += v[i] * av[i]
	}
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			a[i][j] -= lambda * v[i] * v[j]
		}
	}
}

func normalize(v []float64) float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
	return norm
}

// reconstructionError is ||x - VV^T x||^2 for the kept components.
func reconstructionError(row []float64, components [][]float64) float64 {
	recon := make([]float64, len(row))
	for _, comp := range components {
		var proj float64
		for j, x := range row {
			proj += x * comp[j]
		}
		for j := range recon {
			recon[j] += proj * comp[j]
		}
	}
	var errSum float64
	for j, x := range row {
		d := x - recon[j]
		errSum += d * d
	}
	return errSum
}
