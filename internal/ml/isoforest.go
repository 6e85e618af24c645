package ml

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/harrier/internal/features"
)

// IsolationForest isolates anomalies by random axis-aligned splits; rows
// that isolate in short paths are unusual.
type IsolationForest struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// NewIsolationForest builds a forest detector with the given seed.
func NewIsolationForest(seed int64) *IsolationForest {
	return &IsolationForest{
		Trees:         100,
		SampleSize:    256,
		Contamination: defaultContamination,
		Seed:          seed,
	}
}

func (f *IsolationForest) Name() string { return "isolation_forest" }

type isoNode struct {
	left, right *isoNode
	splitDim    int
	splitVal    float64
	size        int
}

// Detect scores every row and flags the top contamination fraction.
func (f *IsolationForest) Detect(m *features.Matrix) ([]Anomaly, error) {
	n := m.N()
	if n < MinBatchSize {
		return nil, fmt.Errorf("isolation forest: batch of %d below minimum %d", n, MinBatchSize)
	}

	rng := rand.New(rand.NewSource(f.Seed))
	sample := f.SampleSize
	if sample > n {
		sample = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample))))

	trees := make([]*isoNode, f.Trees)
	for t := range trees {
		idx := rng.Perm(n)[:sample]
		trees[t] = f.buildTree(m.Rows, idx, 0, maxDepth, rng)
	}

	cn := averagePathLength(sample)
	scores := make([]float64, n)
	for i, row := range m.Rows {
		var pathSum float64
		for _, tree := range trees {
			pathSum += pathLength(tree, row, 0)
		}
		avgPath := pathSum / float64(len(trees))
		scores[i] = math.Pow(2, -avgPath/cn)
	}

	threshold := quantile(scores, 1-f.Contamination)
	var out []Anomaly
	for i, s := range scores {
		if s >= threshold && s > 0.5 {
			out = append(out, Anomaly{Index: i, Score: s})
		}
	}
	return out, nil
}

func (f *IsolationForest) buildTree(rows [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if len(idx) <= 1 || depth >= maxDepth {
		return &isoNode{size: len(idx)}
	}

	dim := rng.Intn(len(rows[idx[0]]))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := rows[i][dim]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return &isoNode{size: len(idx)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []int
	for _, i := range idx {
		if rows[i][dim] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &isoNode{
		splitDim: dim,
		splitVal: split,
		size:     len(idx),
		left:     f.buildTree(rows, left, depth+1, maxDepth, rng),
		right:    f.buildTree(rows, right, depth+1, maxDepth, rng),
	}
}

func pathLength(node *isoNode, row []float64, depth int) float64 {
	if node.left == nil && node.right == nil {
		return float64(depth) + averagePathLength(node.size)
	}
	if row[node.splitDim] < node.splitVal {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// averagePathLength is the expected path length of an unsuccessful BST
// search over n nodes, the standard isolation-forest normalizer.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // Euler-Mascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}
