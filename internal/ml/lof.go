package ml

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/harrier/internal/features"
)

// LocalOutlier flags rows whose local density is low relative to their
// neighbors (LOF). Neighbor queries run against a deterministic reference
// subsample so large batches stay tractable.
type LocalOutlier struct {
	K             int
	Contamination float64

	// MaxReference caps the reference set used for neighbor queries.
	MaxReference int
}

// NewLocalOutlier builds a local-density detector.
func NewLocalOutlier() *LocalOutlier {
	return &LocalOutlier{
		K:             20,
		Contamination: defaultContamination,
		MaxReference:  2048,
	}
}

func (d *LocalOutlier) Name() string { return "local_outlier" }

// Detect computes LOF scores against the reference set and flags the top
// contamination fraction with scores above 1.
func (d *LocalOutlier) Detect(m *features.Matrix) ([]Anomaly, error) {
	n := m.N()
	if n < MinBatchSize {
		return nil, fmt.Errorf("local outlier: batch of %d below minimum %d", n, MinBatchSize)
	}

	k := d.K
	if k > n-1 {
		k = n - 1
	}

	refIdx := subsampleIndices(n, d.MaxReference)
	ref := make([][]float64, len(refIdx))
	for i, ri := range refIdx {
		ref[i] = m.Rows[ri]
	}
	if k > len(ref)-1 {
		k = len(ref) - 1
	}

	// k-distance and local reachability density over the reference set.
	kDist := make([]float64, len(ref))
	refNeighbors := make([][]int, len(ref))
	for i, p := range ref {
		dists, order := nearest(p, ref, k+1) // +1: p may be its own neighbor
		// Drop the zero self-distance when present.
		start := 0
		if dists[0] == 0 && refIdx[order[0]] == refIdx[i] {
			start = 1
		}
		end := start + k
		if end > len(order) {
			end = len(order)
		}
		refNeighbors[i] = order[start:end]
		kDist[i] = dists[end-1]
	}

	lrd := make([]float64, len(ref))
	for i := range ref {
		var reachSum float64
		for _, j := range refNeighbors[i] {
			reach := euclidean(ref[i], ref[j])
			if kDist[j] > reach {
				reach = kDist[j]
			}
			reachSum += reach
		}
		if reachSum == 0 {
			lrd[i] = 0
		} else {
			lrd[i] = float64(len(refNeighbors[i])) / reachSum
		}
	}

	// LOF for every row: ratio of neighbor density to own density.
	scores := make([]float64, n)
	for i, row := range m.Rows {
		dists, order := nearest(row, ref, k)
		var reachSum, neighborLrd float64
		for pos, j := range order {
			reach := dists[pos]
			if kDist[j] > reach {
				reach = kDist[j]
			}
			reachSum += reach
			neighborLrd += lrd[j]
		}
		if reachSum == 0 {
			scores[i] = 1
			continue
		}
		ownLrd := float64(len(order)) / reachSum
		if ownLrd == 0 {
			scores[i] = 1
			continue
		}
		scores[i] = neighborLrd / float64(len(order)) / ownLrd
	}

	threshold := quantile(scores, 1-d.Contamination)
	if threshold < 1 {
		threshold = 1
	}
	var out []Anomaly
	for i, s := range scores {
		if s > threshold {
			out = append(out, Anomaly{Index: i, Score: s})
		}
	}
	return out, nil
}

// nearest returns the k smallest distances from p to the reference rows and
// the matching reference indexes, both sorted ascending by distance.
func nearest(p []float64, ref [][]float64, k int) ([]float64, []int) {
	type cand struct {
		dist float64
		idx  int
	}
	cands := make([]cand, len(ref))
	for i, r := range ref {
		cands[i] = cand{dist: euclidean(p, r), idx: i}
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })

	if k > len(cands) {
		k = len(cands)
	}
	dists := make([]float64, k)
	idx := make([]int, k)
	for i := 0; i < k; i++ {
		dists[i] = cands[i].dist
		idx[i] = cands[i].idx
	}
	return dists, idx
}
