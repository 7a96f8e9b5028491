package cluster

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// eulerGamma is the Euler–Mascheroni constant used by the average path length.
const eulerGamma = 0.5772156649015329

// IsolationForest scores points by how quickly random axis-aligned splits
// isolate them. Short average path lengths mean anomalous points.
type IsolationForest struct {
	Trees         int
	SampleSize    int
	Contamination float64
}

// ForestResult holds per-point anomaly scores in (0, 1] and outlier flags.
type ForestResult struct {
	Scores    []float64
	Outliers  []bool
	Threshold float64
}

type isoNode struct {
	feature     int
	split       float64
	left, right *isoNode
	size        int
}

// FitPredict grows the forest on x and flags the Contamination share of
// points with the highest anomaly score.
func (f IsolationForest) FitPredict(x [][]float64, rng *rand.Rand) (*ForestResult, error) {
	if len(x) == 0 {
		return nil, eris.New("cluster: isolation forest needs at least one point")
	}
	if f.Contamination <= 0 || f.Contamination >= 0.5 {
		return nil, eris.Errorf("cluster: contamination %v outside (0, 0.5)", f.Contamination)
	}
	trees := f.Trees
	if trees <= 0 {
		trees = 100
	}
	psi := f.SampleSize
	if psi <= 0 || psi > len(x) {
		psi = min(256, len(x))
	}
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	forest := make([]*isoNode, trees)
	for t := range forest {
		sample := make([][]float64, psi)
		for i, j := range rng.Perm(len(x))[:psi] {
			sample[i] = x[j]
		}
		forest[t] = growTree(sample, 0, maxDepth, rng)
	}

	norm := averagePath(psi)
	scores := make([]float64, len(x))
	for i, p := range x {
		var depth float64
		for _, tree := range forest {
			depth += pathLength(tree, p, 0)
		}
		mean := depth / float64(trees)
		if norm > 0 {
			scores[i] = math.Pow(2, -mean/norm)
		} else {
			scores[i] = 1
		}
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	threshold := stat.Quantile(1-f.Contamination, stat.Empirical, sorted, nil)

	outliers := make([]bool, len(x))
	for i, s := range scores {
		outliers[i] = s > threshold
	}
	return &ForestResult{Scores: scores, Outliers: outliers, Threshold: threshold}, nil
}

func growTree(x [][]float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(x) <= 1 {
		return &isoNode{size: len(x)}
	}

	dims := len(x[0])
	col := make([]float64, len(x))
	// Try features in random order until one has spread.
	for _, feat := range rng.Perm(dims) {
		for i, row := range x {
			col[i] = row[feat]
		}
		lo, hi := floats.Min(col), floats.Max(col)
		if hi <= lo {
			continue
		}
		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, row := range x {
			if row[feat] < split {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}
		return &isoNode{
			feature: feat,
			split:   split,
			left:    growTree(left, depth+1, maxDepth, rng),
			right:   growTree(right, depth+1, maxDepth, rng),
			size:    len(x),
		}
	}
	return &isoNode{size: len(x)}
}

func pathLength(n *isoNode, p []float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + averagePath(n.size)
	}
	if p[n.feature] < n.split {
		return pathLength(n.left, p, depth+1)
	}
	return pathLength(n.right, p, depth+1)
}

// averagePath is the average unsuccessful search length in a binary search
// tree of n points.
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
