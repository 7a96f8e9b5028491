package cluster

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Silhouette returns the mean silhouette coefficient of the labelled points.
// When sample is positive and smaller than len(x), the score is computed on
// a random subset of that size drawn from rng. Points in singleton clusters
// score 0. It returns -1 when fewer than two clusters are populated.
func Silhouette(x [][]float64, labels []int, sample int, rng *rand.Rand) float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	if sample > 0 && sample < len(x) && rng != nil {
		idx = rng.Perm(len(x))[:sample]
		sort.Ints(idx)
	}

	clusters := map[int]int{}
	for _, i := range idx {
		clusters[labels[i]]++
	}
	if len(clusters) < 2 {
		return -1
	}

	sums := make(map[int]float64, len(clusters))
	var total float64
	for _, i := range idx {
		own := labels[i]
		if clusters[own] == 1 {
			continue
		}
		for c := range sums {
			sums[c] = 0
		}
		for _, j := range idx {
			if j == i {
				continue
			}
			sums[labels[j]] += floats.Distance(x[i], x[j], 2)
		}

		a := sums[own] / float64(clusters[own]-1)
		b := math.Inf(1)
		for c, n := range clusters {
			if c == own {
				continue
			}
			if m := sums[c] / float64(n); m < b {
				b = m
			}
		}
		if d := math.Max(a, b); d > 0 {
			total += (b - a) / d
		}
	}
	return total / float64(len(idx))
}
