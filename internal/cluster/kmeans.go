package cluster

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// kmeansFit is one converged k-means partition.
type kmeansFit struct {
	labels     []int
	centroids  [][]float64
	inertia    float64
	iterations int
}

// kmeans runs nInit k-means++ seeded Lloyd fits and keeps the one with the
// lowest inertia. The first fit wins ties.
func kmeans(x [][]float64, k, nInit, maxIter int, tol float64, rng *rand.Rand) kmeansFit {
	if nInit < 1 {
		nInit = 1
	}
	threshold := tol * meanVariance(x)

	var best kmeansFit
	for run := 0; run < nInit; run++ {
		fit := lloyd(x, seedPlusPlus(x, k, rng), maxIter, threshold)
		if run == 0 || fit.inertia < best.inertia {
			best = fit
		}
	}
	return best
}

// seedPlusPlus picks k initial centroids: the first uniformly, the rest with
// probability proportional to squared distance from the nearest chosen one.
func seedPlusPlus(x [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(x[rng.IntN(len(x))]))

	d2 := make([]float64, len(x))
	for i, p := range x {
		d2[i] = sqDist(p, centroids[0])
	}

	for len(centroids) < k {
		total := floats.Sum(d2)
		next := 0
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			next = len(x) - 1
			for i, d := range d2 {
				acc += d
				if acc >= target && d > 0 {
					next = i
					break
				}
			}
		} else {
			next = rng.IntN(len(x))
		}

		c := clone(x[next])
		centroids = append(centroids, c)
		for i, p := range x {
			if d := sqDist(p, c); d < d2[i] {
				d2[i] = d
			}
		}
	}
	return centroids
}

func lloyd(x [][]float64, centroids [][]float64, maxIter int, threshold float64) kmeansFit {
	k := len(centroids)
	dims := len(x[0])
	labels := make([]int, len(x))
	counts := make([]int, k)
	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dims)
	}

	iter := 0
	for iter < maxIter {
		iter++
		assign(x, centroids, labels)

		for c := range sums {
			counts[c] = 0
			for d := range sums[c] {
				sums[c][d] = 0
			}
		}
		for i, p := range x {
			counts[labels[i]]++
			floats.Add(sums[labels[i]], p)
		}

		var shift float64
		for c := range centroids {
			if counts[c] == 0 {
				// Re-seed an empty cluster with the point farthest from its centroid.
				far := farthest(x, centroids, labels)
				shift += sqDist(centroids[c], x[far])
				copy(centroids[c], x[far])
				labels[far] = c
				continue
			}
			next := clone(sums[c])
			floats.Scale(1/float64(counts[c]), next)
			shift += sqDist(centroids[c], next)
			centroids[c] = next
		}
		if shift <= threshold {
			break
		}
	}

	inertia := assign(x, centroids, labels)
	return kmeansFit{labels: labels, centroids: centroids, inertia: inertia, iterations: iter}
}

// assign labels each point with its nearest centroid (lowest index on ties)
// and returns the inertia.
func assign(x, centroids [][]float64, labels []int) float64 {
	var inertia float64
	for i, p := range x {
		best, bestD := 0, math.Inf(1)
		for c, cen := range centroids {
			if d := sqDist(p, cen); d < bestD {
				best, bestD = c, d
			}
		}
		labels[i] = best
		inertia += bestD
	}
	return inertia
}

func farthest(x, centroids [][]float64, labels []int) int {
	idx, maxD := 0, -1.0
	for i, p := range x {
		if d := sqDist(p, centroids[labels[i]]); d > maxD {
			idx, maxD = i, d
		}
	}
	return idx
}

// meanVariance is the mean per-feature variance, used to make the
// convergence tolerance scale-free.
func meanVariance(x [][]float64) float64 {
	dims := len(x[0])
	var total float64
	col := make([]float64, len(x))
	for j := 0; j < dims; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		_, std := stat.PopMeanStdDev(col, nil)
		total += std * std
	}
	return total / float64(dims)
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
