package cluster

import (
	"sort"

	"github.com/sells-group/ridecorr/internal/model"
)

// Summaries groups assignments by cluster: ride and outlier counts, mean raw
// feature values, and a status breakdown. rides[i] must correspond to
// assignments[i]. Output is ordered by cluster label.
func Summaries(rides []model.RideEvent, assignments []model.ClusterAssignment) []model.ClusterSummary {
	type acc struct {
		sums     []float64
		n        int
		outliers int
		status   map[model.Status]int
	}
	groups := map[int]*acc{}

	for i, a := range assignments {
		g, ok := groups[a.Cluster]
		if !ok {
			g = &acc{sums: make([]float64, len(FeatureNames)), status: map[model.Status]int{}}
			groups[a.Cluster] = g
		}
		g.n++
		if a.Outlier {
			g.outliers++
		}
		if i >= len(rides) {
			continue
		}
		g.status[rides[i].Class()]++
		if vec, ok := Features(rides[i]); ok {
			for j, v := range vec {
				g.sums[j] += v
			}
		}
	}

	out := make([]model.ClusterSummary, 0, len(groups))
	for c, g := range groups {
		means := make(map[string]float64, len(FeatureNames))
		for j, name := range FeatureNames {
			means[name] = g.sums[j] / float64(g.n)
		}
		out = append(out, model.ClusterSummary{
			Cluster:      c,
			Rides:        g.n,
			Outliers:     g.outliers,
			MeanFeatures: means,
			ByStatus:     g.status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cluster < out[j].Cluster })
	return out
}
