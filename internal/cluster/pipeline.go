package cluster

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/model"
)

// ErrTooFewRides is returned when fewer rides have complete features than
// the smallest cluster count requires.
var ErrTooFewRides = eris.New("cluster: not enough rides with complete features")

// Config controls the clustering pipeline. All random draws derive from Seed.
type Config struct {
	KMin          int     `json:"k_min" yaml:"k_min"`
	KMax          int     `json:"k_max" yaml:"k_max"`
	NInit         int     `json:"n_init" yaml:"n_init"`
	MaxIter       int     `json:"max_iter" yaml:"max_iter"`
	Tolerance     float64 `json:"tolerance" yaml:"tolerance"`
	Contamination float64 `json:"contamination" yaml:"contamination"`
	Trees         int     `json:"trees" yaml:"trees"`
	SampleSize    int     `json:"sample_size" yaml:"sample_size"`
	Seed          uint64  `json:"seed" yaml:"seed"`
	// SilhouetteSample limits silhouette scoring to a random subset. Zero
	// scores every point.
	SilhouetteSample int `json:"silhouette_sample" yaml:"silhouette_sample"`
}

// DefaultConfig returns k in [2, 9], 10 restarts, 5% contamination and
// seed 42.
func DefaultConfig() Config {
	return Config{
		KMin:          2,
		KMax:          9,
		NInit:         10,
		MaxIter:       300,
		Tolerance:     1e-4,
		Contamination: 0.05,
		Trees:         100,
		SampleSize:    256,
		Seed:          42,
	}
}

// KScore is the evaluation of one candidate cluster count.
type KScore struct {
	K          int     `json:"k" yaml:"k"`
	Inertia    float64 `json:"inertia" yaml:"inertia"`
	Silhouette float64 `json:"silhouette" yaml:"silhouette"`
}

// Result is the output of a pipeline run.
type Result struct {
	K           int                       `json:"k" yaml:"k"`
	Candidates  []KScore                  `json:"candidates" yaml:"candidates"`
	ElbowK      int                       `json:"elbow_k" yaml:"elbow_k"`
	Assignments []model.ClusterAssignment `json:"assignments" yaml:"assignments"`
	Summaries   []model.ClusterSummary    `json:"summaries" yaml:"summaries"`
	Scaler      *StandardScaler           `json:"scaler" yaml:"scaler"`
	Dropped     int                       `json:"dropped" yaml:"dropped"`
	Outliers    int                       `json:"outliers" yaml:"outliers"`
}

// Pipeline clusters rides and flags anomalies.
type Pipeline struct {
	cfg Config
}

// NewPipeline creates a pipeline with cfg.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Run clusters rides. Rides missing a distance or coordinate are dropped and
// counted. Identical input and Seed give identical output.
func (p *Pipeline) Run(ctx context.Context, rides []model.RideEvent) (*Result, error) {
	log := zap.L().With(zap.String("component", "cluster.pipeline"))
	cfg := p.cfg
	if cfg.KMin < 2 {
		cfg.KMin = 2
	}
	if cfg.KMax < cfg.KMin {
		return nil, eris.Errorf("cluster: k range [%d, %d] is empty", cfg.KMin, cfg.KMax)
	}

	raw, kept := Matrix(rides)
	res := &Result{Dropped: len(rides) - len(kept)}
	if len(raw) <= cfg.KMin {
		return nil, eris.Wrapf(ErrTooFewRides, "cluster: have %d, need more than %d", len(raw), cfg.KMin)
	}

	scaler, err := FitScaler(raw)
	if err != nil {
		return nil, err
	}
	res.Scaler = scaler
	x := scaler.Transform(raw)

	kMax := min(cfg.KMax, len(x)-1)
	labelsByK := make(map[int][]int, kMax-cfg.KMin+1)
	for k := cfg.KMin; k <= kMax; k++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "cluster: run canceled")
		}
		fit := kmeans(x, k, cfg.NInit, cfg.MaxIter, cfg.Tolerance, p.rng(uint64(k)))
		score := Silhouette(x, fit.labels, cfg.SilhouetteSample, p.rng(uint64(k)<<8))
		res.Candidates = append(res.Candidates, KScore{K: k, Inertia: fit.inertia, Silhouette: score})
		labelsByK[k] = fit.labels

		log.Debug("evaluated k",
			zap.Int("k", k),
			zap.Float64("inertia", fit.inertia),
			zap.Float64("silhouette", score),
			zap.Int("iterations", fit.iterations),
		)
	}

	res.K = BestK(res.Candidates)
	res.ElbowK = ElbowPoint(res.Candidates)
	labels := labelsByK[res.K]

	forest := IsolationForest{Trees: cfg.Trees, SampleSize: cfg.SampleSize, Contamination: cfg.Contamination}
	fr, err := forest.FitPredict(x, p.rng(math.MaxUint32))
	if err != nil {
		return nil, err
	}

	res.Assignments = make([]model.ClusterAssignment, len(x))
	for i, ri := range kept {
		a := model.ClusterAssignment{
			RideID:       rides[ri].ID,
			Cluster:      labels[i],
			Outlier:      fr.Outliers[i],
			OutlierLabel: model.NormalLabel,
			AnomalyScore: fr.Scores[i],
		}
		if a.Outlier {
			a.OutlierLabel = model.OutlierLabel
			res.Outliers++
		}
		res.Assignments[i] = a
	}

	keptRides := make([]model.RideEvent, len(kept))
	for i, ri := range kept {
		keptRides[i] = rides[ri]
	}
	res.Summaries = Summaries(keptRides, res.Assignments)

	log.Info("clustering complete",
		zap.Int("rides", len(x)),
		zap.Int("dropped", res.Dropped),
		zap.Int("k", res.K),
		zap.Int("elbow_k", res.ElbowK),
		zap.Int("outliers", res.Outliers),
	)
	return res, nil
}

// rng returns a generator for one stage of the run, derived from the seed.
func (p *Pipeline) rng(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(p.cfg.Seed, stream))
}

// BestK returns the k with the highest silhouette score. Ties go to the
// smallest k.
func BestK(scores []KScore) int {
	if len(scores) == 0 {
		return 0
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Silhouette > best.Silhouette || (s.Silhouette == best.Silhouette && s.K < best.K) {
			best = s
		}
	}
	return best.K
}

// ElbowPoint returns the k whose inertia lies farthest below the straight
// line joining the first and last candidates. It is reported for reference;
// selection uses the silhouette score.
func ElbowPoint(scores []KScore) int {
	if len(scores) == 0 {
		return 0
	}
	if len(scores) < 3 {
		return scores[0].K
	}
	first, last := scores[0], scores[len(scores)-1]
	dx := float64(last.K - first.K)
	dy := last.Inertia - first.Inertia

	bestK, bestGap := first.K, 0.0
	for _, s := range scores[1 : len(scores)-1] {
		line := first.Inertia + dy*float64(s.K-first.K)/dx
		if gap := line - s.Inertia; gap > bestGap {
			bestK, bestGap = s.K, gap
		}
	}
	return bestK
}
