package main

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/cluster"
	"github.com/sells-group/ridecorr/internal/config"
	"github.com/sells-group/ridecorr/internal/correlate"
	"github.com/sells-group/ridecorr/internal/db"
	"github.com/sells-group/ridecorr/internal/geo"
	"github.com/sells-group/ridecorr/internal/resilience"
	"github.com/sells-group/ridecorr/internal/store"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// app holds the collaborators shared by the analysis commands.
type app struct {
	primary store.Store
	store   *resilience.GuardedStore
	loc     *time.Location
	engine  correlate.Config
	cluster cluster.Config
}

// newApp validates the config for mode and opens the configured store behind
// retries and per-repository breakers.
func newApp(ctx context.Context, mode string) (*app, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "load timezone %q", cfg.Engine.Timezone)
	}
	engine, err := engineConfig(cfg.Engine)
	if err != nil {
		return nil, err
	}

	primary, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	guarded := resilience.NewGuardedStore(primary,
		resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
		resilience.FromCircuitConfig(cfg.Retry.FailureThreshold, cfg.Retry.ResetTimeoutSecs),
	)

	return &app{
		primary: primary,
		store:   guarded,
		loc:     loc,
		engine:  engine,
		cluster: clusterConfig(cfg.Cluster),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func newRunID() string { return uuid.NewString() }

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// riskAreas builds the polygon index from the configured shapefile, or from
// the store when none is configured. Rejected polygons are logged and
// skipped.
func (a *app) riskAreas(ctx context.Context) (*geo.PolygonIndex, error) {
	var (
		src    store.RiskAreaRepository = a.store
		source                          = "store"
	)
	if cfg.Store.RiskAreas != "" {
		src = store.NewShapefileRiskAreas(cfg.Store.RiskAreas)
		source = cfg.Store.RiskAreas
	}

	polys, err := src.LoadRiskAreas(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load risk areas")
	}
	ix := geo.NewPolygonIndex(polys)
	for _, rej := range ix.Rejected() {
		zap.L().Warn("risk polygon rejected",
			zap.String("id", rej.ID),
			zap.String("name", rej.Name),
			zap.String("reason", rej.Reason),
		)
	}
	zap.L().Info("risk areas loaded",
		zap.String("source", source),
		zap.Int("polygons", ix.Len()),
		zap.Int("rejected", len(ix.Rejected())),
	)
	return ix, nil
}

// withResultsPool runs fn against the results database: Store.ResultsURL when
// set, otherwise the primary Postgres store.
func (a *app) withResultsPool(ctx context.Context, fn func(db.Pool) error) error {
	if cfg.Store.ResultsURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.Store.ResultsURL, nil)
		if err != nil {
			return eris.Wrap(err, "open results database")
		}
		defer pg.Close() //nolint:errcheck
		return fn(pg.Pool())
	}
	pg, ok := a.primary.(*store.PostgresStore)
	if !ok {
		return eris.New("--store needs a postgres store or store.results_url")
	}
	return fn(pg.Pool())
}

func engineConfig(ec config.EngineConfig) (correlate.Config, error) {
	unit, err := temporal.ParseUnit(ec.TimeUnit)
	if err != nil {
		return correlate.Config{}, eris.Wrap(err, "engine.time_unit")
	}
	return correlate.Config{
		EnableFallback:         ec.EnableFallback,
		EnforceTimeWindow:      ec.EnforceTimeWindow,
		TimeUnit:               unit,
		TimeWindow:             ec.TimeWindow,
		CandidateCap:           ec.CandidateCap,
		ExhaustiveOnSaturation: ec.ExhaustiveOnSaturation,
		InferMissingAreas:      ec.InferMissingAreas,
		Workers:                ec.Workers,
	}, nil
}

func clusterConfig(cc config.ClusterConfig) cluster.Config {
	return cluster.Config{
		KMin:             cc.KMin,
		KMax:             cc.KMax,
		NInit:            cc.NInit,
		MaxIter:          cc.MaxIter,
		Tolerance:        cc.Tolerance,
		Contamination:    cc.Contamination,
		Trees:            cc.Trees,
		SampleSize:       cc.SampleSize,
		Seed:             cc.Seed,
		SilhouetteSample: cc.SilhouetteSample,
	}
}

// queryFlags are the query parameters shared by the analysis commands.
type queryFlags struct {
	radius     string
	date       string
	endDate    string
	startTime  string
	endTime    string
	status     string
	categories []string
	window     float64
	unit       string
	format     string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.radius, "radius", "", "search radius in km (default from config)")
	fs.StringVar(&f.date, "date", "", "query date YYYY-MM-DD")
	fs.StringVar(&f.endDate, "end-date", "", "last date of a multi-day range YYYY-MM-DD")
	fs.StringVar(&f.startTime, "start-time", "", "start time HH:MM (default 00:00)")
	fs.StringVar(&f.endTime, "end-time", "", "end time HH:MM (default 23:59)")
	fs.StringVar(&f.status, "status", "", "case-insensitive regular expression over ride status")
	fs.StringSliceVar(&f.categories, "category", nil, "restrict incidents to these categories")
	fs.Float64Var(&f.window, "window", 0, "time window; setting it enforces the window")
	fs.StringVar(&f.unit, "unit", "", "time window unit: minutes or hours")
	fs.StringVarP(&f.format, "format", "o", "json", "output format: json, yaml or csv")
}

// parse validates the flags against the app's defaults. The returned engine
// config carries any window or unit override.
func (f *queryFlags) parse(cmd *cobra.Command, a *app) (correlate.Query, correlate.Config, error) {
	ecfg := a.engine

	radius := f.radius
	if radius == "" {
		radius = strconv.FormatFloat(cfg.Engine.RadiusKM, 'f', -1, 64)
	}
	q, err := correlate.QueryInput{
		Radius:     radius,
		Date:       f.date,
		EndDate:    f.endDate,
		StartTime:  f.startTime,
		EndTime:    f.endTime,
		Status:     f.status,
		Categories: f.categories,
		Location:   a.loc,
	}.Parse()
	if err != nil {
		return q, ecfg, err
	}

	if cmd.Flags().Changed("window") {
		if !temporal.ValidWindow(f.window) {
			return q, ecfg, &correlate.ValidationError{Field: "window", Value: strconv.FormatFloat(f.window, 'f', -1, 64), Reason: "must be a finite number >= 0"}
		}
		ecfg.TimeWindow = f.window
		ecfg.EnforceTimeWindow = true
	}
	if f.unit != "" {
		unit, err := temporal.ParseUnit(f.unit)
		if err != nil {
			return q, ecfg, &correlate.ValidationError{Field: "unit", Value: f.unit, Reason: "must be minutes or hours"}
		}
		ecfg.TimeUnit = unit
	}
	return q, ecfg, nil
}
