package resilience

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/store"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// Repository names used for breakers and log fields.
const (
	RepoRides     = "rides"
	RepoIncidents = "incidents"
	RepoRiskAreas = "risk_areas"
)

// GuardedStore wraps a store.Store so each read is retried on transient
// errors and short-circuited while its repository's breaker is open.
type GuardedStore struct {
	inner    store.Store
	retry    RetryConfig
	breakers map[string]*CircuitBreaker
}

// NewGuardedStore returns a GuardedStore with one breaker per repository.
func NewGuardedStore(inner store.Store, retry RetryConfig, circuit CircuitBreakerConfig) *GuardedStore {
	g := &GuardedStore{inner: inner, retry: retry, breakers: make(map[string]*CircuitBreaker, 3)}
	for _, name := range []string{RepoRides, RepoIncidents, RepoRiskAreas} {
		cfg := circuit
		if cfg.OnStateChange == nil {
			repo := name
			cfg.OnStateChange = func(from, to CircuitState) {
				zap.L().Warn("repository circuit state changed",
					zap.String("repository", repo),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}
		}
		g.breakers[name] = NewCircuitBreaker(cfg)
	}
	return g
}

// QueryRides implements store.RideRepository.
func (g *GuardedStore) QueryRides(ctx context.Context, r temporal.Range, status *model.StatusFilter) ([]model.RideEvent, error) {
	return guarded(ctx, g, RepoRides, "query", func(ctx context.Context) ([]model.RideEvent, error) {
		return g.inner.QueryRides(ctx, r, status)
	})
}

// QueryIncidents implements store.IncidentRepository.
func (g *GuardedStore) QueryIncidents(ctx context.Context, r temporal.Range, area string) ([]model.IncidentEvent, error) {
	return guarded(ctx, g, RepoIncidents, "query", func(ctx context.Context) ([]model.IncidentEvent, error) {
		return g.inner.QueryIncidents(ctx, r, area)
	})
}

// LoadRiskAreas implements store.RiskAreaRepository.
func (g *GuardedStore) LoadRiskAreas(ctx context.Context) ([]model.RiskPolygon, error) {
	return guarded(ctx, g, RepoRiskAreas, "load", g.inner.LoadRiskAreas)
}

// Migrate retries the underlying migration without a breaker.
func (g *GuardedStore) Migrate(ctx context.Context) error {
	cfg := g.retry
	cfg.OnRetry = RetryLogger("store", "migrate")
	return Do(ctx, cfg, g.inner.Migrate)
}

// Close closes the underlying store.
func (g *GuardedStore) Close() error {
	return g.inner.Close()
}

// States returns a snapshot of every repository breaker.
func (g *GuardedStore) States() map[string]string {
	out := make(map[string]string, len(g.breakers))
	for name, cb := range g.breakers {
		out[name] = cb.State().String()
	}
	return out
}

func guarded[T any](ctx context.Context, g *GuardedStore, repo, op string, fn func(context.Context) (T, error)) (T, error) {
	cfg := g.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = RetryLogger(repo, op)
	}
	return ExecuteVal(ctx, g.breakers[repo], func(ctx context.Context) (T, error) {
		return DoVal(ctx, cfg, fn)
	})
}
