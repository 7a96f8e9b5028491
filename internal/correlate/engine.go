// Package correlate matches cancelled rides with nearby incidents in space and
// time, and aggregates the matches by administrative area.
package correlate

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/geo"
	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/store"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// Messages returned alongside non-correlated results.
const (
	FallbackMessage      = "Nenhum evento identificado na data e horário da corrida. Seguem eventos dos últimos 7 dias na região."
	NoDataMessage        = "Nenhum evento identificado na data e horário da corrida."
	NoCorrelationMessage = "Nenhum evento correlacionado encontrado."
)

// State is a correlation run's position in its lifecycle.
type State string

// Engine states. Correlated, FallbackServed and EmptyResult are terminal.
const (
	StateCollectingInputs State = "collecting_inputs"
	StateIndexBuilt       State = "index_built"
	StateCorrelating      State = "correlating"
	StateCorrelated       State = "correlated"
	StateFallbackServed   State = "fallback_served"
	StateEmptyResult      State = "empty_result"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCorrelated || s == StateFallbackServed || s == StateEmptyResult
}

// ErrInternal marks failures that are not caused by the request. Use
// errors.Is to detect it; the underlying cause stays reachable too.
var ErrInternal = eris.New("correlate: internal error")

// InternalError carries the cause of an internal failure.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string { return "correlate: " + e.Op + ": " + e.Err.Error() }

// Unwrap exposes both ErrInternal and the cause.
func (e *InternalError) Unwrap() []error { return []error{ErrInternal, e.Err} }

func internalErr(op string, err error) error { return &InternalError{Op: op, Err: err} }

// Config selects the engine variant. The zero value is not useful; start
// from DefaultConfig.
type Config struct {
	// EnableFallback serves the last 7 days of incidents when the query
	// window holds none.
	EnableFallback bool
	// EnforceTimeWindow requires |ride - incident| <= TimeWindow in
	// addition to the radius test.
	EnforceTimeWindow bool
	TimeUnit          temporal.Unit
	TimeWindow        float64

	CandidateCap           int
	ExhaustiveOnSaturation bool

	// InferMissingAreas assigns incidents without an area the area of the
	// nearest admissible ride during area aggregation.
	InferMissingAreas bool
	// Workers bounds concurrent area aggregation.
	Workers int
}

// DefaultConfig returns the radius-only engine with fallback enabled.
func DefaultConfig() Config {
	return Config{
		EnableFallback:         true,
		EnforceTimeWindow:      false,
		TimeUnit:               temporal.Minutes,
		TimeWindow:             15,
		CandidateCap:           10,
		ExhaustiveOnSaturation: true,
		InferMissingAreas:      false,
		Workers:                4,
	}
}

func (c Config) params(radiusKM float64) MatchParams {
	return MatchParams{
		RadiusKM:               radiusKM,
		EnforceTimeWindow:      c.EnforceTimeWindow,
		TimeWindow:             c.TimeWindow,
		TimeUnit:               c.TimeUnit,
		CandidateCap:           c.CandidateCap,
		ExhaustiveOnSaturation: c.ExhaustiveOnSaturation,
	}
}

// Stats describes the inputs of a run.
type Stats struct {
	Rides            int `json:"rides"`
	Incidents        int `json:"incidents"`
	SkippedRides     int `json:"skipped_rides"`
	SkippedIncidents int `json:"skipped_incidents"`
	SaturatedQueries int `json:"saturated_queries"`
	MatchedRides     int `json:"matched_rides"`
}

// Result is the outcome of Correlate. Exactly one of Records or
// RecentEvents is populated, depending on State.
type Result struct {
	RunID        string                    `json:"run_id"`
	State        State                     `json:"state"`
	Message      string                    `json:"message,omitempty"`
	Records      []model.CorrelationRecord `json:"records,omitempty"`
	RecentEvents []model.IncidentEvent     `json:"recent_events,omitempty"`
	Stats        Stats                     `json:"stats"`
}

// FallbackPayload is the wire form of a FallbackServed result.
type FallbackPayload struct {
	Message      string                `json:"message" yaml:"message"`
	RecentEvents []model.IncidentEvent `json:"recent_events" yaml:"recent_events"`
}

// MessagePayload is the wire form of an EmptyResult.
type MessagePayload struct {
	Message string `json:"message" yaml:"message"`
}

// Payload returns the value to serialise for r: the record list, the
// fallback payload, or the message payload.
func (r *Result) Payload() any {
	switch r.State {
	case StateFallbackServed:
		events := r.RecentEvents
		if events == nil {
			events = []model.IncidentEvent{}
		}
		return FallbackPayload{Message: r.Message, RecentEvents: events}
	case StateCorrelated:
		return r.Records
	default:
		return MessagePayload{Message: r.Message}
	}
}

func (r *Result) transition(log *zap.Logger, to State) {
	log.Debug("state transition", zap.String("from", string(r.State)), zap.String("to", string(to)))
	r.State = to
}

// Engine runs correlation queries against injected repositories.
type Engine struct {
	rides     store.RideRepository
	incidents store.IncidentRepository
	risk      *geo.PolygonIndex
	cfg       Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithRiskAreas flags records whose ride origin lies in a risk polygon.
func WithRiskAreas(ix *geo.PolygonIndex) Option {
	return func(e *Engine) { e.risk = ix }
}

// NewEngine creates an engine over the given repositories.
func NewEngine(rides store.RideRepository, incidents store.IncidentRepository, cfg Config, opts ...Option) *Engine {
	e := &Engine{rides: rides, incidents: incidents, cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Correlate runs q. A nil error always comes with a result in a terminal
// state; a non-nil error never comes with a partial result.
func (e *Engine) Correlate(ctx context.Context, q Query) (res *Result, err error) {
	runID := uuid.NewString()
	log := zap.L().With(
		zap.String("component", "correlate.engine"),
		zap.String("run_id", runID),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("correlation panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res, err = nil, internalErr("correlate", fmt.Errorf("panic: %v", r))
		}
	}()

	res = &Result{RunID: runID, State: StateCollectingInputs}

	rides, err := e.rides.QueryRides(ctx, q.Range, q.Status)
	if err != nil {
		log.Error("query rides failed", zap.Error(err))
		return nil, internalErr("query rides", err)
	}
	incidents, err := e.queryIncidents(ctx, q, q.Range)
	if err != nil {
		log.Error("query incidents failed", zap.Error(err))
		return nil, internalErr("query incidents", err)
	}
	res.Stats.Rides = len(rides)
	res.Stats.Incidents = len(incidents)

	log.Debug("inputs collected",
		zap.Int("rides", len(rides)),
		zap.Int("incidents", len(incidents)),
		zap.Float64("radius_km", q.RadiusKM),
	)

	if len(incidents) == 0 {
		return e.noIncidents(ctx, log, q, res)
	}

	set, err := newIncidentSet(incidents)
	if err != nil {
		return nil, internalErr("build index", err)
	}
	res.Stats.SkippedIncidents = set.skipped
	res.transition(log, StateIndexBuilt)

	res.transition(log, StateCorrelating)
	p := e.cfg.params(q.RadiusKM)
	for _, ride := range rides {
		if err := ctx.Err(); err != nil {
			return nil, internalErr("correlate", err)
		}
		if !ride.Origin.Valid() {
			res.Stats.SkippedRides++
			continue
		}

		matches, saturated := set.match(ride, p)
		if saturated {
			res.Stats.SaturatedQueries++
		}
		if len(matches) == 0 {
			continue
		}
		res.Stats.MatchedRides++

		inRisk := e.risk != nil && e.risk.Contains(ride.Origin)
		for _, c := range matches {
			rec := newRecord(ride, incidents[c.incident], c, p.TimeUnit)
			rec.RideInRiskArea = inRisk
			res.Records = append(res.Records, rec)
		}
	}

	if res.Stats.SaturatedQueries > 0 {
		log.Info("candidate cap saturated",
			zap.Int("queries", res.Stats.SaturatedQueries),
			zap.Int("cap", p.CandidateCap),
			zap.Bool("exhaustive", p.ExhaustiveOnSaturation),
		)
	}

	if len(res.Records) == 0 {
		res.Message = NoCorrelationMessage
		res.transition(log, StateEmptyResult)
	} else {
		res.transition(log, StateCorrelated)
	}

	log.Info("correlation complete",
		zap.String("state", string(res.State)),
		zap.Int("records", len(res.Records)),
		zap.Int("matched_rides", res.Stats.MatchedRides),
		zap.Int("skipped_rides", res.Stats.SkippedRides),
	)
	return res, nil
}

// noIncidents resolves a run whose query window holds no incidents.
func (e *Engine) noIncidents(ctx context.Context, log *zap.Logger, q Query, res *Result) (*Result, error) {
	if !e.cfg.EnableFallback {
		res.Message = NoDataMessage
		res.transition(log, StateEmptyResult)
		log.Info("no incidents in window", zap.Bool("fallback", false))
		return res, nil
	}

	lookback := temporal.Lookback(q.Range.Start)
	recent, err := e.queryIncidents(ctx, q, lookback)
	if err != nil {
		log.Error("query lookback incidents failed", zap.Error(err))
		return nil, internalErr("query lookback incidents", err)
	}

	res.Message = FallbackMessage
	res.transition(log, StateFallbackServed)
	res.RecentEvents = recent
	log.Info("no incidents in window, serving lookback",
		zap.Time("lookback_start", lookback.Start),
		zap.Int("recent_events", len(recent)),
	)
	return res, nil
}

// queryIncidents reads incidents for r and applies the category filter.
// Anything the repository returns outside r is dropped.
func (e *Engine) queryIncidents(ctx context.Context, q Query, r temporal.Range) ([]model.IncidentEvent, error) {
	all, err := e.incidents.QueryIncidents(ctx, r, "")
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, ev := range all {
		if r.Contains(ev.OccurredAt) && q.matchesCategory(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}
