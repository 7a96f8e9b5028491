// Package api exposes the correlation, aggregation and clustering engines
// over a read-only JSON HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/cluster"
	"github.com/sells-group/ridecorr/internal/correlate"
	"github.com/sells-group/ridecorr/internal/geo"
	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/resilience"
	"github.com/sells-group/ridecorr/internal/store"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// Deps are the collaborators a Server needs. Store is required.
type Deps struct {
	Store store.Store
	// RiskAreas flags rides inside risk polygons; nil disables the flag.
	RiskAreas *geo.PolygonIndex
	Engine    correlate.Config
	Cluster   cluster.Config
	// RadiusKM is used when a request omits radius.
	RadiusKM float64
	// Location interprets request dates and times; nil means UTC.
	Location *time.Location
	// Health reports extra component states for /health.
	Health func() map[string]string
}

// RouterConfig configures cross-cutting HTTP behaviour.
type RouterConfig struct {
	CORSOrigins []string
	RateRPS     float64
	RateBurst   int
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Only enable it behind a proxy that sets those headers itself.
	TrustProxy bool
}

// Server handles API requests.
type Server struct {
	deps Deps
	risk *geo.PolygonIndex
	log  *zap.Logger
}

// NewServer creates a Server.
func NewServer(d Deps) *Server {
	risk := d.RiskAreas
	if risk == nil {
		risk = geo.NewPolygonIndex(nil)
	}
	return &Server{deps: d, risk: risk, log: zap.L().With(zap.String("component", "api"))}
}

// Routes builds the router.
func (s *Server) Routes(rc RouterConfig) http.Handler {
	r := chi.NewRouter()
	if rc.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestID)
	r.Use(AccessLog(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rc.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, "X-Run-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(NewClientLimiter(rc.RateRPS, rc.RateBurst).Middleware)
		r.Get("/correlations", s.handleCorrelations)
		r.Get("/areas", s.handleAreas)
		r.Get("/impact", s.handleImpact)
		r.Get("/clusters", s.handleClusters)
		r.Get("/bands", s.handleBands)
		r.Get("/risk-exposure", s.handleRiskExposure)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok", "risk_polygons": s.risk.Len()}
	if s.deps.Health != nil {
		resp["repositories"] = s.deps.Health()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	q, cfg, err := s.parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	engine := correlate.NewEngine(s.deps.Store, s.deps.Store, cfg, correlate.WithRiskAreas(s.risk))
	res, err := engine.Correlate(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("X-Run-ID", res.RunID)
	writeJSON(w, http.StatusOK, res.Payload())
}

func (s *Server) handleAreas(w http.ResponseWriter, r *http.Request) {
	q, cfg, err := s.parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if v := r.URL.Query().Get("infer_areas"); v != "" {
		infer, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(w, r, &correlate.ValidationError{Field: "infer_areas", Value: v, Reason: "must be a boolean"})
			return
		}
		cfg.InferMissingAreas = infer
	}
	summaries, err := correlate.NewEngine(s.deps.Store, s.deps.Store, cfg).Areas(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []model.AreaSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	q, cfg, err := s.parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rides, err := s.deps.Store.QueryRides(r.Context(), q.Range, q.Status)
	if err != nil {
		s.fail(w, r, eris.Wrap(err, "api: query rides"))
		return
	}
	incidents, err := s.deps.Store.QueryIncidents(r.Context(), q.Range, "")
	if err != nil {
		s.fail(w, r, eris.Wrap(err, "api: query incidents"))
		return
	}
	impact, err := correlate.EventImpact(rides, incidents, correlate.ImpactParams{
		RadiusKM:   q.RadiusKM,
		TimeWindow: cfg.TimeWindow,
		TimeUnit:   cfg.TimeUnit,
		Categories: q.Categories,
	})
	if err != nil {
		s.fail(w, r, eris.Wrap(err, "api: event impact"))
		return
	}
	if impact == nil {
		impact = []model.IncidentImpact{}
	}
	writeJSON(w, http.StatusOK, impact)
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	q, _, err := s.parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ccfg := s.deps.Cluster
	if v := r.URL.Query().Get("seed"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.fail(w, r, &correlate.ValidationError{Field: "seed", Value: v, Reason: "must be a non-negative integer"})
			return
		}
		ccfg.Seed = seed
	}

	rides, err := s.deps.Store.QueryRides(r.Context(), q.Range, q.Status)
	if err != nil {
		s.fail(w, r, eris.Wrap(err, "api: query rides"))
		return
	}
	res, err := cluster.NewPipeline(ccfg).Run(r.Context(), rides)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBands(w http.ResponseWriter, r *http.Request) {
	q, _, err := s.parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rides, err := s.deps.Store.QueryRides(r.Context(), q.Range, q.Status)
	if err != nil {
		s.fail(w, r, eris.Wrap(err, "api: query rides"))
		return
	}
	report, err := cluster.DistanceBands(rides)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRiskExposure(w http.ResponseWriter, r *http.Request) {
	q, _, err := s.parseRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rides, err := s.deps.Store.QueryRides(r.Context(), q.Range, q.Status)
	if err != nil {
		s.fail(w, r, eris.Wrap(err, "api: query rides"))
		return
	}
	writeJSON(w, http.StatusOK, correlate.RiskExposure(rides, s.risk))
}

// parseRequest builds the query and the per-request engine config from URL
// parameters. Category may repeat or hold a comma-separated list.
func (s *Server) parseRequest(r *http.Request) (correlate.Query, correlate.Config, error) {
	v := r.URL.Query()
	cfg := s.deps.Engine

	radius := v.Get("radius")
	if radius == "" && s.deps.RadiusKM > 0 {
		radius = strconv.FormatFloat(s.deps.RadiusKM, 'f', -1, 64)
	}

	var categories []string
	for _, c := range v["category"] {
		for _, part := range strings.Split(c, ",") {
			if part = strings.TrimSpace(part); part != "" {
				categories = append(categories, part)
			}
		}
	}

	q, err := correlate.QueryInput{
		Radius:     radius,
		Date:       v.Get("date"),
		EndDate:    v.Get("end_date"),
		StartTime:  v.Get("start_time"),
		EndTime:    v.Get("end_time"),
		Status:     v.Get("status"),
		Categories: categories,
		Location:   s.deps.Location,
	}.Parse()
	if err != nil {
		return q, cfg, err
	}

	if raw := v.Get("window"); raw != "" {
		window, err := strconv.ParseFloat(raw, 64)
		if err != nil || !temporal.ValidWindow(window) {
			return q, cfg, &correlate.ValidationError{Field: "window", Value: raw, Reason: "must be a finite non-negative number"}
		}
		cfg.TimeWindow = window
		cfg.EnforceTimeWindow = true
	}
	if raw := v.Get("unit"); raw != "" {
		unit, err := temporal.ParseUnit(raw)
		if err != nil {
			return q, cfg, &correlate.ValidationError{Field: "unit", Value: raw, Reason: "must be minutes or hours"}
		}
		cfg.TimeUnit = unit
	}
	return q, cfg, nil
}

// fail maps err to a status code. Internal details are logged, not returned.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case correlate.IsValidation(err):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, cluster.ErrTooFewRides), errors.Is(err, cluster.ErrNoDistances):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, resilience.ErrCircuitOpen):
		status, msg = http.StatusServiceUnavailable, "repository unavailable"
	case r.Context().Err() != nil:
		status, msg = http.StatusServiceUnavailable, "request canceled"
	}

	log := s.log.With(zap.String("request_id", GetRequestID(r.Context())), zap.String("path", r.URL.Path))
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
