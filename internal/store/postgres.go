package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/ridecorr/internal/db"
	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// PostgresStore reads rides, incidents and PostGIS risk areas through a pgx
// pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	queryRidesSQL = `SELECT id, origin_lat, origin_lng, created_at, status, COALESCE(suburb, ''), COALESCE(road, ''), driver_distance, route_distance
		FROM rides
		WHERE created_at BETWEEN $1 AND $2 AND ($3 = '' OR status ~* $3)
		ORDER BY created_at, id`

	queryIncidentsSQL = `SELECT id, latitude, longitude, occurred_at, ended_at, COALESCE(category, ''), COALESCE(name, ''), COALESCE(address, ''), COALESCE(neighborhood, '')
		FROM incidents
		WHERE occurred_at BETWEEN $1 AND $2
		ORDER BY occurred_at, id`

	loadRiskAreasSQL = `SELECT id, COALESCE(name, ''), ST_AsEWKB(geom) FROM risk_areas ORDER BY id`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"query_rides":     queryRidesSQL,
	"query_incidents": queryIncidentsSQL,
	"load_risk_areas": loadRiskAreasSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool for result persistence.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS rides (
	id              TEXT PRIMARY KEY,
	origin_lat      DOUBLE PRECISION,
	origin_lng      DOUBLE PRECISION,
	created_at      TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL,
	suburb          TEXT,
	road            TEXT,
	driver_distance DOUBLE PRECISION,
	route_distance  DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS incidents (
	id           TEXT PRIMARY KEY,
	latitude     DOUBLE PRECISION,
	longitude    DOUBLE PRECISION,
	occurred_at  TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ,
	category     TEXT,
	name         TEXT,
	address      TEXT,
	neighborhood TEXT
);

CREATE TABLE IF NOT EXISTS risk_areas (
	id   TEXT PRIMARY KEY,
	name TEXT,
	geom geometry(Geometry, 4326) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rides_created_at ON rides(created_at);
CREATE INDEX IF NOT EXISTS idx_incidents_occurred_at ON incidents(occurred_at);
CREATE INDEX IF NOT EXISTS idx_risk_areas_geom ON risk_areas USING gist (geom);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the source tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// QueryRides implements RideRepository. The status pattern is applied in
// SQL as a prefilter and again in Go so both stores share regexp semantics.
func (s *PostgresStore) QueryRides(ctx context.Context, r temporal.Range, status *model.StatusFilter) ([]model.RideEvent, error) {
	rows, err := s.pool.Query(ctx, queryRidesSQL, r.Start, r.End, status.Pattern())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query rides")
	}
	defer rows.Close()

	var out []model.RideEvent
	for rows.Next() {
		var (
			ride     model.RideEvent
			lat, lng *float64
		)
		if err := rows.Scan(&ride.ID, &lat, &lng, &ride.CreatedAt, &ride.Status, &ride.Area, &ride.Address,
			&ride.DriverDistance, &ride.RouteDistance); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ride")
		}
		ride.Origin = coordinate(lat, lng)
		if status.Match(ride.Status) {
			out = append(out, ride)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate rides")
	}
	return out, nil
}

// QueryIncidents implements IncidentRepository. Area matching is done in Go
// with accent folding.
func (s *PostgresStore) QueryIncidents(ctx context.Context, r temporal.Range, area string) ([]model.IncidentEvent, error) {
	rows, err := s.pool.Query(ctx, queryIncidentsSQL, r.Start, r.End)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query incidents")
	}
	defer rows.Close()

	want := model.Fold(area)
	var out []model.IncidentEvent
	for rows.Next() {
		var (
			ev       model.IncidentEvent
			lat, lng *float64
		)
		if err := rows.Scan(&ev.ID, &lat, &lng, &ev.OccurredAt, &ev.EndedAt, &ev.Category, &ev.Name, &ev.Address, &ev.Area); err != nil {
			return nil, eris.Wrap(err, "postgres: scan incident")
		}
		ev.Location = coordinate(lat, lng)
		if want != "" && model.Fold(ev.Area) != want {
			continue
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate incidents")
	}
	return out, nil
}

// LoadRiskAreas implements RiskAreaRepository. Multipolygons are split into
// one RiskPolygon per part; holes are ignored.
func (s *PostgresStore) LoadRiskAreas(ctx context.Context) ([]model.RiskPolygon, error) {
	rows, err := s.pool.Query(ctx, loadRiskAreasSQL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query risk areas")
	}
	defer rows.Close()

	var out []model.RiskPolygon
	for rows.Next() {
		var (
			id, name string
			raw      []byte
		)
		if err := rows.Scan(&id, &name, &raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan risk area")
		}
		g, err := ewkb.Unmarshal(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: decode risk area %s", id)
		}
		out = append(out, polygonsFromGeom(id, name, g)...)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate risk areas")
	}
	return out, nil
}

// polygonsFromGeom converts polygonal geometries to risk polygons. Other
// geometry types yield nothing.
func polygonsFromGeom(id, name string, g geom.T) []model.RiskPolygon {
	switch t := g.(type) {
	case *geom.Polygon:
		return []model.RiskPolygon{ringPolygon(id, name, t)}
	case *geom.MultiPolygon:
		if t.NumPolygons() == 1 {
			return []model.RiskPolygon{ringPolygon(id, name, t.Polygon(0))}
		}
		out := make([]model.RiskPolygon, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			out = append(out, ringPolygon(fmt.Sprintf("%s#%d", id, i+1), name, t.Polygon(i)))
		}
		return out
	default:
		return nil
	}
}

func ringPolygon(id, name string, p *geom.Polygon) model.RiskPolygon {
	rp := model.RiskPolygon{ID: id, Name: name}
	if p.NumLinearRings() == 0 {
		return rp
	}
	for _, c := range p.LinearRing(0).Coords() {
		rp.Ring = append(rp.Ring, model.Coordinate{Lat: c.Y(), Lng: c.X()})
	}
	return rp
}

// coordinate maps nullable columns to a Coordinate; missing values become
// NaN so the coordinate is invalid.
func coordinate(lat, lng *float64) model.Coordinate {
	c := model.Coordinate{Lat: math.NaN(), Lng: math.NaN()}
	if lat != nil {
		c.Lat = *lat
	}
	if lng != nil {
		c.Lng = *lng
	}
	return c
}
