package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// sqliteTime is a fixed-width UTC layout so timestamps compare correctly as
// text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite. It backs local runs
// and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS rides (
	id              TEXT PRIMARY KEY,
	origin_lat      REAL,
	origin_lng      REAL,
	created_at      TEXT NOT NULL,
	status          TEXT NOT NULL,
	suburb          TEXT,
	road            TEXT,
	driver_distance REAL,
	route_distance  REAL
);

CREATE TABLE IF NOT EXISTS incidents (
	id           TEXT PRIMARY KEY,
	latitude     REAL,
	longitude    REAL,
	occurred_at  TEXT NOT NULL,
	ended_at     TEXT,
	category     TEXT,
	name         TEXT,
	address      TEXT,
	neighborhood TEXT
);

CREATE TABLE IF NOT EXISTS risk_areas (
	id   TEXT PRIMARY KEY,
	name TEXT,
	ring TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rides_created_at ON rides(created_at);
CREATE INDEX IF NOT EXISTS idx_incidents_occurred_at ON incidents(occurred_at);
`

// Migrate creates the source tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// QueryRides implements RideRepository. SQLite has no regexp operator, so the
// status filter runs in Go.
func (s *SQLiteStore) QueryRides(ctx context.Context, r temporal.Range, status *model.StatusFilter) ([]model.RideEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, origin_lat, origin_lng, created_at, status, COALESCE(suburb, ''), COALESCE(road, ''), driver_distance, route_distance
		FROM rides WHERE created_at BETWEEN ? AND ? ORDER BY created_at, id`,
		formatTime(r.Start), formatTime(r.End))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query rides")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RideEvent
	for rows.Next() {
		var (
			ride          model.RideEvent
			lat, lng      sql.NullFloat64
			driver, route sql.NullFloat64
			createdAt     string
		)
		if err := rows.Scan(&ride.ID, &lat, &lng, &createdAt, &ride.Status, &ride.Area, &ride.Address, &driver, &route); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ride")
		}
		if ride.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: ride %s created_at", ride.ID)
		}
		ride.Origin = nullCoordinate(lat, lng)
		ride.DriverDistance = nullFloat(driver)
		ride.RouteDistance = nullFloat(route)
		if status.Match(ride.Status) {
			out = append(out, ride)
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rides")
}

// QueryIncidents implements IncidentRepository.
func (s *SQLiteStore) QueryIncidents(ctx context.Context, r temporal.Range, area string) ([]model.IncidentEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, occurred_at, ended_at, COALESCE(category, ''), COALESCE(name, ''), COALESCE(address, ''), COALESCE(neighborhood, '')
		FROM incidents WHERE occurred_at BETWEEN ? AND ? ORDER BY occurred_at, id`,
		formatTime(r.Start), formatTime(r.End))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query incidents")
	}
	defer rows.Close() //nolint:errcheck

	want := model.Fold(area)
	var out []model.IncidentEvent
	for rows.Next() {
		var (
			ev         model.IncidentEvent
			lat, lng   sql.NullFloat64
			occurredAt string
			endedAt    sql.NullString
		)
		if err := rows.Scan(&ev.ID, &lat, &lng, &occurredAt, &endedAt, &ev.Category, &ev.Name, &ev.Address, &ev.Area); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan incident")
		}
		if want != "" && model.Fold(ev.Area) != want {
			continue
		}
		if ev.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: incident %s occurred_at", ev.ID)
		}
		if endedAt.Valid {
			end, err := parseTime(endedAt.String)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: incident %s ended_at", ev.ID)
			}
			ev.EndedAt = &end
		}
		ev.Location = nullCoordinate(lat, lng)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate incidents")
}

// LoadRiskAreas implements RiskAreaRepository. Rings are stored as JSON
// arrays of {lat, lng} objects.
func (s *SQLiteStore) LoadRiskAreas(ctx context.Context) ([]model.RiskPolygon, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, COALESCE(name, ''), ring FROM risk_areas ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query risk areas")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RiskPolygon
	for rows.Next() {
		var (
			p    model.RiskPolygon
			ring string
		)
		if err := rows.Scan(&p.ID, &p.Name, &ring); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan risk area")
		}
		if err := json.Unmarshal([]byte(ring), &p.Ring); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode risk area %s", p.ID)
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate risk areas")
}

// InsertRides upserts rides in a single transaction.
func (s *SQLiteStore) InsertRides(ctx context.Context, rides []model.RideEvent) error {
	return s.inTx(ctx, "insert rides", func(tx *sql.Tx) error {
		for _, r := range rides {
			lat, lng := nullable(r.Origin)
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO rides (id, origin_lat, origin_lng, created_at, status, suburb, road, driver_distance, route_distance)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, lat, lng, formatTime(r.CreatedAt), r.Status, r.Area, r.Address, r.DriverDistance, r.RouteDistance,
			); err != nil {
				return eris.Wrapf(err, "ride %s", r.ID)
			}
		}
		return nil
	})
}

// InsertIncidents upserts incidents in a single transaction.
func (s *SQLiteStore) InsertIncidents(ctx context.Context, incidents []model.IncidentEvent) error {
	return s.inTx(ctx, "insert incidents", func(tx *sql.Tx) error {
		for _, e := range incidents {
			lat, lng := nullable(e.Location)
			var ended any
			if e.EndedAt != nil {
				ended = formatTime(*e.EndedAt)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO incidents (id, latitude, longitude, occurred_at, ended_at, category, name, address, neighborhood)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, lat, lng, formatTime(e.OccurredAt), ended, e.Category, e.Name, e.Address, e.Area,
			); err != nil {
				return eris.Wrapf(err, "incident %s", e.ID)
			}
		}
		return nil
	})
}

// InsertRiskAreas upserts risk polygons in a single transaction.
func (s *SQLiteStore) InsertRiskAreas(ctx context.Context, polys []model.RiskPolygon) error {
	return s.inTx(ctx, "insert risk areas", func(tx *sql.Tx) error {
		for _, p := range polys {
			ring, err := json.Marshal(p.Ring)
			if err != nil {
				return eris.Wrapf(err, "marshal ring %s", p.ID)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO risk_areas (id, name, ring) VALUES (?, ?, ?)`,
				p.ID, p.Name, string(ring),
			); err != nil {
				return eris.Wrapf(err, "risk area %s", p.ID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, action string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin", action)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return eris.Wrapf(err, "sqlite: %s", action)
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", action)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func nullCoordinate(lat, lng sql.NullFloat64) model.Coordinate {
	c := model.Coordinate{Lat: math.NaN(), Lng: math.NaN()}
	if lat.Valid {
		c.Lat = lat.Float64
	}
	if lng.Valid {
		c.Lng = lng.Float64
	}
	return c
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return model.Float(v.Float64)
}

// nullable maps NaN components to SQL NULL.
func nullable(c model.Coordinate) (lat, lng any) {
	if !math.IsNaN(c.Lat) {
		lat = c.Lat
	}
	if !math.IsNaN(c.Lng) {
		lng = c.Lng
	}
	return lat, lng
}
