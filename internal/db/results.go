package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ridecorr/internal/model"
)

// ResultSchema is the Postgres schema holding persisted analysis results.
const ResultSchema = "ridecorr"

const resultMigration = `
CREATE SCHEMA IF NOT EXISTS ridecorr;

CREATE TABLE IF NOT EXISTS ridecorr.correlation_records (
	run_id            TEXT NOT NULL,
	ride_id           TEXT NOT NULL,
	incident_id       TEXT NOT NULL,
	ride_area         TEXT,
	incident_category TEXT,
	distance_km       DOUBLE PRECISION NOT NULL,
	time_diff         DOUBLE PRECISION NOT NULL,
	time_unit         TEXT NOT NULL,
	in_risk_area      BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, ride_id, incident_id)
);

CREATE TABLE IF NOT EXISTS ridecorr.area_summaries (
	run_id             TEXT NOT NULL,
	area               TEXT NOT NULL,
	total_rides        INTEGER NOT NULL,
	matched_rides      INTEGER NOT NULL,
	percentage         DOUBLE PRECISION NOT NULL,
	incident_count     INTEGER NOT NULL,
	inferred_incidents INTEGER NOT NULL DEFAULT 0,
	unassigned         BOOLEAN NOT NULL DEFAULT false,
	by_category        JSONB NOT NULL DEFAULT '{}',
	computed_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, area)
);
`

var correlationColumns = []string{
	"run_id", "ride_id", "incident_id", "ride_area", "incident_category",
	"distance_km", "time_diff", "time_unit", "in_risk_area", "created_at",
}

var areaSummaryColumns = []string{
	"run_id", "area", "total_rides", "matched_rides", "percentage",
	"incident_count", "inferred_incidents", "unassigned", "by_category", "computed_at",
}

// MigrateResults creates the result tables if they do not exist.
func MigrateResults(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, resultMigration); err != nil {
		return eris.Wrap(err, "db: migrate result tables")
	}
	return nil
}

// SaveCorrelations writes the records of one run with COPY.
func SaveCorrelations(ctx context.Context, pool Pool, runID string, records []model.CorrelationRecord) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			runID, r.RideID, r.IncidentID, r.RideArea, r.IncidentCategory,
			r.DistanceKM, r.TimeDiff, r.TimeUnit, r.RideInRiskArea, now,
		}
	}
	n, err := CopyRows(ctx, pool, ResultTable("correlation_records"), correlationColumns, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "db: save correlations for run %s", runID)
	}
	return n, nil
}

// SaveAreaSummaries upserts the summaries of one run keyed by (run_id, area).
func SaveAreaSummaries(ctx context.Context, pool Pool, runID string, summaries []model.AreaSummary) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(summaries))
	for i, s := range summaries {
		cats, err := json.Marshal(s.ByCategory)
		if err != nil {
			return 0, eris.Wrapf(err, "db: marshal categories for area %s", s.Area)
		}
		rows[i] = []any{
			runID, s.Area, s.TotalRides, s.MatchedRides, s.Percentage,
			s.IncidentCount, s.InferredIncidents, s.Unassigned, cats, now,
		}
	}
	n, err := Upsert(ctx, pool, UpsertConfig{
		Table:   ResultTable("area_summaries"),
		Columns: areaSummaryColumns,
		Keys:    []string{"run_id", "area"},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "db: save area summaries for run %s", runID)
	}
	return n, nil
}
