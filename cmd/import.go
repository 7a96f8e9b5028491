package main

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/store"
)

var (
	importRidesPath     string
	importIncidentsPath string
)

// rideRow is one line of a rides CSV export. Empty coordinates or distances
// decode to nil.
type rideRow struct {
	ID             string    `csv:"id"`
	Lat            *float64  `csv:"lat"`
	Lng            *float64  `csv:"lng"`
	CreatedAt      time.Time `csv:"created_at"`
	Status         string    `csv:"status"`
	Area           string    `csv:"area,omitempty"`
	Address        string    `csv:"address,omitempty"`
	DriverDistance *float64  `csv:"driver_distance,omitempty"`
	RouteDistance  *float64  `csv:"route_distance,omitempty"`
}

// incidentRow is one line of an incidents CSV export.
type incidentRow struct {
	ID         string     `csv:"id"`
	Lat        *float64   `csv:"lat"`
	Lng        *float64   `csv:"lng"`
	OccurredAt time.Time  `csv:"occurred_at"`
	EndedAt    *time.Time `csv:"ended_at,omitempty"`
	Category   string     `csv:"category,omitempty"`
	Name       string     `csv:"name,omitempty"`
	Address    string     `csv:"address,omitempty"`
	Area       string     `csv:"area,omitempty"`
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load ride and incident CSV exports into a SQLite store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Store.Driver != "sqlite" {
			return eris.New("import requires store.driver sqlite (RIDECORR_STORE_DRIVER)")
		}
		if importRidesPath == "" && importIncidentsPath == "" {
			return eris.New("import needs --rides or --incidents")
		}

		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rides, incidents, err := importCSV(ctx, st, importRidesPath, importIncidentsPath)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int("rides", rides),
			zap.Int("incidents", incidents),
			zap.String("database", cfg.Store.DatabaseURL),
		)
		return nil
	},
}

// importCSV reads the given exports (either may be empty) and inserts them.
func importCSV(ctx context.Context, st *store.SQLiteStore, ridesPath, incidentsPath string) (int, int, error) {
	var nRides, nIncidents int
	if ridesPath != "" {
		var rows []rideRow
		if err := readCSV(ridesPath, &rows); err != nil {
			return 0, 0, err
		}
		rides := make([]model.RideEvent, len(rows))
		for i, r := range rows {
			rides[i] = model.RideEvent{
				ID:             r.ID,
				Origin:         coordinate(r.Lat, r.Lng),
				CreatedAt:      r.CreatedAt,
				Status:         r.Status,
				Area:           r.Area,
				Address:        r.Address,
				DriverDistance: r.DriverDistance,
				RouteDistance:  r.RouteDistance,
			}
		}
		if err := st.InsertRides(ctx, rides); err != nil {
			return 0, 0, err
		}
		nRides = len(rides)
	}

	if incidentsPath != "" {
		var rows []incidentRow
		if err := readCSV(incidentsPath, &rows); err != nil {
			return nRides, 0, err
		}
		incidents := make([]model.IncidentEvent, len(rows))
		for i, r := range rows {
			incidents[i] = model.IncidentEvent{
				ID:         r.ID,
				Location:   coordinate(r.Lat, r.Lng),
				OccurredAt: r.OccurredAt,
				EndedAt:    r.EndedAt,
				Category:   r.Category,
				Name:       r.Name,
				Address:    r.Address,
				Area:       r.Area,
			}
		}
		if err := st.InsertIncidents(ctx, incidents); err != nil {
			return nRides, 0, err
		}
		nIncidents = len(incidents)
	}
	return nRides, nIncidents, nil
}

func readCSV(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "import: read %s", path)
	}
	if err := csvutil.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "import: parse %s", path)
	}
	return nil
}

// coordinate maps a missing component to NaN so the event is skipped by the
// spatial index.
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

func init() {
	importCmd.Flags().StringVar(&importRidesPath, "rides", "", "path to a rides CSV export")
	importCmd.Flags().StringVar(&importIncidentsPath, "incidents", "", "path to an incidents CSV export")
	rootCmd.AddCommand(importCmd)
}
