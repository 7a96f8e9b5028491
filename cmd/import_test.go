package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ridecorr/internal/cluster"
	"github.com/sells-group/ridecorr/internal/config"
	"github.com/sells-group/ridecorr/internal/correlate"
	"github.com/sells-group/ridecorr/internal/model"
)

const ridesCSV = `id,lat,lng,created_at,status,area,address,driver_distance,route_distance
r1,-22.90,-43.17,2024-03-10T10:00:00Z,Cancelada pelo Taxista,Centro,Rua A,1.2,5
r2,-22.95,-43.20,2024-03-10T12:00:00Z,Finalizada,Botafogo,,0.8,4
r3,,,2024-03-10T13:00:00Z,Cancelada pelo Passageiro,Centro,,,
`

const incidentsCSV = `id,lat,lng,occurred_at,ended_at,category,name,address,area
e1,-22.905,-43.175,2024-03-10T10:05:00Z,2024-03-10T12:05:00Z,Tiroteio,Tiroteio,,Centro
`

// useSQLiteConfig points the global config at a fresh SQLite file.
func useSQLiteConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "rides.db")},
		Engine: config.EngineConfig{
			RadiusKM:               5,
			TimeWindow:             15,
			TimeUnit:               "minutes",
			EnableFallback:         true,
			CandidateCap:           10,
			ExhaustiveOnSaturation: true,
			Workers:                2,
			Timezone:               "UTC",
		},
		Cluster: config.ClusterConfig{KMin: 2, KMax: 3, NInit: 2, MaxIter: 50, Tolerance: 1e-4, Contamination: 0.05, Trees: 10, SampleSize: 16, Seed: 42},
		Retry:   config.RetryConfig{MaxAttempts: 1},
	}
	t.Cleanup(func() { cfg = nil })
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func importFixtures(t *testing.T, dir string) {
	t.Helper()
	importRidesPath = writeFile(t, dir, "rides.csv", ridesCSV)
	importIncidentsPath = writeFile(t, dir, "incidents.csv", incidentsCSV)
	t.Cleanup(func() { importRidesPath, importIncidentsPath = "", "" })

	importCmd.SetContext(context.Background())
	require.NoError(t, importCmd.RunE(importCmd, nil))
}

// run executes cmd with flags and returns what it wrote to stdout.
func run(t *testing.T, cmd *cobra.Command, flags map[string]string) (string, error) {
	t.Helper()
	for name, value := range flags {
		require.NoError(t, cmd.Flags().Set(name, value))
	}
	t.Cleanup(func() {
		for name := range flags {
			f := cmd.Flags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())
	err := cmd.RunE(cmd, nil)
	return out.String(), err
}

func TestImportCmd_RequiresSQLite(t *testing.T) {
	useSQLiteConfig(t)
	cfg.Store.Driver = "postgres"

	importCmd.SetContext(context.Background())
	err := importCmd.RunE(importCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires store.driver sqlite")
}

func TestImportCmd_NeedsInput(t *testing.T) {
	useSQLiteConfig(t)

	importCmd.SetContext(context.Background())
	err := importCmd.RunE(importCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--rides or --incidents")
}

func TestImportCmd_BadCSV(t *testing.T) {
	dir := useSQLiteConfig(t)
	importRidesPath = writeFile(t, dir, "rides.csv", "id,lat,lng,created_at\nr1,x,1,2024-03-10T10:00:00Z\n")
	t.Cleanup(func() { importRidesPath = "" })

	importCmd.SetContext(context.Background())
	err := importCmd.RunE(importCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import: parse")
}

func TestCorrelateCmd(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	out, err := run(t, correlateCmd, map[string]string{"date": "2024-03-10", "status": "cancelada"})
	require.NoError(t, err)

	var records []model.CorrelationRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records), out)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].RideID)
	assert.Equal(t, "e1", records[0].IncidentID)
	assert.Equal(t, "Rua A", records[0].RideAddress)
	assert.InDelta(t, 5.0, records[0].TimeDiff, 1e-9)
}

func TestCorrelateCmd_CSV(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	out, err := run(t, correlateCmd, map[string]string{"date": "2024-03-10", "format": "csv"})
	require.NoError(t, err)
	assert.Contains(t, out, "cancel_id,cancel_address,cancel_area,event_id")
	assert.Contains(t, out, "r1,Rua A,Centro,e1")
}

func TestCorrelateCmd_Fallback(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	out, err := run(t, correlateCmd, map[string]string{"date": "2024-03-12"})
	require.NoError(t, err)

	var payload correlate.FallbackPayload
	require.NoError(t, json.Unmarshal([]byte(out), &payload), out)
	assert.Equal(t, correlate.FallbackMessage, payload.Message)
	require.Len(t, payload.RecentEvents, 1)
	assert.Equal(t, "e1", payload.RecentEvents[0].ID)
}

func TestCorrelateCmd_Validation(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	_, err := run(t, correlateCmd, map[string]string{"date": "2024-03-10", "radius": "-2"})
	require.Error(t, err)
	assert.True(t, correlate.IsValidation(err))
}

func TestCorrelateCmd_WindowValidation(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	_, err := run(t, correlateCmd, map[string]string{"date": "2024-03-10", "window": "NaN"})
	require.Error(t, err)
	assert.True(t, correlate.IsValidation(err))

	out, err := run(t, correlateCmd, map[string]string{"date": "2024-03-10", "status": "cancelada", "window": "1e9"})
	require.NoError(t, err)
	var records []model.CorrelationRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records), out)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].RideID)
}

func TestCorrelateCmd_StoreNeedsPostgres(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	_, err := run(t, correlateCmd, map[string]string{"date": "2024-03-10", "store": "true"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--store needs a postgres store")
}

func TestAreasCmd(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	out, err := run(t, areasCmd, map[string]string{"date": "2024-03-10", "format": "yaml"})
	require.NoError(t, err)
	assert.Contains(t, out, "area: Centro")
	assert.Contains(t, out, "matched_rides: 1")
	assert.Contains(t, out, "area: Botafogo")
}

func TestImpactCmd(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	out, err := run(t, impactCmd, map[string]string{"date": "2024-03-10", "radius": "1"})
	require.NoError(t, err)

	var impact []model.IncidentImpact
	require.NoError(t, json.Unmarshal([]byte(out), &impact), out)
	require.Len(t, impact, 1)
	assert.Equal(t, 1, impact[0].CanceledByDriver)
	assert.InDelta(t, 2.0, impact[0].DurationHours, 1e-9)
}

func TestBandsCmd(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	out, err := run(t, bandsCmd, map[string]string{"date": "2024-03-10", "format": "csv"})
	require.NoError(t, err)
	assert.Contains(t, out, "label,rides,canceled_by_driver")
	assert.Contains(t, out, "within_1_sigma")
}

func TestClusterCmd_TooFewRides(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	_, err := run(t, clusterCmd, map[string]string{"date": "2024-03-10"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, cluster.ErrTooFewRides))
}

func TestRiskAreasCmd_Empty(t *testing.T) {
	dir := useSQLiteConfig(t)
	importFixtures(t, dir)

	out, err := run(t, riskAreasCmd, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"polygons":0,"rejected":[]}`, out)

	out, err = run(t, riskAreasCmd, map[string]string{"date": "2024-03-10"})
	require.NoError(t, err)
	var exp model.RiskExposure
	require.NoError(t, json.Unmarshal([]byte(out), &exp))
	assert.Equal(t, 3, exp.TotalRides)
	assert.Zero(t, exp.InsideRides)
}

func TestNewApp_InvalidConfig(t *testing.T) {
	useSQLiteConfig(t)
	cfg.Store.DatabaseURL = ""

	_, err := newApp(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestEngineConfig_BadUnit(t *testing.T) {
	_, err := engineConfig(config.EngineConfig{TimeUnit: "days"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.time_unit")
}

func TestOpenStore_UnsupportedDriver(t *testing.T) {
	useSQLiteConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := openStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}
