package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 10.0, cfg.Server.RateLimit.RPS, 1e-9)
	assert.Equal(t, 20, cfg.Server.RateLimit.Burst)

	assert.InDelta(t, 5.0, cfg.Engine.RadiusKM, 1e-9)
	assert.InDelta(t, 15.0, cfg.Engine.TimeWindow, 1e-9)
	assert.Equal(t, "minutes", cfg.Engine.TimeUnit)
	assert.True(t, cfg.Engine.EnableFallback)
	assert.False(t, cfg.Engine.EnforceTimeWindow)
	assert.Equal(t, 10, cfg.Engine.CandidateCap)
	assert.True(t, cfg.Engine.ExhaustiveOnSaturation)
	assert.Equal(t, "America/Sao_Paulo", cfg.Engine.Timezone)

	assert.Equal(t, 2, cfg.Cluster.KMin)
	assert.Equal(t, 9, cfg.Cluster.KMax)
	assert.Equal(t, uint64(42), cfg.Cluster.Seed)
	assert.InDelta(t, 0.05, cfg.Cluster.Contamination, 1e-9)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Retry.FailureThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: /tmp/rides.db
engine:
  radius_km: 2.5
  time_unit: hours
  enforce_time_window: true
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/rides.db", cfg.Store.DatabaseURL)
	assert.InDelta(t, 2.5, cfg.Engine.RadiusKM, 1e-9)
	assert.Equal(t, "hours", cfg.Engine.TimeUnit)
	assert.True(t, cfg.Engine.EnforceTimeWindow)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Engine.CandidateCap)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("RIDECORR_STORE_DRIVER", "postgres")
	t.Setenv("RIDECORR_LOG_LEVEL", "warn")
	t.Setenv("RIDECORR_ENGINE_RADIUS_KM", "7.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.InDelta(t, 7.5, cfg.Engine.RadiusKM, 1e-9)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config with the Load defaults and a database URL.
func validDefaults(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Store.DatabaseURL = "postgres://localhost/rides"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		mutate func(*Config)
		errs   []string
	}{
		{name: "query ok", mode: "query", mutate: func(*Config) {}},
		{name: "cluster ok", mode: "cluster", mutate: func(*Config) {}},
		{name: "serve ok", mode: "serve", mutate: func(*Config) {}},
		{
			name:   "missing database",
			mode:   "query",
			mutate: func(c *Config) { c.Store.DatabaseURL = "" },
			errs:   []string{"store.database_url is required"},
		},
		{
			name: "bad driver and radius together",
			mode: "query",
			mutate: func(c *Config) {
				c.Store.Driver = "mysql"
				c.Engine.RadiusKM = 0
			},
			errs: []string{`store.driver "mysql"`, "engine.radius_km must be > 0"},
		},
		{
			name:   "nan window",
			mode:   "query",
			mutate: func(c *Config) { c.Engine.TimeWindow = math.NaN() },
			errs:   []string{"engine.time_window must be a finite number >= 0"},
		},
		{
			name:   "infinite window",
			mode:   "serve",
			mutate: func(c *Config) { c.Engine.TimeWindow = math.Inf(1) },
			errs:   []string{"engine.time_window"},
		},
		{
			name:   "cluster range",
			mode:   "cluster",
			mutate: func(c *Config) { c.Cluster.KMax = 1 },
			errs:   []string{"cluster k range [2, 1] is invalid"},
		},
		{
			name:   "contamination",
			mode:   "serve",
			mutate: func(c *Config) { c.Cluster.Contamination = 0.5 },
			errs:   []string{"cluster.contamination"},
		},
		{
			name:   "port",
			mode:   "serve",
			mutate: func(c *Config) { c.Server.Port = 0 },
			errs:   []string{"server.port must be > 0"},
		},
		{
			name:   "cluster ignores engine",
			mode:   "cluster",
			mutate: func(c *Config) { c.Engine.RadiusKM = -1 },
		},
		{
			name:   "unknown mode",
			mode:   "export",
			mutate: func(*Config) {},
			errs:   []string{"unknown mode"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults(t)
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if len(tt.errs) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.errs {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
