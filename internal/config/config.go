package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Cluster ClusterConfig `yaml:"cluster" mapstructure:"cluster"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the ride and incident repositories.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`

	// RiskAreas optionally points at a shapefile (.shp, .zip or URL) that
	// replaces the database risk_areas table.
	RiskAreas string `yaml:"risk_areas" mapstructure:"risk_areas"`
	// ResultsURL is the Postgres database that receives persisted results.
	// Empty uses DatabaseURL when the driver is postgres.
	ResultsURL string `yaml:"results_url" mapstructure:"results_url"`
}

// EngineConfig holds correlation defaults.
type EngineConfig struct {
	RadiusKM               float64 `yaml:"radius_km" mapstructure:"radius_km"`
	TimeWindow             float64 `yaml:"time_window" mapstructure:"time_window"`
	TimeUnit               string  `yaml:"time_unit" mapstructure:"time_unit"`
	EnforceTimeWindow      bool    `yaml:"enforce_time_window" mapstructure:"enforce_time_window"`
	EnableFallback         bool    `yaml:"enable_fallback" mapstructure:"enable_fallback"`
	CandidateCap           int     `yaml:"candidate_cap" mapstructure:"candidate_cap"`
	ExhaustiveOnSaturation bool    `yaml:"exhaustive_on_saturation" mapstructure:"exhaustive_on_saturation"`
	InferMissingAreas      bool    `yaml:"infer_missing_areas" mapstructure:"infer_missing_areas"`
	Workers                int     `yaml:"workers" mapstructure:"workers"`
	// Timezone interprets query dates and clock times.
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// ClusterConfig holds clustering pipeline parameters.
type ClusterConfig struct {
	KMin             int     `yaml:"k_min" mapstructure:"k_min"`
	KMax             int     `yaml:"k_max" mapstructure:"k_max"`
	NInit            int     `yaml:"n_init" mapstructure:"n_init"`
	MaxIter          int     `yaml:"max_iter" mapstructure:"max_iter"`
	Tolerance        float64 `yaml:"tolerance" mapstructure:"tolerance"`
	Contamination    float64 `yaml:"contamination" mapstructure:"contamination"`
	Trees            int     `yaml:"trees" mapstructure:"trees"`
	SampleSize       int     `yaml:"sample_size" mapstructure:"sample_size"`
	Seed             uint64  `yaml:"seed" mapstructure:"seed"`
	SilhouetteSample int     `yaml:"silhouette_sample" mapstructure:"silhouette_sample"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int         `yaml:"port" mapstructure:"port"`
	ReadTimeoutSecs int         `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	CORSOrigins     []string    `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimit       RateLimiter `yaml:"rate_limit" mapstructure:"rate_limit"`
	TrustProxy      bool        `yaml:"trust_proxy" mapstructure:"trust_proxy"`
}

// RateLimiter is a token bucket applied per client address.
type RateLimiter struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// RetryConfig controls retries and circuit breaking around repository reads.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the settings a command needs before it touches a store.
// Mode is "query" for store-backed commands, "cluster" for clustering and
// "serve" for the API. Every problem is reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	checkStore := func() {
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			add("store.driver %q must be postgres or sqlite", c.Store.Driver)
		}
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	}
	checkEngine := func() {
		if c.Engine.RadiusKM <= 0 {
			add("engine.radius_km must be > 0")
		}
		if !(c.Engine.TimeWindow >= 0) || math.IsInf(c.Engine.TimeWindow, 1) {
			add("engine.time_window must be a finite number >= 0")
		}
		if c.Engine.Workers < 1 {
			add("engine.workers must be >= 1")
		}
	}
	checkCluster := func() {
		if c.Cluster.KMin < 2 || c.Cluster.KMax < c.Cluster.KMin {
			add("cluster k range [%d, %d] is invalid", c.Cluster.KMin, c.Cluster.KMax)
		}
		if c.Cluster.Contamination <= 0 || c.Cluster.Contamination >= 0.5 {
			add("cluster.contamination must be in (0, 0.5)")
		}
	}

	switch mode {
	case "query":
		checkStore()
		checkEngine()
	case "cluster":
		checkStore()
		checkCluster()
	case "serve":
		checkStore()
		checkEngine()
		checkCluster()
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if c.Server.RateLimit.RPS < 0 {
			add("server.rate_limit.rps must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RIDECORR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.risk_areas", "")
	v.SetDefault("store.results_url", "")
	v.SetDefault("engine.radius_km", 5.0)
	v.SetDefault("engine.time_window", 15.0)
	v.SetDefault("engine.time_unit", "minutes")
	v.SetDefault("engine.enforce_time_window", false)
	v.SetDefault("engine.enable_fallback", true)
	v.SetDefault("engine.candidate_cap", 10)
	v.SetDefault("engine.exhaustive_on_saturation", true)
	v.SetDefault("engine.infer_missing_areas", false)
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.timezone", "America/Sao_Paulo")
	v.SetDefault("cluster.k_min", 2)
	v.SetDefault("cluster.k_max", 9)
	v.SetDefault("cluster.n_init", 10)
	v.SetDefault("cluster.max_iter", 300)
	v.SetDefault("cluster.tolerance", 1e-4)
	v.SetDefault("cluster.contamination", 0.05)
	v.SetDefault("cluster.trees", 100)
	v.SetDefault("cluster.sample_size", 256)
	v.SetDefault("cluster.seed", 42)
	v.SetDefault("cluster.silhouette_sample", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_secs", 30)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit.rps", 10.0)
	v.SetDefault("server.rate_limit.burst", 20)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.failure_threshold", 5)
	v.SetDefault("retry.reset_timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
