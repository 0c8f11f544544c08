// Package config loads the application configuration from file and
// environment and owns the global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/ticket-geocoder/internal/reprocess"
)

// Config holds the full application configuration.
type Config struct {
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Stages   StagesConfig   `yaml:"stages" mapstructure:"stages"`
	Quality  QualityConfig  `yaml:"quality" mapstructure:"quality"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CacheConfig configures the geocode cache store backend.
type CacheConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DBPath      string `yaml:"db_path" mapstructure:"db_path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PipelineConfig configures the batch orchestrator.
type PipelineConfig struct {
	FailFast         bool   `yaml:"fail_fast" mapstructure:"fail_fast"`
	SaveIntermediate bool   `yaml:"save_intermediate" mapstructure:"save_intermediate"`
	OutputDir        string `yaml:"output_dir" mapstructure:"output_dir"`
	Workers          int    `yaml:"workers" mapstructure:"workers"`
}

// StagesConfig configures the individual stages.
type StagesConfig struct {
	Proximity   ProximityStageConfig   `yaml:"proximity" mapstructure:"proximity"`
	Validation  ValidationStageConfig  `yaml:"validation" mapstructure:"validation"`
	Enrichment  EnrichmentStageConfig  `yaml:"enrichment" mapstructure:"enrichment"`
	APIFallback APIFallbackStageConfig `yaml:"api_fallback" mapstructure:"api_fallback"`
}

// ProximityStageConfig configures the road-network geocoding stage.
type ProximityStageConfig struct {
	Enabled         bool                `yaml:"enabled" mapstructure:"enabled"`
	RoadNetworkPath string              `yaml:"road_network_path" mapstructure:"road_network_path"`
	CityRefPath     string              `yaml:"city_ref_path" mapstructure:"city_ref_path"`
	MaxDistanceKm   float64             `yaml:"max_distance_km" mapstructure:"max_distance_km"`
	SkipRules       reprocess.SkipRules `yaml:"skip_rules" mapstructure:"skip_rules"`
}

// ValidationStageConfig configures the revalidation stage.
type ValidationStageConfig struct {
	Enabled   bool                `yaml:"enabled" mapstructure:"enabled"`
	Rules     []string            `yaml:"validation_rules" mapstructure:"validation_rules"`
	SkipRules reprocess.SkipRules `yaml:"skip_rules" mapstructure:"skip_rules"`
}

// EnrichmentStageConfig configures the corridor/pipeline enrichment stage.
type EnrichmentStageConfig struct {
	Enabled   bool                `yaml:"enabled" mapstructure:"enabled"`
	Route     GeometryConfig      `yaml:"route" mapstructure:"route"`
	Pipeline  GeometryConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	SkipRules reprocess.SkipRules `yaml:"skip_rules" mapstructure:"skip_rules"`
}

// GeometryConfig points at a linear geometry file plus its distance
// parameter (buffer or boost radius depending on the consumer).
type GeometryConfig struct {
	KMZPath      string  `yaml:"kmz_path" mapstructure:"kmz_path"`
	GeometryPath string  `yaml:"geometry_path" mapstructure:"geometry_path"`
	BufferM      float64 `yaml:"buffer_m" mapstructure:"buffer_m"`
	BoostRadiusM float64 `yaml:"boost_radius_m" mapstructure:"boost_radius_m"`
}

// Path returns whichever geometry location is set.
func (g GeometryConfig) Path() string {
	if g.KMZPath != "" {
		return g.KMZPath
	}
	return g.GeometryPath
}

// APIFallbackStageConfig configures the external geocoder retry stage.
type APIFallbackStageConfig struct {
	Enabled   bool                `yaml:"enabled" mapstructure:"enabled"`
	State     string              `yaml:"state" mapstructure:"state"`
	RateLimit float64             `yaml:"rate_limit" mapstructure:"rate_limit"`
	SkipRules reprocess.SkipRules `yaml:"skip_rules" mapstructure:"skip_rules"`
}

// QualityConfig configures the assessor and validation thresholds.
type QualityConfig struct {
	MethodPenalties      map[string]float64 `yaml:"method_penalties" mapstructure:"method_penalties"`
	LowConfidence        float64            `yaml:"low_confidence" mapstructure:"low_confidence"`
	EmergencyConfidence  float64            `yaml:"emergency_confidence" mapstructure:"emergency_confidence"`
	MaxCityDistanceKm    float64            `yaml:"max_city_distance_km" mapstructure:"max_city_distance_km"`
	PipelineMaxDistanceM float64            `yaml:"pipeline_max_distance_m" mapstructure:"pipeline_max_distance_m"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TICKETGEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.db_path", "geocode_cache.db")
	v.SetDefault("pipeline.output_dir", "output")
	v.SetDefault("pipeline.fail_fast", false)
	v.SetDefault("pipeline.save_intermediate", false)
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("stages.proximity.enabled", true)
	v.SetDefault("stages.proximity.max_distance_km", 50)
	v.SetDefault("stages.validation.enabled", true)
	v.SetDefault("stages.enrichment.enabled", false)
	v.SetDefault("stages.enrichment.route.buffer_m", 500)
	v.SetDefault("stages.enrichment.pipeline.boost_radius_m", 500)
	v.SetDefault("stages.api_fallback.enabled", false)
	v.SetDefault("stages.api_fallback.state", "TX")
	v.SetDefault("stages.api_fallback.rate_limit", 10)
	v.SetDefault("quality.low_confidence", 0.65)
	v.SetDefault("quality.emergency_confidence", 0.75)
	v.SetDefault("quality.max_city_distance_km", 50)
	v.SetDefault("quality.pipeline_max_distance_m", 500)
	v.SetDefault("server.port", 8080)
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
