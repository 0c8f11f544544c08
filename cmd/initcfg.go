package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ticket-geocoder/internal/config"
)

var (
	initPath  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config.yaml with the default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !initForce {
			if _, err := os.Stat(initPath); err == nil {
				return eris.Errorf("%s already exists, use --force to overwrite", initPath)
			}
		}

		sample := config.Config{
			Cache: config.CacheConfig{
				Driver: "sqlite",
				DBPath: "geocode_cache.db",
			},
			Pipeline: config.PipelineConfig{
				OutputDir: "output",
				Workers:   1,
			},
			Stages: config.StagesConfig{
				Proximity: config.ProximityStageConfig{
					Enabled:         true,
					RoadNetworkPath: "data/roads.shp",
					CityRefPath:     "",
					MaxDistanceKm:   50,
				},
				Validation: config.ValidationStageConfig{
					Enabled: true,
				},
				Enrichment: config.EnrichmentStageConfig{
					Route:    config.GeometryConfig{BufferM: 500},
					Pipeline: config.GeometryConfig{BoostRadiusM: 500},
				},
				APIFallback: config.APIFallbackStageConfig{
					State:     "TX",
					RateLimit: 10,
				},
			},
			Quality: config.QualityConfig{
				LowConfidence:        0.65,
				EmergencyConfidence:  0.75,
				MaxCityDistanceKm:    50,
				PipelineMaxDistanceM: 500,
			},
			Server: config.ServerConfig{Port: 8080},
			Log:    config.LogConfig{Level: "info", Format: "json"},
		}

		data, err := yaml.Marshal(&sample)
		if err != nil {
			return eris.Wrap(err, "marshal sample config")
		}
		if err := os.WriteFile(initPath, data, 0o644); err != nil {
			return eris.Wrapf(err, "write %s", initPath)
		}

		zap.L().Info("sample config written", zap.String("path", initPath))
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initPath, "path", "config.yaml", "where to write the sample config")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}
