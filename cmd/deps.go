package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ticket-geocoder/internal/cache"
	"github.com/sells-group/ticket-geocoder/internal/corridor"
	"github.com/sells-group/ticket-geocoder/internal/proximity"
	"github.com/sells-group/ticket-geocoder/internal/quality"
	"github.com/sells-group/ticket-geocoder/internal/reprocess"
	"github.com/sells-group/ticket-geocoder/internal/roadnet"
	"github.com/sells-group/ticket-geocoder/internal/stage"
	"github.com/sells-group/ticket-geocoder/internal/validation"
	"github.com/sells-group/ticket-geocoder/pkg/censusgeo"
)

func initStore(ctx context.Context) (cache.Store, error) {
	switch cfg.Cache.Driver {
	case "sqlite":
		path := cfg.Cache.DBPath
		if path == "" {
			path = "geocode_cache.db"
		}
		return cache.NewSQLite(path)
	case "postgres":
		return cache.NewPostgres(ctx, cfg.Cache.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

// spatial bundles the optional geometry collaborators shared between the
// enrichment stage and the validation rules.
type spatial struct {
	route *corridor.RouteCorridorValidator
	pipe  *corridor.PipelineProximityAnalyzer
}

func loadSpatial() (*spatial, error) {
	s := &spatial{}

	if path := cfg.Stages.Enrichment.Route.Path(); path != "" {
		lines, err := corridor.LoadGeometry(path)
		if err != nil {
			return nil, eris.Wrap(err, "load route corridor geometry")
		}
		s.route = corridor.NewRouteCorridorValidator(lines, cfg.Stages.Enrichment.Route.BufferM)
		zap.L().Info("route corridor loaded", zap.String("path", path), zap.Int("lines", len(lines)))
	}

	if path := cfg.Stages.Enrichment.Pipeline.Path(); path != "" {
		lines, err := corridor.LoadGeometry(path)
		if err != nil {
			return nil, eris.Wrap(err, "load pipeline geometry")
		}
		s.pipe = corridor.NewPipelineProximityAnalyzer(lines, cfg.Stages.Enrichment.Pipeline.BoostRadiusM)
		zap.L().Info("pipeline geometry loaded", zap.String("path", path), zap.Int("lines", len(lines)))
	}

	return s, nil
}

func loadCityRef() (*roadnet.CityRef, error) {
	if path := cfg.Stages.Proximity.CityRefPath; path != "" {
		return roadnet.LoadCityRef(path)
	}
	return roadnet.NewCityRef(), nil
}

func validationContext(cityRef *roadnet.CityRef, sp *spatial) validation.Context {
	vctx := validation.DefaultContext()
	vctx.CityRef = cityRef.Lookup
	if sp.route != nil {
		vctx.Corridor = sp.route
	}
	if sp.pipe != nil {
		vctx.Pipeline = sp.pipe
	}
	if cfg.Quality.LowConfidence > 0 {
		vctx.LowConfidence = cfg.Quality.LowConfidence
	}
	if cfg.Quality.EmergencyConfidence > 0 {
		vctx.EmergencyConfidence = cfg.Quality.EmergencyConfidence
	}
	if cfg.Quality.MaxCityDistanceKm > 0 {
		vctx.MaxCityDistanceKm = cfg.Quality.MaxCityDistanceKm
	}
	if cfg.Quality.PipelineMaxDistanceM > 0 {
		vctx.PipelineMaxDistanceM = cfg.Quality.PipelineMaxDistanceM
	}
	return vctx
}

// stageRules returns the configured skip rules, or fallback when the
// config left the block empty.
func stageRules(configured, fallback reprocess.SkipRules) reprocess.SkipRules {
	zero := !configured.SkipIfLocked &&
		len(configured.SkipIfQuality) == 0 &&
		configured.SkipIfConfidence == nil &&
		len(configured.SkipIfMethod) == 0 &&
		configured.SkipSameStage == nil
	if zero {
		return fallback
	}
	return configured
}

// buildRunners assembles the enabled stages in fixed order: proximity,
// validation, enrichment, api_fallback.
func buildRunners(store cache.Store) ([]*stage.Runner, error) {
	sp, err := loadSpatial()
	if err != nil {
		return nil, err
	}
	cityRef, err := loadCityRef()
	if err != nil {
		return nil, eris.Wrap(err, "load city reference")
	}

	engine, err := validation.NewEngine(validationContext(cityRef, sp), cfg.Stages.Validation.Rules...)
	if err != nil {
		return nil, eris.Wrap(err, "build validation engine")
	}
	assessor := quality.NewAssessor(cfg.Quality.MethodPenalties)
	workers := cfg.Pipeline.Workers

	var runners []*stage.Runner

	if cfg.Stages.Proximity.Enabled {
		if cfg.Stages.Proximity.RoadNetworkPath == "" {
			return nil, eris.New("proximity stage enabled but road_network_path is not set")
		}
		network, err := roadnet.LoadShapefile(cfg.Stages.Proximity.RoadNetworkPath)
		if err != nil {
			return nil, eris.Wrap(err, "load road network")
		}
		zap.L().Info("road network loaded",
			zap.String("path", cfg.Stages.Proximity.RoadNetworkPath),
			zap.Int("segments", network.Size()),
			zap.Int("names", network.Names()))

		var booster proximity.Booster
		if sp.pipe != nil {
			booster = sp.pipe
		}
		geocoder := proximity.New(network, cityRef, booster)
		rules := stageRules(cfg.Stages.Proximity.SkipRules, reprocess.DefaultSkipRules())
		runners = append(runners, stage.NewRunner(stage.NewProximity(geocoder, rules), store, engine, assessor, workers))
	}

	if cfg.Stages.Validation.Enabled {
		rules := stageRules(cfg.Stages.Validation.SkipRules, reprocess.DefaultSkipRules())
		runners = append(runners, stage.NewRunner(stage.NewRevalidate(store, rules), store, engine, assessor, workers))
	}

	if cfg.Stages.Enrichment.Enabled {
		if sp.route == nil && sp.pipe == nil {
			return nil, eris.New("enrichment stage enabled but no route or pipeline geometry is configured")
		}
		rules := stageRules(cfg.Stages.Enrichment.SkipRules, stage.DefaultEnrichmentRules())
		runners = append(runners, stage.NewRunner(stage.NewEnrichment(store, sp.route, sp.pipe, rules), store, engine, assessor, workers))
	}

	if cfg.Stages.APIFallback.Enabled {
		client := censusgeo.NewClient(censusgeo.WithRateLimit(cfg.Stages.APIFallback.RateLimit))
		rules := stageRules(cfg.Stages.APIFallback.SkipRules, stage.DefaultAPIFallbackRules())
		runners = append(runners, stage.NewRunner(stage.NewAPIFallback(client, cfg.Stages.APIFallback.State, rules), store, engine, assessor, workers))
	}

	if len(runners) == 0 {
		return nil, eris.New("no stages enabled")
	}
	return runners, nil
}
