// Package proximity resolves intersection and single-road tickets against
// the road network using geometric strategies with a city-centroid
// fallback.
package proximity

import (
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/ticket-geocoder/internal/geomutil"
	"github.com/sells-group/ticket-geocoder/internal/model"
	"github.com/sells-group/ticket-geocoder/internal/roadnet"
)

// Strategy constants.
const (
	// closest-point acceptance ceiling and confidence ramp
	MaxGapM           = 1500.0
	ClosestPointBase  = 0.70
	ClosestPointFloor = 0.55

	CorridorMidpointConfidence = 0.85
	CityPrimaryConfidence      = 0.65
	CityPrimarySnapM           = 5000.0
	FallbackConfidence         = 0.35
)

// Adjustment deltas composed additively after the base confidence.
const (
	AdjustEmergency     = 0.05
	AdjustShortDuration = 0.10
	AdjustLongDuration  = -0.05
	AdjustHydroExc      = 0.10
	AdjustPipelineWork  = -0.05
)

// Booster supplies the pipeline-proximity confidence boost, when a
// pipeline geometry is configured.
type Booster interface {
	Boost(lat, lng float64) (boost float64, within bool)
}

// Result is a successful geocode before quality assessment.
type Result struct {
	Latitude    float64
	Longitude   float64
	Confidence  float64
	Approach    string
	Reasoning   string
	Adjustments map[string]float64
	DistanceM   float64
}

// Geocoder is pure with respect to its road network and city reference
// map; both are shared read-only for the batch.
type Geocoder struct {
	network *roadnet.Network
	cityRef *roadnet.CityRef
	booster Booster
	log     *zap.Logger
}

// New builds a Geocoder. booster may be nil.
func New(network *roadnet.Network, cityRef *roadnet.CityRef, booster Booster) *Geocoder {
	return &Geocoder{
		network: network,
		cityRef: cityRef,
		booster: booster,
		log:     zap.L().With(zap.String("component", "proximity")),
	}
}

var titleCaser = cases.Title(language.AmericanEnglish)

// Geocode places a ticket. The returned error is a StrategyExhausted when
// no strategy produced coordinates; the caller synthesizes the FAILED
// record from it.
func (g *Geocoder) Geocode(t *model.Ticket) (*Result, error) {
	streetSegs, streetMatch, streetOK := g.lookup(t.Street)
	interSegs, interMatch, interOK := g.lookup(t.Intersection)

	cityLat, cityLng, cityOK := 0.0, 0.0, false
	if g.cityRef != nil {
		cityLat, cityLng, cityOK = g.cityRef.Lookup(t.City, t.County)
	}

	var res *Result
	switch {
	case streetOK && interOK:
		points := roadnet.Intersections(streetSegs, interSegs)
		if len(points) > 0 {
			res = g.corridorMidpoint(t, points, streetMatch, interMatch, cityLat, cityLng, cityOK)
			break
		}
		res = g.closestPoint(t, streetSegs, interSegs, streetMatch, interMatch)
	case streetOK || interOK:
		if cityOK {
			segs, match := streetSegs, streetMatch
			if !streetOK {
				segs, match = interSegs, interMatch
			}
			res = g.cityPrimary(t, segs, match, cityLat, cityLng)
		}
	default:
		if cityOK {
			res = g.fallback(t, cityLat, cityLng)
		}
	}

	if res == nil {
		return nil, model.NewStrategyExhausted(g.exhaustedReason(t, streetOK, interOK, cityOK))
	}

	g.applyAdjustments(t, res)
	noteVariants(t, res, streetMatch, interMatch)

	g.log.Debug("geocoded ticket",
		zap.String("ticket", t.TicketNumber),
		zap.String("approach", res.Approach),
		zap.Float64("confidence", res.Confidence))
	return res, nil
}

func (g *Geocoder) lookup(name string) ([]*roadnet.RoadSegment, string, bool) {
	if strings.TrimSpace(name) == "" || g.network == nil {
		return nil, "", false
	}
	return g.network.FindByName(name)
}

// corridorMidpoint handles crossing roads. With multiple crossings the one
// nearest the city reference point wins.
func (g *Geocoder) corridorMidpoint(t *model.Ticket, points []geom.Coord, streetMatch, interMatch string, cityLat, cityLng float64, cityOK bool) *Result {
	best := points[0]
	if cityOK && len(points) > 1 {
		bestDist := geomutil.Haversine(cityLat, cityLng, best[1], best[0])
		for _, pt := range points[1:] {
			d := geomutil.Haversine(cityLat, cityLng, pt[1], pt[0])
			if d < bestDist {
				bestDist = d
				best = pt
			}
		}
	}
	return &Result{
		Latitude:   best[1],
		Longitude:  best[0],
		Confidence: CorridorMidpointConfidence,
		Approach:   model.ApproachCorridorMidpoint,
		Reasoning: fmt.Sprintf("roads %s and %s cross; used the intersection point",
			streetMatch, interMatch),
	}
}

// closestPoint handles nearby non-crossing roads. Confidence ramps down
// linearly from 0.70 at 0 m to 0.55 at 1500 m.
func (g *Geocoder) closestPoint(t *model.Ticket, streetSegs, interSegs []*roadnet.RoadSegment, streetMatch, interMatch string) *Result {
	pa, pb, distM, ok := roadnet.ClosestPointPair(streetSegs, interSegs)
	if !ok || distM > MaxGapM {
		return nil
	}
	mid := geomutil.Midpoint(pa, pb)
	confidence := ClosestPointBase - (ClosestPointBase-ClosestPointFloor)*(distM/MaxGapM)
	return &Result{
		Latitude:   mid[1],
		Longitude:  mid[0],
		Confidence: confidence,
		Approach:   model.ApproachClosestPoint,
		DistanceM:  distM,
		Reasoning: fmt.Sprintf("roads %s and %s do not cross; used midpoint of closest points %.0fm apart",
			streetMatch, interMatch, distM),
	}
}

// cityPrimary snaps the city reference point onto the one road that was
// found, within 5 km.
func (g *Geocoder) cityPrimary(t *model.Ticket, segs []*roadnet.RoadSegment, match string, cityLat, cityLng float64) *Result {
	pt, distM, ok := roadnet.NearestPoint(segs, cityLat, cityLng)
	if !ok || distM > CityPrimarySnapM {
		return nil
	}
	return &Result{
		Latitude:   pt[1],
		Longitude:  pt[0],
		Confidence: CityPrimaryConfidence,
		Approach:   model.ApproachCityPrimary,
		DistanceM:  distM,
		Reasoning: fmt.Sprintf("one road missing from network; snapped %s reference point to %s",
			titleCaser.String(strings.ToLower(t.City)), match),
	}
}

func (g *Geocoder) fallback(t *model.Ticket, cityLat, cityLng float64) *Result {
	return &Result{
		Latitude:   cityLat,
		Longitude:  cityLng,
		Confidence: FallbackConfidence,
		Approach:   model.ApproachCityCentroidFallback,
		Reasoning: fmt.Sprintf("both roads missing from network; used %s city centroid",
			titleCaser.String(strings.ToLower(t.City))),
	}
}

func (g *Geocoder) exhaustedReason(t *model.Ticket, streetOK, interOK, cityOK bool) string {
	var parts []string
	if !streetOK && t.Street != "" {
		parts = append(parts, fmt.Sprintf("street %q not in network", t.Street))
	}
	if !interOK && t.Intersection != "" {
		parts = append(parts, fmt.Sprintf("intersection %q not in network", t.Intersection))
	}
	if !cityOK {
		parts = append(parts, fmt.Sprintf("no reference point for city %q county %q", t.City, t.County))
	}
	if len(parts) == 0 {
		parts = append(parts, "roads found but no strategy produced a location")
	}
	return "no strategy succeeded: " + strings.Join(parts, "; ")
}

// applyAdjustments composes the metadata-driven confidence deltas
// additively and clamps once at the end.
func (g *Geocoder) applyAdjustments(t *model.Ticket, res *Result) {
	adj := map[string]float64{}

	if t.TicketType == "Emergency" {
		adj["emergency"] = AdjustEmergency
	}
	switch strings.ToUpper(strings.TrimSpace(t.Duration)) {
	case "1 DAY":
		adj["short_duration"] = AdjustShortDuration
	case "2 MONTHS", "6 MONTHS":
		adj["long_duration"] = AdjustLongDuration
	}
	work := strings.ToLower(t.WorkType)
	if strings.Contains(work, "hydro-excavation") {
		adj["hydro_excavation"] = AdjustHydroExc
	}
	if strings.Contains(work, "pipeline") {
		adj["pipeline_work"] = AdjustPipelineWork
	}
	if g.booster != nil {
		if boost, within := g.booster.Boost(res.Latitude, res.Longitude); within {
			adj["pipeline_proximity"] = boost
		}
	}

	for _, delta := range adj {
		res.Confidence += delta
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	if len(adj) > 0 {
		res.Adjustments = adj
	}
}

// noteVariants appends the matched canonical names to the reasoning when
// variant lookup changed them.
func noteVariants(t *model.Ticket, res *Result, streetMatch, interMatch string) {
	var notes []string
	if streetMatch != "" && streetMatch != roadnet.Normalize(t.Street) {
		notes = append(notes, fmt.Sprintf("%q matched as %s", t.Street, streetMatch))
	}
	if interMatch != "" && interMatch != roadnet.Normalize(t.Intersection) {
		notes = append(notes, fmt.Sprintf("%q matched as %s", t.Intersection, interMatch))
	}
	if len(notes) > 0 {
		res.Reasoning += " (" + strings.Join(notes, ", ") + ")"
	}
}
