// Package corridor enriches geocode results against linear reference
// geometries: the route corridor the tickets should fall inside, and the
// pipeline alignment that earns nearby tickets a confidence boost.
package corridor

import (
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/ticket-geocoder/internal/geomutil"
)

// DefaultBufferM is the corridor half-width when none is configured.
const DefaultBufferM = 500.0

// RouteCorridorValidator answers whether a point falls within the buffered
// route corridor. The route geometry is read-only after construction.
type RouteCorridorValidator struct {
	lines   []*geom.LineString
	bufferM float64
	log     *zap.Logger
}

// NewRouteCorridorValidator wraps a route geometry with a buffer. A
// non-positive bufferM falls back to DefaultBufferM.
func NewRouteCorridorValidator(lines []*geom.LineString, bufferM float64) *RouteCorridorValidator {
	if bufferM <= 0 {
		bufferM = DefaultBufferM
	}
	return &RouteCorridorValidator{
		lines:   lines,
		bufferM: bufferM,
		log:     zap.L().With(zap.String("component", "corridor")),
	}
}

// BufferM returns the configured corridor half-width in meters.
func (v *RouteCorridorValidator) BufferM() float64 { return v.bufferM }

// Check reports whether the point lies within the corridor buffer and its
// distance to the route centerline in meters. With no route geometry loaded
// every point is within at distance zero.
func (v *RouteCorridorValidator) Check(lat, lng float64) (within bool, distanceM float64) {
	if len(v.lines) == 0 {
		return true, 0
	}
	_, distM, ok := geomutil.NearestPointOnLines(v.lines, lat, lng)
	if !ok {
		return true, 0
	}
	return distM <= v.bufferM, distM
}
