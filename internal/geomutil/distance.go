// Package geomutil provides the planar and geodesic math shared by the road
// network, proximity geocoder, and corridor enrichers. All geometries use
// go-geom XY layout with x = longitude, y = latitude.
package geomutil

import (
	"math"

	"github.com/twpayne/go-geom"
)

const earthRadiusM = 6371000.0

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// Midpoint returns the coordinate midway between two points. Adequate for
// the sub-kilometer spans this pipeline works with.
func Midpoint(a, b geom.Coord) geom.Coord {
	return geom.Coord{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
}

// projection is a local equirectangular projection around a reference
// point, giving planar meters for small-extent geometry work.
type projection struct {
	lat0, lng0 float64
	mPerDegLat float64
	mPerDegLng float64
}

func newProjection(ref geom.Coord) projection {
	lat0 := ref[1]
	return projection{
		lat0:       lat0,
		lng0:       ref[0],
		mPerDegLat: earthRadiusM * math.Pi / 180,
		mPerDegLng: earthRadiusM * math.Pi / 180 * math.Cos(lat0*math.Pi/180),
	}
}

func (p projection) toPlane(c geom.Coord) (x, y float64) {
	return (c[0] - p.lng0) * p.mPerDegLng, (c[1] - p.lat0) * p.mPerDegLat
}

func (p projection) toGeo(x, y float64) geom.Coord {
	return geom.Coord{p.lng0 + x/p.mPerDegLng, p.lat0 + y/p.mPerDegLat}
}
