package geomutil

import (
	"math"

	"github.com/twpayne/go-geom"
)

// nearestOnSegment returns the point on segment ab closest to p, working in
// the local plane anchored at p.
func nearestOnSegment(p, a, b geom.Coord) geom.Coord {
	proj := newProjection(p)
	ax, ay := proj.toPlane(a)
	bx, by := proj.toPlane(b)

	dx, dy := bx-ax, by-ay
	segLenSq := dx*dx + dy*dy
	if segLenSq == 0 {
		return a
	}
	// p projects to the origin in its own projection
	t := (-ax*dx - ay*dy) / segLenSq
	t = math.Max(0, math.Min(1, t))
	return proj.toGeo(ax+t*dx, ay+t*dy)
}

// NearestPointOnLine returns the point on the line closest to (lat, lng)
// and the distance to it in meters.
func NearestPointOnLine(line *geom.LineString, lat, lng float64) (geom.Coord, float64) {
	p := geom.Coord{lng, lat}
	coords := line.Coords()

	best := coords[0]
	bestDist := math.Inf(1)
	for i := 0; i+1 < len(coords); i++ {
		cand := nearestOnSegment(p, coords[i], coords[i+1])
		d := Haversine(lat, lng, cand[1], cand[0])
		if d < bestDist {
			bestDist = d
			best = cand
		}
	}
	if len(coords) == 1 {
		bestDist = Haversine(lat, lng, coords[0][1], coords[0][0])
	}
	return best, bestDist
}

// NearestPointOnLines returns the closest point across a collection of
// lines and its distance in meters. ok is false for an empty collection.
func NearestPointOnLines(lines []*geom.LineString, lat, lng float64) (pt geom.Coord, distM float64, ok bool) {
	distM = math.Inf(1)
	for _, line := range lines {
		if line.NumCoords() == 0 {
			continue
		}
		cand, d := NearestPointOnLine(line, lat, lng)
		if d < distM {
			distM = d
			pt = cand
			ok = true
		}
	}
	return pt, distM, ok
}

// ClosestPointPair returns the closest pair of points between two lines and
// the distance between them in meters.
func ClosestPointPair(a, b *geom.LineString) (pa, pb geom.Coord, distM float64) {
	distM = math.Inf(1)
	aCoords := a.Coords()
	bCoords := b.Coords()

	// candidate pairs: each vertex of one line against every segment of
	// the other; sufficient because the minimum between two polylines is
	// attained at a vertex of one of them when they do not cross.
	for _, v := range aCoords {
		cand, _ := NearestPointOnLine(b, v[1], v[0])
		d := Haversine(v[1], v[0], cand[1], cand[0])
		if d < distM {
			distM = d
			pa, pb = v, cand
		}
	}
	for _, v := range bCoords {
		cand, _ := NearestPointOnLine(a, v[1], v[0])
		d := Haversine(v[1], v[0], cand[1], cand[0])
		if d < distM {
			distM = d
			pa, pb = cand, v
		}
	}
	return pa, pb, distM
}
