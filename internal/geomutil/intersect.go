package geomutil

import "github.com/twpayne/go-geom"

// segmentIntersection returns the crossing point of segments p1p2 and p3p4,
// if any. Degree-space cross products are fine here since only existence
// and the crossing parameter matter.
func segmentIntersection(p1, p2, p3, p4 geom.Coord) (geom.Coord, bool) {
	d1x, d1y := p2[0]-p1[0], p2[1]-p1[1]
	d2x, d2y := p4[0]-p3[0], p4[1]-p3[1]

	denom := d1x*d2y - d1y*d2x
	if denom == 0 {
		return geom.Coord{}, false
	}

	t := ((p3[0]-p1[0])*d2y - (p3[1]-p1[1])*d2x) / denom
	u := ((p3[0]-p1[0])*d1y - (p3[1]-p1[1])*d1x) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return geom.Coord{}, false
	}
	return geom.Coord{p1[0] + t*d1x, p1[1] + t*d1y}, true
}

// Intersections returns every crossing point between two polylines.
func Intersections(a, b *geom.LineString) []geom.Coord {
	var points []geom.Coord
	aCoords := a.Coords()
	bCoords := b.Coords()

	for i := 0; i+1 < len(aCoords); i++ {
		for j := 0; j+1 < len(bCoords); j++ {
			if pt, ok := segmentIntersection(aCoords[i], aCoords[i+1], bCoords[j], bCoords[j+1]); ok {
				points = append(points, pt)
			}
		}
	}
	return points
}

// LineIntersections returns crossings between two collections of polylines.
func LineIntersections(as, bs []*geom.LineString) []geom.Coord {
	var points []geom.Coord
	for _, a := range as {
		for _, b := range bs {
			points = append(points, Intersections(a, b)...)
		}
	}
	return points
}
