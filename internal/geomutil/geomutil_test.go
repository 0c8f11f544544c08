package geomutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func line(t *testing.T, coords ...geom.Coord) *geom.LineString {
	t.Helper()
	ls := geom.NewLineString(geom.XY)
	_, err := ls.SetCoords(coords)
	require.NoError(t, err)
	return ls
}

func TestHaversine(t *testing.T) {
	// Midland to Odessa, roughly 32km.
	d := Haversine(31.9973, -102.0779, 31.8457, -102.3676)
	assert.InDelta(t, 32000, d, 5000)

	assert.Equal(t, 0.0, Haversine(31.9973, -102.0779, 31.9973, -102.0779))
}

func TestHaversineSmallDistance(t *testing.T) {
	// One thousandth of a degree of latitude is about 111m.
	d := Haversine(31.9973, -102.0779, 31.9983, -102.0779)
	assert.InDelta(t, 111, d, 2)
}

func TestMidpoint(t *testing.T) {
	m := Midpoint(geom.Coord{-102.0, 31.0}, geom.Coord{-102.2, 31.4})
	assert.InDelta(t, -102.1, m[0], 1e-9)
	assert.InDelta(t, 31.2, m[1], 1e-9)
}

func TestNearestPointOnLine(t *testing.T) {
	l := line(t, geom.Coord{-102.1, 32.0}, geom.Coord{-102.0, 32.0})

	// Point directly above the middle of the segment.
	pt, d := NearestPointOnLine(l, 32.01, -102.05)
	assert.InDelta(t, -102.05, pt[0], 1e-4)
	assert.InDelta(t, 32.0, pt[1], 1e-4)
	assert.InDelta(t, 1113, d, 20)
}

func TestNearestPointOnLineClampsToEndpoint(t *testing.T) {
	l := line(t, geom.Coord{-102.1, 32.0}, geom.Coord{-102.0, 32.0})

	pt, _ := NearestPointOnLine(l, 32.0, -101.9)
	assert.InDelta(t, -102.0, pt[0], 1e-6)
	assert.InDelta(t, 32.0, pt[1], 1e-6)
}

func TestNearestPointOnLines(t *testing.T) {
	far := line(t, geom.Coord{-103.0, 33.0}, geom.Coord{-103.1, 33.0})
	near := line(t, geom.Coord{-102.1, 32.0}, geom.Coord{-102.0, 32.0})

	pt, d, ok := NearestPointOnLines([]*geom.LineString{far, near}, 32.0, -102.05)
	require.True(t, ok)
	assert.InDelta(t, 0, d, 1)
	assert.InDelta(t, -102.05, pt[0], 1e-4)

	_, _, ok = NearestPointOnLines(nil, 32.0, -102.05)
	assert.False(t, ok)
}

func TestClosestPointPair(t *testing.T) {
	a := line(t, geom.Coord{-102.1, 32.0}, geom.Coord{-102.0, 32.0})
	b := line(t, geom.Coord{-102.1, 32.01}, geom.Coord{-102.0, 32.01})

	pa, pb, d := ClosestPointPair(a, b)
	assert.InDelta(t, 1113, d, 20)
	assert.InDelta(t, 32.0, pa[1], 1e-6)
	assert.InDelta(t, 32.01, pb[1], 1e-6)
}

func TestIntersections(t *testing.T) {
	ns := line(t, geom.Coord{-102.05, 31.9}, geom.Coord{-102.05, 32.1})
	ew := line(t, geom.Coord{-102.1, 32.0}, geom.Coord{-102.0, 32.0})

	points := Intersections(ns, ew)
	require.Len(t, points, 1)
	assert.InDelta(t, -102.05, points[0][0], 1e-9)
	assert.InDelta(t, 32.0, points[0][1], 1e-9)
}

func TestIntersectionsParallel(t *testing.T) {
	a := line(t, geom.Coord{-102.1, 32.0}, geom.Coord{-102.0, 32.0})
	b := line(t, geom.Coord{-102.1, 32.01}, geom.Coord{-102.0, 32.01})
	assert.Empty(t, Intersections(a, b))
}

func TestIntersectionsDisjointSegments(t *testing.T) {
	a := line(t, geom.Coord{-102.1, 32.0}, geom.Coord{-102.09, 32.0})
	b := line(t, geom.Coord{-102.05, 31.9}, geom.Coord{-102.05, 31.95})
	assert.Empty(t, Intersections(a, b))
}

func TestLineIntersections(t *testing.T) {
	ns := line(t, geom.Coord{-102.05, 31.9}, geom.Coord{-102.05, 32.1})
	ew1 := line(t, geom.Coord{-102.1, 32.0}, geom.Coord{-102.0, 32.0})
	ew2 := line(t, geom.Coord{-102.1, 32.05}, geom.Coord{-102.0, 32.05})

	points := LineIntersections([]*geom.LineString{ns}, []*geom.LineString{ew1, ew2})
	assert.Len(t, points, 2)
}
