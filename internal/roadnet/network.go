// Package roadnet holds the loaded road layer with normalized name lookup
// and the geometric queries the proximity geocoder needs.
package roadnet

import (
	"strings"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/ticket-geocoder/internal/geomutil"
)

// RoadClass tags a segment's road family.
type RoadClass string

const (
	ClassInterstate RoadClass = "Interstate"
	ClassUS         RoadClass = "US"
	ClassState      RoadClass = "State"
	ClassFM         RoadClass = "FM"
	ClassCR         RoadClass = "CR"
	ClassService    RoadClass = "Service"
	ClassOther      RoadClass = "Other"
)

// RoadSegment is one polyline of the road layer. Geometry is (lng, lat)
// vertex order, immutable after load.
type RoadSegment struct {
	Name     string
	RawName  string
	Class    RoadClass
	Geometry *geom.LineString
}

// ClassifyName derives the road class from a canonical name.
func ClassifyName(canonical string) RoadClass {
	switch {
	case strings.HasPrefix(canonical, "I ") || strings.HasPrefix(canonical, "IH "):
		return ClassInterstate
	case strings.HasPrefix(canonical, "US "):
		return ClassUS
	case strings.HasPrefix(canonical, "SH "):
		return ClassState
	case strings.HasPrefix(canonical, "FM "):
		return ClassFM
	case strings.HasPrefix(canonical, "CR "):
		return ClassCR
	case strings.Contains(canonical, "SVC") || strings.Contains(canonical, "SERVICE"):
		return ClassService
	default:
		return ClassOther
	}
}

// Network is the read-only spatially-queried road collection, keyed by
// canonical name.
type Network struct {
	segments map[string][]*RoadSegment
	count    int
}

// NewNetwork indexes segments by canonical name. Segment names are
// normalized during indexing, so raw shapefile names are fine.
func NewNetwork(segments []*RoadSegment) *Network {
	n := &Network{segments: map[string][]*RoadSegment{}}
	for _, seg := range segments {
		canonical := Normalize(seg.RawName)
		if canonical == "" {
			continue
		}
		seg.Name = canonical
		if seg.Class == "" {
			seg.Class = ClassifyName(canonical)
		}
		n.segments[canonical] = append(n.segments[canonical], seg)
		n.count++
	}
	zap.L().With(zap.String("component", "roadnet")).Debug("network indexed",
		zap.Int("segments", n.count), zap.Int("names", len(n.segments)))
	return n
}

// Size returns the number of indexed segments.
func (n *Network) Size() int { return n.count }

// Names returns the number of distinct canonical names.
func (n *Network) Names() int { return len(n.segments) }

// FindByName resolves a road name to its segments. The lookup normalizes
// the caller's name first; if the canonical form misses, it retries the
// prefix-family variants in deterministic order. matched reports the
// canonical name that hit.
func (n *Network) FindByName(name string) (segs []*RoadSegment, matched string, ok bool) {
	canonical := Normalize(name)
	if canonical == "" {
		return nil, "", false
	}
	if segs, ok := n.segments[canonical]; ok {
		return segs, canonical, true
	}
	for _, variant := range Variants(canonical) {
		if segs, ok := n.segments[variant]; ok {
			return segs, variant, true
		}
	}
	return nil, "", false
}

// Lines extracts the geometries of a segment set.
func Lines(segs []*RoadSegment) []*geom.LineString {
	lines := make([]*geom.LineString, 0, len(segs))
	for _, s := range segs {
		if s.Geometry != nil {
			lines = append(lines, s.Geometry)
		}
	}
	return lines
}

// Intersections returns every crossing point between two segment sets.
func Intersections(a, b []*RoadSegment) []geom.Coord {
	return geomutil.LineIntersections(Lines(a), Lines(b))
}

// ClosestPointPair returns the closest points between two segment sets and
// the distance in meters between them.
func ClosestPointPair(a, b []*RoadSegment) (pa, pb geom.Coord, distM float64, ok bool) {
	linesA, linesB := Lines(a), Lines(b)
	if len(linesA) == 0 || len(linesB) == 0 {
		return pa, pb, 0, false
	}
	best := -1.0
	for _, la := range linesA {
		for _, lb := range linesB {
			ca, cb, d := geomutil.ClosestPointPair(la, lb)
			if best < 0 || d < best {
				best = d
				pa, pb = ca, cb
			}
		}
	}
	return pa, pb, best, true
}

// NearestPoint snaps a point to the closest location on a segment set.
func NearestPoint(segs []*RoadSegment, lat, lng float64) (pt geom.Coord, distM float64, ok bool) {
	return geomutil.NearestPointOnLines(Lines(segs), lat, lng)
}
