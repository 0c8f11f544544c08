package roadnet

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// candidate attribute names for the road name column, checked in order
var nameFields = []string{"fullname", "full_name", "name", "road_name", "street"}

// LoadShapefile reads a road-layer shapefile into a Network. Polyline
// parts become individual segments sharing the record's name.
func LoadShapefile(path string) (*Network, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "roadnet: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	nameIdx := -1
	for _, cand := range nameFields {
		if idx, ok := fieldIdx[cand]; ok {
			nameIdx = idx
			break
		}
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("roadnet: no road name field in %s", path)
	}

	var segments []*RoadSegment
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		rawName := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		if rawName == "" {
			skipped++
			continue
		}

		pl, ok := shape.(*shp.PolyLine)
		if !ok || pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
			skipped++
			continue
		}

		for _, line := range polyLineParts(pl) {
			segments = append(segments, &RoadSegment{RawName: rawName, Geometry: line})
		}
	}

	if skipped > 0 {
		zap.L().Debug("roadnet: skipped shapefile records",
			zap.String("path", path), zap.Int("skipped", skipped))
	}

	return NewNetwork(segments), nil
}

// polyLineParts splits a shapefile PolyLine into per-part linestrings.
func polyLineParts(pl *shp.PolyLine) []*geom.LineString {
	var lines []*geom.LineString
	for i := int32(0); i < pl.NumParts; i++ {
		start := pl.Parts[i]
		var end int32
		if i+1 < pl.NumParts {
			end = pl.Parts[i+1]
		} else {
			end = int32(len(pl.Points))
		}
		if end-start < 2 {
			continue
		}
		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, pl.Points[j].X, pl.Points[j].Y)
		}
		lines = append(lines, geom.NewLineStringFlat(geom.XY, flat))
	}
	return lines
}
