package corridor

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// LoadGeometry dispatches on file extension: .kmz, .kml, .json/.geojson.
func LoadGeometry(path string) ([]*geom.LineString, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".kmz":
		return LoadKMZ(path)
	case ".kml":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "corridor: open kml %s", path)
		}
		defer func() { _ = f.Close() }()
		return ParseKML(f)
	case ".json", ".geojson":
		return LoadGeoJSON(path)
	default:
		return nil, eris.Errorf("corridor: unsupported geometry format %s", path)
	}
}

// LoadKMZ reads the KML document out of a KMZ archive. The first .kml entry
// wins; KMZ convention names it doc.kml.
func LoadKMZ(path string) ([]*geom.LineString, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, eris.Wrapf(err, "corridor: open kmz %s", path)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ".kml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, eris.Wrapf(err, "corridor: open kmz entry %s", f.Name)
		}
		lines, err := ParseKML(rc)
		_ = rc.Close()
		if err != nil {
			return nil, err
		}
		return lines, nil
	}
	return nil, eris.Errorf("corridor: no kml document in %s", path)
}

// kml document shape, reduced to the linework we care about
type kmlDocument struct {
	LineStrings []kmlLineString `xml:"Document>Placemark>LineString"`
	MultiGeoms  []struct {
		LineStrings []kmlLineString `xml:"LineString"`
	} `xml:"Document>Placemark>MultiGeometry"`
}

type kmlLineString struct {
	Coordinates string `xml:"coordinates"`
}

// ParseKML extracts every LineString from a KML document, including those
// nested in MultiGeometry placemarks.
func ParseKML(r io.Reader) ([]*geom.LineString, error) {
	var doc kmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "corridor: parse kml")
	}

	raw := doc.LineStrings
	for _, mg := range doc.MultiGeoms {
		raw = append(raw, mg.LineStrings...)
	}

	var lines []*geom.LineString
	for _, ls := range raw {
		line, err := parseKMLCoordinates(ls.Coordinates)
		if err != nil {
			return nil, err
		}
		if line != nil {
			lines = append(lines, line)
		}
	}

	zap.L().With(zap.String("component", "corridor")).Debug("parsed kml",
		zap.Int("linestrings", len(lines)))
	return lines, nil
}

// parseKMLCoordinates converts a KML coordinate block, whitespace-separated
// "lng,lat[,alt]" tuples, into a linestring. Altitude is dropped.
func parseKMLCoordinates(s string) (*geom.LineString, error) {
	var flat []float64
	for _, tuple := range strings.Fields(s) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, eris.Errorf("corridor: malformed kml coordinate %q", tuple)
		}
		lng, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "corridor: parse kml longitude %q", parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "corridor: parse kml latitude %q", parts[1])
		}
		flat = append(flat, lng, lat)
	}
	if len(flat) < 4 {
		return nil, nil
	}
	return geom.NewLineStringFlat(geom.XY, flat), nil
}

// LoadGeoJSON reads linework from a GeoJSON file. Accepts a FeatureCollection,
// a single Feature, or a bare geometry; LineString and MultiLineString
// geometries contribute, everything else is ignored.
func LoadGeoJSON(path string) ([]*geom.LineString, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "corridor: read geojson %s", path)
	}

	var fc geojson.FeatureCollection
	if err := fc.UnmarshalJSON(data); err == nil && len(fc.Features) > 0 {
		var lines []*geom.LineString
		for _, feat := range fc.Features {
			lines = append(lines, linework(feat.Geometry)...)
		}
		return lines, nil
	}

	var feat geojson.Feature
	if err := feat.UnmarshalJSON(data); err == nil && feat.Geometry != nil {
		return linework(feat.Geometry), nil
	}

	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrapf(err, "corridor: parse geojson %s", path)
	}
	return linework(g), nil
}

// linework flattens a geometry into its component linestrings.
func linework(g geom.T) []*geom.LineString {
	switch t := g.(type) {
	case *geom.LineString:
		return []*geom.LineString{t}
	case *geom.MultiLineString:
		lines := make([]*geom.LineString, 0, t.NumLineStrings())
		for i := 0; i < t.NumLineStrings(); i++ {
			lines = append(lines, t.LineString(i))
		}
		return lines
	default:
		return nil
	}
}
