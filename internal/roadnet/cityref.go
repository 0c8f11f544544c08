package roadnet

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// CityRef maps (city, county) pairs to a reference point. Lookup is case
// and whitespace insensitive.
type CityRef struct {
	points map[[2]string][2]float64
}

// defaultCityPoints covers the West Texas service area.
var defaultCityPoints = map[[2]string][2]float64{
	{"KERMIT", "WINKLER"}:      {31.8576, -103.0930},
	{"PYOTE", "WARD"}:          {31.5401, -103.1293},
	{"BARSTOW", "WARD"}:        {31.4596, -103.3954},
	{"MONAHANS", "WARD"}:       {31.5943, -102.8929},
	{"ANDREWS", "ANDREWS"}:     {32.3185, -102.5457},
	{"GARDENDALE", "ANDREWS"}:  {32.0165, -102.3779},
	{"COYANOSA", "WARD"}:       {31.2693, -103.0324},
	{"WICKETT", "WARD"}:        {31.5768, -103.0010},
	{"THORNTONVILLE", "WARD"}:  {31.4446, -103.1079},
}

// NewCityRef returns the built-in reference map.
func NewCityRef() *CityRef {
	points := make(map[[2]string][2]float64, len(defaultCityPoints))
	for k, v := range defaultCityPoints {
		points[k] = v
	}
	return &CityRef{points: points}
}

// cityRefFile is the yaml override shape: a list of city entries.
type cityRefFile struct {
	Cities []struct {
		City      string  `yaml:"city"`
		County    string  `yaml:"county"`
		Latitude  float64 `yaml:"latitude"`
		Longitude float64 `yaml:"longitude"`
	} `yaml:"cities"`
}

// LoadCityRef merges a yaml override file over the built-in defaults.
func LoadCityRef(path string) (*CityRef, error) {
	ref := NewCityRef()
	if path == "" {
		return ref, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "roadnet: read city reference %s", path)
	}
	var file cityRefFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "roadnet: parse city reference %s", path)
	}
	for _, c := range file.Cities {
		ref.Add(c.City, c.County, c.Latitude, c.Longitude)
	}
	return ref, nil
}

func cityKey(city, county string) [2]string {
	return [2]string{
		strings.ToUpper(strings.TrimSpace(city)),
		strings.ToUpper(strings.TrimSpace(county)),
	}
}

// Add registers or overrides a reference point.
func (r *CityRef) Add(city, county string, lat, lng float64) {
	r.points[cityKey(city, county)] = [2]float64{lat, lng}
}

// Lookup resolves a (city, county) pair.
func (r *CityRef) Lookup(city, county string) (lat, lng float64, ok bool) {
	pt, ok := r.points[cityKey(city, county)]
	if !ok {
		return 0, 0, false
	}
	return pt[0], pt[1], true
}

// Size returns the number of reference points.
func (r *CityRef) Size() int { return len(r.points) }
