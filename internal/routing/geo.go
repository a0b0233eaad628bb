package routing

import (
	_ "embed"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// EarthRadiusMiles is the mean Earth radius used for great-circle distances.
const EarthRadiusMiles = 3958.8

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64
	Lng float64
}

// Haversine returns the great-circle distance between a and b in miles.
func Haversine(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMiles * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// CentroidTable resolves a ZIP to its centroid.
type CentroidTable interface {
	Lookup(zip string) (Coordinate, bool)
}

// StaticCentroids is an in-memory ZIP centroid table.
type StaticCentroids map[string]Coordinate

// Lookup implements CentroidTable. ZIP+4 values resolve through their 5-digit base.
func (t StaticCentroids) Lookup(zip string) (Coordinate, bool) {
	c, ok := t[zip5(zip)]
	return c, ok
}

//go:embed centroids.yaml
var centroidsYAML []byte

// LoadCentroids parses a YAML document mapping ZIP to [lat, lng].
func LoadCentroids(data []byte) (StaticCentroids, error) {
	var raw map[string][]float64
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse centroid table: %w", err)
	}

	table := make(StaticCentroids, len(raw))
	for zip, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("centroid for %s: expected [lat, lng], got %v", zip, pair)
		}
		table[zip] = Coordinate{Lat: pair[0], Lng: pair[1]}
	}
	return table, nil
}

// DefaultCentroids returns the table embedded in the binary.
func DefaultCentroids() (StaticCentroids, error) {
	return LoadCentroids(centroidsYAML)
}
