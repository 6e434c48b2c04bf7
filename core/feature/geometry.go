package feature

import (
	"github.com/google/go-cmp/cmp"
)

// Geometry is a GeoJSON geometry. Coordinates are kept in their decoded
// nested-array form so any geometry type round-trips unchanged.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates,omitempty"`
}

func NewPoint(lon, lat float64) *Geometry {
	return &Geometry{Type: "Point", Coordinates: []any{lon, lat}}
}

func NewLineString(coords ...[2]float64) *Geometry {
	points := make([]any, len(coords))
	for i, c := range coords {
		points[i] = []any{c[0], c[1]}
	}
	return &Geometry{Type: "LineString", Coordinates: points}
}

func (g *Geometry) Clone() *Geometry {
	if g == nil {
		return nil
	}
	return &Geometry{Type: g.Type, Coordinates: CloneValue(g.Coordinates)}
}

// Equal compares geometries by type and coordinate values, never by
// reference. Two nil geometries are equal.
func (g *Geometry) Equal(other *Geometry) bool {
	if g == nil || other == nil {
		return g == nil && other == nil
	}
	if g.Type != other.Type {
		return false
	}
	return cmp.Equal(Normalize(g.Coordinates), Normalize(other.Coordinates))
}
