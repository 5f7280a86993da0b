package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Geometry types accepted from the drawing surface.
const (
	GeometryPoint   = "Point"
	GeometryPolygon = "Polygon"
)

// ErrUnsupportedGeometry is returned for geometry types other than Point and Polygon.
var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

// Geometry is a GeoJSON geometry whose coordinates are decoded lazily, since
// their nesting depends on Type. Positions are [lng, lat].
type Geometry struct {
	Type        string          `json:"type" validate:"required"`
	Coordinates json.RawMessage `json:"coordinates" validate:"required"`
}

// Vertices flattens the geometry into an ordered point list. Polygon rings are
// concatenated in order and the closing vertex of each ring is dropped, so a
// drawn rectangle yields its four corners.
func (g Geometry) Vertices() (Region, error) {
	switch g.Type {
	case GeometryPoint:
		var pos []float64
		if err := json.Unmarshal(g.Coordinates, &pos); err != nil {
			return nil, fmt.Errorf("decode point coordinates: %w", err)
		}
		p, err := positionToPoint(pos)
		if err != nil {
			return nil, err
		}
		return Region{p}, nil

	case GeometryPolygon:
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("decode polygon coordinates: %w", err)
		}
		var out Region
		for _, ring := range rings {
			if n := len(ring); n > 1 && samePosition(ring[0], ring[n-1]) {
				ring = ring[:n-1]
			}
			for _, pos := range ring {
				p, err := positionToPoint(pos)
				if err != nil {
					return nil, err
				}
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil, errors.New("polygon has no vertices")
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGeometry, g.Type)
	}
}

// PointGeometry builds a GeoJSON Point for p.
func PointGeometry(p Point) Geometry {
	raw, _ := json.Marshal([]float64{p.Lng, p.Lat})
	return Geometry{Type: GeometryPoint, Coordinates: raw}
}

// PolygonGeometry builds a single-ring GeoJSON Polygon, closing the ring.
func PolygonGeometry(r Region) Geometry {
	ring := make([][]float64, 0, len(r)+1)
	for _, p := range r {
		ring = append(ring, []float64{p.Lng, p.Lat})
	}
	if len(r) > 0 {
		ring = append(ring, []float64{r[0].Lng, r[0].Lat})
	}
	raw, _ := json.Marshal([][][]float64{ring})
	return Geometry{Type: GeometryPolygon, Coordinates: raw}
}

func positionToPoint(pos []float64) (Point, error) {
	if len(pos) < 2 {
		return Point{}, fmt.Errorf("position needs at least 2 values, got %d", len(pos))
	}
	p := Point{Lat: pos[1], Lng: pos[0]}
	if err := p.Validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}

func samePosition(a, b []float64) bool {
	return len(a) >= 2 && len(b) >= 2 && a[0] == b[0] && a[1] == b[1]
}

// FeatureCollection represents a collection of geographic features.
// It follows the standard GeoJSON structure.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature represents a single geographic feature with geometry and properties.
type Feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   Geometry       `json:"geometry"`
}

// LoadFeatureCollection reads a GeoJSON FeatureCollection from disk.
func LoadFeatureCollection(path string) (*FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("parse %s: expected FeatureCollection, got %q", path, fc.Type)
	}

	return &fc, nil
}
