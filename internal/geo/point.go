// Package geo holds the coordinate types used by region lookups together with
// GeoJSON decoding for drawn shapes and the static overlay dataset.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// ErrInvalidPoint is returned when a coordinate falls outside WGS84 bounds.
var ErrInvalidPoint = errors.New("coordinates out of range")

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Validate reports whether the point lies within latitude [-90,90] and
// longitude [-180,180].
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) ||
		p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidPoint, p.Lat, p.Lng)
	}
	return nil
}

// String formats the point the way the info panel shows it.
func (p Point) String() string {
	return fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lng)
}

// Query formats the point as a "lat,lng" query value.
func (p Point) Query() string {
	return fmt.Sprintf("%g,%g", p.Lat, p.Lng)
}

func (p Point) s2Point() s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lng))
}
