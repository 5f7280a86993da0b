package geo

import "github.com/golang/geo/s2"

// EarthRadiusMeters is the mean Earth radius used for area estimates.
const EarthRadiusMeters = 6371000.0

// Region is the ordered vertex list produced by one drawing gesture. A marker
// gesture degenerates to a single point.
type Region []Point

// RepresentativePoint returns the point used to key external lookups: the
// first vertex. No centroid is computed.
func (r Region) RepresentativePoint() (Point, bool) {
	if len(r) == 0 {
		return Point{}, false
	}
	return r[0], true
}

// Clone returns a copy that does not share the backing array.
func (r Region) Clone() Region {
	if r == nil {
		return nil
	}
	out := make(Region, len(r))
	copy(out, r)
	return out
}

// Validate checks every vertex.
func (r Region) Validate() error {
	for _, p := range r {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AreaHectares estimates the enclosed area of the region on a spherical
// Earth. Regions with fewer than three vertices have no area.
func (r Region) AreaHectares() float64 {
	if len(r) < 3 {
		return 0
	}

	pts := make([]s2.Point, 0, len(r))
	for _, p := range r {
		pts = append(pts, p.s2Point())
	}

	loop := s2.LoopFromPoints(pts)
	loop.Normalize()

	return loop.Area() * EarthRadiusMeters * EarthRadiusMeters / 10000
}
