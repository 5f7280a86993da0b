// Package place resolves human-readable place names for coordinates and
// coordinates for city/country pairs using the Google geocoding API.
package place

import (
	"context"
	"errors"
	"strings"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/farmmap/internal/geo"
)

// ErrNotFound is returned when the geocoder has no result.
var ErrNotFound = errors.New("no geocoding result")

// Place is a reverse-geocoded description of a point.
type Place struct {
	Label   string `json:"label"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// Locator resolves places.
type Locator interface {
	Reverse(ctx context.Context, p geo.Point) (Place, error)
	Forward(ctx context.Context, city, country string) (geo.Point, error)
}

// GoogleLocator implements Locator with kelvins/geocoder.
type GoogleLocator struct {
	reverse func(geocoder.Location) ([]geocoder.Address, error)
	forward func(geocoder.Address) (geocoder.Location, error)
}

// NewGoogleLocator configures the geocoder package with apiKey. The key is
// process-wide in the underlying library.
func NewGoogleLocator(apiKey string) *GoogleLocator {
	geocoder.ApiKey = apiKey
	return &GoogleLocator{
		reverse: geocoder.GeocodingReverse,
		forward: geocoder.Geocoding,
	}
}

// Reverse returns the first address the geocoder reports for p.
func (l *GoogleLocator) Reverse(ctx context.Context, p geo.Point) (Place, error) {
	addrs, err := await(ctx, func() ([]geocoder.Address, error) {
		return l.reverse(geocoder.Location{Latitude: p.Lat, Longitude: p.Lng})
	})
	if err != nil {
		return Place{}, err
	}
	if len(addrs) == 0 {
		return Place{}, ErrNotFound
	}

	a := addrs[0]
	label := a.FormattedAddress
	if label == "" {
		label = joinNonEmpty(", ", a.City, a.State, a.Country)
	}

	return Place{
		Label:   label,
		City:    a.City,
		State:   a.State,
		Country: a.Country,
	}, nil
}

// Forward resolves a city/country pair to a point.
func (l *GoogleLocator) Forward(ctx context.Context, city, country string) (geo.Point, error) {
	loc, err := await(ctx, func() (geocoder.Location, error) {
		return l.forward(geocoder.Address{City: city, Country: country})
	})
	if err != nil {
		return geo.Point{}, err
	}
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return geo.Point{}, ErrNotFound
	}

	p := geo.Point{Lat: loc.Latitude, Lng: loc.Longitude}
	return p, p.Validate()
}

// await runs fn, which cannot be cancelled, and stops waiting when ctx ends.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
