// Package lookup turns user-drawn regions into weather and soil readings and
// keeps the per-session view state those readings are displayed from.
package lookup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/farmmap/internal/geo"
	"github.com/i474232898/farmmap/internal/place"
	"github.com/i474232898/farmmap/internal/soil"
	"github.com/i474232898/farmmap/internal/weather"
)

// SoilSource returns a soil reading for a point. Implementations degrade
// failed properties to zero instead of returning an error.
type SoilSource interface {
	Fetch(ctx context.Context, p geo.Point) soil.Reading
}

// Config wires a Pipeline. Places is optional.
type Config struct {
	Weather weather.Provider
	Soil    SoilSource
	Places  place.Locator

	// Timeout bounds one lookup; zero leaves it to the HTTP client timeout.
	Timeout time.Duration
}

// Pipeline runs the external fetches for a representative point.
type Pipeline struct {
	weather weather.Provider
	soil    SoilSource
	places  place.Locator
	timeout time.Duration
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		weather: cfg.Weather,
		soil:    cfg.Soil,
		places:  cfg.Places,
		timeout: cfg.Timeout,
	}
}

// Result is the outcome of a one-shot lookup.
type Result struct {
	Point   geo.Point        `json:"point"`
	Weather *weather.Reading `json:"weather"`
	Soil    soil.Reading     `json:"soil"`
	Place   *place.Place     `json:"place,omitempty"`
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}

// FetchWeather returns the current conditions at pt, or nil when the lookup
// failed. Failures are logged and never returned.
func (p *Pipeline) FetchWeather(ctx context.Context, pt geo.Point) *weather.Reading {
	if p.weather == nil {
		return nil
	}

	r, err := p.weather.Fetch(ctx, pt)
	if err != nil {
		ev := log.Warn()
		if errors.Is(err, context.Canceled) {
			ev = log.Debug()
		}
		ev.Err(err).
			Str("provider", p.weather.Name()).
			Str("point", pt.Query()).
			Msg("Weather lookup failed")
		return nil
	}
	return &r
}

// FetchSoil returns the soil reading at pt.
func (p *Pipeline) FetchSoil(ctx context.Context, pt geo.Point) soil.Reading {
	if p.soil == nil {
		return soil.Reading{}
	}
	return p.soil.Fetch(ctx, pt)
}

// FetchPlace reverse-geocodes pt, or returns nil when no locator is
// configured or the lookup failed.
func (p *Pipeline) FetchPlace(ctx context.Context, pt geo.Point) *place.Place {
	if p.places == nil {
		return nil
	}

	pl, err := p.places.Reverse(ctx, pt)
	if err != nil {
		log.Debug().Err(err).Str("point", pt.Query()).Msg("Reverse geocoding failed")
		return nil
	}
	return &pl
}

// Resolve turns a city/country pair into a point using the configured locator.
func (p *Pipeline) Resolve(ctx context.Context, city, country string) (geo.Point, error) {
	if p.places == nil {
		return geo.Point{}, errors.New("geocoding is not configured")
	}
	return p.places.Forward(ctx, city, country)
}

// Lookup runs all fetches for pt concurrently and waits for them.
func (p *Pipeline) Lookup(ctx context.Context, pt geo.Point) Result {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res := Result{Point: pt}
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		res.Weather = p.FetchWeather(ctx, pt)
	}()
	go func() {
		defer wg.Done()
		res.Soil = p.FetchSoil(ctx, pt)
	}()
	go func() {
		defer wg.Done()
		res.Place = p.FetchPlace(ctx, pt)
	}()
	wg.Wait()

	return res
}
