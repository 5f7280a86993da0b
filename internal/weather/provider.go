package weather

import (
	"context"

	"github.com/i474232898/farmmap/internal/geo"
)

// Provider abstracts a weather data source (e.g. WeatherAPI, Open-Meteo, OpenWeatherMap).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, p geo.Point) (Reading, error)
}
