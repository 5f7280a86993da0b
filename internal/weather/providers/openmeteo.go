package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/farmmap/internal/geo"
	"github.com/i474232898/farmmap/internal/resilience"
	"github.com/i474232898/farmmap/internal/weather"
)

const openMeteoDefaultURL = "https://api.open-meteo.com/v1"

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
// It needs no API key.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	caller  *resilience.Caller
}

func NewOpenMeteoProvider(opts Options) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: opts.baseURL(openMeteoDefaultURL),
		caller:  resilience.NewCaller("openmeteo", opts.Resilience),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, pt geo.Point) (weather.Reading, error) {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(pt.Lat, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(pt.Lng, 'f', -1, 64))
	values.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code")
	values.Set("wind_speed_unit", "kmh")

	resp, err := p.caller.Do(ctx, resilience.NewGet(p.baseURL+"/forecast?"+values.Encode()))
	if err != nil {
		return weather.Reading{}, err
	}

	var payload struct {
		Current *struct {
			Time        string   `json:"time"`
			Temperature *float64 `json:"temperature_2m"`
			Humidity    *float64 `json:"relative_humidity_2m"`
			WindSpeed   *float64 `json:"wind_speed_10m"`
			WeatherCode int      `json:"weather_code"`
		} `json:"current"`
	}

	if err := decodeJSON(resp, &payload); err != nil {
		return weather.Reading{}, err
	}

	cur := payload.Current
	if cur == nil || cur.Temperature == nil || cur.Humidity == nil || cur.WindSpeed == nil {
		return weather.Reading{}, fmt.Errorf("%w: missing current conditions", weather.ErrMalformedPayload)
	}

	// Open-Meteo reports GMT times without a zone suffix.
	ts, err := time.Parse("2006-01-02T15:04", cur.Time)
	if err != nil {
		ts = time.Now()
	}

	return weather.Reading{
		TemperatureC: *cur.Temperature,
		HumidityPct:  *cur.Humidity,
		WindKph:      *cur.WindSpeed,
		Condition:    mapOpenMeteoCondition(cur.WeatherCode),
		Provider:     p.name,
		ObservedAt:   ts.UTC(),
	}, nil
}

func mapOpenMeteoCondition(code int) weather.Condition {
	// WMO weather interpretation codes (simplified).
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}
