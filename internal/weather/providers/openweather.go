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

const openWeatherDefaultURL = "https://api.openweathermap.org/data/2.5"

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	caller  *resilience.Caller
}

func NewOpenWeatherProvider(opts Options) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  opts.APIKey,
		baseURL: opts.baseURL(openWeatherDefaultURL),
		caller:  resilience.NewCaller("openweathermap", opts.Resilience),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, pt geo.Point) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, fmt.Errorf("openweather api key is not configured")
	}

	values := url.Values{}
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")
	values.Set("lat", strconv.FormatFloat(pt.Lat, 'f', -1, 64))
	values.Set("lon", strconv.FormatFloat(pt.Lng, 'f', -1, 64))

	resp, err := p.caller.Do(ctx, resilience.NewGet(p.baseURL+"/weather?"+values.Encode()))
	if err != nil {
		return weather.Reading{}, err
	}

	var payload struct {
		Dt   int64 `json:"dt"`
		Main *struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
	}

	if err := decodeJSON(resp, &payload); err != nil {
		return weather.Reading{}, err
	}

	if payload.Main == nil || payload.Main.Temp == nil || payload.Main.Humidity == nil {
		return weather.Reading{}, fmt.Errorf("%w: missing main.temp or main.humidity", weather.ErrMalformedPayload)
	}

	ts := time.Now().UTC()
	if payload.Dt > 0 {
		ts = time.Unix(payload.Dt, 0).UTC()
	}

	cond := weather.ConditionUnknown
	if len(payload.Weather) > 0 {
		cond = mapOpenWeatherCondition(payload.Weather[0].Main)
	}

	return weather.Reading{
		TemperatureC: *payload.Main.Temp,
		HumidityPct:  *payload.Main.Humidity,
		// metric units report wind in m/s.
		WindKph:    payload.Wind.Speed * 3.6,
		Condition:  cond,
		Provider:   p.name,
		ObservedAt: ts,
	}, nil
}

func mapOpenWeatherCondition(main string) weather.Condition {
	switch main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}
