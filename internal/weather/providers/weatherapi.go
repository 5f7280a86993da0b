package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/i474232898/farmmap/internal/geo"
	"github.com/i474232898/farmmap/internal/resilience"
	"github.com/i474232898/farmmap/internal/weather"
)

const weatherAPIDefaultURL = "https://api.weatherapi.com/v1"

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	caller  *resilience.Caller
}

func NewWeatherAPIProvider(opts Options) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  opts.APIKey,
		baseURL: opts.baseURL(weatherAPIDefaultURL),
		caller:  resilience.NewCaller("weatherapi", opts.Resilience),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, pt geo.Point) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, fmt.Errorf("weatherapi api key is not configured")
	}

	values := url.Values{}
	values.Set("key", p.apiKey)
	// WeatherAPI uses "q" for location; it accepts "lat,lon".
	values.Set("q", pt.Query())

	resp, err := p.caller.Do(ctx, resilience.NewGet(p.baseURL+"/current.json?"+values.Encode()))
	if err != nil {
		return weather.Reading{}, err
	}

	var payload struct {
		Location struct {
			LocaltimeEpoch int64 `json:"localtime_epoch"`
		} `json:"location"`
		Current *struct {
			LastUpdatedEpoch int64    `json:"last_updated_epoch"`
			TempC            *float64 `json:"temp_c"`
			Humidity         *float64 `json:"humidity"`
			WindKph          *float64 `json:"wind_kph"`
			Condition        struct {
				Text string `json:"text"`
			} `json:"condition"`
		} `json:"current"`
	}

	if err := decodeJSON(resp, &payload); err != nil {
		return weather.Reading{}, err
	}

	cur := payload.Current
	if cur == nil || cur.TempC == nil || cur.Humidity == nil || cur.WindKph == nil {
		return weather.Reading{}, fmt.Errorf("%w: missing current.temp_c, current.humidity or current.wind_kph", weather.ErrMalformedPayload)
	}

	epoch := cur.LastUpdatedEpoch
	if epoch == 0 {
		epoch = payload.Location.LocaltimeEpoch
	}
	ts := time.Now().UTC()
	if epoch > 0 {
		ts = time.Unix(epoch, 0).UTC()
	}

	return weather.Reading{
		TemperatureC: *cur.TempC,
		HumidityPct:  *cur.Humidity,
		WindKph:      *cur.WindKph,
		Condition:    mapWeatherAPICondition(cur.Condition.Text),
		Provider:     p.name,
		ObservedAt:   ts,
	}, nil
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case hasAny(text, "thunder", "storm"):
		return weather.ConditionStorm
	case hasAny(text, "snow", "sleet", "blizzard", "ice pellets"):
		return weather.ConditionSnow
	case hasAny(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case hasAny(text, "mist", "fog"):
		return weather.ConditionMist
	case hasAny(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case hasAny(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
