package weather

import (
	"errors"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// ErrMalformedPayload is returned by providers when the current-conditions
// payload is missing required fields.
var ErrMalformedPayload = errors.New("malformed weather payload")

// Reading is the current-conditions view for the representative point of a
// region. Wind speed is always in kilometres per hour.
type Reading struct {
	TemperatureC float64   `json:"temperatureC"`
	HumidityPct  float64   `json:"humidityPercent"`
	WindKph      float64   `json:"windKph"`
	Condition    Condition `json:"condition"`
	Provider     string    `json:"provider"`
	ObservedAt   time.Time `json:"observedAt"` // always UTC
}
