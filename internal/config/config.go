// Package config loads service settings from .env, environment variables,
// command-line flags and an optional YAML map file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/farmmap/internal/geo"
	"github.com/i474232898/farmmap/internal/logger"
	"github.com/i474232898/farmmap/internal/lookup"
	"github.com/i474232898/farmmap/internal/soil"
)

// Options are the command-line flags; each can also be set from the environment.
type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config" env:"CONFIG_FILE" description:"Path to optional YAML map configuration"`
	Port       string `short:"p" long:"port"   env:"PORT"        description:"Port to listen on" default:"8080"`

	WeatherAPIKey     string `long:"weatherapi-key"  env:"WEATHERAPI_API_KEY"  description:"WeatherAPI.com key"`
	OpenWeatherAPIKey string `long:"openweather-key" env:"OPENWEATHER_API_KEY" description:"OpenWeatherMap key"`
	DisableOpenMeteo  bool   `long:"no-openmeteo"    env:"DISABLE_OPENMETEO"   description:"Do not fall back to Open-Meteo"`
	GeocoderAPIKey    string `long:"geocoder-key"    env:"GEOCODER_API_KEY"    description:"Google geocoding key for place labels"`

	WeatherBaseURL string `long:"weatherapi-url" env:"WEATHERAPI_BASE_URL" description:"Override WeatherAPI.com base URL"`
	SoilBaseURL    string `long:"soil-url"       env:"SOIL_BASE_URL"       description:"Override SoilGrids query URL"`
	SoilDepth      string `long:"soil-depth"     env:"SOIL_DEPTH"          description:"SoilGrids depth band" default:"0-5cm"`

	OverlayPath string `long:"overlay" env:"OVERLAY_PATH" description:"GeoJSON overlay dataset" default:"farm.geojson"`

	HTTPTimeout   time.Duration `long:"http-timeout"   env:"HTTP_TIMEOUT"         description:"Outbound HTTP client timeout" default:"10s"`
	LookupTimeout time.Duration `long:"lookup-timeout" env:"LOOKUP_TIMEOUT"       description:"Upper bound for one region lookup (0 = none)" default:"30s"`
	MaxRetries    int           `long:"max-retries"    env:"UPSTREAM_MAX_RETRIES" description:"Retries per upstream request" default:"0"`

	RefreshInterval time.Duration `long:"refresh-interval" env:"REFRESH_INTERVAL" description:"Re-fetch readings for active regions (0 = off)" default:"15m"`
	SessionMaxIdle  time.Duration `long:"session-max-idle" env:"SESSION_MAX_IDLE" description:"Evict sessions idle this long (0 = never)" default:"1h"`
	MaxSessions     int           `long:"max-sessions"     env:"MAX_SESSIONS"     description:"Max live sessions (0 = unlimited)" default:"1000"`
}

// File is the optional YAML configuration. Its soil.depth only applies when
// --soil-depth / SOIL_DEPTH left the depth at its default.
type File struct {
	Map struct {
		Center *geo.Point                            `yaml:"center"`
		Zoom   int                                   `yaml:"zoom"`
		Tiles  map[lookup.TileStyle]lookup.TileSource `yaml:"tiles"`
	} `yaml:"map"`
	Soil struct {
		Depth string `yaml:"depth"`
	} `yaml:"soil"`
}

// AppConfig is the resolved configuration.
type AppConfig struct {
	Options
	Map lookup.MapSettings
}

// Load reads configuration from .env, the environment and args with
// sensible defaults.
func Load(args []string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	cfg := &AppConfig{Options: opts, Map: lookup.DefaultMapSettings()}

	if opts.ConfigFile != "" {
		if err := cfg.applyFile(opts.ConfigFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (o Options) validate() error {
	if o.HTTPTimeout <= 0 {
		return fmt.Errorf("invalid HTTP_TIMEOUT: must be positive")
	}
	if o.LookupTimeout < 0 || o.RefreshInterval < 0 || o.SessionMaxIdle < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("invalid UPSTREAM_MAX_RETRIES: %d", o.MaxRetries)
	}
	return nil
}

func (c *AppConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if f.Map.Center != nil {
		if err := f.Map.Center.Validate(); err != nil {
			return fmt.Errorf("config map.center: %w", err)
		}
		c.Map.Center = *f.Map.Center
	}
	if f.Map.Zoom > 0 {
		c.Map.Zoom = f.Map.Zoom
	}
	for style, src := range f.Map.Tiles {
		if style != lookup.TileDefault && style != lookup.TileTerrain {
			return fmt.Errorf("config map.tiles: unknown style %q", style)
		}
		c.Map.Tiles[style] = src
	}
	if f.Soil.Depth != "" && c.SoilDepth == soil.DefaultDepth {
		c.SoilDepth = f.Soil.Depth
	}

	return nil
}
