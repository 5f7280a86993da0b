package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"

	httpapi "github.com/i474232898/farmmap/internal/api/http"
	"github.com/i474232898/farmmap/internal/config"
	"github.com/i474232898/farmmap/internal/geo"
	"github.com/i474232898/farmmap/internal/lookup"
	"github.com/i474232898/farmmap/internal/place"
	"github.com/i474232898/farmmap/internal/resilience"
	"github.com/i474232898/farmmap/internal/scheduler"
	"github.com/i474232898/farmmap/internal/soil"
	"github.com/i474232898/farmmap/internal/store"
	"github.com/i474232898/farmmap/internal/weather"
	"github.com/i474232898/farmmap/internal/weather/providers"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	cfg.Logger.Setup()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	upstream := resilience.Config{
		Client: httpClient,
		Backoff: resilience.BackoffConfig{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
	}

	// Weather providers in order of preference.
	var provs []weather.Provider
	if cfg.WeatherAPIKey != "" {
		provs = append(provs, providers.NewWeatherAPIProvider(providers.Options{
			APIKey:     cfg.WeatherAPIKey,
			BaseURL:    cfg.WeatherBaseURL,
			Resilience: upstream,
		}))
	}
	if !cfg.DisableOpenMeteo {
		provs = append(provs, providers.NewOpenMeteoProvider(providers.Options{Resilience: upstream}))
	}
	if cfg.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider(providers.Options{
			APIKey:     cfg.OpenWeatherAPIKey,
			Resilience: upstream,
		}))
	}
	chain := weather.NewChain(provs...)
	if chain.Len() == 0 {
		log.Warn().Msg("No weather providers configured; weather readings will stay empty")
	}

	soilClient := soil.NewClient(soil.Options{
		BaseURL:    cfg.SoilBaseURL,
		Depth:      cfg.SoilDepth,
		Resilience: upstream,
	})

	var places place.Locator
	if cfg.GeocoderAPIKey != "" {
		places = place.NewGoogleLocator(cfg.GeocoderAPIKey)
	}

	pipeline := lookup.NewPipeline(lookup.Config{
		Weather: chain,
		Soil:    soilClient,
		Places:  places,
		Timeout: cfg.LookupTimeout,
	})

	// Overlay dataset is loaded once; a missing file leaves the overlay empty.
	settings := cfg.Map
	if overlay, err := geo.LoadFeatureCollection(cfg.OverlayPath); err != nil {
		log.Warn().Err(err).Str("path", cfg.OverlayPath).Msg("Overlay dataset not loaded")
	} else {
		settings.Overlay = overlay
		log.Info().Int("features", len(overlay.Features)).Msg("Overlay dataset loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := store.NewMemoryStore(cfg.MaxSessions, cfg.SessionMaxIdle)

	sched := scheduler.New(sessions, cfg.RefreshInterval, time.Minute)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	defer sched.Stop()

	app := httpapi.NewApp("farmmap")
	httpapi.RegisterRoutes(app, httpapi.NewHandler(ctx, sessions, pipeline, settings))

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("weather", chain.Name()).
			Bool("geocoding", places != nil).
			Msg("Starting server")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("Fiber server stopped")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	sessions.CloseAll()
	log.Info().Msg("Server stopped")
}
