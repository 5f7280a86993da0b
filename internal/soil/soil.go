// Package soil queries the SoilGrids properties service for the texture and
// acidity of the topsoil at a point.
package soil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/farmmap/internal/geo"
	"github.com/i474232898/farmmap/internal/resilience"
)

// Property is a SoilGrids property code.
type Property string

const (
	PropertySand Property = "sand"
	PropertySilt Property = "silt"
	PropertyClay Property = "clay"
	PropertyPH   Property = "phh2o"
)

// Properties lists the codes fetched for every lookup.
var Properties = []Property{PropertySand, PropertySilt, PropertyClay, PropertyPH}

const (
	DefaultBaseURL = "https://rest.isric.org/soilgrids/v2.0/properties/query"
	DefaultDepth   = "0-5cm"
)

// ErrNoValue is returned when the response has no mean for the requested layer.
var ErrNoValue = errors.New("no mean value in soil response")

// Reading holds raw SoilGrids means. Values are in tenths of the display
// unit; a zero means the property could not be fetched.
type Reading struct {
	Sand float64 `json:"sand"`
	Silt float64 `json:"silt"`
	Clay float64 `json:"clay"`
	PH   float64 `json:"ph"`
}

func (r *Reading) set(p Property, v float64) {
	switch p {
	case PropertySand:
		r.Sand = v
	case PropertySilt:
		r.Silt = v
	case PropertyClay:
		r.Clay = v
	case PropertyPH:
		r.PH = v
	}
}

// Options configures the soil client.
type Options struct {
	BaseURL    string
	Depth      string
	Resilience resilience.Config
}

// Client fetches soil properties.
type Client struct {
	baseURL string
	depth   string
	caller  *resilience.Caller
}

// NewClient creates a Client; empty options select the public endpoint and
// the 0-5cm depth band.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		depth:   DefaultDepth,
		caller:  resilience.NewCaller("soilgrids", opts.Resilience),
	}
	if opts.BaseURL != "" {
		c.baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Depth != "" {
		c.depth = opts.Depth
	}
	return c
}

// Fetch issues one request per property concurrently and waits for all of
// them. A property whose request fails, or whose response lacks a mean,
// is left at zero without affecting the others.
func (c *Client) Fetch(ctx context.Context, p geo.Point) Reading {
	values := make([]float64, len(Properties))

	var g errgroup.Group
	for i, prop := range Properties {
		i, prop := i, prop
		g.Go(func() error {
			v, err := c.FetchProperty(ctx, p, prop)
			if err != nil {
				log.Warn().
					Err(err).
					Str("property", string(prop)).
					Str("point", p.Query()).
					Msg("Soil property unavailable, using 0")
				return nil
			}
			log.Debug().
				Str("property", string(prop)).
				Float64("mean", v).
				Msg("Soil property fetched")
			values[i] = v
			return nil
		})
	}
	_ = g.Wait()

	var r Reading
	for i, prop := range Properties {
		r.set(prop, values[i])
	}
	return r
}

// FetchProperty returns the mean of the first depth interval of the first
// layer for a single property.
func (c *Client) FetchProperty(ctx context.Context, p geo.Point, prop Property) (float64, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(p.Lng, 'f', -1, 64))
	q.Set("property", string(prop))
	q.Set("depth", c.depth)

	resp, err := c.caller.Do(ctx, resilience.NewGet(c.baseURL+"?"+q.Encode()))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var payload struct {
		Properties struct {
			Layers []struct {
				Name   string `json:"name"`
				Depths []struct {
					Label  string `json:"label"`
					Values struct {
						Mean *float64 `json:"mean"`
					} `json:"values"`
				} `json:"depths"`
			} `json:"layers"`
		} `json:"properties"`
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode soil payload: %w", err)
	}

	layers := payload.Properties.Layers
	if len(layers) == 0 || len(layers[0].Depths) == 0 || layers[0].Depths[0].Values.Mean == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoValue, prop)
	}

	return *layers[0].Depths[0].Values.Mean, nil
}
