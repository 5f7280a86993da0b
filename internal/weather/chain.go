package weather

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/farmmap/internal/geo"
)

// ErrNoProviders is returned by an empty Chain.
var ErrNoProviders = errors.New("no weather providers configured")

// Chain queries providers in order and returns the first successful reading.
type Chain struct {
	providers []Provider
}

// NewChain creates a Chain. Order is significant: earlier providers are preferred.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Name lists the chained providers.
func (c *Chain) Name() string {
	name := "chain"
	for i, p := range c.providers {
		if i == 0 {
			name += ":"
		} else {
			name += ","
		}
		name += p.Name()
	}
	return name
}

// Len returns the number of chained providers.
func (c *Chain) Len() int {
	return len(c.providers)
}

// Fetch implements Provider.
func (c *Chain) Fetch(ctx context.Context, p geo.Point) (Reading, error) {
	if len(c.providers) == 0 {
		return Reading{}, ErrNoProviders
	}

	var errs []error
	for _, prov := range c.providers {
		r, err := prov.Fetch(ctx, p)
		if err == nil {
			return r, nil
		}
		if ctx.Err() != nil {
			return Reading{}, ctx.Err()
		}

		log.Debug().
			Err(err).
			Str("provider", prov.Name()).
			Str("point", p.Query()).
			Msg("Weather provider failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", prov.Name(), err))
	}

	return Reading{}, errors.Join(errs...)
}
