package httpapi

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/farmmap/internal/geo"
	"github.com/i474232898/farmmap/internal/lookup"
	"github.com/i474232898/farmmap/internal/store"
)

var validate = validator.New()

// Handler holds the dependencies of the API routes.
type Handler struct {
	// ctx is the parent of every session's lookups; it ends at shutdown.
	ctx      context.Context
	sessions *store.MemoryStore
	pipeline *lookup.Pipeline
	settings lookup.MapSettings
}

// NewHandler creates a Handler.
func NewHandler(ctx context.Context, sessions *store.MemoryStore, pipeline *lookup.Pipeline, settings lookup.MapSettings) *Handler {
	return &Handler{
		ctx:      ctx,
		sessions: sessions,
		pipeline: pipeline,
		settings: settings,
	}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, h *Handler) {
	v1 := app.Group("/api/v1")

	v1.Post("/sessions", func(c *fiber.Ctx) error {
		sess := h.sessions.Create(func(id string) *lookup.Session {
			return lookup.NewSession(h.ctx, id, h.pipeline)
		})
		return c.Status(fiber.StatusCreated).JSON(h.render(sess))
	})

	v1.Get("/sessions/:id", func(c *fiber.Ctx) error {
		sess, err := h.session(c)
		if err != nil {
			return err
		}
		sess.Touch()
		return c.JSON(h.render(sess))
	})

	v1.Delete("/sessions/:id", func(c *fiber.Ctx) error {
		if err := h.sessions.Delete(c.Params("id")); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "unknown session")
			}
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Post("/sessions/:id/shapes", func(c *fiber.Ctx) error {
		sess, err := h.session(c)
		if err != nil {
			return err
		}

		var ev lookup.ShapeEvent
		if err := c.BodyParser(&ev); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid shape event: "+err.Error())
		}
		if err := validate.Struct(ev); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if _, err := ev.Vertices(); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		sess.Surface().Publish(ev)
		return c.Status(fiber.StatusAccepted).JSON(h.render(sess))
	})

	v1.Post("/sessions/:id/toggles/:name", func(c *fiber.Ctx) error {
		sess, err := h.session(c)
		if err != nil {
			return err
		}

		ev := lookup.ToggleEvent{Toggle: lookup.Toggle(c.Params("name"))}
		if err := validate.Struct(ev); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "unknown toggle "+strconv.Quote(string(ev.Toggle)))
		}
		if err := sess.Dispatch(ev); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(h.render(sess))
	})

	v1.Get("/lookup", func(c *fiber.Ctx) error {
		pt, err := h.parseLookupPoint(c)
		if err != nil {
			return err
		}

		res := h.pipeline.Lookup(c.UserContext(), pt)
		return c.JSON(fiber.Map{
			"point":   res.Point,
			"place":   res.Place,
			"weather": lookup.NewWeatherView(res.Weather),
			"soil":    lookup.NewSoilView(res.Soil),
		})
	})

	v1.Get("/overlay", func(c *fiber.Ctx) error {
		if h.settings.Overlay == nil {
			return fiber.NewError(fiber.StatusNotFound, "no overlay dataset loaded")
		}
		return c.JSON(h.settings.Overlay)
	})
}

func (h *Handler) session(c *fiber.Ctx) (*lookup.Session, error) {
	sess, err := h.sessions.Get(c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "unknown session")
		}
		return nil, err
	}
	return sess, nil
}

func (h *Handler) render(sess *lookup.Session) lookup.View {
	return lookup.Render(sess.ID(), sess.Snapshot(), h.settings)
}

// locationQuery holds query parameters for identifying a location by name.
type locationQuery struct {
	City    string `validate:"required"`
	Country string `validate:"required"`
}

// pointQuery holds query parameters for identifying a location by coordinates.
type pointQuery struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lng float64 `validate:"gte=-180,lte=180"`
}

// parseLookupPoint accepts either lat/lng or city/country.
func (h *Handler) parseLookupPoint(c *fiber.Ctx) (geo.Point, error) {
	if c.Query("city") != "" || c.Query("country") != "" {
		q := locationQuery{City: c.Query("city"), Country: c.Query("country")}
		if err := validate.Struct(q); err != nil {
			return geo.Point{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		pt, err := h.pipeline.Resolve(c.UserContext(), q.City, q.Country)
		if err != nil {
			return geo.Point{}, fiber.NewError(fiber.StatusNotFound, "could not resolve location: "+err.Error())
		}
		return pt, nil
	}

	latStr, lngStr := c.Query("lat"), c.Query("lng")
	if latStr == "" || lngStr == "" {
		return geo.Point{}, fiber.NewError(fiber.StatusBadRequest, "lat and lng (or city and country) query parameters are required")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return geo.Point{}, fiber.NewError(fiber.StatusBadRequest, "invalid lat")
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return geo.Point{}, fiber.NewError(fiber.StatusBadRequest, "invalid lng")
	}

	q := pointQuery{Lat: lat, Lng: lng}
	if err := validate.Struct(q); err != nil {
		return geo.Point{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return geo.Point{Lat: q.Lat, Lng: q.Lng}, nil
}
