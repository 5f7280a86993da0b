package lookup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/farmmap/internal/geo"
	"github.com/i474232898/farmmap/internal/place"
	"github.com/i474232898/farmmap/internal/soil"
	"github.com/i474232898/farmmap/internal/weather"
)

// TileStyle selects one of the two base-tile sources.
type TileStyle string

const (
	TileDefault TileStyle = "default"
	TileTerrain TileStyle = "terrain"
)

// State is a point-in-time copy of a session's view state.
type State struct {
	Markers      []geo.Point
	Region       geo.Region
	ActiveShape  *ShapeEvent
	AreaHectares float64

	Weather *weather.Reading
	Soil    soil.Reading
	Place   *place.Place

	DrawTools bool
	Overlay   bool
	TileStyle TileStyle

	// Generation counts region completions; Pending is true while the lookup
	// for the current generation is running.
	Generation uint64
	Pending    bool
	UpdatedAt  time.Time
}

// Session owns one map view. Readings are written only by the completion of
// the lookup for the latest region; completions from superseded regions are
// discarded.
type Session struct {
	id       string
	parent   context.Context
	pipeline *Pipeline
	surface  *EventSurface

	mu         sync.Mutex
	state      State
	cancel     context.CancelFunc
	lastActive time.Time
	closed     bool

	wg sync.WaitGroup
}

// NewSession creates a session whose lookups run under parent and subscribes
// it to a fresh EventSurface.
func NewSession(parent context.Context, id string, pipeline *Pipeline) *Session {
	s := &Session{
		id:         id,
		parent:     parent,
		pipeline:   pipeline,
		surface:    NewEventSurface(),
		state:      State{TileStyle: TileDefault, UpdatedAt: time.Now().UTC()},
		lastActive: time.Now(),
	}
	s.Attach(s.surface)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Surface returns the session's own drawing surface.
func (s *Session) Surface() *EventSurface {
	return s.surface
}

// Attach subscribes the session to finalized shapes from surface.
func (s *Session) Attach(surface DrawingSurface) {
	surface.OnShapeFinalized(func(ev ShapeEvent) {
		if err := s.Dispatch(ev); err != nil {
			log.Warn().Err(err).Str("session", s.id).Msg("Rejected shape event")
		}
	})
}

// Dispatch applies an event to the session.
func (s *Session) Dispatch(ev Event) error {
	switch e := ev.(type) {
	case ShapeEvent:
		return s.handleShape(e)
	case ToggleEvent:
		return s.toggle(e.Toggle)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

func (s *Session) handleShape(ev ShapeEvent) error {
	vertices, err := ev.Vertices()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	s.state.UpdatedAt = time.Now().UTC()

	if ev.LayerType == LayerMarker {
		s.state.Markers = append(s.state.Markers, vertices[0])
		return nil
	}

	// A new polygon or rectangle replaces the drawn shape and the region;
	// accumulated markers stay.
	shape := ev
	s.state.ActiveShape = &shape
	s.state.Region = vertices
	s.state.AreaHectares = vertices.AreaHectares()

	s.startLookupLocked(lookupRegion)
	return nil
}

func (s *Session) toggle(t Toggle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch t {
	case ToggleDrawTools:
		s.state.DrawTools = !s.state.DrawTools
	case ToggleOverlay:
		s.state.Overlay = !s.state.Overlay
	case ToggleTileStyle:
		if s.state.TileStyle == TileTerrain {
			s.state.TileStyle = TileDefault
		} else {
			s.state.TileStyle = TileTerrain
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownToggle, t)
	}

	s.touchLocked()
	s.state.UpdatedAt = time.Now().UTC()
	return nil
}

// Refresh re-fetches the weather for the current region. Soil and place are
// left as they are, and a failed fetch keeps the previous weather reading.
// It reports false when there is no region, a lookup is already running or
// the session is closed.
func (s *Session) Refresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.state.Region) == 0 || s.state.Pending || s.closed {
		return false
	}
	s.startLookupLocked(lookupWeather)
	return true
}

type lookupKind int

const (
	// lookupRegion fetches every reading for a newly drawn region.
	lookupRegion lookupKind = iota
	// lookupWeather re-fetches only the weather for an unchanged region.
	lookupWeather
)

// startLookupLocked begins a new generation and launches its fetches. The
// previous generation's lookup, if still running, is cancelled. Nothing is
// started once the session is closed.
func (s *Session) startLookupLocked(kind lookupKind) {
	if s.closed {
		return
	}
	pt, ok := s.state.Region.RepresentativePoint()
	if !ok {
		return
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.state.Generation++
	s.state.Pending = true
	gen := s.state.Generation

	ctx, cancel := s.pipeline.withTimeout(s.parent)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx, cancel, gen, pt, kind)
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, gen uint64, pt geo.Point, kind lookupKind) {
	defer s.wg.Done()
	defer cancel()

	log.Debug().
		Str("session", s.id).
		Uint64("generation", gen).
		Str("point", pt.Query()).
		Bool("weather_only", kind == lookupWeather).
		Msg("Region lookup started")

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if r := s.pipeline.FetchWeather(ctx, pt); r != nil {
			s.apply(gen, "weather", func(st *State) { st.Weather = r })
		}
	}()

	if kind == lookupWeather {
		wg.Wait()
		s.apply(gen, "done", func(st *State) { st.Pending = false })
		return
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		r := s.pipeline.FetchSoil(ctx, pt)
		s.apply(gen, "soil", func(st *State) { st.Soil = r })
	}()

	go func() {
		defer wg.Done()
		p := s.pipeline.FetchPlace(ctx, pt)
		s.apply(gen, "place", func(st *State) { st.Place = p })
	}()

	wg.Wait()

	s.apply(gen, "done", func(st *State) { st.Pending = false })
}

// apply runs update under the lock when gen is still current.
func (s *Session) apply(gen uint64, slot string, update func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.state.Generation {
		log.Debug().
			Str("session", s.id).
			Str("slot", slot).
			Uint64("generation", gen).
			Uint64("current", s.state.Generation).
			Msg("Discarding stale lookup result")
		return
	}

	update(&s.state)
	s.state.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.Markers = append([]geo.Point(nil), s.state.Markers...)
	st.Region = s.state.Region.Clone()
	if s.state.Weather != nil {
		w := *s.state.Weather
		st.Weather = &w
	}
	if s.state.Place != nil {
		p := *s.state.Place
		st.Place = &p
	}
	if s.state.ActiveShape != nil {
		a := *s.state.ActiveShape
		st.ActiveShape = &a
	}
	return st
}

// Touch marks the session as active.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
}

func (s *Session) touchLocked() {
	s.lastActive = time.Now()
}

// LastActive returns the time of the last user interaction.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Wait blocks until every lookup started so far has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels any running lookup and waits for it to return. Shapes
// dispatched after Close still update the drawn state but start no lookup.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.Wait()
}
