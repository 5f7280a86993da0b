package lookup

import (
	"errors"
	"fmt"

	"github.com/i474232898/farmmap/internal/geo"
)

// LayerType discriminates the shapes a drawing surface can finalize.
type LayerType string

const (
	LayerMarker    LayerType = "marker"
	LayerPolygon   LayerType = "polygon"
	LayerRectangle LayerType = "rectangle"
)

// Toggle names a boolean view switch.
type Toggle string

const (
	ToggleDrawTools Toggle = "draw-tools"
	ToggleOverlay   Toggle = "overlay"
	ToggleTileStyle Toggle = "tile-style"
)

var (
	ErrUnknownLayer  = errors.New("unknown layer type")
	ErrUnknownToggle = errors.New("unknown toggle")
	ErrUnknownEvent  = errors.New("unknown event")
)

// Event is a user action applied to a Session: ShapeEvent or ToggleEvent.
type Event interface {
	isEvent()
}

// ShapeEvent is emitted by a drawing surface when a shape is finalized.
type ShapeEvent struct {
	LayerType LayerType    `json:"layerType" validate:"required,oneof=marker polygon rectangle"`
	Geometry  geo.Geometry `json:"geometry" validate:"required"`
}

// ToggleEvent flips one of the session's view switches.
type ToggleEvent struct {
	Toggle Toggle `json:"toggle" validate:"required,oneof=draw-tools overlay tile-style"`
}

func (ShapeEvent) isEvent()  {}
func (ToggleEvent) isEvent() {}

// Vertices validates the event and returns its flattened vertex list. Markers
// must carry Point geometry; polygons and rectangles must carry Polygon geometry.
func (e ShapeEvent) Vertices() (geo.Region, error) {
	var want string
	switch e.LayerType {
	case LayerMarker:
		want = geo.GeometryPoint
	case LayerPolygon, LayerRectangle:
		want = geo.GeometryPolygon
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, e.LayerType)
	}

	if e.Geometry.Type != want {
		return nil, fmt.Errorf("%s layer needs %s geometry, got %q", e.LayerType, want, e.Geometry.Type)
	}
	return e.Geometry.Vertices()
}
