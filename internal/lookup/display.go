package lookup

import (
	"math"
	"strconv"
	"time"

	"github.com/i474232898/farmmap/internal/geo"
	"github.com/i474232898/farmmap/internal/place"
	"github.com/i474232898/farmmap/internal/soil"
	"github.com/i474232898/farmmap/internal/weather"
)

// NoData is shown in place of a soil value that could not be fetched.
const NoData = "No data"

// NoRegion is shown when no region has been drawn.
const NoRegion = "No region selected."

// TileSource is an external XYZ tile template.
type TileSource struct {
	URL         string `json:"url" yaml:"url"`
	Attribution string `json:"attribution" yaml:"attribution"`
}

// MapSettings are the static parts of the map view shared by all sessions.
type MapSettings struct {
	Center  geo.Point
	Zoom    int
	Tiles   map[TileStyle]TileSource
	Overlay *geo.FeatureCollection
}

const osmAttribution = `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors & OpenTopoMap`

// DefaultMapSettings centres the map on Maharashtra with OpenStreetMap and
// OpenTopoMap tiles.
func DefaultMapSettings() MapSettings {
	return MapSettings{
		Center: geo.Point{Lat: 19.7515, Lng: 75.7139},
		Zoom:   6,
		Tiles: map[TileStyle]TileSource{
			TileDefault: {URL: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png", Attribution: osmAttribution},
			TileTerrain: {URL: "https://{s}.tile.opentopomap.org/{z}/{x}/{y}.png", Attribution: osmAttribution},
		},
	}
}

// View is the JSON representation of a session: the map pane and the info pane.
type View struct {
	ID   string   `json:"id"`
	Map  MapView  `json:"map"`
	Info InfoView `json:"info"`
}

// MapView describes what the map surface renders.
type MapView struct {
	Center           geo.Point              `json:"center"`
	Zoom             int                    `json:"zoom"`
	TileStyle        TileStyle              `json:"tileStyle"`
	Tiles            TileSource             `json:"tiles"`
	DrawToolsVisible bool                   `json:"drawToolsVisible"`
	OverlayVisible   bool                   `json:"overlayVisible"`
	Overlay          *geo.FeatureCollection `json:"overlay,omitempty"`
	Markers          []geo.Point            `json:"markers"`
	ActiveShape      *ShapeEvent            `json:"activeShape,omitempty"`
}

// InfoView is the side panel: region, weather and soil.
type InfoView struct {
	Region       []string     `json:"region"`
	RegionNote   string       `json:"regionNote,omitempty"`
	AreaHectares float64      `json:"areaHectares,omitempty"`
	Place        *place.Place `json:"place,omitempty"`
	Weather      *WeatherView `json:"weather,omitempty"`
	Soil         SoilView     `json:"soil"`
	Pending      bool         `json:"pending"`
	Generation   uint64       `json:"generation"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// WeatherView holds display strings for a weather reading.
type WeatherView struct {
	Temperature string          `json:"temperature"`
	Humidity    string          `json:"humidity"`
	WindSpeed   string          `json:"windSpeed"`
	Reading     weather.Reading `json:"reading"`
}

// SoilView holds display strings for a soil reading.
type SoilView struct {
	Sand string       `json:"sand"`
	Silt string       `json:"silt"`
	Clay string       `json:"clay"`
	PH   string       `json:"ph"`
	Raw  soil.Reading `json:"raw"`
}

// SoilValue converts a raw SoilGrids mean to its display value. Raw values
// are tenths of the display unit, so 235 becomes 23.5.
func SoilValue(raw float64) float64 {
	return raw / 10
}

// FormatSoil renders a raw soil mean with one decimal, or NoData when the
// value is zero or not a number.
func FormatSoil(raw float64) string {
	v := SoilValue(raw)
	if v == 0 || math.IsNaN(v) {
		return NoData
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// NewSoilView formats every field of r.
func NewSoilView(r soil.Reading) SoilView {
	return SoilView{
		Sand: FormatSoil(r.Sand),
		Silt: FormatSoil(r.Silt),
		Clay: FormatSoil(r.Clay),
		PH:   FormatSoil(r.PH),
		Raw:  r,
	}
}

// NewWeatherView formats r; nil stays nil.
func NewWeatherView(r *weather.Reading) *WeatherView {
	if r == nil {
		return nil
	}
	return &WeatherView{
		Temperature: formatNumber(r.TemperatureC) + " °C",
		Humidity:    formatNumber(r.HumidityPct) + " %",
		WindSpeed:   formatNumber(r.WindKph) + " kph",
		Reading:     *r,
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Render builds the view for a session snapshot.
func Render(id string, st State, settings MapSettings) View {
	style := st.TileStyle
	if style == "" {
		style = TileDefault
	}

	mv := MapView{
		Center:           settings.Center,
		Zoom:             settings.Zoom,
		TileStyle:        style,
		Tiles:            settings.Tiles[style],
		DrawToolsVisible: st.DrawTools,
		OverlayVisible:   st.Overlay,
		Markers:          st.Markers,
		ActiveShape:      st.ActiveShape,
	}
	if mv.Markers == nil {
		mv.Markers = []geo.Point{}
	}
	if st.Overlay {
		mv.Overlay = settings.Overlay
	}

	info := InfoView{
		Region:       make([]string, 0, len(st.Region)),
		AreaHectares: st.AreaHectares,
		Place:        st.Place,
		Weather:      NewWeatherView(st.Weather),
		Soil:         NewSoilView(st.Soil),
		Pending:      st.Pending,
		Generation:   st.Generation,
		UpdatedAt:    st.UpdatedAt,
	}
	for _, p := range st.Region {
		info.Region = append(info.Region, p.String())
	}
	if len(st.Region) == 0 {
		info.RegionNote = NoRegion
	}

	return View{ID: id, Map: mv, Info: info}
}
