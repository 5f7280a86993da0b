package lookup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/i474232898/farmmap/internal/geo"
	"github.com/i474232898/farmmap/internal/resilience"
	"github.com/i474232898/farmmap/internal/soil"
	"github.com/i474232898/farmmap/internal/weather"
	"github.com/i474232898/farmmap/internal/weather/providers"
)

type fakeWeather struct {
	mu     sync.Mutex
	points []geo.Point
	fetch  func(ctx context.Context, p geo.Point) (weather.Reading, error)
}

func (f *fakeWeather) Name() string { return "fake" }

func (f *fakeWeather) Fetch(ctx context.Context, p geo.Point) (weather.Reading, error) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
	return f.fetch(ctx, p)
}

type fakeSoil struct {
	mu     sync.Mutex
	points []geo.Point
	fetch  func(p geo.Point) soil.Reading
}

func (f *fakeSoil) Fetch(_ context.Context, p geo.Point) soil.Reading {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
	return f.fetch(p)
}

func polygon(pts ...geo.Point) ShapeEvent {
	return ShapeEvent{LayerType: LayerPolygon, Geometry: geo.PolygonGeometry(pts)}
}

func marker(p geo.Point) ShapeEvent {
	return ShapeEvent{LayerType: LayerMarker, Geometry: geo.PointGeometry(p)}
}

func staticWeather(r weather.Reading) *fakeWeather {
	return &fakeWeather{fetch: func(context.Context, geo.Point) (weather.Reading, error) { return r, nil }}
}

func staticSoil(r soil.Reading) *fakeSoil {
	return &fakeSoil{fetch: func(geo.Point) soil.Reading { return r }}
}

func newTestSession(w weather.Provider, s SoilSource) *Session {
	return NewSession(context.Background(), "test", NewPipeline(Config{Weather: w, Soil: s}))
}

func TestRepresentativePointUsedForBothFetches(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := staticWeather(weather.Reading{TemperatureC: 20})
	s := staticSoil(soil.Reading{Sand: 100})
	sess := newTestSession(w, s)

	first := geo.Point{Lat: 19.1, Lng: 75.1}
	require.NoError(t, sess.Dispatch(polygon(first, geo.Point{Lat: 19.9, Lng: 75.1}, geo.Point{Lat: 19.9, Lng: 75.9})))
	sess.Wait()

	assert.Equal(t, []geo.Point{first}, w.points)
	assert.Equal(t, []geo.Point{first}, s.points)
}

func TestWeatherFailureKeepsPreviousReading(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls int
	w := &fakeWeather{fetch: func(context.Context, geo.Point) (weather.Reading, error) {
		calls++
		if calls == 1 {
			return weather.Reading{TemperatureC: 25, HumidityPct: 50, WindKph: 8}, nil
		}
		return weather.Reading{}, errors.New("upstream down")
	}}
	s := &fakeSoil{fetch: func(p geo.Point) soil.Reading { return soil.Reading{Sand: p.Lat} }}
	sess := newTestSession(w, s)

	require.NoError(t, sess.Dispatch(polygon(geo.Point{Lat: 10, Lng: 10}, geo.Point{Lat: 11, Lng: 10}, geo.Point{Lat: 11, Lng: 11})))
	sess.Wait()
	require.NotNil(t, sess.Snapshot().Weather)

	require.NoError(t, sess.Dispatch(polygon(geo.Point{Lat: 20, Lng: 20}, geo.Point{Lat: 21, Lng: 20}, geo.Point{Lat: 21, Lng: 21})))
	sess.Wait()

	st := sess.Snapshot()
	require.NotNil(t, st.Weather)
	assert.Equal(t, 25.0, st.Weather.TemperatureC)
	// Soil is independent of the weather failure.
	assert.Equal(t, 20.0, st.Soil.Sand)
	assert.False(t, st.Pending)
}

func TestWeatherFailureWithoutPriorReadingStaysNil(t *testing.T) {
	w := &fakeWeather{fetch: func(context.Context, geo.Point) (weather.Reading, error) {
		return weather.Reading{}, weather.ErrMalformedPayload
	}}
	sess := newTestSession(w, staticSoil(soil.Reading{Clay: 300}))

	require.NoError(t, sess.Dispatch(polygon(geo.Point{Lat: 1, Lng: 1}, geo.Point{Lat: 2, Lng: 1}, geo.Point{Lat: 2, Lng: 2})))
	sess.Wait()

	st := sess.Snapshot()
	assert.Nil(t, st.Weather)
	assert.Equal(t, 300.0, st.Soil.Clay)
}

func TestNewPolygonReplacesRegionKeepsMarkers(t *testing.T) {
	sess := newTestSession(staticWeather(weather.Reading{}), staticSoil(soil.Reading{}))

	m1 := geo.Point{Lat: 5, Lng: 5}
	m2 := geo.Point{Lat: 6, Lng: 6}
	require.NoError(t, sess.Dispatch(marker(m1)))

	first := []geo.Point{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 1}, {Lat: 2, Lng: 2}}
	require.NoError(t, sess.Dispatch(polygon(first...)))
	require.NoError(t, sess.Dispatch(marker(m2)))

	second := []geo.Point{{Lat: 30, Lng: 30}, {Lat: 31, Lng: 30}, {Lat: 31, Lng: 31}, {Lat: 30, Lng: 31}}
	require.NoError(t, sess.Dispatch(ShapeEvent{LayerType: LayerRectangle, Geometry: geo.PolygonGeometry(second)}))
	sess.Wait()

	st := sess.Snapshot()
	assert.Equal(t, geo.Region(second), st.Region)
	assert.Equal(t, []geo.Point{m1, m2}, st.Markers)
	require.NotNil(t, st.ActiveShape)
	assert.Equal(t, LayerRectangle, st.ActiveShape.LayerType)
	assert.Equal(t, uint64(2), st.Generation)
}

func TestMarkerDoesNotStartLookup(t *testing.T) {
	w := staticWeather(weather.Reading{})
	sess := newTestSession(w, staticSoil(soil.Reading{}))

	require.NoError(t, sess.Dispatch(marker(geo.Point{Lat: 1, Lng: 1})))
	sess.Wait()

	st := sess.Snapshot()
	assert.Empty(t, w.points)
	assert.Zero(t, st.Generation)
	assert.Empty(t, st.Region)
	assert.Nil(t, st.ActiveShape)
}

func TestStaleCompletionIsDiscarded(t *testing.T) {
	defer goleak.VerifyNone(t)

	slow := geo.Point{Lat: 1, Lng: 1}
	release := make(chan struct{})

	w := &fakeWeather{fetch: func(_ context.Context, p geo.Point) (weather.Reading, error) {
		if p == slow {
			// Ignores cancellation so the late result actually arrives.
			<-release
			return weather.Reading{TemperatureC: 1}, nil
		}
		return weather.Reading{TemperatureC: 2}, nil
	}}
	s := &fakeSoil{fetch: func(p geo.Point) soil.Reading { return soil.Reading{Sand: p.Lat} }}
	sess := newTestSession(w, s)

	require.NoError(t, sess.Dispatch(polygon(slow, geo.Point{Lat: 2, Lng: 1}, geo.Point{Lat: 2, Lng: 2})))
	require.NoError(t, sess.Dispatch(polygon(geo.Point{Lat: 40, Lng: 40}, geo.Point{Lat: 41, Lng: 40}, geo.Point{Lat: 41, Lng: 41})))

	require.Eventually(t, func() bool {
		st := sess.Snapshot()
		return st.Weather != nil && !st.Pending
	}, time.Second, 5*time.Millisecond)

	close(release)
	sess.Wait()

	st := sess.Snapshot()
	assert.Equal(t, 2.0, st.Weather.TemperatureC)
	assert.Equal(t, 40.0, st.Soil.Sand)
	assert.Equal(t, uint64(2), st.Generation)
}

func TestSupersededLookupIsCancelled(t *testing.T) {
	first := geo.Point{Lat: 1, Lng: 1}
	cancelled := make(chan struct{})

	w := &fakeWeather{fetch: func(ctx context.Context, p geo.Point) (weather.Reading, error) {
		if p == first {
			<-ctx.Done()
			close(cancelled)
			return weather.Reading{}, ctx.Err()
		}
		return weather.Reading{TemperatureC: 9}, nil
	}}
	sess := newTestSession(w, staticSoil(soil.Reading{}))

	require.NoError(t, sess.Dispatch(polygon(first, geo.Point{Lat: 2, Lng: 1}, geo.Point{Lat: 2, Lng: 2})))
	require.NoError(t, sess.Dispatch(polygon(geo.Point{Lat: 3, Lng: 3}, geo.Point{Lat: 4, Lng: 3}, geo.Point{Lat: 4, Lng: 4})))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("superseded lookup was not cancelled")
	}
	sess.Wait()
	assert.Equal(t, 9.0, sess.Snapshot().Weather.TemperatureC)
}

func TestToggles(t *testing.T) {
	sess := newTestSession(nil, nil)

	require.NoError(t, sess.Dispatch(ToggleEvent{Toggle: ToggleDrawTools}))
	require.NoError(t, sess.Dispatch(ToggleEvent{Toggle: ToggleOverlay}))
	require.NoError(t, sess.Dispatch(ToggleEvent{Toggle: ToggleTileStyle}))

	st := sess.Snapshot()
	assert.True(t, st.DrawTools)
	assert.True(t, st.Overlay)
	assert.Equal(t, TileTerrain, st.TileStyle)

	require.NoError(t, sess.Dispatch(ToggleEvent{Toggle: ToggleTileStyle}))
	require.NoError(t, sess.Dispatch(ToggleEvent{Toggle: ToggleDrawTools}))
	st = sess.Snapshot()
	assert.False(t, st.DrawTools)
	assert.Equal(t, TileDefault, st.TileStyle)

	assert.ErrorIs(t, sess.Dispatch(ToggleEvent{Toggle: "zoom"}), ErrUnknownToggle)
}

func TestInvalidShapesRejected(t *testing.T) {
	sess := newTestSession(nil, nil)

	err := sess.Dispatch(ShapeEvent{LayerType: "circle", Geometry: geo.PointGeometry(geo.Point{})})
	assert.ErrorIs(t, err, ErrUnknownLayer)

	err = sess.Dispatch(ShapeEvent{LayerType: LayerMarker, Geometry: geo.PolygonGeometry(geo.Region{{Lat: 1, Lng: 1}})})
	assert.Error(t, err)

	err = sess.Dispatch(ShapeEvent{LayerType: LayerPolygon, Geometry: geo.PointGeometry(geo.Point{})})
	assert.Error(t, err)

	assert.Zero(t, sess.Snapshot().Generation)
}

func TestSurfacePublishDrivesSession(t *testing.T) {
	w := staticWeather(weather.Reading{TemperatureC: 17})
	sess := newTestSession(w, staticSoil(soil.Reading{}))

	external := NewEventSurface()
	sess.Attach(external)

	external.Publish(polygon(geo.Point{Lat: 3, Lng: 3}, geo.Point{Lat: 4, Lng: 3}, geo.Point{Lat: 4, Lng: 4}))
	sess.Wait()
	assert.Equal(t, 17.0, sess.Snapshot().Weather.TemperatureC)

	sess.Surface().Publish(marker(geo.Point{Lat: 8, Lng: 8}))
	assert.Len(t, sess.Snapshot().Markers, 1)

	// Invalid events from a surface are logged and dropped.
	sess.Surface().Publish(ShapeEvent{LayerType: "circle"})
	assert.Len(t, sess.Snapshot().Markers, 1)
}

func TestRefresh(t *testing.T) {
	var n int
	var mu sync.Mutex
	w := &fakeWeather{fetch: func(context.Context, geo.Point) (weather.Reading, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return weather.Reading{TemperatureC: float64(n)}, nil
	}}
	sess := newTestSession(w, staticSoil(soil.Reading{}))

	assert.False(t, sess.Refresh())

	require.NoError(t, sess.Dispatch(polygon(geo.Point{Lat: 3, Lng: 3}, geo.Point{Lat: 4, Lng: 3}, geo.Point{Lat: 4, Lng: 4})))
	sess.Wait()
	require.True(t, sess.Refresh())
	sess.Wait()

	st := sess.Snapshot()
	assert.Equal(t, 2.0, st.Weather.TemperatureC)
	assert.Equal(t, uint64(2), st.Generation)
	assert.False(t, st.Pending)
}

func TestRefreshOnlyFetchesWeather(t *testing.T) {
	defer goleak.VerifyNone(t)

	var soilCalls int
	s := &fakeSoil{fetch: func(geo.Point) soil.Reading {
		soilCalls++
		if soilCalls == 1 {
			return soil.Reading{Sand: 650, Silt: 200, Clay: 150, PH: 72}
		}
		return soil.Reading{}
	}}
	sess := newTestSession(staticWeather(weather.Reading{TemperatureC: 21}), s)

	require.NoError(t, sess.Dispatch(polygon(geo.Point{Lat: 3, Lng: 3}, geo.Point{Lat: 4, Lng: 3}, geo.Point{Lat: 4, Lng: 4})))
	sess.Wait()
	require.True(t, sess.Refresh())
	sess.Wait()

	assert.Equal(t, 1, soilCalls)
	view := NewSoilView(sess.Snapshot().Soil)
	assert.Equal(t, "65.0", view.Sand)
	assert.Equal(t, "20.0", view.Silt)
	assert.Equal(t, "15.0", view.Clay)
	assert.Equal(t, "7.2", view.PH)
}

func TestRefreshWeatherFailureKeepsReadings(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls int
	w := &fakeWeather{fetch: func(context.Context, geo.Point) (weather.Reading, error) {
		calls++
		if calls > 1 {
			return weather.Reading{}, resilience.ErrRateLimited
		}
		return weather.Reading{TemperatureC: 28, HumidityPct: 40, WindKph: 12}, nil
	}}
	sess := newTestSession(w, staticSoil(soil.Reading{Sand: 650}))

	require.NoError(t, sess.Dispatch(polygon(geo.Point{Lat: 3, Lng: 3}, geo.Point{Lat: 4, Lng: 3}, geo.Point{Lat: 4, Lng: 4})))
	sess.Wait()
	require.True(t, sess.Refresh())
	sess.Wait()

	st := sess.Snapshot()
	require.NotNil(t, st.Weather)
	assert.Equal(t, 28.0, st.Weather.TemperatureC)
	assert.Equal(t, 650.0, st.Soil.Sand)
	assert.False(t, st.Pending)
	assert.Equal(t, 2, calls)
}

func TestClosedSessionStartsNoLookup(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := staticWeather(weather.Reading{TemperatureC: 9})
	sess := newTestSession(w, staticSoil(soil.Reading{}))

	require.NoError(t, sess.Dispatch(polygon(geo.Point{Lat: 3, Lng: 3}, geo.Point{Lat: 4, Lng: 3}, geo.Point{Lat: 4, Lng: 4})))
	sess.Close()

	require.NoError(t, sess.Dispatch(polygon(geo.Point{Lat: 7, Lng: 7}, geo.Point{Lat: 8, Lng: 7}, geo.Point{Lat: 8, Lng: 8})))
	assert.False(t, sess.Refresh())
	sess.Wait()

	st := sess.Snapshot()
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, geo.Point{Lat: 7, Lng: 7}, st.Region[0])
	assert.LessOrEqual(t, len(w.points), 1)
}

func TestSnapshotIsACopy(t *testing.T) {
	sess := newTestSession(staticWeather(weather.Reading{TemperatureC: 5}), staticSoil(soil.Reading{}))
	require.NoError(t, sess.Dispatch(marker(geo.Point{Lat: 1, Lng: 1})))

	st := sess.Snapshot()
	st.Markers[0] = geo.Point{Lat: 50, Lng: 50}

	assert.Equal(t, geo.Point{Lat: 1, Lng: 1}, sess.Snapshot().Markers[0])
}

func TestPipelineLookup(t *testing.T) {
	p := NewPipeline(Config{
		Weather: staticWeather(weather.Reading{TemperatureC: 30}),
		Soil:    staticSoil(soil.Reading{PH: 65}),
		Timeout: time.Second,
	})

	res := p.Lookup(context.Background(), geo.Point{Lat: 1, Lng: 2})
	require.NotNil(t, res.Weather)
	assert.Equal(t, 30.0, res.Weather.TemperatureC)
	assert.Equal(t, 65.0, res.Soil.PH)
	assert.Nil(t, res.Place)

	_, err := p.Resolve(context.Background(), "Pune", "IN")
	assert.Error(t, err)
}

func TestFormatSoil(t *testing.T) {
	assert.Equal(t, "23.5", FormatSoil(235))
	assert.Equal(t, "65.0", FormatSoil(650))
	assert.Equal(t, NoData, FormatSoil(0))
	assert.Equal(t, 23.5, SoilValue(235))
}

func TestRenderEmptySession(t *testing.T) {
	settings := DefaultMapSettings()
	settings.Overlay = &geo.FeatureCollection{Type: "FeatureCollection"}

	sess := newTestSession(nil, nil)
	v := Render(sess.ID(), sess.Snapshot(), settings)

	assert.Equal(t, NoRegion, v.Info.RegionNote)
	assert.Nil(t, v.Info.Weather)
	assert.Equal(t, NoData, v.Info.Soil.Sand)
	assert.Equal(t, TileDefault, v.Map.TileStyle)
	assert.Contains(t, v.Map.Tiles.URL, "openstreetmap")
	assert.Nil(t, v.Map.Overlay)
	assert.NotNil(t, v.Map.Markers)

	require.NoError(t, sess.Dispatch(ToggleEvent{Toggle: ToggleOverlay}))
	require.NoError(t, sess.Dispatch(ToggleEvent{Toggle: ToggleTileStyle}))
	v = Render(sess.ID(), sess.Snapshot(), settings)
	assert.Same(t, settings.Overlay, v.Map.Overlay)
	assert.Contains(t, v.Map.Tiles.URL, "opentopomap")
}

// Drawn marker-sized region at 19.75,75.71 against real provider and soil
// clients backed by test servers.
func TestEndToEndRegionLookup(t *testing.T) {
	weatherSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "19.75,75.71", r.URL.Query().Get("q"))
		w.Write([]byte(`{"current":{"temp_c":28,"humidity":40,"wind_kph":12}}`))
	}))
	defer weatherSrv.Close()

	soilSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("property") == "sand" {
			w.Write([]byte(`{"properties":{"layers":[{"depths":[{"values":{"mean":650}}]}]}}`))
			return
		}
		w.Write([]byte(`{"properties":{"layers":[{"depths":[{"values":{}}]}]}}`))
	}))
	defer soilSrv.Close()

	wp := providers.NewWeatherAPIProvider(providers.Options{
		APIKey:     "k",
		BaseURL:    weatherSrv.URL,
		Resilience: resilience.Config{Client: weatherSrv.Client()},
	})
	sc := soil.NewClient(soil.Options{
		BaseURL:    soilSrv.URL,
		Resilience: resilience.Config{Client: soilSrv.Client()},
	})
	sess := NewSession(context.Background(), "e2e", NewPipeline(Config{Weather: wp, Soil: sc, Timeout: 5 * time.Second}))

	pt := geo.Point{Lat: 19.75, Lng: 75.71}
	require.NoError(t, sess.Dispatch(polygon(pt, geo.Point{Lat: 19.8, Lng: 75.71}, geo.Point{Lat: 19.8, Lng: 75.8})))
	sess.Wait()

	v := Render(sess.ID(), sess.Snapshot(), DefaultMapSettings())
	require.NotNil(t, v.Info.Weather)
	assert.Equal(t, "28 °C", v.Info.Weather.Temperature)
	assert.Equal(t, "40 %", v.Info.Weather.Humidity)
	assert.Equal(t, "12 kph", v.Info.Weather.WindSpeed)

	assert.Equal(t, "65.0", v.Info.Soil.Sand)
	assert.Equal(t, NoData, v.Info.Soil.Silt)
	assert.Equal(t, NoData, v.Info.Soil.Clay)
	assert.Equal(t, NoData, v.Info.Soil.PH)

	assert.Equal(t, "19.75000, 75.71000", v.Info.Region[0])
	assert.Greater(t, v.Info.AreaHectares, 0.0)
}
