package providers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahulxs/geo-dashboard/internal/aqi"
	"github.com/rahulxs/geo-dashboard/internal/geo"
)

// roundTripFunc fakes the upstream without a listener.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func fakeClient(f roundTripFunc) *http.Client {
	return &http.Client{Transport: f}
}

func fastOpts() Options {
	return Options{
		Backoff: BackoffConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
	}
}

const geocodeBody = `{"results":[{"position":{"lat":51.52377,"lon":-0.15856},
	"address":{"freeformAddress":"221B Baker Street, London"}}]}`

func TestGeocoderParsesResult(t *testing.T) {
	var gotPath string
	client := fakeClient(func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		return jsonResponse(http.StatusOK, geocodeBody), nil
	})

	p := NewTomTomGeocoder(client, "test-key", fastOpts())
	q, err := geo.Normalize(geo.RawQuery{Kind: geo.KindAddressLookup, Text: "221B Baker Street"}, 0)
	require.NoError(t, err)

	payload, err := p.Fetch(context.Background(), q)
	require.NoError(t, err)

	loc, ok := payload.(geo.GeocodeResult)
	require.True(t, ok)
	assert.Equal(t, "221B Baker Street, London", loc.Place)
	assert.InDelta(t, 51.52377, loc.Lat, 1e-9)
	assert.Contains(t, gotPath, "/search/2/geocode/")
}

func TestGeocoderEmptyResultIsNotFound(t *testing.T) {
	client := fakeClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"results":[]}`), nil
	})

	p := NewTomTomGeocoder(client, "test-key", fastOpts())
	q, err := geo.Normalize(geo.RawQuery{Kind: geo.KindAddressLookup, Text: "nowhere"}, 0)
	require.NoError(t, err)

	_, err = p.Fetch(context.Background(), q)
	assert.ErrorIs(t, err, geo.ErrNotFound)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := fakeClient(func(*http.Request) (*http.Response, error) {
		if calls.Add(1) < 3 {
			return jsonResponse(http.StatusInternalServerError, `{}`), nil
		}
		return jsonResponse(http.StatusOK, geocodeBody), nil
	})

	p := NewTomTomGeocoder(client, "test-key", fastOpts())
	q, err := geo.Normalize(geo.RawQuery{Kind: geo.KindAddressLookup, Text: "baker street"}, 0)
	require.NoError(t, err)

	_, err = p.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetriesExhaustedSurfaceUpstreamError(t *testing.T) {
	var calls atomic.Int32
	client := fakeClient(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusBadGateway, `{}`), nil
	})

	opts := fastOpts()
	opts.Backoff.MaxRetries = 1
	p := NewTomTomGeocoder(client, "test-key", opts)
	q, err := geo.Normalize(geo.RawQuery{Kind: geo.KindAddressLookup, Text: "baker street"}, 0)
	require.NoError(t, err)

	_, err = p.Fetch(context.Background(), q)
	assert.ErrorIs(t, err, geo.ErrUpstream)
	assert.EqualValues(t, 2, calls.Load(), "initial attempt plus one retry")
}

func TestRateLimitedUpstream(t *testing.T) {
	client := fakeClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests, `{}`), nil
	})

	opts := fastOpts()
	opts.Backoff.MaxRetries = -1
	p := NewTomTomGeocoder(client, "test-key", opts)
	q, err := geo.Normalize(geo.RawQuery{Kind: geo.KindAddressLookup, Text: "baker street"}, 0)
	require.NoError(t, err)

	_, err = p.Fetch(context.Background(), q)
	assert.ErrorIs(t, err, geo.ErrUpstreamRateLimited)
}

func TestBreakerTripsAndFailsFast(t *testing.T) {
	var calls atomic.Int32
	client := fakeClient(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusInternalServerError, `{}`), nil
	})

	opts := fastOpts()
	opts.Backoff.MaxRetries = -1
	opts.Breaker = BreakerConfig{ConsecutiveFailures: 3, Cooldown: time.Hour}
	p := NewTomTomGeocoder(client, "test-key", opts)
	q, err := geo.Normalize(geo.RawQuery{Kind: geo.KindAddressLookup, Text: "baker street"}, 0)
	require.NoError(t, err)

	// Three consecutive failures trip the breaker.
	for i := 0; i < 3; i++ {
		_, err := p.Fetch(context.Background(), q)
		assert.ErrorIs(t, err, geo.ErrUpstream)
	}
	require.EqualValues(t, 3, calls.Load())

	// Open breaker: fail fast, no network.
	_, err = p.Fetch(context.Background(), q)
	assert.ErrorIs(t, err, geo.ErrCircuitOpen)
	assert.EqualValues(t, 3, calls.Load(), "open breaker must not touch the network")
}

func TestBreakerHalfOpenProbeRecovers(t *testing.T) {
	var healthy atomic.Bool
	var calls atomic.Int32
	client := fakeClient(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		if healthy.Load() {
			return jsonResponse(http.StatusOK, geocodeBody), nil
		}
		return jsonResponse(http.StatusInternalServerError, `{}`), nil
	})

	opts := fastOpts()
	opts.Backoff.MaxRetries = -1
	opts.Breaker = BreakerConfig{ConsecutiveFailures: 2, Cooldown: 50 * time.Millisecond}
	p := NewTomTomGeocoder(client, "test-key", opts)
	q, err := geo.Normalize(geo.RawQuery{Kind: geo.KindAddressLookup, Text: "baker street"}, 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _ = p.Fetch(context.Background(), q)
	}
	_, err = p.Fetch(context.Background(), q)
	require.ErrorIs(t, err, geo.ErrCircuitOpen)

	healthy.Store(true)
	time.Sleep(80 * time.Millisecond) // past cooldown, breaker half-open

	_, err = p.Fetch(context.Background(), q)
	require.NoError(t, err, "successful probe closes the breaker")

	_, err = p.Fetch(context.Background(), q)
	assert.NoError(t, err)
}

func TestRouterBuildsRouteRequest(t *testing.T) {
	var gotURL string
	client := fakeClient(func(req *http.Request) (*http.Response, error) {
		gotURL = req.URL.String()
		return jsonResponse(http.StatusOK, `{"routes":[{
			"summary":{"lengthInMeters":4210,"travelTimeInSeconds":780,"trafficDelayInSeconds":66},
			"legs":[{"points":[{"latitude":51.5,"longitude":-0.1},{"latitude":51.6,"longitude":-0.2}]}],
			"guidance":{"instructions":[
				{"message":"Head north","routeOffsetInMeters":0},
				{"message":"Turn left","routeOffsetInMeters":900}
			]}
		}]}`), nil
	})

	p := NewTomTomRouter(client, "test-key", fastOpts())
	a := geo.Point{Lat: 51.5, Lon: -0.1}
	b := geo.Point{Lat: 51.6, Lon: -0.2}
	q, err := geo.Normalize(geo.RawQuery{
		Kind:      geo.KindRoute,
		Mode:      geo.ModeAvoidTolls,
		Waypoints: []geo.Waypoint{{Point: &a}, {Point: &b}},
	}, 0)
	require.NoError(t, err)

	payload, err := p.Fetch(context.Background(), q)
	require.NoError(t, err)

	route, ok := payload.(geo.RouteResult)
	require.True(t, ok)
	assert.Equal(t, 4.21, route.DistanceKm)
	assert.Equal(t, 13.0, route.TravelTimeMin)
	assert.Equal(t, 1.1, route.TrafficDelayMin)
	assert.Len(t, route.Coords, 2)
	assert.Len(t, route.Instructions, 2)

	assert.Contains(t, gotURL, "/routing/1/calculateRoute/51.5,-0.1:51.6,-0.2/json")
	assert.Contains(t, gotURL, "avoid=tollRoads")
}

func TestRouterCapsInstructions(t *testing.T) {
	var instructions strings.Builder
	for i := 0; i < 12; i++ {
		if i > 0 {
			instructions.WriteString(",")
		}
		instructions.WriteString(`{"message":"step","routeOffsetInMeters":1}`)
	}
	client := fakeClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"routes":[{
			"summary":{"lengthInMeters":100,"travelTimeInSeconds":60,"trafficDelayInSeconds":0},
			"legs":[],"guidance":{"instructions":[`+instructions.String()+`]}}]}`), nil
	})

	p := NewTomTomRouter(client, "test-key", fastOpts())
	a := geo.Point{Lat: 1, Lon: 2}
	b := geo.Point{Lat: 3, Lon: 4}
	q, err := geo.Normalize(geo.RawQuery{
		Kind:      geo.KindRoute,
		Waypoints: []geo.Waypoint{{Point: &a}, {Point: &b}},
	}, 0)
	require.NoError(t, err)

	payload, err := p.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, payload.(geo.RouteResult).Instructions, maxInstructions)
}

func TestTrafficCongestionLabels(t *testing.T) {
	cases := []struct {
		current, freeFlow float64
		label             string
	}{
		{90, 100, "Smooth"},
		{70, 100, "Moderate"},
		{30, 100, "Heavy"},
	}
	for _, tc := range cases {
		client := fakeClient(func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK,
				`{"flowSegmentData":{"currentSpeed":`+formatCoord(tc.current)+
					`,"freeFlowSpeed":`+formatCoord(tc.freeFlow)+`}}`), nil
		})

		p := NewTomTomTraffic(client, "test-key", fastOpts())
		q, err := geo.Normalize(geo.RawQuery{Kind: geo.KindTrafficAt, Lat: 51.5, Lon: -0.1}, 0)
		require.NoError(t, err)

		payload, err := p.Fetch(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, tc.label, payload.(geo.TrafficFlow).CongestionLabel)
	}
}

func TestWeatherParsesMetricUnits(t *testing.T) {
	var gotQuery string
	client := fakeClient(func(req *http.Request) (*http.Response, error) {
		gotQuery = req.URL.RawQuery
		return jsonResponse(http.StatusOK, `{
			"main":{"temp":18.4,"feels_like":17.9,"humidity":62},
			"wind":{"speed":3.1},"clouds":{"all":40},"rain":{"1h":0.2},
			"weather":[{"main":"Rain","description":"light rain"}]}`), nil
	})

	p := NewOpenWeather(client, "test-key", fastOpts())
	q, err := geo.Normalize(geo.RawQuery{Kind: geo.KindWeatherAt, Lat: 52.52, Lon: 13.405}, 0)
	require.NoError(t, err)

	payload, err := p.Fetch(context.Background(), q)
	require.NoError(t, err)

	w, ok := payload.(geo.WeatherReport)
	require.True(t, ok)
	assert.Equal(t, 18.4, w.TemperatureC)
	assert.Equal(t, "light rain", w.Description)
	assert.Contains(t, gotQuery, "units=metric")
}

func TestAirComputesIndex(t *testing.T) {
	client := fakeClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"list":[{"components":{"pm2_5":35.4,"pm10":20,"no2":10}}]}`), nil
	})

	p := NewOpenWeatherAir(client, "test-key", fastOpts())
	q, err := geo.Normalize(geo.RawQuery{Kind: geo.KindAirAt, Lat: 52.52, Lon: 13.405}, 0)
	require.NoError(t, err)

	payload, err := p.Fetch(context.Background(), q)
	require.NoError(t, err)

	report, ok := payload.(aqi.Report)
	require.True(t, ok)
	require.NotNil(t, report.AQI)
	assert.Equal(t, 100, *report.AQI)
	assert.Equal(t, "pm2_5", report.Dominant)
}

func TestFetchRejectsUnsupportedKind(t *testing.T) {
	p := NewTomTomRouter(fakeClient(func(*http.Request) (*http.Response, error) {
		t.Error("no request expected")
		return nil, nil
	}), "test-key", fastOpts())

	_, err := p.Fetch(context.Background(), geo.Query{Kind: geo.KindWeatherAt})
	assert.ErrorIs(t, err, geo.ErrValidation)
}

func TestFetchRequiresCoordinates(t *testing.T) {
	p := NewOpenWeather(fakeClient(func(*http.Request) (*http.Response, error) {
		t.Error("no request expected")
		return nil, nil
	}), "test-key", fastOpts())

	_, err := p.Fetch(context.Background(), geo.Query{Kind: geo.KindWeatherAt})
	assert.ErrorIs(t, err, geo.ErrValidation)
}
