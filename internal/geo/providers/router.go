package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/rahulxs/geo-dashboard/internal/geo"
)

// maxInstructions caps the turn-by-turn guidance returned per route.
const maxInstructions = 8

// TomTomRouter computes routes between resolved waypoints through the TomTom
// Routing API. Every waypoint must carry coordinates before Fetch is called;
// textual waypoints are resolved by the orchestrator first.
type TomTomRouter struct {
	apiKey  string
	baseURL string
	cfg     httpConfig
	circuit *gobreaker.CircuitBreaker
}

func NewTomTomRouter(client *http.Client, apiKey string, opts Options) *TomTomRouter {
	opts.applyDefaults(defaultTomTomBaseURL)
	return &TomTomRouter{
		apiKey:  apiKey,
		baseURL: opts.BaseURL,
		cfg: httpConfig{
			client:  client,
			backoff: opts.Backoff,
			limiter: opts.Limiter,
		},
		circuit: newBreaker(geo.ProviderRouter, opts.Breaker),
	}
}

func (p *TomTomRouter) Name() string {
	return geo.ProviderRouter
}

func (p *TomTomRouter) CircuitState() gobreaker.State {
	return p.circuit.State()
}

func (p *TomTomRouter) Fetch(ctx context.Context, q geo.Query) (any, error) {
	if q.Kind != geo.KindRoute {
		return nil, fmt.Errorf("%w: router does not serve %q queries", geo.ErrValidation, q.Kind)
	}
	return p.route(ctx, q)
}

type tomtomRouteResponse struct {
	Routes []struct {
		Summary struct {
			LengthInMeters        float64 `json:"lengthInMeters"`
			TravelTimeInSeconds   float64 `json:"travelTimeInSeconds"`
			TrafficDelayInSeconds float64 `json:"trafficDelayInSeconds"`
		} `json:"summary"`
		Legs []struct {
			Points []struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"points"`
		} `json:"legs"`
		Guidance struct {
			Instructions []struct {
				Message             string `json:"message"`
				RouteOffsetInMeters int    `json:"routeOffsetInMeters"`
			} `json:"instructions"`
		} `json:"guidance"`
	} `json:"routes"`
}

func (p *TomTomRouter) route(ctx context.Context, q geo.Query) (geo.RouteResult, error) {
	locations, err := routeLocations(q.Waypoints)
	if err != nil {
		return geo.RouteResult{}, err
	}

	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("traffic", "true")
	params.Set("travelMode", "car")
	params.Set("instructionsType", "text")
	params.Set("language", "en-GB")
	switch q.Mode {
	case geo.ModeShortest:
		params.Set("routeType", "shortest")
	case geo.ModeAvoidTolls:
		params.Set("routeType", "fastest")
		params.Set("avoid", "tollRoads")
	case geo.ModeAvoidHighways:
		params.Set("routeType", "fastest")
		params.Set("avoid", "motorways")
	default:
		params.Set("routeType", "fastest")
	}

	resp, err := doRequestWithResilience(ctx, p.cfg, p.circuit, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/routing/1/calculateRoute/%s/json?%s",
			p.baseURL, locations, params.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return geo.RouteResult{}, err
	}

	var payload tomtomRouteResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return geo.RouteResult{}, err
	}
	if len(payload.Routes) == 0 {
		return geo.RouteResult{}, fmt.Errorf("%w: no route found", geo.ErrNotFound)
	}

	route := payload.Routes[0]
	result := geo.RouteResult{
		Mode:            q.Mode,
		DistanceKm:      roundTo2(route.Summary.LengthInMeters / 1000),
		TravelTimeMin:   roundTo1(route.Summary.TravelTimeInSeconds / 60),
		TrafficDelayMin: roundTo1(route.Summary.TrafficDelayInSeconds / 60),
	}
	for _, leg := range route.Legs {
		for _, pt := range leg.Points {
			result.Coords = append(result.Coords, [2]float64{pt.Latitude, pt.Longitude})
		}
	}
	for i, ins := range route.Guidance.Instructions {
		if i >= maxInstructions {
			break
		}
		result.Instructions = append(result.Instructions, geo.Instruction{
			Message:      ins.Message,
			OffsetMeters: ins.RouteOffsetInMeters,
		})
	}
	return result, nil
}

// routeLocations joins resolved waypoints into the colon-separated
// "lat,lon:lat,lon" path segment the routing API expects.
func routeLocations(waypoints []geo.Waypoint) (string, error) {
	if len(waypoints) < 2 {
		return "", fmt.Errorf("%w: route needs at least two waypoints", geo.ErrValidation)
	}
	parts := make([]string, 0, len(waypoints))
	for _, wp := range waypoints {
		if !wp.Resolved() {
			return "", fmt.Errorf("%w: unresolved waypoint %q", geo.ErrValidation, wp.Name)
		}
		parts = append(parts, fmt.Sprintf("%s,%s", formatCoord(wp.Point.Lat), formatCoord(wp.Point.Lon)))
	}
	return strings.Join(parts, ":"), nil
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}
