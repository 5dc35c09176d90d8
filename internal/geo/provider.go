package geo

import "context"

// Canonical provider names used in cache keys and composite answers.
const (
	ProviderGeocoder = "geocoder"
	ProviderRouter   = "router"
	ProviderWeather  = "weather"
	ProviderAir      = "air"
	ProviderTraffic  = "traffic"
)

// Provider is the single capability all upstream clients share. Fetch handles
// the query kinds the provider supports and returns the typed payload for
// that kind (GeocodeResult, RouteResult, WeatherReport, ...). Rate limiting,
// retries and circuit breaking live inside the implementation; the
// orchestrator only sees a payload or a classifiable error.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, q Query) (any, error)
}

// Providers bundles the clients the orchestrator dispatches to, selected by
// query kind. Weather, Air and Traffic are optional; a nil provider is simply
// never consulted.
type Providers struct {
	Geocoder Provider
	Router   Provider
	Weather  Provider
	Air      Provider
	Traffic  Provider
}
