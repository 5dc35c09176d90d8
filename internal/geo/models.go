package geo

import (
	"time"
)

// QueryKind discriminates the supported query variants.
type QueryKind string

const (
	KindAddressLookup QueryKind = "address"
	KindReverseLookup QueryKind = "reverse"
	KindRoute         QueryKind = "route"
	KindWeatherAt     QueryKind = "weather"
	KindAirAt         QueryKind = "air"
	KindTrafficAt     QueryKind = "traffic"
	KindSuggest       QueryKind = "suggest"

	// KindSearch is the composite dashboard query: geocode a free-text place,
	// then fetch weather, air quality and traffic flow at the resolved point.
	KindSearch QueryKind = "search"
)

// RouteMode selects routing preferences.
type RouteMode string

const (
	ModeFastest       RouteMode = "fastest"
	ModeShortest      RouteMode = "shortest"
	ModeAvoidTolls    RouteMode = "avoid_tolls"
	ModeAvoidHighways RouteMode = "avoid_highways"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Waypoint is one route endpoint: either a free-text name that still needs
// geocoding, or an already resolved coordinate.
type Waypoint struct {
	Name  string `json:"name,omitempty"`
	Point *Point `json:"point,omitempty"`
}

// Resolved reports whether the waypoint already carries coordinates.
func (w Waypoint) Resolved() bool { return w.Point != nil }

// RawQuery is the unvalidated input handed to the orchestrator by the HTTP
// layer. Which fields are meaningful depends on Kind.
type RawQuery struct {
	Kind      QueryKind
	Text      string
	Lat, Lon  float64
	Waypoints []Waypoint
	Mode      RouteMode
	Limit     int
}

// CanonicalKey uniquely identifies a semantically equivalent query.
// Cache keys are built as "<provider>:<canonical>".
type CanonicalKey string

// Query is a validated, normalized query. Produced only by Normalize.
type Query struct {
	Kind      QueryKind    `json:"kind"`
	Text      string       `json:"text,omitempty"`
	Point     *Point       `json:"point,omitempty"`
	Waypoints []Waypoint   `json:"waypoints,omitempty"`
	Mode      RouteMode    `json:"mode,omitempty"`
	Limit     int          `json:"limit,omitempty"`
	Canonical CanonicalKey `json:"canonical"`
}

// GeocodeResult is a resolved place.
type GeocodeResult struct {
	Place string  `json:"place"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// Suggestion is one typeahead completion.
type Suggestion struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// Instruction is a single turn-by-turn guidance step.
type Instruction struct {
	Message      string `json:"message"`
	OffsetMeters int    `json:"routeOffsetInMeters"`
}

// RouteResult is a computed route between waypoints.
type RouteResult struct {
	Mode            RouteMode     `json:"mode"`
	DistanceKm      float64       `json:"distanceKm"`
	TravelTimeMin   float64       `json:"travelTimeMin"`
	TrafficDelayMin float64       `json:"trafficDelayMin"`
	Coords          [][2]float64  `json:"coords"`
	Instructions    []Instruction `json:"instructions,omitempty"`
}

// WeatherReport is the normalized current-weather payload.
type WeatherReport struct {
	TemperatureC float64 `json:"temperatureC"`
	FeelsLikeC   float64 `json:"feelsLikeC"`
	HumidityPct  float64 `json:"humidityPct"`
	WindSpeedMS  float64 `json:"windSpeedMs"`
	CloudsPct    float64 `json:"cloudsPct"`
	Rain1hMm     float64 `json:"rain1hMm"`
	Main         string  `json:"main,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// TrafficFlow summarizes road conditions around a point.
type TrafficFlow struct {
	CurrentSpeedKmh  float64 `json:"currentSpeedKmh"`
	FreeFlowSpeedKmh float64 `json:"freeFlowSpeedKmh"`
	CongestionRatio  float64 `json:"congestionRatio"`
	CongestionLabel  string  `json:"congestionLabel"`
}

// ProviderResult is the outcome of one provider call: either a payload or a
// typed failure, never both.
type ProviderResult struct {
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetchedAt,omitempty"`
	Stale     bool      `json:"stale,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Failure   *Failure  `json:"failure,omitempty"`
}

// OK reports whether the provider produced a payload.
func (r ProviderResult) OK() bool { return r.Failure == nil }

// CompositeAnswer is the merged result of all provider calls for one query.
// Partial is true when at least one consulted provider failed but the query's
// required provider set still succeeded.
type CompositeAnswer struct {
	Query   Query                     `json:"query"`
	Results map[string]ProviderResult `json:"results"`
	Partial bool                      `json:"partial"`
}

// FailedProviders lists the providers that failed, for error reporting.
func (a CompositeAnswer) FailedProviders() []string {
	var names []string
	for name, r := range a.Results {
		if !r.OK() {
			names = append(names, name)
		}
	}
	return names
}

// Result returns the result recorded for a provider, or nil.
func (a CompositeAnswer) Result(provider string) *ProviderResult {
	if r, ok := a.Results[provider]; ok {
		return &r
	}
	return nil
}
