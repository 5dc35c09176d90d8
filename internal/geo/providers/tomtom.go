package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sony/gobreaker"

	"github.com/rahulxs/geo-dashboard/internal/geo"
)

const defaultTomTomBaseURL = "https://api.tomtom.com"

// TomTomGeocoder resolves free-text addresses and coordinates through the
// TomTom Search API. It serves address, reverse and typeahead queries.
type TomTomGeocoder struct {
	apiKey  string
	baseURL string
	cfg     httpConfig
	circuit *gobreaker.CircuitBreaker
}

func NewTomTomGeocoder(client *http.Client, apiKey string, opts Options) *TomTomGeocoder {
	opts.applyDefaults(defaultTomTomBaseURL)
	return &TomTomGeocoder{
		apiKey:  apiKey,
		baseURL: opts.BaseURL,
		cfg: httpConfig{
			client:  client,
			backoff: opts.Backoff,
			limiter: opts.Limiter,
		},
		circuit: newBreaker(geo.ProviderGeocoder, opts.Breaker),
	}
}

func (p *TomTomGeocoder) Name() string {
	return geo.ProviderGeocoder
}

// CircuitState exposes the breaker state for health reporting.
func (p *TomTomGeocoder) CircuitState() gobreaker.State {
	return p.circuit.State()
}

func (p *TomTomGeocoder) Fetch(ctx context.Context, q geo.Query) (any, error) {
	switch q.Kind {
	case geo.KindAddressLookup, geo.KindSearch:
		return p.geocode(ctx, q.Text)
	case geo.KindReverseLookup:
		if q.Point == nil {
			return nil, fmt.Errorf("%w: reverse lookup without coordinates", geo.ErrValidation)
		}
		return p.reverse(ctx, *q.Point)
	case geo.KindSuggest:
		return p.suggest(ctx, q.Text, q.Limit)
	default:
		return nil, fmt.Errorf("%w: geocoder does not serve %q queries", geo.ErrValidation, q.Kind)
	}
}

type tomtomSearchResponse struct {
	Results []struct {
		Position struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"position"`
		Address struct {
			FreeformAddress string `json:"freeformAddress"`
			Municipality    string `json:"municipality"`
		} `json:"address"`
	} `json:"results"`
}

func (p *TomTomGeocoder) geocode(ctx context.Context, text string) (geo.GeocodeResult, error) {
	resp, err := doRequestWithResilience(ctx, p.cfg, p.circuit, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/search/2/geocode/%s.json?key=%s&limit=1",
			p.baseURL, url.PathEscape(text), url.QueryEscape(p.apiKey))
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return geo.GeocodeResult{}, err
	}

	var payload tomtomSearchResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return geo.GeocodeResult{}, err
	}
	if len(payload.Results) == 0 {
		return geo.GeocodeResult{}, fmt.Errorf("%w: no match for %q", geo.ErrNotFound, text)
	}

	top := payload.Results[0]
	place := top.Address.FreeformAddress
	if place == "" {
		place = top.Address.Municipality
	}
	return geo.GeocodeResult{
		Place: place,
		Lat:   top.Position.Lat,
		Lon:   top.Position.Lon,
	}, nil
}

type tomtomReverseResponse struct {
	Addresses []struct {
		Address struct {
			FreeformAddress string `json:"freeformAddress"`
			Municipality    string `json:"municipality"`
		} `json:"address"`
	} `json:"addresses"`
}

func (p *TomTomGeocoder) reverse(ctx context.Context, pt geo.Point) (geo.GeocodeResult, error) {
	resp, err := doRequestWithResilience(ctx, p.cfg, p.circuit, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/search/2/reverseGeocode/%s,%s.json?key=%s",
			p.baseURL, formatCoord(pt.Lat), formatCoord(pt.Lon), url.QueryEscape(p.apiKey))
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return geo.GeocodeResult{}, err
	}

	var payload tomtomReverseResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return geo.GeocodeResult{}, err
	}
	if len(payload.Addresses) == 0 {
		return geo.GeocodeResult{}, fmt.Errorf("%w: no address at %.5f,%.5f", geo.ErrNotFound, pt.Lat, pt.Lon)
	}

	addr := payload.Addresses[0].Address
	place := addr.FreeformAddress
	if place == "" {
		place = addr.Municipality
	}
	return geo.GeocodeResult{Place: place, Lat: pt.Lat, Lon: pt.Lon}, nil
}

func (p *TomTomGeocoder) suggest(ctx context.Context, text string, limit int) ([]geo.Suggestion, error) {
	resp, err := doRequestWithResilience(ctx, p.cfg, p.circuit, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/search/2/search/%s.json?key=%s&typeahead=true&limit=%d",
			p.baseURL, url.PathEscape(text), url.QueryEscape(p.apiKey), limit)
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}

	var payload tomtomSearchResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}

	suggestions := make([]geo.Suggestion, 0, len(payload.Results))
	for _, r := range payload.Results {
		label := r.Address.FreeformAddress
		if label == "" {
			label = r.Address.Municipality
		}
		if label == "" {
			continue
		}
		suggestions = append(suggestions, geo.Suggestion{
			Label: label,
			Lat:   r.Position.Lat,
			Lon:   r.Position.Lon,
		})
	}
	return suggestions, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
