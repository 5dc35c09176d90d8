package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"

	"github.com/rahulxs/geo-dashboard/internal/geo"
)

// TomTomTraffic reads live flow-segment data near a coordinate.
type TomTomTraffic struct {
	apiKey  string
	baseURL string
	cfg     httpConfig
	circuit *gobreaker.CircuitBreaker
}

func NewTomTomTraffic(client *http.Client, apiKey string, opts Options) *TomTomTraffic {
	opts.applyDefaults(defaultTomTomBaseURL)
	return &TomTomTraffic{
		apiKey:  apiKey,
		baseURL: opts.BaseURL,
		cfg: httpConfig{
			client:  client,
			backoff: opts.Backoff,
			limiter: opts.Limiter,
		},
		circuit: newBreaker(geo.ProviderTraffic, opts.Breaker),
	}
}

func (p *TomTomTraffic) Name() string {
	return geo.ProviderTraffic
}

func (p *TomTomTraffic) CircuitState() gobreaker.State {
	return p.circuit.State()
}

func (p *TomTomTraffic) Fetch(ctx context.Context, q geo.Query) (any, error) {
	if q.Kind != geo.KindTrafficAt {
		return nil, fmt.Errorf("%w: traffic provider does not serve %q queries", geo.ErrValidation, q.Kind)
	}
	if q.Point == nil {
		return nil, fmt.Errorf("%w: traffic lookup without coordinates", geo.ErrValidation)
	}
	return p.flow(ctx, *q.Point)
}

type tomtomFlowResponse struct {
	FlowSegmentData struct {
		CurrentSpeed  float64 `json:"currentSpeed"`
		FreeFlowSpeed float64 `json:"freeFlowSpeed"`
	} `json:"flowSegmentData"`
}

func (p *TomTomTraffic) flow(ctx context.Context, pt geo.Point) (geo.TrafficFlow, error) {
	resp, err := doRequestWithResilience(ctx, p.cfg, p.circuit, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/traffic/services/4/flowSegmentData/absolute/10/json?point=%s,%s&key=%s",
			p.baseURL, formatCoord(pt.Lat), formatCoord(pt.Lon), url.QueryEscape(p.apiKey))
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return geo.TrafficFlow{}, err
	}

	var payload tomtomFlowResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return geo.TrafficFlow{}, err
	}

	data := payload.FlowSegmentData
	if data.FreeFlowSpeed <= 0 {
		return geo.TrafficFlow{}, fmt.Errorf("%w: no flow data at %.5f,%.5f", geo.ErrNotFound, pt.Lat, pt.Lon)
	}

	ratio := data.CurrentSpeed / data.FreeFlowSpeed
	return geo.TrafficFlow{
		CurrentSpeedKmh:  data.CurrentSpeed,
		FreeFlowSpeedKmh: data.FreeFlowSpeed,
		CongestionRatio:  roundTo2(ratio),
		CongestionLabel:  congestionLabel(ratio),
	}, nil
}

func congestionLabel(ratio float64) string {
	switch {
	case ratio >= 0.85:
		return "Smooth"
	case ratio >= 0.60:
		return "Moderate"
	default:
		return "Heavy"
	}
}
