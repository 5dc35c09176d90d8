package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"

	"github.com/rahulxs/geo-dashboard/internal/aqi"
	"github.com/rahulxs/geo-dashboard/internal/geo"
)

const defaultOpenWeatherBaseURL = "https://api.openweathermap.org"

// OpenWeather serves current weather conditions for a coordinate.
type OpenWeather struct {
	apiKey  string
	baseURL string
	cfg     httpConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeather(client *http.Client, apiKey string, opts Options) *OpenWeather {
	opts.applyDefaults(defaultOpenWeatherBaseURL)
	return &OpenWeather{
		apiKey:  apiKey,
		baseURL: opts.BaseURL,
		cfg: httpConfig{
			client:  client,
			backoff: opts.Backoff,
			limiter: opts.Limiter,
		},
		circuit: newBreaker(geo.ProviderWeather, opts.Breaker),
	}
}

func (p *OpenWeather) Name() string {
	return geo.ProviderWeather
}

func (p *OpenWeather) CircuitState() gobreaker.State {
	return p.circuit.State()
}

func (p *OpenWeather) Fetch(ctx context.Context, q geo.Query) (any, error) {
	if q.Kind != geo.KindWeatherAt {
		return nil, fmt.Errorf("%w: weather provider does not serve %q queries", geo.ErrValidation, q.Kind)
	}
	if q.Point == nil {
		return nil, fmt.Errorf("%w: weather lookup without coordinates", geo.ErrValidation)
	}
	return p.current(ctx, *q.Point)
}

type openWeatherResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
}

func (p *OpenWeather) current(ctx context.Context, pt geo.Point) (geo.WeatherReport, error) {
	resp, err := doRequestWithResilience(ctx, p.cfg, p.circuit, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/data/2.5/weather?lat=%s&lon=%s&units=metric&appid=%s",
			p.baseURL, formatCoord(pt.Lat), formatCoord(pt.Lon), url.QueryEscape(p.apiKey))
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return geo.WeatherReport{}, err
	}

	var payload openWeatherResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return geo.WeatherReport{}, err
	}

	report := geo.WeatherReport{
		TemperatureC: payload.Main.Temp,
		FeelsLikeC:   payload.Main.FeelsLike,
		HumidityPct:  payload.Main.Humidity,
		WindSpeedMS:  payload.Wind.Speed,
		CloudsPct:    payload.Clouds.All,
		Rain1hMm:     payload.Rain.OneHour,
	}
	if len(payload.Weather) > 0 {
		report.Main = payload.Weather[0].Main
		report.Description = payload.Weather[0].Description
	}
	return report, nil
}

// OpenWeatherAir serves air quality for a coordinate. Pollutant
// concentrations are converted to the 0-500 US index scale.
type OpenWeatherAir struct {
	apiKey  string
	baseURL string
	cfg     httpConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherAir(client *http.Client, apiKey string, opts Options) *OpenWeatherAir {
	opts.applyDefaults(defaultOpenWeatherBaseURL)
	return &OpenWeatherAir{
		apiKey:  apiKey,
		baseURL: opts.BaseURL,
		cfg: httpConfig{
			client:  client,
			backoff: opts.Backoff,
			limiter: opts.Limiter,
		},
		circuit: newBreaker(geo.ProviderAir, opts.Breaker),
	}
}

func (p *OpenWeatherAir) Name() string {
	return geo.ProviderAir
}

func (p *OpenWeatherAir) CircuitState() gobreaker.State {
	return p.circuit.State()
}

func (p *OpenWeatherAir) Fetch(ctx context.Context, q geo.Query) (any, error) {
	if q.Kind != geo.KindAirAt {
		return nil, fmt.Errorf("%w: air provider does not serve %q queries", geo.ErrValidation, q.Kind)
	}
	if q.Point == nil {
		return nil, fmt.Errorf("%w: air lookup without coordinates", geo.ErrValidation)
	}
	return p.pollution(ctx, *q.Point)
}

type airPollutionResponse struct {
	List []struct {
		Components map[string]float64 `json:"components"`
	} `json:"list"`
}

func (p *OpenWeatherAir) pollution(ctx context.Context, pt geo.Point) (aqi.Report, error) {
	resp, err := doRequestWithResilience(ctx, p.cfg, p.circuit, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/data/2.5/air_pollution?lat=%s&lon=%s&appid=%s",
			p.baseURL, formatCoord(pt.Lat), formatCoord(pt.Lon), url.QueryEscape(p.apiKey))
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return aqi.Report{}, err
	}

	var payload airPollutionResponse
	if err := decodeJSON(resp, &payload); err != nil {
		return aqi.Report{}, err
	}
	if len(payload.List) == 0 {
		return aqi.Report{}, fmt.Errorf("%w: no air data at %.5f,%.5f", geo.ErrNotFound, pt.Lat, pt.Lon)
	}

	return aqi.FromComponents(payload.List[0].Components), nil
}
