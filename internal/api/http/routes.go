package httpapi

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/rahulxs/geo-dashboard/internal/aqi"
	"github.com/rahulxs/geo-dashboard/internal/geo"
	"github.com/rahulxs/geo-dashboard/internal/store"
)

var validate = validator.New()

// Resolver answers normalized dashboard queries. Implemented by
// geo.Orchestrator; test servers substitute fakes.
type Resolver interface {
	Resolve(ctx context.Context, raw geo.RawQuery) (geo.CompositeAnswer, error)
}

// Server bundles the handler dependencies.
type Server struct {
	resolver Resolver
	history  store.HistoryStore
	features store.FeatureFinder
	timeout  time.Duration
}

// NewServer builds the handler set. history and features may be nil; the
// endpoints backed by them then answer 503.
func NewServer(resolver Resolver, history store.HistoryStore, features store.FeatureFinder, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Server{
		resolver: resolver,
		history:  history,
		features: features,
		timeout:  timeout,
	}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	v1 := app.Group("/api/v1")

	v1.Get("/search", s.handleSearch)
	v1.Get("/reverse", s.handleReverse)
	v1.Get("/suggest", s.handleSuggest)
	v1.Get("/route", s.handleRoute)
	v1.Get("/weather", s.handleWeather)
	v1.Get("/recent", s.handleRecent)
	v1.Get("/stats", s.handleStats)
	v1.Get("/export", s.handleExport)
	v1.Get("/nearest", s.handleNearest)
}

// mapError translates resolver failures to HTTP statuses.
func mapError(err error) error {
	switch {
	case errors.Is(err, geo.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, geo.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, geo.ErrDeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, err.Error())
	case errors.Is(err, geo.ErrAllProvidersFailed):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
}

// answerJSON renders a composite answer: one key per provider, each either
// the payload or the typed failure.
func answerJSON(ans geo.CompositeAnswer) fiber.Map {
	out := fiber.Map{"partial": ans.Partial}
	if failed := ans.FailedProviders(); len(failed) > 0 {
		out["failed"] = failed
	}
	for name, res := range ans.Results {
		if res.OK() {
			out[name] = fiber.Map{
				"data":       res.Payload,
				"fetched_at": res.FetchedAt,
				"stale":      res.Stale,
			}
		} else {
			out[name] = fiber.Map{"error": res.Failure}
		}
	}
	return out
}

type searchQuery struct {
	Q string `validate:"required,min=1"`
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	req := searchQuery{Q: c.Query("q")}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.timeout)
	defer cancel()

	ans, err := s.resolver.Resolve(ctx, geo.RawQuery{Kind: geo.KindSearch, Text: req.Q})
	if err != nil {
		return mapError(err)
	}

	s.saveSearch(req.Q, ans)
	return c.JSON(answerJSON(ans))
}

// saveSearch records a successful search, best effort.
func (s *Server) saveSearch(query string, ans geo.CompositeAnswer) {
	if s.history == nil {
		return
	}

	geoRes := ans.Result(geo.ProviderGeocoder)
	if geoRes == nil || !geoRes.OK() {
		return
	}
	loc, ok := geoRes.Payload.(geo.GeocodeResult)
	if !ok {
		return
	}

	rec := store.SearchRecord{
		QueryText: query,
		PlaceName: loc.Place,
		Lat:       loc.Lat,
		Lon:       loc.Lon,
	}
	if res := ans.Result(geo.ProviderWeather); res != nil && res.OK() {
		if w, ok := res.Payload.(geo.WeatherReport); ok {
			rec.TemperatureC = &w.TemperatureC
			rec.HumidityPct = &w.HumidityPct
			rec.WindSpeedMS = &w.WindSpeedMS
		}
	}
	if res := ans.Result(geo.ProviderAir); res != nil && res.OK() {
		if a, ok := res.Payload.(aqi.Report); ok {
			rec.AQI = a.AQI
		}
	}
	if res := ans.Result(geo.ProviderTraffic); res != nil && res.OK() {
		if t, ok := res.Payload.(geo.TrafficFlow); ok {
			rec.TrafficSpeedKmh = &t.CurrentSpeedKmh
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.Save(ctx, rec); err != nil {
			slog.Warn("saving search history failed", "error", err)
		}
	}()
}

func (s *Server) handleReverse(c *fiber.Ctx) error {
	lat, lon, err := parsePointQuery(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.timeout)
	defer cancel()

	ans, err := s.resolver.Resolve(ctx, geo.RawQuery{Kind: geo.KindReverseLookup, Lat: lat, Lon: lon})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(answerJSON(ans))
}

type suggestQuery struct {
	Q     string `validate:"required,min=1"`
	Limit int    `validate:"min=0,max=10"`
}

func (s *Server) handleSuggest(c *fiber.Ctx) error {
	req := suggestQuery{Q: c.Query("q"), Limit: c.QueryInt("limit")}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.timeout)
	defer cancel()

	ans, err := s.resolver.Resolve(ctx, geo.RawQuery{Kind: geo.KindSuggest, Text: req.Q, Limit: req.Limit})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(answerJSON(ans))
}

type routeQuery struct {
	From string `validate:"required,min=1"`
	To   string `validate:"required,min=1"`
	Mode string `validate:"omitempty,oneof=fastest shortest avoid_tolls avoid_highways"`
}

func (s *Server) handleRoute(c *fiber.Ctx) error {
	req := routeQuery{
		From: c.Query("from"),
		To:   c.Query("to"),
		Mode: c.Query("mode"),
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.timeout)
	defer cancel()

	ans, err := s.resolver.Resolve(ctx, geo.RawQuery{
		Kind:      geo.KindRoute,
		Waypoints: []geo.Waypoint{parseWaypoint(req.From), parseWaypoint(req.To)},
		Mode:      geo.RouteMode(req.Mode),
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(answerJSON(ans))
}

// parseWaypoint treats "lat,lon" literals as coordinates and anything else
// as a place name for the geocoder.
func parseWaypoint(s string) geo.Waypoint {
	parts := strings.Split(s, ",")
	if len(parts) == 2 {
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errLat == nil && errLon == nil {
			return geo.Waypoint{Point: &geo.Point{Lat: lat, Lon: lon}}
		}
	}
	return geo.Waypoint{Name: s}
}

func (s *Server) handleWeather(c *fiber.Ctx) error {
	lat, lon, err := parsePointQuery(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.timeout)
	defer cancel()

	ans, err := s.resolver.Resolve(ctx, geo.RawQuery{Kind: geo.KindWeatherAt, Lat: lat, Lon: lon})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(answerJSON(ans))
}

type recentQuery struct {
	Limit int `validate:"min=0,max=500"`
}

func (s *Server) handleRecent(c *fiber.Ctx) error {
	if s.history == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "history store not configured")
	}

	req := recentQuery{Limit: c.QueryInt("limit")}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	records, err := s.history.Recent(c.Context(), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch history")
	}
	return c.JSON(fiber.Map{"records": records})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	if s.history == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "history store not configured")
	}

	stats, err := s.history.TodayStats(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch stats")
	}
	return c.JSON(stats)
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	if s.history == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "history store not configured")
	}

	limit := c.QueryInt("limit")
	if limit <= 0 {
		limit = 200
	}
	records, err := s.history.Recent(c.Context(), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch history")
	}

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{
		"created_at", "query_text", "place_name", "lat", "lon",
		"temperature_c", "humidity_pct", "wind_speed_ms", "aqi", "traffic_speed_kmh",
	})
	for _, rec := range records {
		_ = w.Write([]string{
			rec.CreatedAt.Format(time.RFC3339),
			rec.QueryText,
			rec.PlaceName,
			strconv.FormatFloat(rec.Lat, 'f', -1, 64),
			strconv.FormatFloat(rec.Lon, 'f', -1, 64),
			csvFloat(rec.TemperatureC),
			csvFloat(rec.HumidityPct),
			csvFloat(rec.WindSpeedMS),
			csvInt(rec.AQI),
			csvFloat(rec.TrafficSpeedKmh),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to build export")
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="geo_history.csv"`)
	return c.SendString(buf.String())
}

func (s *Server) handleNearest(c *fiber.Ctx) error {
	if s.features == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "feature store not configured")
	}

	lat, lon, err := parsePointQuery(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	feature, err := s.features.NearestFeature(c.Context(), lat, lon)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no features stored")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch nearest feature")
	}
	return c.JSON(feature)
}

// parsePointQuery reads required lat/lon query parameters.
func parsePointQuery(c *fiber.Ctx) (float64, float64, error) {
	latStr := c.Query("lat")
	lonStr := c.Query("lon")
	if latStr == "" || lonStr == "" {
		return 0, 0, errors.New("lat and lon query parameters are required")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lat: %w", err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lon: %w", err)
	}
	return lat, lon, nil
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func csvInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
