// Package store persists search history and point-of-interest features.
// The Postgres implementation backs production; the in-memory one backs
// tests and DB-less runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = errors.New("store: not found")

// SearchRecord is one saved dashboard search. Measurement fields are
// pointers because a partial answer may lack any of them.
type SearchRecord struct {
	ID              int64      `json:"id"`
	QueryText       string     `json:"query_text"`
	PlaceName       string     `json:"place_name"`
	Lat             float64    `json:"lat"`
	Lon             float64    `json:"lon"`
	TemperatureC    *float64   `json:"temperature_c"`
	HumidityPct     *float64   `json:"humidity_pct"`
	WindSpeedMS     *float64   `json:"wind_speed_ms"`
	AQI             *int       `json:"aqi"`
	TrafficSpeedKmh *float64   `json:"traffic_speed_kmh"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TodayStats aggregates searches made since local midnight.
type TodayStats struct {
	Searches    int      `json:"n"`
	AvgTempC    *float64 `json:"avg_temp"`
	AvgAQI      *float64 `json:"avg_aqi"`
	MaxAQI      *int     `json:"max_aqi"`
	AvgSpeedKmh *float64 `json:"avg_speed"`
}

// Feature is a stored point of interest.
type Feature struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

// HistoryStore records searches and serves the history endpoints.
type HistoryStore interface {
	Save(ctx context.Context, rec SearchRecord) error
	Recent(ctx context.Context, limit int) ([]SearchRecord, error)
	TodayStats(ctx context.Context) (TodayStats, error)
}

// FeatureFinder answers nearest-feature lookups.
type FeatureFinder interface {
	NearestFeature(ctx context.Context, lat, lon float64) (Feature, error)
}
