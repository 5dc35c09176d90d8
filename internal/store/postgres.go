package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS geo_search_history (
	id                 BIGSERIAL PRIMARY KEY,
	query_text         TEXT NOT NULL,
	place_name         TEXT NOT NULL,
	lat                DOUBLE PRECISION NOT NULL,
	lon                DOUBLE PRECISION NOT NULL,
	temperature_c      DOUBLE PRECISION,
	humidity_pct       DOUBLE PRECISION,
	wind_speed_ms      DOUBLE PRECISION,
	aqi                INTEGER,
	traffic_speed_kmh  DOUBLE PRECISION,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS geo_features (
	id        BIGSERIAL PRIMARY KEY,
	name      TEXT NOT NULL,
	category  TEXT NOT NULL DEFAULT '',
	lat       DOUBLE PRECISION NOT NULL,
	lon       DOUBLE PRECISION NOT NULL
);
`

// Postgres stores history and features in a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, verifies the connection, and ensures the schema.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, historySchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) Save(ctx context.Context, rec SearchRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO geo_search_history
		(query_text, place_name, lat, lon, temperature_c, humidity_pct, wind_speed_ms, aqi, traffic_speed_kmh)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.QueryText, rec.PlaceName, rec.Lat, rec.Lon,
		rec.TemperatureC, rec.HumidityPct, rec.WindSpeedMS, rec.AQI, rec.TrafficSpeedKmh,
	)
	if err != nil {
		return fmt.Errorf("saving search record: %w", err)
	}
	return nil
}

func (s *Postgres) Recent(ctx context.Context, limit int) ([]SearchRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, query_text, place_name, lat, lon,
		       temperature_c, humidity_pct, wind_speed_ms, aqi, traffic_speed_kmh,
		       created_at
		FROM geo_search_history
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent searches: %w", err)
	}
	defer rows.Close()

	var records []SearchRecord
	for rows.Next() {
		var rec SearchRecord
		if err := rows.Scan(
			&rec.ID, &rec.QueryText, &rec.PlaceName, &rec.Lat, &rec.Lon,
			&rec.TemperatureC, &rec.HumidityPct, &rec.WindSpeedMS, &rec.AQI, &rec.TrafficSpeedKmh,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning search record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Postgres) TodayStats(ctx context.Context) (TodayStats, error) {
	var stats TodayStats
	err := s.pool.QueryRow(ctx, `
		SELECT
		  COUNT(*)::int,
		  AVG(temperature_c)::float,
		  AVG(aqi)::float,
		  MAX(aqi)::int,
		  AVG(traffic_speed_kmh)::float
		FROM geo_search_history
		WHERE created_at >= date_trunc('day', now())`,
	).Scan(&stats.Searches, &stats.AvgTempC, &stats.AvgAQI, &stats.MaxAQI, &stats.AvgSpeedKmh)
	if err != nil {
		return TodayStats{}, fmt.Errorf("querying today stats: %w", err)
	}
	return stats, nil
}

// NearestFeature returns the stored feature closest to the given point,
// ordered by squared equirectangular distance. Good enough at city scale.
func (s *Postgres) NearestFeature(ctx context.Context, lat, lon float64) (Feature, error) {
	var f Feature
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, category, lat, lon
		FROM geo_features
		ORDER BY (lat - $1) * (lat - $1) + (lon - $2) * (lon - $2)
		LIMIT 1`, lat, lon,
	).Scan(&f.ID, &f.Name, &f.Category, &f.Lat, &f.Lon)
	if errors.Is(err, pgx.ErrNoRows) {
		return Feature{}, ErrNotFound
	}
	if err != nil {
		return Feature{}, fmt.Errorf("querying nearest feature: %w", err)
	}
	return f, nil
}
