package store

import (
	"context"
	"math"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe in-memory history and feature store.
// It backs tests and runs without a database.
type MemoryStore struct {
	mu sync.RWMutex

	records  []SearchRecord
	features []Feature
	nextID   int64

	// retention configuration
	maxHistory int           // max number of records kept (0 = unlimited)
	maxAge     time.Duration // optional max age for records
}

// NewMemoryStore creates a new MemoryStore with optional retention limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
		nextID:     1,
	}
}

// SeedFeatures loads a fixed feature set for nearest-feature lookups.
func (s *MemoryStore) SeedFeatures(features []Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = append(s.features, features...)
}

// Save appends a record and enforces retention.
func (s *MemoryStore) Save(_ context.Context, rec SearchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.records = append(s.records, rec)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.records) > s.maxHistory {
		over := len(s.records) - s.maxHistory
		s.records = s.records[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.records); i++ {
			if !s.records[i].CreatedAt.Before(cutoff) {
				break
			}
		}
		if i > 0 && i < len(s.records) {
			s.records = s.records[i:]
		}
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]SearchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	result := make([]SearchRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.records[i])
	}
	return result, nil
}

// TodayStats aggregates records created since local midnight.
func (s *MemoryStore) TodayStats(_ context.Context) (TodayStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var stats TodayStats
	var tempSum, aqiSum, speedSum float64
	var tempN, aqiN, speedN int
	for _, rec := range s.records {
		if rec.CreatedAt.Before(midnight) {
			continue
		}
		stats.Searches++
		if rec.TemperatureC != nil {
			tempSum += *rec.TemperatureC
			tempN++
		}
		if rec.AQI != nil {
			aqiSum += float64(*rec.AQI)
			aqiN++
			if stats.MaxAQI == nil || *rec.AQI > *stats.MaxAQI {
				v := *rec.AQI
				stats.MaxAQI = &v
			}
		}
		if rec.TrafficSpeedKmh != nil {
			speedSum += *rec.TrafficSpeedKmh
			speedN++
		}
	}
	if tempN > 0 {
		v := tempSum / float64(tempN)
		stats.AvgTempC = &v
	}
	if aqiN > 0 {
		v := aqiSum / float64(aqiN)
		stats.AvgAQI = &v
	}
	if speedN > 0 {
		v := speedSum / float64(speedN)
		stats.AvgSpeedKmh = &v
	}
	return stats, nil
}

// NearestFeature scans the seeded features for the closest one.
func (s *MemoryStore) NearestFeature(_ context.Context, lat, lon float64) (Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.features) == 0 {
		return Feature{}, ErrNotFound
	}

	best := s.features[0]
	bestDist := math.Inf(1)
	for _, f := range s.features {
		dLat := f.Lat - lat
		dLon := f.Lon - lon
		if d := dLat*dLat + dLon*dLon; d < bestDist {
			bestDist = d
			best = f
		}
	}
	return best, nil
}
