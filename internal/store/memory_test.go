package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewMemoryStore(0, 0)
	ctx := context.Background()

	for _, q := range []string{"first", "second", "third"} {
		require.NoError(t, s.Save(ctx, SearchRecord{QueryText: q, PlaceName: q}))
	}

	records, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "third", records[0].QueryText, "newest first")
	assert.Equal(t, "second", records[1].QueryText)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// IDs are assigned monotonically.
	assert.Greater(t, all[0].ID, all[1].ID)
}

func TestMemoryStoreRetentionByCount(t *testing.T) {
	s := NewMemoryStore(2, 0)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, SearchRecord{QueryText: q}))
	}

	records, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].QueryText)
	assert.Equal(t, "b", records[1].QueryText)
}

func TestMemoryStoreRetentionByAge(t *testing.T) {
	s := NewMemoryStore(0, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, SearchRecord{QueryText: "old", CreatedAt: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, s.Save(ctx, SearchRecord{QueryText: "fresh"}))

	records, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fresh", records[0].QueryText)
}

func TestMemoryStoreTodayStats(t *testing.T) {
	s := NewMemoryStore(0, 0)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, SearchRecord{
		QueryText:       "one",
		TemperatureC:    floatPtr(10),
		AQI:             intPtr(40),
		TrafficSpeedKmh: floatPtr(50),
	}))
	require.NoError(t, s.Save(ctx, SearchRecord{
		QueryText:    "two",
		TemperatureC: floatPtr(20),
		AQI:          intPtr(80),
	}))
	// Yesterday's record does not count.
	require.NoError(t, s.Save(ctx, SearchRecord{
		QueryText:    "stale",
		TemperatureC: floatPtr(99),
		CreatedAt:    time.Now().Add(-48 * time.Hour),
	}))

	stats, err := s.TodayStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Searches)
	require.NotNil(t, stats.AvgTempC)
	assert.InDelta(t, 15, *stats.AvgTempC, 1e-9)
	require.NotNil(t, stats.MaxAQI)
	assert.Equal(t, 80, *stats.MaxAQI)
	require.NotNil(t, stats.AvgSpeedKmh)
	assert.InDelta(t, 50, *stats.AvgSpeedKmh, 1e-9)
}

func TestMemoryStoreNearestFeature(t *testing.T) {
	s := NewMemoryStore(0, 0)
	ctx := context.Background()

	_, err := s.NearestFeature(ctx, 52.52, 13.405)
	assert.ErrorIs(t, err, ErrNotFound)

	s.SeedFeatures([]Feature{
		{ID: 1, Name: "Brandenburg Gate", Lat: 52.51627, Lon: 13.37770},
		{ID: 2, Name: "Fernsehturm", Lat: 52.52082, Lon: 13.40942},
	})

	f, err := s.NearestFeature(ctx, 52.5205, 13.4090)
	require.NoError(t, err)
	assert.Equal(t, "Fernsehturm", f.Name)
}
