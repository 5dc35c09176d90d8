package aqi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromPM25Bands(t *testing.T) {
	cases := []struct {
		pm25 float64
		want int
	}{
		{0, 0},
		{12.0, 50},
		{12.1, 51},
		{35.4, 100},
		{35.5, 101},
		{55.4, 150},
		{150.4, 200},
		{250.4, 300},
		{500.4, 500},
		{9999, 500},
	}
	for _, tc := range cases {
		got := FromPM25(tc.pm25)
		require.NotNil(t, got, "pm25=%v", tc.pm25)
		assert.Equal(t, tc.want, *got, "pm25=%v", tc.pm25)
	}
}

func TestFromPM25Interpolates(t *testing.T) {
	// Midpoint of the 12.1-35.4 band lands near the middle of 51-100.
	got := FromPM25((12.1 + 35.4) / 2)
	require.NotNil(t, got)
	assert.InDelta(t, 75, *got, 1)
}

func TestFromPM25Edges(t *testing.T) {
	assert.Nil(t, FromPM25(math.NaN()))

	got := FromPM25(-5)
	require.NotNil(t, got)
	assert.Equal(t, 0, *got, "negative concentrations clamp to zero")

	// Gap between bands rounds up to the next band floor.
	got = FromPM25(12.05)
	require.NotNil(t, got)
	assert.Equal(t, 51, *got)
}

func TestLabels(t *testing.T) {
	cases := []struct {
		aqi   int
		label string
	}{
		{10, "Good"},
		{80, "Satisfactory"},
		{150, "Moderate"},
		{250, "Poor"},
		{350, "Very Poor"},
		{450, "Severe"},
	}
	for _, tc := range cases {
		v := tc.aqi
		assert.Equal(t, tc.label, Label(&v))
	}
	assert.Equal(t, "unknown", Label(nil))
}

func TestDominant(t *testing.T) {
	assert.Equal(t, "pm10", Dominant(map[string]float64{"pm2_5": 10, "pm10": 30, "no2": 5}))
	assert.Equal(t, "", Dominant(map[string]float64{"nh3": 99}), "unranked components are ignored")
	assert.Equal(t, "", Dominant(nil))
}

func TestFromComponents(t *testing.T) {
	r := FromComponents(map[string]float64{"pm2_5": 35.4, "pm10": 12})
	require.NotNil(t, r.AQI)
	assert.Equal(t, 100, *r.AQI)
	assert.Equal(t, "Satisfactory", r.Label)
	assert.NotEmpty(t, r.HealthTip)
	assert.Equal(t, "pm2_5", r.Dominant)

	r = FromComponents(map[string]float64{"no2": 12})
	assert.Nil(t, r.AQI)
	assert.Equal(t, "unknown", r.Label)
}
