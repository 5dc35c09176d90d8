// Package aqi converts pollutant concentrations into the US EPA 0-500 air
// quality index, with the labels and health tips the dashboard displays.
package aqi

import "math"

// Report is the normalized air-quality payload.
type Report struct {
	AQI        *int               `json:"aqi_0_500"`
	Label      string             `json:"label"`
	HealthTip  string             `json:"health_tip"`
	Components map[string]float64 `json:"components,omitempty"`
	Dominant   string             `json:"dominant,omitempty"`
}

// breakpoint maps a PM2.5 concentration band (ug/m3) to an AQI band.
type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh int
}

var pm25Breakpoints = []breakpoint{
	{0.0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 350.4, 301, 400},
	{350.5, 500.4, 401, 500},
}

// FromPM25 linearly interpolates the AQI from a PM2.5 concentration in
// ug/m3. Concentrations above the top band clamp to 500. Returns nil when
// the concentration is NaN.
func FromPM25(pm25 float64) *int {
	if math.IsNaN(pm25) {
		return nil
	}
	c := math.Max(0, pm25)
	if c > 500.4 {
		v := 500
		return &v
	}
	for _, bp := range pm25Breakpoints {
		if c >= bp.cLow && c <= bp.cHigh {
			v := int(math.Round(float64(bp.iHigh-bp.iLow)/(bp.cHigh-bp.cLow)*(c-bp.cLow) + float64(bp.iLow)))
			return &v
		}
	}
	// Gaps between bands (e.g. 12.05) round to the nearest band edge.
	for _, bp := range pm25Breakpoints {
		if c < bp.cLow {
			v := bp.iLow
			return &v
		}
	}
	return nil
}

// Label maps an AQI value to its display category.
func Label(a *int) string {
	if a == nil {
		return "unknown"
	}
	switch v := *a; {
	case v <= 50:
		return "Good"
	case v <= 100:
		return "Satisfactory"
	case v <= 200:
		return "Moderate"
	case v <= 300:
		return "Poor"
	case v <= 400:
		return "Very Poor"
	default:
		return "Severe"
	}
}

// HealthTip maps an AQI value to advice shown next to the gauge.
func HealthTip(a *int) string {
	if a == nil {
		return "unknown"
	}
	switch v := *a; {
	case v <= 50:
		return "Air is good. Enjoy outdoor activities."
	case v <= 100:
		return "Acceptable. Sensitive people should monitor symptoms."
	case v <= 200:
		return "Limit long outdoor exertion if you feel discomfort."
	case v <= 300:
		return "Sensitive groups should avoid outdoor activities."
	case v <= 400:
		return "Avoid outdoor exertion. Consider wearing a mask outdoors."
	default:
		return "Severe: stay indoors; use an air purifier if available."
	}
}

// dominantCandidates are the pollutants compared for the dominant marker,
// by OpenWeather component name.
var dominantCandidates = []string{"pm2_5", "pm10", "no2", "so2", "o3", "co"}

// Dominant returns the pollutant with the highest concentration among the
// commonly reported components, or "" when none are present.
func Dominant(components map[string]float64) string {
	best := ""
	bestV := math.Inf(-1)
	for _, k := range dominantCandidates {
		v, ok := components[k]
		if !ok {
			continue
		}
		if v > bestV {
			best, bestV = k, v
		}
	}
	return best
}

// FromComponents builds a full Report from an OpenWeather-style component
// map. A missing pm2_5 component yields a Report with a nil AQI.
func FromComponents(components map[string]float64) Report {
	var idx *int
	if pm25, ok := components["pm2_5"]; ok {
		idx = FromPM25(pm25)
	}
	return Report{
		AQI:        idx,
		Label:      Label(idx),
		HealthTip:  HealthTip(idx),
		Components: components,
		Dominant:   Dominant(components),
	}
}
