package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// DefaultPrecision is the coordinate rounding precision in decimal places.
// 1e-5 degrees is roughly one meter, which maximizes cache hits without
// materially changing results.
const DefaultPrecision = 5

// Normalize validates a raw query and derives its canonical form. It is pure:
// identical semantic queries always yield the same Query and CanonicalKey.
// precision <= 0 falls back to DefaultPrecision.
func Normalize(raw RawQuery, precision int) (Query, error) {
	if precision <= 0 {
		precision = DefaultPrecision
	}

	q := Query{Kind: raw.Kind, Mode: raw.Mode, Limit: raw.Limit}

	switch raw.Kind {
	case KindAddressLookup, KindSearch:
		text := normalizeAddress(raw.Text)
		if text == "" {
			return Query{}, fmt.Errorf("%w: empty address", ErrValidation)
		}
		q.Text = text
		q.Canonical = CanonicalKey(strconv.Quote(text))

	case KindSuggest:
		text := normalizeAddress(raw.Text)
		if text == "" {
			return Query{}, fmt.Errorf("%w: empty suggestion prefix", ErrValidation)
		}
		if q.Limit <= 0 {
			q.Limit = 6
		}
		if q.Limit > 10 {
			q.Limit = 10
		}
		q.Text = text
		q.Canonical = CanonicalKey(fmt.Sprintf("suggest(%s,%d)", strconv.Quote(text), q.Limit))

	case KindReverseLookup, KindWeatherAt, KindAirAt, KindTrafficAt:
		pt, err := normalizePoint(raw.Lat, raw.Lon, precision)
		if err != nil {
			return Query{}, err
		}
		q.Point = &pt
		if raw.Kind == KindReverseLookup {
			q.Canonical = CanonicalKey("rev(" + pointCanonical(pt, precision) + ")")
		} else {
			q.Canonical = CanonicalKey(pointCanonical(pt, precision))
		}

	case KindRoute:
		if len(raw.Waypoints) < 2 {
			return Query{}, fmt.Errorf("%w: route requires at least 2 points", ErrValidation)
		}
		mode, err := normalizeMode(raw.Mode)
		if err != nil {
			return Query{}, err
		}
		q.Mode = mode

		parts := make([]string, 0, len(raw.Waypoints))
		wps := make([]Waypoint, 0, len(raw.Waypoints))
		for _, wp := range raw.Waypoints {
			nwp, canonical, err := normalizeWaypoint(wp, precision)
			if err != nil {
				return Query{}, err
			}
			wps = append(wps, nwp)
			parts = append(parts, canonical)
		}
		for i := 1; i < len(parts); i++ {
			if parts[i] == parts[i-1] {
				return Query{}, fmt.Errorf("%w: route points must be distinct", ErrValidation)
			}
		}
		q.Waypoints = wps
		q.Canonical = CanonicalKey(fmt.Sprintf("route(%s;mode=%s)", strings.Join(parts, "->"), mode))

	default:
		return Query{}, fmt.Errorf("%w: unknown query kind %q", ErrValidation, raw.Kind)
	}

	return q, nil
}

// normalizeAddress case-folds, trims, collapses internal whitespace and strips
// punctuation that is not part of a street number ("221b", "12/3", "12-14"
// survive intact).
func normalizeAddress(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '/':
			// Keep separators inside street numbers only.
			if i > 0 && i < len(runes)-1 && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
				b.WriteRune(r)
			} else {
				b.WriteByte(' ')
			}
		default:
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func normalizePoint(lat, lon float64, precision int) (Point, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return Point{}, fmt.Errorf("%w: coordinates must be finite", ErrValidation)
	}
	if lat < -90 || lat > 90 {
		return Point{}, fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrValidation, lat)
	}
	if lon < -180 || lon > 180 {
		return Point{}, fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrValidation, lon)
	}
	return Point{Lat: roundTo(lat, precision), Lon: roundTo(lon, precision)}, nil
}

func normalizeWaypoint(wp Waypoint, precision int) (Waypoint, string, error) {
	if wp.Resolved() {
		pt, err := normalizePoint(wp.Point.Lat, wp.Point.Lon, precision)
		if err != nil {
			return Waypoint{}, "", err
		}
		return Waypoint{Point: &pt}, pointCanonical(pt, precision), nil
	}
	name := normalizeAddress(wp.Name)
	if name == "" {
		return Waypoint{}, "", fmt.Errorf("%w: empty route point", ErrValidation)
	}
	return Waypoint{Name: name}, strconv.Quote(name), nil
}

func normalizeMode(mode RouteMode) (RouteMode, error) {
	switch mode {
	case "":
		return ModeFastest, nil
	case ModeFastest, ModeShortest, ModeAvoidTolls, ModeAvoidHighways:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: unknown route mode %q", ErrValidation, mode)
	}
}

func roundTo(v float64, precision int) float64 {
	scale := math.Pow10(precision)
	return math.Round(v*scale) / scale
}

func pointCanonical(pt Point, precision int) string {
	return strconv.FormatFloat(pt.Lat, 'f', precision, 64) + "," +
		strconv.FormatFloat(pt.Lon, 'f', precision, 64)
}
