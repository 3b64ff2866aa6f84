package domain

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the only accepted calendar date format.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, InputErrorf("date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// BBox is a latitude/longitude bounding box in degrees.
type BBox struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// DefaultBBox covers the East African lake and coastal region used for
// bootstrap datasets.
var DefaultBBox = BBox{LatMin: -10, LatMax: 10, LonMin: 20, LonMax: 50}

// ParseBBox parses "lat_min,lat_max,lon_min,lon_max".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, InputErrorf("bbox %q: expected lat_min,lat_max,lon_min,lon_max", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, InputErrorf("bbox %q: %v", s, err)
		}
		vals[i] = v
	}
	b := BBox{LatMin: vals[0], LatMax: vals[1], LonMin: vals[2], LonMax: vals[3]}
	if b.LatMin >= b.LatMax || b.LonMin >= b.LonMax {
		return BBox{}, InputErrorf("bbox %q: min must be below max", s)
	}
	return b, nil
}

// Normalize maps (lat, lon) into the box's unit square. Values outside the
// box fall outside [0, 1].
func (b BBox) Normalize(lat, lon float64) (float64, float64) {
	return (lat - b.LatMin) / (b.LatMax - b.LatMin), (lon - b.LonMin) / (b.LonMax - b.LonMin)
}
