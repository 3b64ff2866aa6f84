package domain

import (
	"context"
	"math"
	"time"
)

// CovariatePoint is the set of raw covariates for one location and day.
type CovariatePoint struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Date time.Time `json:"date"`

	SST               float64 `json:"sst"`
	ChlorophyllA      float64 `json:"chlor_a"`
	Precipitation     float64 `json:"precip"`
	FloodInundation   float64 `json:"flood_inundation"`
	DroughtIndex      float64 `json:"drought_index"`
	PopulationDensity float64 `json:"population_density"`
	WaterAccessPct    float64 `json:"water_access_pct"`
	SanitationScore   float64 `json:"sanitation_score"`
	MobilityIndex     float64 `json:"mobility_index"`
	ClinicReports     float64 `json:"clinic_reports"`
}

// Observation is one training row: covariates plus the risk score target.
type Observation struct {
	CovariatePoint
	RiskScore float64 `json:"risk_score"`
}

// Query is a scoring request for one location and day.
type Query struct {
	ID   string  `json:"id,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Date string  `json:"date"`
}

// Prediction is a bounded risk score with an optional interval.
type Prediction struct {
	ID    string   `json:"id,omitempty"`
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	Date  string   `json:"date"`
	Score float64  `json:"score"`
	Lower *float64 `json:"interval_lower"`
	Upper *float64 `json:"interval_upper"`
}

// HasInterval reports whether both interval bounds are present.
func (p Prediction) HasInterval() bool {
	return p.Lower != nil && p.Upper != nil
}

// Inverted reports whether the lower bound lies above the upper bound.
// Bounds are clamped independently and never swapped.
func (p Prediction) Inverted() bool {
	return p.HasInterval() && *p.Lower > *p.Upper
}

// ValidateCoordinates rejects NaN or out-of-range latitude and longitude.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return InputErrorf("latitude %v outside [-90, 90]", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return InputErrorf("longitude %v outside [-180, 180]", lon)
	}
	return nil
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Scorer scores one query.
type Scorer interface {
	Score(ctx context.Context, q Query) (Prediction, error)
}
