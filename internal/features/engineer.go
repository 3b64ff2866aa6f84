// Package features derives the engineered model inputs from raw covariates.
//
// The column order returned by [Columns] is part of the model artifact
// contract: an artifact records it at training time and the predictor refuses
// to score with a different one.
package features

import (
	"math"
	"slices"

	"github.com/couchcryptid/aqua-risk/internal/domain"
)

const (
	heatwaveSST     = 28.0  // °C
	postFloodPrecip = 140.0 // mm
	binPrecision    = 10.0  // 0.1° spatial bins
)

// Record is a covariate point extended with calendar, interaction and
// rolling-window features. Target carries the training label through the
// reordering done by Engineer and is zero at inference time.
type Record struct {
	domain.CovariatePoint
	Target float64

	LatBin float64
	LonBin float64

	Month         int
	SeasonSin     float64
	SeasonCos     float64
	Heatwave      float64
	PostFlood     float64
	HeatwaveFlood float64

	Precip7dMean   float64
	Precip14dSum   float64
	SST7dMean      float64
	Chlor7dMean    float64
	Flood3dMax     float64
	Drought30dMean float64
}

type column struct {
	name string
	get  func(*Record) float64
}

// columns fixes the model input order: base covariates, then calendar and
// interaction terms, then rolling aggregates.
var columns = []column{
	{"lat", func(r *Record) float64 { return r.Lat }},
	{"lon", func(r *Record) float64 { return r.Lon }},
	{"sst", func(r *Record) float64 { return r.SST }},
	{"chlor_a", func(r *Record) float64 { return r.ChlorophyllA }},
	{"precip", func(r *Record) float64 { return r.Precipitation }},
	{"flood_inundation", func(r *Record) float64 { return r.FloodInundation }},
	{"drought_index", func(r *Record) float64 { return r.DroughtIndex }},
	{"population_density", func(r *Record) float64 { return r.PopulationDensity }},
	{"water_access_pct", func(r *Record) float64 { return r.WaterAccessPct }},
	{"sanitation_score", func(r *Record) float64 { return r.SanitationScore }},
	{"mobility_index", func(r *Record) float64 { return r.MobilityIndex }},
	{"clinic_reports", func(r *Record) float64 { return r.ClinicReports }},
	{"month", func(r *Record) float64 { return float64(r.Month) }},
	{"season_sin", func(r *Record) float64 { return r.SeasonSin }},
	{"season_cos", func(r *Record) float64 { return r.SeasonCos }},
	{"heatwave", func(r *Record) float64 { return r.Heatwave }},
	{"post_flood", func(r *Record) float64 { return r.PostFlood }},
	{"heatwave_flood", func(r *Record) float64 { return r.HeatwaveFlood }},
	{"precip_7d_mean", func(r *Record) float64 { return r.Precip7dMean }},
	{"precip_14d_sum", func(r *Record) float64 { return r.Precip14dSum }},
	{"sst_7d_mean", func(r *Record) float64 { return r.SST7dMean }},
	{"chlor_a_7d_mean", func(r *Record) float64 { return r.Chlor7dMean }},
	{"flood_3d_max", func(r *Record) float64 { return r.Flood3dMax }},
	{"drought_30d_mean", func(r *Record) float64 { return r.Drought30dMean }},
}

type aggregate int

const (
	aggMean aggregate = iota
	aggSum
	aggMax
)

type rolling struct {
	window int
	agg    aggregate
	source func(*Record) float64
	target func(*Record) *float64
}

var rollings = []rolling{
	{7, aggMean, func(r *Record) float64 { return r.Precipitation }, func(r *Record) *float64 { return &r.Precip7dMean }},
	{14, aggSum, func(r *Record) float64 { return r.Precipitation }, func(r *Record) *float64 { return &r.Precip14dSum }},
	{7, aggMean, func(r *Record) float64 { return r.SST }, func(r *Record) *float64 { return &r.SST7dMean }},
	{7, aggMean, func(r *Record) float64 { return r.ChlorophyllA }, func(r *Record) *float64 { return &r.Chlor7dMean }},
	{3, aggMax, func(r *Record) float64 { return r.FloodInundation }, func(r *Record) *float64 { return &r.Flood3dMax }},
	{30, aggMean, func(r *Record) float64 { return r.DroughtIndex }, func(r *Record) *float64 { return &r.Drought30dMean }},
}

// Columns returns the engineered column names in model input order.
func Columns() []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	return names
}

// Vector returns the record's features in Columns order.
func (r *Record) Vector() []float64 {
	v := make([]float64, len(columns))
	for i, c := range columns {
		v[i] = c.get(r)
	}
	return v
}

// Engineer derives features for a table of observations. Records come back
// sorted by spatial bin and date (ties keep input order), each carrying its
// target. Rolling windows count observations, not days, and use whatever
// history exists for the first rows of a bin.
func Engineer(obs []domain.Observation) ([]Record, []string) {
	recs := make([]Record, len(obs))
	for i := range obs {
		recs[i] = rowLocal(obs[i].CovariatePoint)
		recs[i].Target = obs[i].RiskScore
	}

	slices.SortStableFunc(recs, func(a, b Record) int {
		switch {
		case a.LatBin != b.LatBin:
			return cmpFloat(a.LatBin, b.LatBin)
		case a.LonBin != b.LonBin:
			return cmpFloat(a.LonBin, b.LonBin)
		default:
			return a.Date.Compare(b.Date)
		}
	})

	for start := 0; start < len(recs); {
		end := start + 1
		for end < len(recs) && recs[end].LatBin == recs[start].LatBin && recs[end].LonBin == recs[start].LonBin {
			end++
		}
		applyRolling(recs[start:end])
		start = end
	}

	// Gaps are filled with the mean over the whole table rather than the
	// bin, which leaks population statistics into per-location features.
	// Kept for compatibility with trained artifacts.
	fillGlobalMean(recs)

	return recs, Columns()
}

// EngineerOne derives features for a single point. Every rolling aggregate
// equals the point's own raw value.
func EngineerOne(p domain.CovariatePoint) Record {
	recs, _ := Engineer([]domain.Observation{{CovariatePoint: p}})
	return recs[0]
}

func rowLocal(p domain.CovariatePoint) Record {
	r := Record{CovariatePoint: p}
	r.LatBin = roundBin(p.Lat)
	r.LonBin = roundBin(p.Lon)
	r.Month = int(p.Date.Month())

	phase := 2 * math.Pi * float64(p.Date.YearDay()) / 365.0
	r.SeasonSin = math.Sin(phase)
	r.SeasonCos = math.Cos(phase)

	if p.SST > heatwaveSST {
		r.Heatwave = 1
	}
	if p.Precipitation > postFloodPrecip {
		r.PostFlood = 1
	}
	r.HeatwaveFlood = r.Heatwave * p.FloodInundation
	return r
}

func applyRolling(group []Record) {
	vals := make([]float64, len(group))
	for _, rw := range rollings {
		for i := range group {
			vals[i] = rw.source(&group[i])
		}
		for i := range group {
			lo := max(0, i-rw.window+1)
			*rw.target(&group[i]) = reduce(vals[lo:i+1], rw.agg)
		}
	}
}

// reduce skips NaN inputs and returns NaN only when the window has no values.
func reduce(window []float64, agg aggregate) float64 {
	var sum float64
	best := math.Inf(-1)
	n := 0
	for _, v := range window {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		best = math.Max(best, v)
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	switch agg {
	case aggSum:
		return sum
	case aggMax:
		return best
	default:
		return sum / float64(n)
	}
}

func fillGlobalMean(recs []Record) {
	for _, rw := range rollings {
		var sum float64
		n := 0
		for i := range recs {
			if v := *rw.target(&recs[i]); !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n == 0 || n == len(recs) {
			continue
		}
		mean := sum / float64(n)
		for i := range recs {
			if p := rw.target(&recs[i]); math.IsNaN(*p) {
				*p = mean
			}
		}
	}
}

func roundBin(v float64) float64 {
	return math.RoundToEven(v*binPrecision) / binPrecision
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
