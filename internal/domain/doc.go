// Package domain models the inputs and outputs of the waterborne-disease risk
// model.
//
// # Covariates
//
// A [CovariatePoint] holds the ten environmental and socioeconomic covariates
// for one (lat, lon, date) key. Without live satellite feeds the values are
// synthesized deterministically by package simulate; external overlays may
// replace individual fields (chlorophyll and flood from a raster provider,
// precipitation and temperature from a climate grid).
//
//	Field               Unit / range
//	SST                 °C, unclipped (≈ 24 + lat/10 ± seasonal)
//	ChlorophyllA        mg/m³, [0.05, 2.0]
//	Precipitation       mm, [0, 250]
//	FloodInundation     fraction of cell flooded, [0, 1]
//	DroughtIndex        standardized index, [-2.5, 2.5]
//	PopulationDensity   people/km², [50, 1200]
//	WaterAccessPct      %, [40, 98]
//	SanitationScore     0–100 score, [30, 95]
//	MobilityIndex       relative, [0.5, 3.0]
//	ClinicReports       weekly reports, [0, 6]
//
// # Dates
//
// Dates are calendar days in UTC, exchanged as "YYYY-MM-DD" ([DateLayout]).
// Anything else is rejected with an input error.
//
// # Risk score
//
// Scores are on a 0–100 scale. A [Prediction] carries the calibrated point
// score and, when the model artifact has both quantile models, the 10th and
// 90th percentile bounds. Each value is clamped to [0, 100] independently, so
// a lower bound may exceed the upper bound; see [Prediction.Inverted].
//
// # Errors
//
// Three error kinds cross package boundaries: [ErrInput] (bad coordinates,
// dates or columns), [ErrArtifact] (missing, corrupt or incompatible model
// bundle) and [ErrTraining] (a run that cannot produce a complete artifact).
package domain
