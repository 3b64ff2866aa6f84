package training

import (
	"time"

	"github.com/couchcryptid/aqua-risk/internal/artifact"
	"github.com/couchcryptid/aqua-risk/internal/model"
)

// Result is the outcome of a successful training run.
type Result struct {
	Artifact    *artifact.Artifact
	Report      *Report
	Candidates  []CandidateResult
	Diagnostics Diagnostics
}

// CandidateResult is one candidate's mean cross-validation scores.
type CandidateResult struct {
	Name   string       `json:"name"`
	Scores model.Scores `json:"scores"`
}

// Diagnostics holds the test split targets with the calibrated predictions
// and raw interval bounds, aligned by index.
type Diagnostics struct {
	Actual    []float64 `json:"actual"`
	Predicted []float64 `json:"predicted"`
	Lower     []float64 `json:"lower"`
	Upper     []float64 `json:"upper"`
}

// Report is the advisory training summary written next to the artifact.
type Report struct {
	RunID       string                    `json:"run_id"`
	TrainedAt   time.Time                 `json:"trained_at"`
	Rows        int                       `json:"rows"`
	Metrics     ReportMetrics             `json:"metrics"`
	TopFeatures []model.FeatureImportance `json:"top_features"`
}

// ReportMetrics are the test-split scores of the calibrated model and the
// cross-validation scores of every candidate.
type ReportMetrics struct {
	SelectedModel    string                  `json:"selected_model"`
	MAE              float64                 `json:"mae"`
	RMSE             float64                 `json:"rmse"`
	R2               float64                 `json:"r2"`
	IntervalCoverage float64                 `json:"interval_coverage"`
	IntervalWidth    float64                 `json:"interval_width"`
	CVResults        map[string]model.Scores `json:"cv_results"`
}
