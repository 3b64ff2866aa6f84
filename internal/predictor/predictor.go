// Package predictor scores (lat, lon, date) keys with a trained artifact.
//
// Scoring regenerates the key's covariates with the simulator, engineers a
// single-row feature table, applies the primary model and calibrator and
// clamps the result to [0, 100]. A Predictor is immutable and safe for
// concurrent use.
package predictor

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/aqua-risk/internal/artifact"
	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/features"
	"github.com/couchcryptid/aqua-risk/internal/observability"
	"github.com/couchcryptid/aqua-risk/internal/simulate"
)

const (
	minScore = 0.0
	maxScore = 100.0
)

// Predictor scores points with one loaded artifact.
type Predictor struct {
	art     *artifact.Artifact
	metrics *observability.Metrics
	clock   clockwork.Clock
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithMetrics records query outcomes and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Predictor) { p.metrics = m }
}

// WithClock sets the clock used to time predictions.
func WithClock(c clockwork.Clock) Option {
	return func(p *Predictor) { p.clock = c }
}

// New checks that art is complete and was trained on exactly the columns
// this build engineers, in the same order.
func New(art *artifact.Artifact, opts ...Option) (*Predictor, error) {
	if art == nil {
		return nil, domain.ArtifactErrorf("no artifact loaded")
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	if want := features.Columns(); !slices.Equal(art.FeatureColumns, want) {
		return nil, domain.ArtifactErrorf("artifact feature columns %v do not match engineered columns %v",
			art.FeatureColumns, want)
	}
	p := &Predictor{art: art, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ModelName returns the selected model of the loaded artifact.
func (p *Predictor) ModelName() string {
	return p.art.ModelName
}

// RunID returns the training run that produced the loaded artifact.
func (p *Predictor) RunID() string {
	return p.art.RunID
}

// HasInterval reports whether predictions carry interval bounds.
func (p *Predictor) HasInterval() bool {
	return p.art.HasInterval()
}

// PredictRisk scores a point given a YYYY-MM-DD date.
func (p *Predictor) PredictRisk(lat, lon float64, date string) (float64, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return 0, err
	}
	return p.PredictPoint(lat, lon, d)
}

// PredictWithInterval scores a point and its interval given a YYYY-MM-DD
// date.
func (p *Predictor) PredictWithInterval(lat, lon float64, date string) (domain.Prediction, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return domain.Prediction{}, err
	}
	return p.PredictInterval(lat, lon, d)
}

// PredictPoint returns the calibrated score clamped to [0, 100].
func (p *Predictor) PredictPoint(lat, lon float64, date time.Time) (float64, error) {
	row, err := p.row(lat, lon, date)
	if err != nil {
		return 0, err
	}
	return p.score(row), nil
}

// PredictInterval returns the score and, when the artifact carries both
// quantile models, the lower and upper bounds. Each value is clamped on its
// own; a lower bound above the upper bound is returned as computed.
func (p *Predictor) PredictInterval(lat, lon float64, date time.Time) (domain.Prediction, error) {
	row, err := p.row(lat, lon, date)
	if err != nil {
		return domain.Prediction{}, err
	}
	pred := domain.Prediction{
		Lat:   lat,
		Lon:   lon,
		Date:  domain.FormatDate(date),
		Score: p.score(row),
	}
	if p.art.HasInterval() {
		lo := domain.Clamp(p.art.Lower.Predict(row), minScore, maxScore)
		hi := domain.Clamp(p.art.Upper.Predict(row), minScore, maxScore)
		pred.Lower, pred.Upper = &lo, &hi
	}
	return pred, nil
}

// Predict scores one query, carrying its ID through.
func (p *Predictor) Predict(q domain.Query) (domain.Prediction, error) {
	start := p.clock.Now()
	pred, err := p.PredictWithInterval(q.Lat, q.Lon, q.Date)
	p.observe(start, err)
	if err != nil {
		return domain.Prediction{}, err
	}
	pred.ID = q.ID
	return pred, nil
}

// Score implements domain.Scorer. Scoring is CPU-bound and ignores ctx.
func (p *Predictor) Score(_ context.Context, q domain.Query) (domain.Prediction, error) {
	return p.Predict(q)
}

// PredictBatch scores queries in order and stops at the first invalid one.
// The error names its index.
func (p *Predictor) PredictBatch(queries []domain.Query) ([]domain.Prediction, error) {
	return ScoreAll(context.Background(), p, queries)
}

// ScoreAll scores queries in order with s and stops at the first failure.
// The error names its index.
func ScoreAll(ctx context.Context, s domain.Scorer, queries []domain.Query) ([]domain.Prediction, error) {
	out := make([]domain.Prediction, 0, len(queries))
	for i, q := range queries {
		pred, err := s.Score(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		out = append(out, pred)
	}
	return out, nil
}

func (p *Predictor) row(lat, lon float64, date time.Time) ([]float64, error) {
	if err := domain.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	rec := features.EngineerOne(simulate.Covariates(lat, lon, date))
	return rec.Vector(), nil
}

func (p *Predictor) score(row []float64) float64 {
	raw := p.art.Primary.Predict(row)
	if p.art.Calibrator != nil {
		raw = p.art.Calibrator.Predict([]float64{raw})
	}
	return domain.Clamp(raw, minScore, maxScore)
}

func (p *Predictor) observe(start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case domain.IsInput(err):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	p.metrics.Predictions.WithLabelValues(outcome).Inc()
	p.metrics.PredictionDuration.Observe(p.clock.Since(start).Seconds())
}
