// Package training selects, fits and calibrates the risk model.
//
// A run engineers features from the observation table, cross-validates every
// candidate estimator, refits the winner on a training split, fits an affine
// calibrator on a held-out calibration split and two quantile models for the
// prediction interval, then scores the result on a test split. The outcome is
// an immutable artifact plus an advisory report.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/aqua-risk/internal/artifact"
	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/features"
	"github.com/couchcryptid/aqua-risk/internal/model"
	"github.com/couchcryptid/aqua-risk/internal/observability"
)

// Config holds the fixed training parameters.
type Config struct {
	Folds               int
	Seed                uint64
	TestFraction        float64
	CalibrationFraction float64
	LowerAlpha          float64
	UpperAlpha          float64
	TopFeatures         int
	MinRows             int
	// ExtremeBoosting enables the xgboost candidate.
	ExtremeBoosting bool
}

// DefaultConfig returns 3 folds, seed 42, 80/20 splits, a 10–90% interval
// and the top 8 features.
func DefaultConfig() Config {
	return Config{
		Folds:               3,
		Seed:                42,
		TestFraction:        0.2,
		CalibrationFraction: 0.2,
		LowerAlpha:          0.1,
		UpperAlpha:          0.9,
		TopFeatures:         8,
		MinRows:             20,
		ExtremeBoosting:     true,
	}
}

// Trainer runs training. It holds no per-run state and may be reused.
type Trainer struct {
	cfg        Config
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	candidates []model.Estimator
	lower      model.Estimator
	upper      model.Estimator
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithClock sets the clock used for run timestamps and durations.
func WithClock(c clockwork.Clock) Option {
	return func(t *Trainer) { t.clock = c }
}

// WithCandidates replaces the default candidate set. Enumeration order is the
// tie-break order.
func WithCandidates(c ...model.Estimator) Option {
	return func(t *Trainer) { t.candidates = c }
}

// WithIntervalModels replaces the lower and upper quantile estimators.
func WithIntervalModels(lower, upper model.Estimator) Option {
	return func(t *Trainer) { t.lower, t.upper = lower, upper }
}

// NewTrainer creates a Trainer with the default candidates: linear
// regression, gradient boosting, random forest and, when enabled, xgboost.
func NewTrainer(cfg Config, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Trainer {
	t := &Trainer{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
		candidates: []model.Estimator{
			model.LinearRegression{},
			model.DefaultGradientBoosting(),
			model.DefaultRandomForest(),
		},
		lower: model.NewQuantileBoosting(cfg.LowerAlpha),
		upper: model.NewQuantileBoosting(cfg.UpperAlpha),
	}
	if cfg.ExtremeBoosting {
		t.candidates = append(t.candidates, model.DefaultExtremeBoosting())
	}
	for _, opt := range opts {
		opt(t)
	}
	if !slices.Contains(t.Candidates(), model.DefaultExtremeBoosting().Name()) {
		logger.Warn("xgboost candidate disabled, selecting among remaining candidates",
			"candidates", t.Candidates())
	}
	return t
}

// Candidates returns the candidate names in enumeration order.
func (t *Trainer) Candidates() []string {
	names := make([]string, len(t.candidates))
	for i, c := range t.candidates {
		names[i] = c.Name()
	}
	return names
}

// Train runs the full pipeline over obs. Every failure is a training error
// and no partial result is returned.
func (t *Trainer) Train(ctx context.Context, obs []domain.Observation) (res *Result, err error) {
	start := t.clock.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		t.metrics.TrainingRuns.WithLabelValues(outcome).Inc()
		t.metrics.TrainingDuration.Observe(t.clock.Since(start).Seconds())
	}()

	if len(t.candidates) == 0 {
		return nil, domain.TrainingErrorf("no candidate models")
	}
	recs, cols := features.Engineer(obs)
	if len(recs) < t.cfg.MinRows {
		return nil, domain.TrainingErrorf("need at least %d rows, got %d", t.cfg.MinRows, len(recs))
	}
	X := make([][]float64, len(recs))
	y := make([]float64, len(recs))
	for i := range recs {
		X[i] = recs[i].Vector()
		y[i] = recs[i].Target
	}
	t.logger.Info("training started", "rows", len(recs), "features", len(cols), "candidates", t.Candidates())

	cv, err := t.crossValidate(ctx, X, y)
	if err != nil {
		return nil, err
	}
	best := selectBest(cv)
	if best < 0 {
		return nil, domain.TrainingErrorf("no candidate produced a finite cross-validation error")
	}
	selected := t.candidates[best]
	t.logger.Info("model selected", "model", selected.Name(), "cv_mae", cv[best].Scores.MAE)

	trainFull, test, err := model.TrainTestSplit(len(y), t.cfg.TestFraction, t.cfg.Seed)
	if err != nil {
		return nil, trainingError("test split", err)
	}
	trainPos, calPos, err := model.TrainTestSplit(len(trainFull), t.cfg.CalibrationFraction, t.cfg.Seed)
	if err != nil {
		return nil, trainingError("calibration split", err)
	}
	train, cal := pick(trainFull, trainPos), pick(trainFull, calPos)

	Xtr, ytr := model.Rows(X, y, train)
	primary, err := selected.Fit(ctx, Xtr, ytr)
	if err != nil {
		return nil, trainingError("fit "+selected.Name(), err)
	}

	Xcal, ycal := model.Rows(X, y, cal)
	calibrator, err := model.FitLinear(column(model.PredictAll(primary, Xcal)), ycal)
	if err != nil {
		return nil, trainingError("fit calibrator", err)
	}

	Xfull, yfull := model.Rows(X, y, trainFull)
	lower, upper, err := t.fitInterval(ctx, Xfull, yfull)
	if err != nil {
		return nil, err
	}

	Xte, yte := model.Rows(X, y, test)
	pred := make([]float64, len(Xte))
	for i, raw := range model.PredictAll(primary, Xte) {
		pred[i] = calibrator.Predict([]float64{raw})
	}
	scores, err := model.Evaluate(yte, pred)
	if err != nil {
		return nil, trainingError("evaluate", err)
	}
	lo, hi := model.PredictAll(lower, Xte), model.PredictAll(upper, Xte)
	coverage, width := intervalStats(yte, lo, hi)

	art := &artifact.Artifact{
		RunID:          uuid.NewString(),
		ModelName:      selected.Name(),
		CreatedAt:      t.clock.Now().UTC(),
		Primary:        primary,
		Calibrator:     calibrator,
		Lower:          lower,
		Upper:          upper,
		FeatureColumns: cols,
	}
	if err := art.Validate(); err != nil {
		return nil, trainingError("assemble artifact", err)
	}

	cvResults := make(map[string]model.Scores, len(cv))
	for _, c := range cv {
		cvResults[c.Name] = c.Scores
		t.metrics.CandidateMAE.WithLabelValues(c.Name).Set(c.Scores.MAE)
	}
	report := &Report{
		RunID:     art.RunID,
		TrainedAt: art.CreatedAt,
		Rows:      len(recs),
		Metrics: ReportMetrics{
			SelectedModel:    selected.Name(),
			MAE:              scores.MAE,
			RMSE:             scores.RMSE,
			R2:               scores.R2,
			IntervalCoverage: coverage,
			IntervalWidth:    width,
			CVResults:        cvResults,
		},
		TopFeatures: model.Rank(primary.Importance(), cols, t.cfg.TopFeatures),
	}

	t.logger.Info("training finished",
		"run_id", art.RunID,
		"model", selected.Name(),
		"mae", scores.MAE,
		"r2", scores.R2,
		"interval_coverage", coverage,
		"duration", t.clock.Since(start),
	)
	return &Result{
		Artifact:   art,
		Report:     report,
		Candidates: cv,
		Diagnostics: Diagnostics{
			Actual:    yte,
			Predicted: pred,
			Lower:     lo,
			Upper:     hi,
		},
	}, nil
}

// crossValidate scores every candidate concurrently. Each candidate sees the
// same folds; results keep enumeration order.
func (t *Trainer) crossValidate(ctx context.Context, X [][]float64, y []float64) ([]CandidateResult, error) {
	folds, err := model.KFold(len(y), t.cfg.Folds, t.cfg.Seed)
	if err != nil {
		return nil, trainingError("cross-validation", err)
	}

	results := make([]CandidateResult, len(t.candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, est := range t.candidates {
		g.Go(func() error {
			perFold := make([]model.Scores, 0, len(folds))
			for k, f := range folds {
				Xtr, ytr := model.Rows(X, y, f.Train)
				m, err := est.Fit(gctx, Xtr, ytr)
				if err != nil {
					return fmt.Errorf("%s fold %d: %w", est.Name(), k, err)
				}
				Xv, yv := model.Rows(X, y, f.Validation)
				s, err := model.Evaluate(yv, model.PredictAll(m, Xv))
				if err != nil {
					return fmt.Errorf("%s fold %d: %w", est.Name(), k, err)
				}
				perFold = append(perFold, s)
			}
			results[i] = CandidateResult{Name: est.Name(), Scores: model.MeanScores(perFold)}
			t.logger.Debug("candidate cross-validated", "model", est.Name(), "mae", results[i].Scores.MAE)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, trainingError("cross-validation", err)
	}
	return results, nil
}

func (t *Trainer) fitInterval(ctx context.Context, X [][]float64, y []float64) (lower, upper model.Model, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lower, err = t.lower.Fit(gctx, X, y)
		return err
	})
	g.Go(func() error {
		var err error
		upper, err = t.upper.Fit(gctx, X, y)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, trainingError("fit quantile models", err)
	}
	return lower, upper, nil
}

// selectBest returns the index of the minimum mean MAE. NaN never wins and
// ties keep the earlier candidate. It returns -1 when nothing is finite.
func selectBest(results []CandidateResult) int {
	best := -1
	for i, r := range results {
		if math.IsNaN(r.Scores.MAE) {
			continue
		}
		if best < 0 || r.Scores.MAE < results[best].Scores.MAE {
			best = i
		}
	}
	return best
}

func intervalStats(y, lo, hi []float64) (coverage, width float64) {
	if len(y) == 0 {
		return 0, 0
	}
	var inside int
	for i := range y {
		if lo[i] <= y[i] && y[i] <= hi[i] {
			inside++
		}
		width += hi[i] - lo[i]
	}
	n := float64(len(y))
	return float64(inside) / n, width / n
}

func pick(base, pos []int) []int {
	out := make([]int, len(pos))
	for i, p := range pos {
		out[i] = base[p]
	}
	return out
}

func column(v []float64) [][]float64 {
	out := make([][]float64, len(v))
	for i, x := range v {
		out[i] = []float64{x}
	}
	return out
}

func trainingError(stage string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrTraining, stage, err)
}
