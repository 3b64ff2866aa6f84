package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Ensemble is a fitted tree ensemble. Averaged ensembles (random forests)
// predict the mean of their trees; boosted ensembles predict
// Init + LearningRate·Σ tree(x).
type Ensemble struct {
	Init         float64   `json:"init"`
	LearningRate float64   `json:"learning_rate"`
	Average      bool      `json:"average,omitempty"`
	Trees        []Tree    `json:"trees"`
	Gains        []float64 `json:"gains"`
}

// Predict implements Model.
func (e *Ensemble) Predict(x []float64) float64 {
	var sum float64
	for i := range e.Trees {
		sum += e.Trees[i].Predict(x)
	}
	if e.Average {
		if len(e.Trees) == 0 {
			return e.Init
		}
		return sum / float64(len(e.Trees))
	}
	return e.Init + e.LearningRate*sum
}

// Importance implements Model.
func (e *Ensemble) Importance() Importance {
	return TreeImportance{Gains: e.Gains}
}

// addGains accumulates one tree's raw split gains. finish normalizes them.
func (e *Ensemble) addGains(tree []float64) {
	if e.Gains == nil {
		e.Gains = make([]float64, len(tree))
	}
	for i, g := range tree {
		e.Gains[i] += g
	}
}

func (e *Ensemble) finish() *Ensemble {
	e.Gains = normalized(e.Gains)
	return e
}

// GradientBoosting fits trees to squared-error residuals, starting from the
// target mean.
type GradientBoosting struct {
	Trees        int
	MaxDepth     int
	LearningRate float64
}

// DefaultGradientBoosting returns 100 trees of depth 3 at learning rate 0.1.
func DefaultGradientBoosting() GradientBoosting {
	return GradientBoosting{Trees: 100, MaxDepth: 3, LearningRate: 0.1}
}

// Name implements Estimator.
func (GradientBoosting) Name() string { return "gradient_boosting" }

// Fit implements Estimator.
func (g GradientBoosting) Fit(ctx context.Context, X [][]float64, y []float64) (Model, error) {
	width, err := checkFitInput(X, y)
	if err != nil {
		return nil, err
	}
	ens := &Ensemble{Init: mean(y), LearningRate: g.LearningRate}
	pred := constant(len(y), ens.Init)
	resid := make([]float64, len(y))
	rows := indices(len(y))
	b := newTreeBuilder(X, resid, width, treeParams{maxDepth: g.MaxDepth})

	for range g.Trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range y {
			resid[i] = y[i] - pred[i]
		}
		tree, gains := b.build(rows, nil)
		ens.Trees = append(ens.Trees, tree)
		ens.addGains(gains)
		for i := range pred {
			pred[i] += g.LearningRate * tree.Predict(X[i])
		}
	}
	return ens.finish(), nil
}

// RandomForest averages deep trees grown on bootstrap samples.
type RandomForest struct {
	Trees    int
	MaxDepth int
	Seed     uint64
}

// DefaultRandomForest returns 240 trees of depth 12 seeded with 42.
func DefaultRandomForest() RandomForest {
	return RandomForest{Trees: 240, MaxDepth: 12, Seed: 42}
}

// Name implements Estimator.
func (RandomForest) Name() string { return "random_forest" }

// Fit implements Estimator.
func (f RandomForest) Fit(ctx context.Context, X [][]float64, y []float64) (Model, error) {
	width, err := checkFitInput(X, y)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(f.Seed, f.Seed))
	ens := &Ensemble{Init: mean(y), Average: true}
	b := newTreeBuilder(X, y, width, treeParams{maxDepth: f.MaxDepth})
	sample := make([]int, len(y))

	for range f.Trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range sample {
			sample[i] = rng.IntN(len(y))
		}
		tree, gains := b.build(sample, nil)
		ens.Trees = append(ens.Trees, tree)
		ens.addGains(gains)
	}
	return ens.finish(), nil
}

// ExtremeBoosting is second-order boosting with L2-regularized leaves, row
// subsampling per tree and column subsampling per tree.
type ExtremeBoosting struct {
	Trees        int
	MaxDepth     int
	LearningRate float64
	Subsample    float64
	ColumnSample float64
	Lambda       float64
	Seed         uint64
}

// DefaultExtremeBoosting returns 300 trees of depth 4 at learning rate 0.06
// with 0.8 row and 0.9 column sampling and λ = 1.
func DefaultExtremeBoosting() ExtremeBoosting {
	return ExtremeBoosting{
		Trees:        300,
		MaxDepth:     4,
		LearningRate: 0.06,
		Subsample:    0.8,
		ColumnSample: 0.9,
		Lambda:       1,
		Seed:         42,
	}
}

// Name implements Estimator.
func (ExtremeBoosting) Name() string { return "xgboost" }

// Fit implements Estimator.
func (x ExtremeBoosting) Fit(ctx context.Context, X [][]float64, y []float64) (Model, error) {
	width, err := checkFitInput(X, y)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(x.Seed, x.Seed))
	ens := &Ensemble{Init: mean(y), LearningRate: x.LearningRate}
	pred := constant(len(y), ens.Init)
	resid := make([]float64, len(y))
	b := newTreeBuilder(X, resid, width, treeParams{maxDepth: x.MaxDepth, lambda: x.Lambda})

	nRows := max(1, int(x.Subsample*float64(len(y))))
	nCols := max(1, int(x.ColumnSample*float64(width)))

	for range x.Trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Negative gradient of squared error with unit hessians.
		for i := range y {
			resid[i] = y[i] - pred[i]
		}
		rows := rng.Perm(len(y))[:nRows]
		slices.Sort(rows)
		cols := rng.Perm(width)[:nCols]
		slices.Sort(cols)

		tree, gains := b.build(rows, cols)
		ens.Trees = append(ens.Trees, tree)
		ens.addGains(gains)
		for i := range pred {
			pred[i] += x.LearningRate * tree.Predict(X[i])
		}
	}
	return ens.finish(), nil
}

// QuantileBoosting is gradient boosting under the pinball loss at Alpha.
// Trees are grown on the loss gradient and their leaves replaced by the
// Alpha-quantile of the residuals that reach them.
type QuantileBoosting struct {
	Alpha        float64
	Trees        int
	MaxDepth     int
	LearningRate float64
}

// NewQuantileBoosting returns 100 trees of depth 3 at learning rate 0.1.
func NewQuantileBoosting(alpha float64) QuantileBoosting {
	return QuantileBoosting{Alpha: alpha, Trees: 100, MaxDepth: 3, LearningRate: 0.1}
}

// Name implements Estimator.
func (q QuantileBoosting) Name() string {
	return fmt.Sprintf("quantile_%.2f", q.Alpha)
}

// Fit implements Estimator.
func (q QuantileBoosting) Fit(ctx context.Context, X [][]float64, y []float64) (Model, error) {
	width, err := checkFitInput(X, y)
	if err != nil {
		return nil, err
	}
	if q.Alpha <= 0 || q.Alpha >= 1 {
		return nil, fmt.Errorf("quantile alpha %v outside (0, 1)", q.Alpha)
	}

	ens := &Ensemble{Init: quantile(q.Alpha, y), LearningRate: q.LearningRate}
	pred := constant(len(y), ens.Init)
	grad := make([]float64, len(y))
	rows := indices(len(y))
	buf := make([]float64, 0, len(y))

	leafValue := func(leaf []int) float64 {
		buf = buf[:0]
		for _, i := range leaf {
			buf = append(buf, y[i]-pred[i])
		}
		return quantile(q.Alpha, buf)
	}
	b := newTreeBuilder(X, grad, width, treeParams{maxDepth: q.MaxDepth, leafValue: leafValue})

	for range q.Trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range y {
			if y[i] > pred[i] {
				grad[i] = q.Alpha
			} else {
				grad[i] = q.Alpha - 1
			}
		}
		tree, gains := b.build(rows, nil)
		ens.Trees = append(ens.Trees, tree)
		ens.addGains(gains)
		for i := range pred {
			pred[i] += q.LearningRate * tree.Predict(X[i])
		}
	}
	return ens.finish(), nil
}

// quantile returns the empirical p-quantile of v without modifying it.
func quantile(p float64, v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(v)
	slices.Sort(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
