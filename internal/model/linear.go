package model

import (
	"context"
	"fmt"
	"math"

	"github.com/sajari/regression"
)

// collinearTolerance is the relative residual norm below which a column is
// treated as a linear combination of the columns already kept.
const collinearTolerance = 1e-9

// Linear is an affine model: Intercept + Σ Coefficients[i]·x[i].
type Linear struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

// Predict implements Model.
func (l *Linear) Predict(x []float64) float64 {
	out := l.Intercept
	for i, c := range l.Coefficients {
		if c != 0 {
			out += c * x[i]
		}
	}
	return out
}

// Importance implements Model.
func (l *Linear) Importance() Importance {
	return LinearImportance{Coefficients: l.Coefficients}
}

// LinearRegression is an ordinary least squares estimator. Constant and
// collinear columns are excluded from the solve and get a zero coefficient,
// which leaves the fitted values identical to a minimum-norm solution.
type LinearRegression struct{}

// Name implements Estimator.
func (LinearRegression) Name() string { return "linear_regression" }

// Fit implements Estimator.
func (LinearRegression) Fit(_ context.Context, X [][]float64, y []float64) (Model, error) {
	return FitLinear(X, y)
}

// FitLinear solves the least squares problem for X and y.
func FitLinear(X [][]float64, y []float64) (*Linear, error) {
	width, err := checkFitInput(X, y)
	if err != nil {
		return nil, err
	}

	model := &Linear{Intercept: mean(y), Coefficients: make([]float64, width)}
	keep := independentColumns(X, width)
	if len(keep) == 0 {
		return model, nil
	}

	var r regression.Regression
	r.SetObserved("target")
	for j, col := range keep {
		r.SetVar(j, fmt.Sprintf("x%d", col))
	}
	vars := make([]float64, len(keep))
	for i, row := range X {
		for j, col := range keep {
			vars[j] = row[col]
		}
		r.Train(regression.DataPoint(y[i], append([]float64(nil), vars...)))
	}
	if err := r.Run(); err != nil {
		return nil, fmt.Errorf("solve least squares: %w", err)
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) != len(keep)+1 {
		return nil, fmt.Errorf("solve least squares: got %d coefficients, want %d", len(coeffs), len(keep)+1)
	}
	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("solve least squares: non-finite coefficient")
		}
	}
	model.Intercept = coeffs[0]
	for j, col := range keep {
		model.Coefficients[col] = coeffs[j+1]
	}
	return model, nil
}

// independentColumns runs Gram-Schmidt over the centered columns and returns
// the indices of a linearly independent subset, preferring earlier columns.
// At most len(X)-1 columns are kept so the intercept stays identifiable.
func independentColumns(X [][]float64, width int) []int {
	n := len(X)
	if n < 2 {
		return nil
	}
	var basis [][]float64
	var keep []int
	col := make([]float64, n)
	for j := 0; j < width && len(keep) < n-1; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		m := mean(col)
		for i := range col {
			col[i] -= m
		}
		norm := l2(col)
		if norm == 0 {
			continue
		}
		for _, b := range basis {
			d := dot(col, b)
			for i := range col {
				col[i] -= d * b[i]
			}
		}
		resid := l2(col)
		if resid <= collinearTolerance*norm {
			continue
		}
		unit := make([]float64, n)
		for i := range col {
			unit[i] = col[i] / resid
		}
		basis = append(basis, unit)
		keep = append(keep, j)
	}
	return keep
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func l2(v []float64) float64 {
	return math.Sqrt(dot(v, v))
}
