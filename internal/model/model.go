// Package model implements the regressors used for risk scoring: ordinary
// least squares, CART regression trees and the ensembles built from them.
//
// Estimators are stateless descriptions of hyperparameters. Fit returns an
// immutable Model that can be shared across goroutines and serialized through
// an Envelope.
package model

import (
	"context"
	"fmt"
	"math"
)

// Model is a fitted regressor.
type Model interface {
	// Predict scores one feature row. The row must have the width the model
	// was fitted on.
	Predict(x []float64) float64
	// Importance reports the model's native feature importances.
	Importance() Importance
}

// Estimator fits a Model from a feature matrix and targets.
type Estimator interface {
	Name() string
	Fit(ctx context.Context, X [][]float64, y []float64) (Model, error)
}

// PredictAll scores every row of X.
func PredictAll(m Model, X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = m.Predict(row)
	}
	return out
}

func checkFitInput(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("fit on empty matrix")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("fit: %d rows but %d targets", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("fit: row %d has %d columns, want %d", i, len(row), width)
		}
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("fit: target %d is not finite", i)
		}
	}
	return width, nil
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
