package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scores are regression error metrics for one evaluation.
type Scores struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
}

// Evaluate compares predictions with targets. A constant target scores
// R² = 1 when matched exactly and 0 otherwise.
func Evaluate(y, pred []float64) (Scores, error) {
	if len(y) == 0 {
		return Scores{}, fmt.Errorf("evaluate: no rows")
	}
	if len(y) != len(pred) {
		return Scores{}, fmt.Errorf("evaluate: %d targets but %d predictions", len(y), len(pred))
	}
	var abs, sq float64
	for i := range y {
		if math.IsNaN(pred[i]) || math.IsInf(pred[i], 0) {
			return Scores{}, fmt.Errorf("evaluate: prediction %d is not finite", i)
		}
		d := y[i] - pred[i]
		abs += math.Abs(d)
		sq += d * d
	}
	n := float64(len(y))
	s := Scores{MAE: abs / n, RMSE: math.Sqrt(sq / n)}

	_, variance := stat.MeanVariance(y, nil)
	switch {
	case variance > 0:
		s.R2 = stat.RSquaredFrom(pred, y, nil)
	case sq == 0:
		s.R2 = 1
	}
	return s, nil
}

// MeanScores averages per-fold scores.
func MeanScores(folds []Scores) Scores {
	var out Scores
	if len(folds) == 0 {
		return out
	}
	for _, f := range folds {
		out.MAE += f.MAE
		out.RMSE += f.RMSE
		out.R2 += f.R2
	}
	n := float64(len(folds))
	out.MAE /= n
	out.RMSE /= n
	out.R2 /= n
	return out
}
