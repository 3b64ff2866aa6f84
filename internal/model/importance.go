package model

import (
	"math"
	"sort"
)

// Importance is the closed set of importance kinds a model can report:
// TreeImportance, LinearImportance or NoImportance.
type Importance interface {
	values() []float64
}

// TreeImportance holds impurity-based gains normalized to sum to one.
type TreeImportance struct {
	Gains []float64
}

// LinearImportance holds raw regression coefficients; they rank by magnitude.
type LinearImportance struct {
	Coefficients []float64
}

// NoImportance is reported by models without a native importance measure.
type NoImportance struct{}

func (t TreeImportance) values() []float64 { return t.Gains }

func (l LinearImportance) values() []float64 {
	out := make([]float64, len(l.Coefficients))
	for i, c := range l.Coefficients {
		out[i] = math.Abs(c)
	}
	return out
}

func (NoImportance) values() []float64 { return nil }

// FeatureImportance is one ranked entry of a training report.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Rank pairs importances with column names and returns the top k in
// descending order. Equal importances keep column order. NoImportance yields
// nil.
func Rank(imp Importance, columns []string, k int) []FeatureImportance {
	vals := imp.values()
	if len(vals) == 0 {
		return nil
	}
	ranked := make([]FeatureImportance, 0, len(vals))
	for i, v := range vals {
		if i >= len(columns) {
			break
		}
		ranked = append(ranked, FeatureImportance{Feature: columns[i], Importance: v})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Importance > ranked[j].Importance
	})
	if k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked
}
