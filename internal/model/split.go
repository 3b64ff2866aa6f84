package model

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Fold is one cross-validation partition of row indices.
type Fold struct {
	Train      []int
	Validation []int
}

// KFold shuffles n rows with seed and cuts them into k contiguous folds. The
// first n%k folds hold one extra row.
func KFold(n, k int, seed uint64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("k-fold: need at least 2 folds, got %d", k)
	}
	if n < k {
		return nil, fmt.Errorf("k-fold: %d rows cannot fill %d folds", n, k)
	}
	perm := permutation(n, seed)

	folds := make([]Fold, 0, k)
	start := 0
	for i := range k {
		size := n / k
		if i < n%k {
			size++
		}
		val := perm[start : start+size]
		train := make([]int, 0, n-size)
		train = append(train, perm[:start]...)
		train = append(train, perm[start+size:]...)
		folds = append(folds, Fold{Train: train, Validation: val})
		start += size
	}
	return folds, nil
}

// TrainTestSplit shuffles n rows with seed and holds out ceil(testFraction·n)
// of them, taken from the front of the permutation.
func TrainTestSplit(n int, testFraction float64, seed uint64) (train, test []int, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("split: test fraction %v outside (0, 1)", testFraction)
	}
	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest < 1 || n-nTest < 1 {
		return nil, nil, fmt.Errorf("split: %d rows leave an empty side at fraction %v", n, testFraction)
	}
	perm := permutation(n, seed)
	return perm[nTest:], perm[:nTest], nil
}

func permutation(n int, seed uint64) []int {
	return rand.New(rand.NewPCG(seed, seed)).Perm(n)
}

// Rows selects X rows and targets by index.
func Rows(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for i, j := range idx {
		xs[i] = X[j]
		ys[i] = y[j]
	}
	return xs, ys
}
