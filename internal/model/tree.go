package model

import (
	"math"
	"slices"
)

// minGain is the smallest split improvement worth a node.
const minGain = 1e-12

// Node is one entry of a flattened tree. Feature is -1 for leaves.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// Tree is a binary regression tree stored as a flat node slice rooted at 0.
// Rows with x[Feature] <= Threshold descend left.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict returns the leaf value reached by x.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeParams struct {
	maxDepth  int
	minSplit  int
	minLeaf   int
	lambda    float64
	leafValue func(rows []int) float64 // nil uses S/(n+λ)
}

// treeBuilder grows trees on residual targets r. Splits maximize
// S_L²/(n_L+λ) + S_R²/(n_R+λ) − S²/(n+λ), where S is the sum of targets in a
// node; with λ = 0 this is the reduction in squared error.
type treeBuilder struct {
	X      [][]float64
	r      []float64
	params treeParams
	width  int

	features []int
	nodes    []Node
	gains    []float64
	scratch  []point
}

type point struct {
	x, r float64
}

func newTreeBuilder(X [][]float64, r []float64, width int, p treeParams) *treeBuilder {
	if p.minSplit < 2 {
		p.minSplit = 2
	}
	if p.minLeaf < 1 {
		p.minLeaf = 1
	}
	return &treeBuilder{X: X, r: r, params: p, width: width, features: indices(width)}
}

// build grows a tree over rows, which may repeat indices for bootstrap
// samples, considering only the given columns (nil means all). The returned
// gains are the per-column split gains of this tree.
func (b *treeBuilder) build(rows, features []int) (Tree, []float64) {
	if features != nil {
		b.features = features
	} else {
		b.features = indices(b.width)
	}
	b.nodes = nil
	b.gains = make([]float64, b.width)
	b.grow(slices.Clone(rows), 0)
	return Tree{Nodes: b.nodes}, b.gains
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1})

	sum := b.sum(rows)
	if depth < b.params.maxDepth && len(rows) >= b.params.minSplit {
		if f, thr, gain, ok := b.bestSplit(rows, sum); ok {
			left, right := partition(rows, b.X, f, thr)
			b.gains[f] += gain
			l := b.grow(left, depth+1)
			r := b.grow(right, depth+1)
			b.nodes[id] = Node{Feature: f, Threshold: thr, Left: l, Right: r}
			return id
		}
	}

	if b.params.leafValue != nil {
		b.nodes[id].Value = b.params.leafValue(rows)
	} else {
		b.nodes[id].Value = sum / (float64(len(rows)) + b.params.lambda)
	}
	return id
}

func (b *treeBuilder) sum(rows []int) float64 {
	var s float64
	for _, i := range rows {
		s += b.r[i]
	}
	return s
}

func (b *treeBuilder) bestSplit(rows []int, total float64) (feature int, threshold, gain float64, ok bool) {
	n := len(rows)
	lambda := b.params.lambda
	parent := total * total / (float64(n) + lambda)
	best := minGain

	if cap(b.scratch) < n {
		b.scratch = make([]point, n)
	}
	pts := b.scratch[:n]

	for _, f := range b.features {
		for k, i := range rows {
			pts[k] = point{x: b.X[i][f], r: b.r[i]}
		}
		slices.SortStableFunc(pts, func(a, c point) int {
			return cmpFloat(a.x, c.x)
		})

		var left float64
		for k := 0; k < n-1; k++ {
			left += pts[k].r
			lo, hi := pts[k].x, pts[k+1].x
			if lo == hi {
				continue
			}
			nl, nr := k+1, n-k-1
			if nl < b.params.minLeaf || nr < b.params.minLeaf {
				continue
			}
			right := total - left
			g := left*left/(float64(nl)+lambda) + right*right/(float64(nr)+lambda) - parent
			if g > best {
				best = g
				feature = f
				threshold = midpoint(lo, hi)
				ok = true
			}
		}
	}
	return feature, threshold, best, ok
}

// midpoint falls back to lo when lo and hi are adjacent floats, keeping hi on
// the right of the split.
func midpoint(lo, hi float64) float64 {
	m := lo + (hi-lo)/2
	if m >= hi {
		return lo
	}
	return m
}

func partition(rows []int, X [][]float64, f int, thr float64) (left, right []int) {
	for _, i := range rows {
		if X[i][f] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func indices(width int) []int {
	cols := make([]int, width)
	for i := range cols {
		cols[i] = i
	}
	return cols
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// normalized scales gains to sum to one. All-zero gains stay zero.
func normalized(gains []float64) []float64 {
	var total float64
	for _, g := range gains {
		total += g
	}
	out := make([]float64, len(gains))
	if total <= 0 || math.IsNaN(total) {
		return out
	}
	for i, g := range gains {
		out[i] = g / total
	}
	return out
}
