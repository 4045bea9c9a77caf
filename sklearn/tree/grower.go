package tree

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/parallel"
)

// impurityEpsilon is the impurity below which a node is treated as pure.
const impurityEpsilon = 1e-12

// predictParallelThreshold is the row count above which predictions are
// computed concurrently.
const predictParallelThreshold = 512

// node is one entry of the flat node array. Leaves have feature -1.
type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	depth     int
	weight    float64
	impurity  float64
	value     []float64
}

func (n *node) isLeaf() bool {
	return n.feature < 0
}

// grower builds a binary tree with the CART greedy split search. The
// criterion is supplied as an accumulator over per-sample statistics so the
// same search serves classification and regression.
type grower struct {
	cols    [][]float64
	weights []float64

	dim        int
	accumulate func(i int, w float64, acc []float64)
	impurity   func(acc []float64, w float64) float64
	leafValue  func(acc []float64, w float64) []float64

	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	rng             *rand.Rand

	nodes []node
}

type split struct {
	feature     int
	threshold   float64
	improvement float64
}

// columns copies X into column-major slices.
func columns(X mat.Matrix) [][]float64 {
	_, c := X.Dims()
	cols := make([][]float64, c)
	for j := range cols {
		cols[j] = mat.Col(nil, j, X)
	}
	return cols
}

func (g *grower) build(indices []int) *fittedTree {
	g.nodes = nil
	g.grow(indices, 0)
	return &fittedTree{nodes: g.nodes, nFeatures: len(g.cols)}
}

func (g *grower) grow(indices []int, depth int) int {
	acc := make([]float64, g.dim)
	var w float64
	for _, i := range indices {
		g.accumulate(i, g.weights[i], acc)
		w += g.weights[i]
	}

	idx := len(g.nodes)
	g.nodes = append(g.nodes, node{
		feature:  -1,
		left:     -1,
		right:    -1,
		depth:    depth,
		weight:   w,
		impurity: g.impurity(acc, w),
		value:    g.leafValue(acc, w),
	})

	if (g.maxDepth > 0 && depth >= g.maxDepth) ||
		w < float64(g.minSamplesSplit) ||
		w < 2*float64(g.minSamplesLeaf) ||
		g.nodes[idx].impurity <= impurityEpsilon {
		return idx
	}

	s, ok := g.bestSplit(indices, acc, w)
	if !ok {
		return idx
	}

	var left, right []int
	col := g.cols[s.feature]
	for _, i := range indices {
		if col[i] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)

	// g.nodes may have been reallocated by the recursive calls
	n := &g.nodes[idx]
	n.feature = s.feature
	n.threshold = s.threshold
	n.left = l
	n.right = r
	return idx
}

func (g *grower) candidateFeatures() []int {
	p := len(g.cols)
	if g.maxFeatures <= 0 || g.maxFeatures >= p || g.rng == nil {
		all := make([]int, p)
		for j := range all {
			all[j] = j
		}
		return all
	}
	return g.rng.Perm(p)[:g.maxFeatures]
}

// bestSplit scans every candidate feature in sorted order and returns the
// threshold with the largest impurity decrease. Zero-gain splits of an
// impure node are accepted.
func (g *grower) bestSplit(indices []int, parent []float64, w float64) (split, bool) {
	parentImpurity := g.impurity(parent, w)
	minLeaf := float64(g.minSamplesLeaf)

	best := split{improvement: math.Inf(-1)}
	found := false

	sorted := make([]int, len(indices))
	left := make([]float64, g.dim)
	right := make([]float64, g.dim)

	for _, f := range g.candidateFeatures() {
		col := g.cols[f]
		copy(sorted, indices)
		sort.Slice(sorted, func(a, b int) bool { return col[sorted[a]] < col[sorted[b]] })

		for k := range left {
			left[k] = 0
		}
		copy(right, parent)
		var wl float64

		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			wi := g.weights[i]
			g.accumulate(i, wi, left)
			g.accumulate(i, -wi, right)
			wl += wi

			v, next := col[i], col[sorted[k+1]]
			if v >= next {
				continue
			}
			wr := w - wl
			if wl < minLeaf || wr < minLeaf {
				continue
			}

			child := (wl*g.impurity(left, wl) + wr*g.impurity(right, wr)) / w
			if gain := parentImpurity - child; gain > best.improvement {
				threshold := v + (next-v)/2
				if threshold >= next {
					threshold = v
				}
				best = split{feature: f, threshold: threshold, improvement: gain}
				found = true
			}
		}
	}
	return best, found
}

// fittedTree is a grown tree in flat-array form. Node 0 is the root.
type fittedTree struct {
	nodes     []node
	nFeatures int
}

func (t *fittedTree) leaf(x []float64) int {
	i := 0
	for !t.nodes[i].isLeaf() {
		n := &t.nodes[i]
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
	return i
}

// apply returns the leaf index reached by every row of X.
func (t *fittedTree) apply(X mat.Matrix) []int {
	r, c := X.Dims()
	leaves := make([]int, r)
	parallel.ParallelizeWithThreshold(r, predictParallelThreshold, func(start, end int) {
		row := make([]float64, c)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			leaves[i] = t.leaf(row)
		}
	})
	return leaves
}

func (t *fittedTree) walk(fn func(n *node)) {
	var visit func(i int)
	visit = func(i int) {
		n := &t.nodes[i]
		fn(n)
		if !n.isLeaf() {
			visit(n.left)
			visit(n.right)
		}
	}
	visit(0)
}

func (t *fittedTree) depth() int {
	d := 0
	t.walk(func(n *node) {
		if n.depth > d {
			d = n.depth
		}
	})
	return d
}

func (t *fittedTree) nLeaves() int {
	count := 0
	t.walk(func(n *node) {
		if n.isLeaf() {
			count++
		}
	})
	return count
}

// importances returns the normalized total weighted impurity decrease per
// feature. All zeros when the tree is a single leaf.
func (t *fittedTree) importances() []float64 {
	imp := make([]float64, t.nFeatures)
	t.walk(func(n *node) {
		if n.isLeaf() {
			return
		}
		l, r := &t.nodes[n.left], &t.nodes[n.right]
		imp[n.feature] += n.weight*n.impurity - l.weight*l.impurity - r.weight*r.impurity
	})

	var total float64
	for _, v := range imp {
		total += v
	}
	if total > 0 {
		for j := range imp {
			imp[j] /= total
		}
	}
	return imp
}

// prune applies minimal cost-complexity pruning: the internal node with the
// weakest link is collapsed while its effective alpha is at most alpha.
func (t *fittedTree) prune(alpha float64) {
	if alpha <= 0 || len(t.nodes) == 0 {
		return
	}
	total := t.nodes[0].weight

	for {
		weakest, minAlpha := -1, math.Inf(1)

		var visit func(i int) (float64, int)
		visit = func(i int) (float64, int) {
			n := &t.nodes[i]
			own := n.impurity * n.weight / total
			if n.isLeaf() {
				return own, 1
			}
			lr, ll := visit(n.left)
			rr, rl := visit(n.right)
			risk, leaves := lr+rr, ll+rl
			if g := (own - risk) / float64(leaves-1); g < minAlpha {
				weakest, minAlpha = i, g
			}
			return risk, leaves
		}
		visit(0)

		if weakest < 0 || minAlpha > alpha {
			return
		}
		n := &t.nodes[weakest]
		n.feature, n.left, n.right = -1, -1, -1
	}
}
