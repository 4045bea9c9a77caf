// Package tree implements CART decision trees for classification and
// regression.
package tree

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/core/parallel"
	"github.com/imdad19/treetune/pkg/errors"
)

// DecisionTreeClassifier is a CART classification tree.
//
//	dt := tree.NewDecisionTreeClassifier(
//	    tree.WithMaxDepth(5),
//	    tree.WithMinSamplesLeaf(10),
//	)
//	err := dt.Fit(X, y)
//	proba, err := dt.PredictProba(XTest)
type DecisionTreeClassifier struct {
	state *model.StateManager
	config

	tree                *fittedTree
	classes_            []float64
	nClasses_           int
	featureImportances_ []float64
}

// NewDecisionTreeClassifier creates a classifier with the gini criterion,
// unlimited depth, min_samples_split 2 and min_samples_leaf 1 unless
// overridden.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:  model.NewStateManager(),
		config: defaultConfig("gini"),
	}
	for _, opt := range opts {
		opt(&dt.config)
	}
	return dt
}

// Fit grows the tree on X and the class labels in the first column of y.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	return dt.FitWeighted(X, y, nil)
}

// FitWeighted grows the tree with per-sample weights. Samples with weight 0
// are ignored; nil means unit weights.
func (dt *DecisionTreeClassifier) FitWeighted(X, y mat.Matrix, sampleWeight []float64) error {
	if err := dt.config.validate("gini", "entropy"); err != nil {
		return err
	}
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows, _ := y.Dims(); yRows != rows {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", rows, yRows, 0)
	}
	weights, indices, err := resolveWeights("DecisionTreeClassifier.Fit", rows, sampleWeight)
	if err != nil {
		return err
	}

	labels := make([]float64, rows)
	seen := make(map[float64]struct{})
	for i := 0; i < rows; i++ {
		labels[i] = y.At(i, 0)
		if weights[i] > 0 {
			seen[labels[i]] = struct{}{}
		}
	}
	classes := make([]float64, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Float64s(classes)
	classIndex := make(map[float64]int, len(classes))
	for k, c := range classes {
		classIndex[c] = k
	}
	encoded := make([]int, rows)
	for i, l := range labels {
		encoded[i] = classIndex[l]
	}

	impurity := gini
	if dt.criterion == "entropy" {
		impurity = entropy
	}

	g := &grower{
		cols:    columns(X),
		weights: weights,
		dim:     len(classes),
		accumulate: func(i int, w float64, acc []float64) {
			acc[encoded[i]] += w
		},
		impurity: impurity,
		leafValue: func(acc []float64, _ float64) []float64 {
			return append([]float64(nil), acc...)
		},
		maxDepth:        dt.maxDepth,
		minSamplesSplit: dt.minSamplesSplit,
		minSamplesLeaf:  dt.minSamplesLeaf,
		maxFeatures:     dt.maxFeatures,
		rng:             rand.New(rand.NewPCG(dt.randomState, dt.randomState)),
	}

	t := g.build(indices)
	t.prune(dt.ccpAlpha)

	dt.tree = t
	dt.classes_ = classes
	dt.nClasses_ = len(classes)
	dt.featureImportances_ = t.importances()
	dt.state.SetDimensions(cols, rows)
	dt.state.SetFitted()
	return nil
}

// Predict returns the most probable class for every row as an n x 1 matrix.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.predictProba("Predict", X)
	if err != nil {
		return nil, err
	}
	rows, _ := proba.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		best := 0
		row := proba.RawRowView(i)
		for k := 1; k < len(row); k++ {
			if row[k] > row[best] {
				best = k
			}
		}
		out.Set(i, 0, dt.classes_[best])
	}
	return out, nil
}

// PredictProba returns the class distribution of the leaf reached by every
// row, one column per class in Classes order.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	return dt.predictProba("PredictProba", X)
}

func (dt *DecisionTreeClassifier) predictProba(method string, X mat.Matrix) (*mat.Dense, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", method); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := dt.state.CheckFeatures("DecisionTreeClassifier."+method, cols); err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errors.NewModelError("DecisionTreeClassifier."+method, "empty data", errors.ErrEmptyData)
	}

	out := mat.NewDense(rows, dt.nClasses_, nil)
	parallel.ParallelizeWithThreshold(rows, predictParallelThreshold, func(start, end int) {
		row := make([]float64, cols)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			leaf := &dt.tree.nodes[dt.tree.leaf(row)]
			for k, v := range leaf.value {
				out.Set(i, k, v/leaf.weight)
			}
		}
	})
	return out, nil
}

// Score returns the accuracy on X and y, or 0 when prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	rows, _ := pred.Dims()
	correct := 0
	for i := 0; i < rows; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(rows)
}

// Classes returns the sorted class labels seen during Fit.
func (dt *DecisionTreeClassifier) Classes() []float64 {
	return append([]float64(nil), dt.classes_...)
}

// GetFeatureImportances returns the normalized impurity decrease per
// feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// GetDepth returns the depth of the fitted tree; a single leaf has depth 0.
func (dt *DecisionTreeClassifier) GetDepth() int {
	if dt.tree == nil {
		return 0
	}
	return dt.tree.depth()
}

// GetNLeaves returns the number of leaves of the fitted tree.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	if dt.tree == nil {
		return 0
	}
	return dt.tree.nLeaves()
}

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

// GetParams returns the hyperparameters.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return dt.config.params()
}

// SetParams updates hyperparameters; unknown names are rejected and leave
// the tree unchanged.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	return dt.config.setParams(params)
}

func (dt *DecisionTreeClassifier) String() string {
	if !dt.state.IsFitted() {
		return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d)", dt.criterion, dt.maxDepth)
	}
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d, depth=%d, leaves=%d)",
		dt.criterion, dt.maxDepth, dt.GetDepth(), dt.GetNLeaves())
}

func gini(acc []float64, w float64) float64 {
	if w <= 0 {
		return 0
	}
	sum := 0.0
	for _, c := range acc {
		p := c / w
		sum += p * p
	}
	return 1 - sum
}

func entropy(acc []float64, w float64) float64 {
	if w <= 0 {
		return 0
	}
	h := 0.0
	for _, c := range acc {
		if c > 0 {
			p := c / w
			h -= p * math.Log2(p)
		}
	}
	return h
}

// resolveWeights expands nil weights to ones and returns the indices of the
// samples with positive weight.
func resolveWeights(op string, rows int, sampleWeight []float64) ([]float64, []int, error) {
	weights := sampleWeight
	if weights == nil {
		weights = make([]float64, rows)
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != rows {
		return nil, nil, errors.NewDimensionError(op, rows, len(weights), 0)
	}
	indices := make([]int, 0, rows)
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return nil, nil, errors.NewValidationError("sample_weight", "must be non-negative", w)
		}
		if w > 0 {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return nil, nil, errors.NewModelError(op, "all sample weights are zero", errors.ErrEmptyData)
	}
	return weights, indices, nil
}
